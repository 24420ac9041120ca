// Package service implements the transactional procurement use-cases. Each
// operation follows the same transition protocol: load, check ERP ownership,
// ask the flow policy, ask the critical-action gate, mutate, append the
// status event, commit.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/procurahq/procura/pkg/audit"
	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/flow"
	"github.com/procurahq/procura/pkg/store"
)

// Service is the single entry point for all procurement commands. It is
// stateless besides its collaborators and safe for concurrent use.
type Service struct {
	store        *store.Store
	gate         *confirm.Gate
	audit        audit.Logger
	log          *slog.Logger
	publicAppURL string
	now          func() time.Time
}

// New builds the service.
func New(st *store.Store, gate *confirm.Gate, auditLog audit.Logger, log *slog.Logger, publicAppURL string) *Service {
	return &Service{
		store:        st,
		gate:         gate,
		audit:        auditLog,
		log:          log.With("component", "service"),
		publicAppURL: publicAppURL,
		now:          time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.now = clock
	return s
}

// Store exposes the persistence handle for the sync and outbox layers built
// next to the service in main.
func (s *Service) Store() *store.Store { return s.store }

// tenantID resolves the caller's tenant binding. A missing principal is a
// permission failure, never a fallback to a shared tenant.
func (s *Service) tenantID(ctx context.Context) (string, *domain.Error) {
	tid, err := auth.GetTenantID(ctx)
	if err != nil || tid == "" {
		e := domain.Permission("tenant_required", "request carries no tenant binding")
		e.Status = http.StatusUnauthorized
		return "", e
	}
	return tid, nil
}

// inTx runs fn inside a tenant transaction and maps infrastructure errors
// to the typed taxonomy. fn may return a *domain.Error via errAbort to stop
// the transaction while keeping the typed error.
func (s *Service) inTx(ctx context.Context, fn func(*store.Repo) *domain.Error) *domain.Error {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return derr
	}
	var typed *domain.Error
	err := s.store.WithTenantTx(ctx, tid, func(r *store.Repo) error {
		if e := fn(r); e != nil {
			typed = e
			return e
		}
		return nil
	})
	if typed != nil {
		return typed
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.NotFound("entity")
		}
		s.log.ErrorContext(ctx, "transaction failed", "error", err)
		return domain.System(err)
	}
	return nil
}

// mapStoreErr converts store sentinels to typed errors for the given entity
// name; anything else becomes a system error.
func mapStoreErr(err error, entity string) *domain.Error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.NotFound(entity)
	}
	return domain.System(err)
}

// appendEvent writes one status event inside the caller's transaction.
func appendEvent(ctx context.Context, r *store.Repo, entity domain.EntityKind, entityID int64,
	from *string, to, reason string, now time.Time) *domain.Error {

	err := r.AppendStatusEvent(ctx, &domain.StatusEvent{
		Entity:     entity,
		EntityID:   entityID,
		FromStatus: from,
		ToStatus:   to,
		Reason:     reason,
		OccurredAt: now,
	})
	if err != nil {
		return domain.System(err)
	}
	return nil
}

// guard rejects the action unless the flow policy allows it at the current
// (stage, status), echoing the legal actions to the caller.
func guard(stage domain.Stage, status string, action domain.Action) *domain.Error {
	if flow.ActionAllowed(stage, status, action) {
		return nil
	}
	return domain.FlowDenied(stage, status, action,
		flow.AllowedActions(stage, status), flow.PrimaryAction(stage, status))
}
