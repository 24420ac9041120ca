package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/store"
)

// ListSuppliers returns the tenant's supplier directory.
func (s *Service) ListSuppliers(ctx context.Context) domain.Result {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	r, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	suppliers, err := r.ListSuppliers(ctx)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	return domain.OK(http.StatusOK, map[string]any{"suppliers": suppliers})
}

// CreateSupplierInput registers a supplier locally (most arrive via the ERP
// mirror instead).
type CreateSupplierInput struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// CreateSupplier adds a locally managed supplier.
func (s *Service) CreateSupplier(ctx context.Context, in CreateSupplierInput) domain.Result {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Fail(domain.Validation("name_required", "supplier name is required"))
	}

	var sup *domain.Supplier
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		now := s.now()
		sup = &domain.Supplier{
			Name:      strings.TrimSpace(in.Name),
			Email:     strings.TrimSpace(in.Email),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.CreateSupplier(ctx, sup); err != nil {
			return domain.System(err)
		}
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusCreated, sup)
}
