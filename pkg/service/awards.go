package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/procurahq/procura/pkg/confirm"
	"github.com/procurahq/procura/pkg/domain"
	"github.com/procurahq/procura/pkg/flow"
	"github.com/procurahq/procura/pkg/store"
)

// AwardRfqInput decides an RFQ for one supplier.
type AwardRfqInput struct {
	SupplierName string `json:"supplier_name"`
	Reason       string `json:"reason"`
}

// AwardRfq records the decision. Critical action; the reason is mandatory.
// Two events are appended: rfq_awarded on the RFQ and award_created on the
// new award.
func (s *Service) AwardRfq(ctx context.Context, rfqID int64, in AwardRfqInput, c confirm.Confirmation) domain.Result {
	if strings.TrimSpace(in.Reason) == "" {
		return domain.Fail(domain.Validation("reason_required", "award reason is required"))
	}
	if strings.TrimSpace(in.SupplierName) == "" {
		return domain.Fail(domain.Validation("supplier_name_required", "supplier name is required"))
	}

	var award *domain.Award
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		rfq, err := r.GetRfq(ctx, rfqID)
		if err != nil {
			return mapStoreErr(err, "rfq")
		}
		if e := guard(flow.StageForRfq(rfq.Status), string(rfq.Status), domain.ActionAwardRfq); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionAwardRfq, string(domain.EntityRfq), rfqID, c); e != nil {
			return e
		}

		now := s.now()
		award = &domain.Award{
			RfqID:        rfqID,
			SupplierName: strings.TrimSpace(in.SupplierName),
			Status:       domain.AwardAwarded,
			Reason:       strings.TrimSpace(in.Reason),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := r.CreateAward(ctx, award); err != nil {
			return domain.System(err)
		}

		prev := string(rfq.Status)
		rfq.Status = domain.RfqAwarded
		rfq.UpdatedAt = now
		if err := r.UpdateRfq(ctx, rfq); err != nil {
			return domain.System(err)
		}

		if e := appendEvent(ctx, r, domain.EntityRfq, rfq.ID, &prev,
			string(domain.RfqAwarded), domain.ReasonRfqAwarded, now); e != nil {
			return e
		}
		return appendEvent(ctx, r, domain.EntityAward, award.ID, nil,
			string(domain.AwardAwarded), domain.ReasonAwardCreated, now)
	})
	if derr != nil {
		return domain.Fail(derr)
	}

	return domain.OK(http.StatusCreated, map[string]any{
		"award_id":      award.ID,
		"rfq_id":        award.RfqID,
		"supplier_name": award.SupplierName,
		"status":        award.Status,
	})
}

// GetAward returns the award and the actions legal at its current status.
func (s *Service) GetAward(ctx context.Context, id int64) domain.Result {
	tid, derr := s.tenantID(ctx)
	if derr != nil {
		return domain.Fail(derr)
	}
	r, err := s.store.Tenant(tid)
	if err != nil {
		return domain.Fail(domain.System(err))
	}
	award, err := r.GetAward(ctx, id)
	if err != nil {
		return domain.Fail(mapStoreErr(err, "award"))
	}
	stage := flow.StageForAward(award.Status)
	return domain.OK(http.StatusOK, map[string]any{
		"award":           award,
		"allowed_actions": flow.AllowedActions(stage, string(award.Status)),
		"primary_action":  flow.PrimaryAction(stage, string(award.Status)),
		"steps":           flow.ProcessSteps(stage),
	})
}

// CancelAward cancels an award. Critical action.
func (s *Service) CancelAward(ctx context.Context, id int64, c confirm.Confirmation) domain.Result {
	var cancelled *domain.Award
	derr := s.inTx(ctx, func(r *store.Repo) *domain.Error {
		award, err := r.GetAward(ctx, id)
		if err != nil {
			return mapStoreErr(err, "award")
		}
		if e := guard(flow.StageForAward(award.Status), string(award.Status), domain.ActionCancelAward); e != nil {
			return e
		}
		if e := s.gate.Require(ctx, domain.ActionCancelAward, string(domain.EntityAward), id, c); e != nil {
			return e
		}

		now := s.now()
		prev := string(award.Status)
		award.Status = domain.AwardCancelled
		award.UpdatedAt = now
		if err := r.UpdateAward(ctx, award); err != nil {
			return domain.System(err)
		}
		if e := appendEvent(ctx, r, domain.EntityAward, award.ID, &prev,
			string(domain.AwardCancelled), domain.ReasonAwardCancelled, now); e != nil {
			return e
		}
		cancelled = award
		return nil
	})
	if derr != nil {
		return domain.Fail(derr)
	}
	return domain.OK(http.StatusOK, cancelled)
}
