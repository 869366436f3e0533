package service

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/commission"
	"github.com/mscmedsupply/be-commissions/internal/logger"
	"github.com/mscmedsupply/be-commissions/internal/repository"
)

// CommissionService orchestrates commission calculation and the approval
// state machine. All collaborators are injected; the service holds no state
// of its own beyond them.
type CommissionService struct {
	orders     OrderStore
	structures StructureStore
	audit      AuditStore
	rates      RateSource
	actors     ActorDirectory
	validate   *validator.Validate
	log        *logger.Logger
}

// NewCommissionService creates a new CommissionService.
func NewCommissionService(
	orders OrderStore,
	structures StructureStore,
	audit AuditStore,
	rates RateSource,
	actors ActorDirectory,
	log *logger.Logger,
) *CommissionService {
	return &CommissionService{
		orders:     orders,
		structures: structures,
		audit:      audit,
		rates:      rates,
		actors:     actors,
		validate:   validator.New(),
		log:        log,
	}
}

// ── Calculation ───────────────────────────────────────────────────────────────

// CalculateForOrder resolves rates as of the order's date of service, runs the
// calculator, and persists the result as a pending structure. Fails with
// CodeDuplicateStructure when the order already has a current structure; use
// Recalculate for that case.
func (s *CommissionService) CalculateForOrder(ctx context.Context, orderID string) (*repository.CommissionStructure, error) {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.RepChain.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.structures.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Newf(apperrors.CodeDuplicateStructure,
			"order %s already has a commission structure", orderID)
	}

	structure, err := s.buildStructure(ctx, order, &actor.ID)
	if err != nil {
		return nil, err
	}

	if err := s.structures.Create(ctx, structure); err != nil {
		return nil, err
	}

	if err := s.appendRateAudit(ctx, structure, repository.AuditCreated, actor.ID, nil, nil); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("structure_id", structure.ID).
		Str("total_commission", structure.TotalCommission.String()).
		Msg("Commission structure created")

	return structure, nil
}

// Recalculate re-resolves rates and re-runs the calculator against current
// order data. A pending structure is superseded by the new one; an approved or
// rejected structure is never touched — the new structure starts a fresh
// approval cycle alongside it.
func (s *CommissionService) Recalculate(ctx context.Context, orderID string) (*repository.CommissionStructure, error) {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.RepChain.Validate(); err != nil {
		return nil, err
	}

	next, err := s.buildStructure(ctx, order, &actor.ID)
	if err != nil {
		return nil, err
	}

	existing, err := s.structures.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch {
	case existing == nil:
		if err := s.structures.Create(ctx, next); err != nil {
			return nil, err
		}
		if err := s.appendRateAudit(ctx, next, repository.AuditCreated, actor.ID, nil, nil); err != nil {
			return nil, err
		}
	case existing.Status == repository.StructurePending:
		if err := s.structures.Replace(ctx, existing.ID, next); err != nil {
			return nil, err
		}
		if err := s.appendRateAudit(ctx, next, repository.AuditRecalculated, actor.ID, existing, nil); err != nil {
			return nil, err
		}
	default:
		// Approved and rejected structures stay as they are.
		if err := s.structures.Create(ctx, next); err != nil {
			return nil, err
		}
		if err := s.appendRateAudit(ctx, next, repository.AuditRecalculated, actor.ID, existing, nil); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("order_id", orderID).
		Str("structure_id", next.ID).
		Str("total_commission", next.TotalCommission.String()).
		Msg("Commission structure recalculated")

	return next, nil
}

// buildStructure resolves rates, runs the calculator, and snapshots the rep
// chain into a pending structure. Tiers absent from the chain carry no rate or
// amount.
func (s *CommissionService) buildStructure(ctx context.Context, order *repository.Order, createdBy *string) (*repository.CommissionStructure, error) {
	rates, err := s.rates.Resolve(ctx, order.RepChain, order.DateOfService)
	if err != nil {
		return nil, err
	}

	bd, err := commission.Calculate(order.InvoiceAmount, rates.Master, rates.Sub, rates.SubSub)
	if err != nil {
		return nil, err
	}

	structure := &repository.CommissionStructure{
		OrderID:         order.ID,
		MasterRepID:     order.MasterRepID,
		SubRepID:        order.SubRepID,
		SubSubRepID:     order.SubSubRepID,
		MasterRate:      rates.Master,
		MasterAmount:    bd.Master,
		TotalCommission: bd.Total,
		Status:          repository.StructurePending,
		CreatedBy:       createdBy,
	}
	if order.SubRepID != nil {
		structure.SubRate = rates.Sub
		subAmount := bd.Sub
		structure.SubAmount = &subAmount
	}
	if order.SubSubRepID != nil {
		structure.SubSubRate = rates.SubSub
		subSubAmount := bd.SubSub
		structure.SubSubAmount = &subSubAmount
	}
	return structure, nil
}

// ── Approval state machine ────────────────────────────────────────────────────

// Approve transitions a pending structure to approved and mirrors the status
// onto the order. Admin only. The transition itself is audit-logged even
// though the rates are unchanged: previous and new values are both the
// pending snapshot.
func (s *CommissionService) Approve(ctx context.Context, structureID string) (*repository.CommissionStructure, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}

	structure, err := s.structures.Approve(ctx, structureID, actor.ID)
	if err != nil {
		return nil, err
	}

	if err := s.orders.UpdateStatus(ctx, structure.OrderID, repository.OrderApproved, &actor.ID); err != nil {
		return nil, err
	}

	if err := s.appendRateAudit(ctx, structure, repository.AuditApproved, actor.ID, structure, nil); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("structure_id", structureID).
		Str("order_id", structure.OrderID).
		Str("approved_by", actor.ID).
		Msg("Commission structure approved")

	return structure, nil
}

// Reject transitions a pending structure to rejected. Admin only; a reason is
// required.
func (s *CommissionService) Reject(ctx context.Context, structureID, reason string) (*repository.CommissionStructure, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, apperrors.InvalidInput("reason", "rejection reason is required")
	}

	structure, err := s.structures.Reject(ctx, structureID, actor.ID, reason)
	if err != nil {
		return nil, err
	}

	if err := s.orders.UpdateStatus(ctx, structure.OrderID, repository.OrderRejected, &actor.ID); err != nil {
		return nil, err
	}

	if err := s.appendRateAudit(ctx, structure, repository.AuditRejected, actor.ID, structure, &reason); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("structure_id", structureID).
		Str("order_id", structure.OrderID).
		Str("rejected_by", actor.ID).
		Str("reason", reason).
		Msg("Commission structure rejected")

	return structure, nil
}

// AmendRatesRequest carries replacement rates for a pending structure.
type AmendRatesRequest struct {
	MasterRate decimal.Decimal  `json:"master_rate"`
	SubRate    *decimal.Decimal `json:"sub_rate"`
	SubSubRate *decimal.Decimal `json:"sub_sub_rate"`
	Reason     string           `json:"reason" validate:"required"`
}

// AmendRates rewrites a pending structure's rates and recomputes its amounts
// from the order's current invoice amount. Admin only. Each tier in the
// snapshotted chain must receive a rate, and no rate may target an absent
// tier.
func (s *CommissionService) AmendRates(ctx context.Context, structureID string, req AmendRatesRequest) (*repository.CommissionStructure, error) {
	actor, err := s.requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid amend request")
	}

	structure, err := s.structures.GetByID(ctx, structureID)
	if err != nil {
		return nil, err
	}
	if structure.Status != repository.StructurePending {
		return nil, apperrors.Newf(apperrors.CodeInvalidTransition,
			"structure %s is not pending", structureID)
	}
	if (structure.SubRepID == nil) != (req.SubRate == nil) {
		return nil, apperrors.InvalidInput("sub_rate", "rate must be set exactly for the reps in the chain")
	}
	if (structure.SubSubRepID == nil) != (req.SubSubRate == nil) {
		return nil, apperrors.InvalidInput("sub_sub_rate", "rate must be set exactly for the reps in the chain")
	}

	order, err := s.orders.GetByID(ctx, structure.OrderID)
	if err != nil {
		return nil, err
	}

	bd, err := commission.Calculate(order.InvoiceAmount, req.MasterRate, req.SubRate, req.SubSubRate)
	if err != nil {
		return nil, err
	}

	previous := *structure

	structure.MasterRate = req.MasterRate
	structure.SubRate = req.SubRate
	structure.SubSubRate = req.SubSubRate
	structure.MasterAmount = bd.Master
	structure.SubAmount = nil
	structure.SubSubAmount = nil
	if structure.SubRepID != nil {
		subAmount := bd.Sub
		structure.SubAmount = &subAmount
	}
	if structure.SubSubRepID != nil {
		subSubAmount := bd.SubSub
		structure.SubSubAmount = &subSubAmount
	}
	structure.TotalCommission = bd.Total

	if err := s.structures.AmendRates(ctx, structure); err != nil {
		return nil, err
	}

	if err := s.appendRateAudit(ctx, structure, repository.AuditRatesAmended, actor.ID, &previous, &req.Reason); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("structure_id", structureID).
		Str("changed_by", actor.ID).
		Str("total_commission", structure.TotalCommission.String()).
		Msg("Commission rates amended")

	return structure, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetBreakdown returns the order's current commission structure.
func (s *CommissionService) GetBreakdown(ctx context.Context, orderID string) (*repository.CommissionStructure, error) {
	structure, err := s.structures.GetByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if structure == nil {
		return nil, apperrors.NotFound("commission_structure", orderID)
	}
	return structure, nil
}

// ListPending returns all structures awaiting approval.
func (s *CommissionService) ListPending(ctx context.Context) ([]*repository.CommissionStructure, error) {
	return s.structures.ListPending(ctx)
}

// AuditTrail returns the full audit history for an order, newest first.
func (s *CommissionService) AuditTrail(ctx context.Context, orderID string) ([]*repository.CommissionAuditEntry, error) {
	return s.audit.ListByOrder(ctx, orderID)
}

// YTDSummary is a rep's approved commission earnings for one calendar year,
// split by their position in the chains that paid them.
type YTDSummary struct {
	RepID    string          `json:"rep_id"`
	Year     int             `json:"year"`
	Direct   decimal.Decimal `json:"direct"`   // earned as master
	Indirect decimal.Decimal `json:"indirect"` // earned as sub or sub-sub
	Total    decimal.Decimal `json:"total"`
	Orders   int             `json:"orders"`
}

// YTD sums a rep's approved commission amounts for the year.
func (s *CommissionService) YTD(ctx context.Context, repID string, year int) (*YTDSummary, error) {
	structures, err := s.structures.ListApprovedByRepYear(ctx, repID, year)
	if err != nil {
		return nil, err
	}

	summary := &YTDSummary{RepID: repID, Year: year}
	for _, structure := range structures {
		switch {
		case structure.MasterRepID == repID:
			summary.Direct = summary.Direct.Add(structure.MasterAmount)
		case structure.SubRepID != nil && *structure.SubRepID == repID:
			if structure.SubAmount != nil {
				summary.Indirect = summary.Indirect.Add(*structure.SubAmount)
			}
		case structure.SubSubRepID != nil && *structure.SubSubRepID == repID:
			if structure.SubSubAmount != nil {
				summary.Indirect = summary.Indirect.Add(*structure.SubSubAmount)
			}
		}
		summary.Orders++
	}
	summary.Total = summary.Direct.Add(summary.Indirect)
	return summary, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (s *CommissionService) requireAdmin(ctx context.Context) (Actor, error) {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return Actor{}, err
	}
	if !actor.IsAdmin() {
		return Actor{}, apperrors.Newf(apperrors.CodeUnauthorized,
			"actor %s lacks admin capability", actor.ID)
	}
	return actor, nil
}

// appendRateAudit writes one audit entry for a structure change. previous is
// nil for first-time creation; for approval and rejection it is the structure
// itself, so previous and new rates coincide and the entry records the
// state-changing event.
func (s *CommissionService) appendRateAudit(
	ctx context.Context,
	structure *repository.CommissionStructure,
	action repository.AuditAction,
	changedBy string,
	previous *repository.CommissionStructure,
	reason *string,
) error {
	entry := &repository.CommissionAuditEntry{
		StructureID:   structure.ID,
		OrderID:       structure.OrderID,
		Action:        action,
		NewMasterRate: ratePtr(structure.MasterRate),
		NewSubRate:    structure.SubRate,
		NewSubSubRate: structure.SubSubRate,
		ChangedBy:     changedBy,
		Reason:        reason,
	}
	if previous != nil {
		entry.PrevMasterRate = ratePtr(previous.MasterRate)
		entry.PrevSubRate = previous.SubRate
		entry.PrevSubSubRate = previous.SubSubRate
	}
	return s.audit.Append(ctx, entry)
}

func ratePtr(d decimal.Decimal) *decimal.Decimal { return &d }
