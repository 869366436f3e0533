package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/logger"
	"github.com/mscmedsupply/be-commissions/internal/repository"
)

// DirectoryService manages the representative tree and commission agreements.
// Rate changes always go through agreements so history stays queryable by the
// rate resolver.
type DirectoryService struct {
	reps       RepresentativeStore
	agreements AgreementStore
	actors     ActorDirectory
	validate   *validator.Validate
	log        *logger.Logger
}

// NewDirectoryService creates a new DirectoryService.
func NewDirectoryService(reps RepresentativeStore, agreements AgreementStore, actors ActorDirectory, log *logger.Logger) *DirectoryService {
	return &DirectoryService{
		reps:       reps,
		agreements: agreements,
		actors:     actors,
		validate:   validator.New(),
		log:        log,
	}
}

// CreateRepresentativeRequest carries fields for a new rep.
type CreateRepresentativeRequest struct {
	Name                  string             `json:"name" validate:"required"`
	Tier                  repository.RepTier `json:"tier" validate:"required"`
	ParentID              *string            `json:"parent_id"`
	DefaultCommissionRate *decimal.Decimal   `json:"default_commission_rate"`
}

// CreateRepresentative adds a rep. Tier/parent rules are enforced by the
// repository; a default rate outside [0,100] is rejected here.
func (s *DirectoryService) CreateRepresentative(ctx context.Context, req *CreateRepresentativeRequest) (*repository.Representative, error) {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid representative request")
	}
	if req.DefaultCommissionRate != nil {
		r := *req.DefaultCommissionRate
		if r.IsNegative() || r.GreaterThan(decimal.NewFromInt(100)) {
			return nil, apperrors.New(apperrors.CodeInvalidRate, "default rate must be between 0 and 100")
		}
	}

	rep := &repository.Representative{
		Name:                  req.Name,
		Tier:                  req.Tier,
		ParentID:              req.ParentID,
		DefaultCommissionRate: req.DefaultCommissionRate,
		Status:                "active",
	}
	if err := s.reps.Create(ctx, rep); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rep_id", rep.ID).
		Str("tier", string(rep.Tier)).
		Str("created_by", actor.ID).
		Msg("Representative created")

	return rep, nil
}

// GetRepresentative retrieves one rep.
func (s *DirectoryService) GetRepresentative(ctx context.Context, id string) (*repository.Representative, error) {
	return s.reps.GetByID(ctx, id)
}

// ListRepresentatives lists reps, optionally by tier or parent.
func (s *DirectoryService) ListRepresentatives(ctx context.Context, tier *repository.RepTier, parentID *string) ([]*repository.Representative, error) {
	return s.reps.List(ctx, tier, parentID)
}

// SetRepresentativeStatus activates or deactivates a rep. Admin only.
func (s *DirectoryService) SetRepresentativeStatus(ctx context.Context, id, status string) error {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return apperrors.Newf(apperrors.CodeUnauthorized, "actor %s lacks admin capability", actor.ID)
	}
	if status != "active" && status != "inactive" {
		return apperrors.InvalidInput("status", "must be active or inactive")
	}
	return s.reps.SetStatus(ctx, id, status)
}

// CreateAgreementRequest carries fields for a new rate agreement.
type CreateAgreementRequest struct {
	RepID          string          `json:"rep_id" validate:"required"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	EffectiveDate  time.Time       `json:"effective_date" validate:"required"`
	EndDate        *time.Time      `json:"end_date"`
}

// CreateAgreement records a new rate agreement for a rep, closing any open
// agreement as of the new effective date. Admin only.
func (s *DirectoryService) CreateAgreement(ctx context.Context, req *CreateAgreementRequest) (*repository.CommissionAgreement, error) {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, apperrors.Newf(apperrors.CodeUnauthorized, "actor %s lacks admin capability", actor.ID)
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid agreement request")
	}
	if req.CommissionRate.IsNegative() || req.CommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		return nil, apperrors.New(apperrors.CodeInvalidRate, "commission rate must be between 0 and 100")
	}
	if req.EndDate != nil && !req.EndDate.After(req.EffectiveDate) {
		return nil, apperrors.InvalidInput("end_date", "must be after effective_date")
	}

	// Rep must exist before an agreement can reference it.
	if _, err := s.reps.GetByID(ctx, req.RepID); err != nil {
		return nil, err
	}

	agreement := &repository.CommissionAgreement{
		RepID:          req.RepID,
		CommissionRate: req.CommissionRate,
		EffectiveDate:  req.EffectiveDate,
		EndDate:        req.EndDate,
	}
	if err := s.agreements.Create(ctx, agreement); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rep_id", req.RepID).
		Str("rate", req.CommissionRate.String()).
		Str("created_by", actor.ID).
		Msg("Commission agreement created")

	return agreement, nil
}

// ListAgreements returns a rep's agreement history, newest first.
func (s *DirectoryService) ListAgreements(ctx context.Context, repID string) ([]*repository.CommissionAgreement, error) {
	return s.agreements.ListByRep(ctx, repID)
}
