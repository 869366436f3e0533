package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/database"
)

// RepresentativeRepository handles sales rep data operations and enforces the
// three-tier hierarchy rules at the storage boundary.
type RepresentativeRepository struct {
	db *database.DB
}

// NewRepresentativeRepository creates a new representative repository.
func NewRepresentativeRepository(db *database.DB) *RepresentativeRepository {
	return &RepresentativeRepository{db: db}
}

const repColumns = `id, name, tier, parent_id, default_commission_rate, status, created_at, updated_at`

// Create inserts a new representative after validating tier/parent rules:
// masters have no parent, a sub's parent must be a master, a sub-sub's parent
// must be a sub.
func (r *RepresentativeRepository) Create(ctx context.Context, rep *Representative) error {
	if err := r.validateHierarchy(ctx, rep); err != nil {
		return err
	}

	query := `
		INSERT INTO representatives (name, tier, parent_id, default_commission_rate, status)
		VALUES ($1, $2::rep_tier, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rep.Name,
		rep.Tier,
		rep.ParentID,
		rep.DefaultCommissionRate,
		rep.Status,
	).Scan(&rep.ID, &rep.CreatedAt, &rep.UpdatedAt)

	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to create representative")
	}
	return nil
}

// GetByID retrieves a representative by ID.
func (r *RepresentativeRepository) GetByID(ctx context.Context, id string) (*Representative, error) {
	query := `SELECT ` + repColumns + ` FROM representatives WHERE id = $1`

	rep, err := scanRep(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("representative", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to get representative")
	}
	return rep, nil
}

// List returns representatives, optionally filtered by tier or parent.
func (r *RepresentativeRepository) List(ctx context.Context, tier *RepTier, parentID *string) ([]*Representative, error) {
	query := `SELECT ` + repColumns + ` FROM representatives WHERE 1=1`
	args := []any{}
	argCount := 1

	if tier != nil {
		query += fmt.Sprintf(" AND tier = $%d::rep_tier", argCount)
		args = append(args, *tier)
		argCount++
	}
	if parentID != nil {
		query += fmt.Sprintf(" AND parent_id = $%d", argCount)
		args = append(args, *parentID)
		argCount++
	}
	query += " ORDER BY name ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to list representatives")
	}
	defer rows.Close()

	reps := make([]*Representative, 0)
	for rows.Next() {
		rep, err := scanRep(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to scan representative")
		}
		reps = append(reps, rep)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to read representatives")
	}
	return reps, nil
}

// SetStatus activates or deactivates a rep.
func (r *RepresentativeRepository) SetStatus(ctx context.Context, id, status string) error {
	query := `
		UPDATE representatives
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("representative", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to update representative status")
	}
	return nil
}

// DefaultRate returns the rep's default commission rate, or nil when the rep
// has none configured. A missing rep is an error.
func (r *RepresentativeRepository) DefaultRate(ctx context.Context, repID string) (*decimal.Decimal, error) {
	query := `SELECT default_commission_rate FROM representatives WHERE id = $1`

	var rate *decimal.Decimal
	err := r.db.QueryRow(ctx, query, repID).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("representative", repID)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to get default rate")
	}
	return rate, nil
}

// validateHierarchy checks the parent's tier against the rep's tier.
func (r *RepresentativeRepository) validateHierarchy(ctx context.Context, rep *Representative) error {
	switch rep.Tier {
	case TierMaster:
		if rep.ParentID != nil {
			return apperrors.InvalidInput("parent_id", "a master rep cannot have a parent")
		}
		return nil
	case TierSub, TierSubSub:
		if rep.ParentID == nil {
			return apperrors.InvalidInput("parent_id", fmt.Sprintf("a %s rep requires a parent", rep.Tier))
		}
	default:
		return apperrors.InvalidInput("tier", fmt.Sprintf("unknown tier %q", rep.Tier))
	}

	parent, err := r.GetByID(ctx, *rep.ParentID)
	if err != nil {
		return err
	}

	wantParent := TierMaster
	if rep.Tier == TierSubSub {
		wantParent = TierSub
	}
	if parent.Tier != wantParent {
		return apperrors.InvalidInput("parent_id",
			fmt.Sprintf("a %s rep must report to a %s rep, not a %s", rep.Tier, wantParent, parent.Tier))
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type repScanner interface {
	Scan(dest ...any) error
}

func scanRep(row repScanner) (*Representative, error) {
	rep := &Representative{}
	err := row.Scan(
		&rep.ID,
		&rep.Name,
		&rep.Tier,
		&rep.ParentID,
		&rep.DefaultCommissionRate,
		&rep.Status,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rep, nil
}
