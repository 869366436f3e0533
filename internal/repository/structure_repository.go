package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/database"
)

// StructureRepository persists commission structures. At most one pending
// structure exists per order, enforced by a partial unique index so creation
// is a conditional insert rather than read-then-write. A recalculated order
// may hold a new pending structure alongside its approved one. Approval and
// rejection use optimistic status guards: the row must still be pending at
// write time or the update affects nothing.
type StructureRepository struct {
	db *database.DB
}

// NewStructureRepository creates a new structure repository.
func NewStructureRepository(db *database.DB) *StructureRepository {
	return &StructureRepository{db: db}
}

const structureColumns = `id, order_id,
	       master_rep_id, sub_rep_id, sub_sub_rep_id,
	       master_rate, sub_rate, sub_sub_rate,
	       master_amount, sub_amount, sub_sub_amount,
	       total_commission, status,
	       approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	       created_by, created_at, updated_at`

const structureInsert = `
	INSERT INTO commission_structures
	    (order_id,
	     master_rep_id, sub_rep_id, sub_sub_rep_id,
	     master_rate, sub_rate, sub_sub_rate,
	     master_amount, sub_amount, sub_sub_amount,
	     total_commission, status, created_by)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::structure_status, $13)
	ON CONFLICT (order_id) WHERE status = 'pending' DO NOTHING
	RETURNING id, created_at, updated_at
`

// Create inserts a structure for an order. Fails with CodeDuplicateStructure
// when a pending structure already exists for the order; two concurrent
// calculations can race here and exactly one wins.
func (r *StructureRepository) Create(ctx context.Context, s *CommissionStructure) error {
	err := r.db.QueryRow(ctx, structureInsert, structureInsertArgs(s)...).
		Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Newf(apperrors.CodeDuplicateStructure,
			"commission structure already exists for order %s", s.OrderID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to create commission structure")
	}
	return nil
}

// Replace supersedes the order's pending structure and inserts a fresh pending
// one in a single transaction. supersededID is the pending structure being
// replaced; the guard fails with CodeInvalidTransition if it is no longer
// pending at write time.
func (r *StructureRepository) Replace(ctx context.Context, supersededID string, next *CommissionStructure) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		supersede := `
			UPDATE commission_structures
			SET status = 'superseded'::structure_status, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
		`
		tag, err := tx.Exec(ctx, supersede, supersededID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeStorage, "failed to supersede structure")
		}
		if tag.RowsAffected() == 0 {
			return apperrors.Newf(apperrors.CodeInvalidTransition,
				"structure %s is no longer pending", supersededID)
		}

		err = tx.QueryRow(ctx, structureInsert, structureInsertArgs(next)...).
			Scan(&next.ID, &next.CreatedAt, &next.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.Newf(apperrors.CodeDuplicateStructure,
				"commission structure already exists for order %s", next.OrderID)
		}
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeStorage, "failed to insert replacement structure")
		}
		return nil
	})
}

// GetByID retrieves a structure by its primary key.
func (r *StructureRepository) GetByID(ctx context.Context, id string) (*CommissionStructure, error) {
	query := `SELECT ` + structureColumns + ` FROM commission_structures WHERE id = $1`

	s, err := scanStructure(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("commission_structure", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to get commission structure")
	}
	return s, nil
}

// GetByOrder returns the order's current structure (the most recent one that
// has not been superseded). Returns nil when the order has no structure yet.
func (r *StructureRepository) GetByOrder(ctx context.Context, orderID string) (*CommissionStructure, error) {
	query := `
		SELECT ` + structureColumns + `
		FROM commission_structures
		WHERE order_id = $1 AND status != 'superseded'
		ORDER BY created_at DESC
		LIMIT 1
	`

	s, err := scanStructure(r.db.QueryRow(ctx, query, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to get structure for order")
	}
	return s, nil
}

// ListPending returns all structures awaiting approval, oldest first.
func (r *StructureRepository) ListPending(ctx context.Context) ([]*CommissionStructure, error) {
	query := `
		SELECT ` + structureColumns + `
		FROM commission_structures
		WHERE status = 'pending'
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to list pending structures")
	}
	defer rows.Close()

	return scanStructures(rows)
}

// Approve transitions a pending structure to approved. The status guard makes
// double-approval impossible: the second writer sees zero rows and fails with
// CodeInvalidTransition.
func (r *StructureRepository) Approve(ctx context.Context, id, approvedBy string) (*CommissionStructure, error) {
	query := `
		UPDATE commission_structures
		SET status      = 'approved'::structure_status,
		    approved_by = $2,
		    approved_at = NOW(),
		    updated_at  = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + structureColumns

	s, err := scanStructure(r.db.QueryRow(ctx, query, id, approvedBy))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeInvalidTransition,
			"structure %s is not pending", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to approve structure")
	}
	return s, nil
}

// Reject transitions a pending structure to rejected with a reason.
func (r *StructureRepository) Reject(ctx context.Context, id, rejectedBy, reason string) (*CommissionStructure, error) {
	query := `
		UPDATE commission_structures
		SET status           = 'rejected'::structure_status,
		    rejected_by      = $2,
		    rejected_at      = NOW(),
		    rejection_reason = $3,
		    updated_at       = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + structureColumns

	s, err := scanStructure(r.db.QueryRow(ctx, query, id, rejectedBy, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeInvalidTransition,
			"structure %s is not pending", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to reject structure")
	}
	return s, nil
}

// AmendRates rewrites a pending structure's rates, amounts and total. Approved
// structures are immutable; the guard rejects anything not pending.
func (r *StructureRepository) AmendRates(ctx context.Context, s *CommissionStructure) error {
	query := `
		UPDATE commission_structures
		SET master_rate      = $2,
		    sub_rate         = $3,
		    sub_sub_rate     = $4,
		    master_amount    = $5,
		    sub_amount       = $6,
		    sub_sub_amount   = $7,
		    total_commission = $8,
		    updated_at       = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		s.ID,
		s.MasterRate, s.SubRate, s.SubSubRate,
		s.MasterAmount, s.SubAmount, s.SubSubAmount,
		s.TotalCommission,
	).Scan(&s.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Newf(apperrors.CodeInvalidTransition,
			"structure %s is not pending", s.ID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to amend structure rates")
	}
	return nil
}

// ListApprovedByRepYear returns approved structures where the rep appears
// anywhere in the snapshotted chain, for orders served in the given year.
// Feeds the YTD commission summary.
func (r *StructureRepository) ListApprovedByRepYear(ctx context.Context, repID string, year int) ([]*CommissionStructure, error) {
	from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(1, 0, 0)

	query := `
		SELECT ` + prefixedStructureColumns("s.") + `
		FROM commission_structures s
		JOIN orders o ON o.id = s.order_id
		WHERE s.status = 'approved'
		  AND (s.master_rep_id = $1 OR s.sub_rep_id = $1 OR s.sub_sub_rep_id = $1)
		  AND o.date_of_service >= $2
		  AND o.date_of_service < $3
		ORDER BY o.date_of_service ASC
	`

	rows, err := r.db.Query(ctx, query, repID, from, to)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to list approved structures for rep")
	}
	defer rows.Close()

	return scanStructures(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func structureInsertArgs(s *CommissionStructure) []any {
	return []any{
		s.OrderID,
		s.MasterRepID, s.SubRepID, s.SubSubRepID,
		s.MasterRate, s.SubRate, s.SubSubRate,
		s.MasterAmount, s.SubAmount, s.SubSubAmount,
		s.TotalCommission, s.Status, s.CreatedBy,
	}
}

func prefixedStructureColumns(prefix string) string {
	return prefix + `id, ` + prefix + `order_id,
	       ` + prefix + `master_rep_id, ` + prefix + `sub_rep_id, ` + prefix + `sub_sub_rep_id,
	       ` + prefix + `master_rate, ` + prefix + `sub_rate, ` + prefix + `sub_sub_rate,
	       ` + prefix + `master_amount, ` + prefix + `sub_amount, ` + prefix + `sub_sub_amount,
	       ` + prefix + `total_commission, ` + prefix + `status,
	       ` + prefix + `approved_by, ` + prefix + `approved_at, ` + prefix + `rejected_by, ` + prefix + `rejected_at, ` + prefix + `rejection_reason,
	       ` + prefix + `created_by, ` + prefix + `created_at, ` + prefix + `updated_at`
}

type structureScanner interface {
	Scan(dest ...any) error
}

func scanStructure(row structureScanner) (*CommissionStructure, error) {
	s := &CommissionStructure{}
	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.MasterRepID,
		&s.SubRepID,
		&s.SubSubRepID,
		&s.MasterRate,
		&s.SubRate,
		&s.SubSubRate,
		&s.MasterAmount,
		&s.SubAmount,
		&s.SubSubAmount,
		&s.TotalCommission,
		&s.Status,
		&s.ApprovedBy,
		&s.ApprovedAt,
		&s.RejectedBy,
		&s.RejectedAt,
		&s.RejectionReason,
		&s.CreatedBy,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func scanStructures(rows *database.Rows) ([]*CommissionStructure, error) {
	structures := make([]*CommissionStructure, 0)
	for rows.Next() {
		s, err := scanStructure(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to scan commission structure")
		}
		structures = append(structures, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to read commission structures")
	}
	return structures, nil
}
