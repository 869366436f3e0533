package repository

import (
	"context"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/database"
)

// AuditRepository appends and reads immutable commission audit entries.
type AuditRepository struct {
	db *database.DB
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit entry. The table has a delete-prevention trigger so
// this is the only mutation operation exposed.
func (r *AuditRepository) Append(ctx context.Context, entry *CommissionAuditEntry) error {
	query := `
		INSERT INTO commission_audit_log
		    (structure_id, order_id, action,
		     prev_master_rate, prev_sub_rate, prev_sub_sub_rate,
		     new_master_rate, new_sub_rate, new_sub_sub_rate,
		     changed_by, reason)
		VALUES ($1, $2, $3::audit_action,
		        $4, $5, $6,
		        $7, $8, $9,
		        $10, $11)
		RETURNING id, changed_at
	`

	err := r.db.QueryRow(ctx, query,
		entry.StructureID,
		entry.OrderID,
		entry.Action,
		entry.PrevMasterRate,
		entry.PrevSubRate,
		entry.PrevSubSubRate,
		entry.NewMasterRate,
		entry.NewSubRate,
		entry.NewSubSubRate,
		entry.ChangedBy,
		entry.Reason,
	).Scan(&entry.ID, &entry.ChangedAt)

	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to append audit entry")
	}
	return nil
}

// ListByStructure returns the audit trail for a structure, newest first.
func (r *AuditRepository) ListByStructure(ctx context.Context, structureID string) ([]*CommissionAuditEntry, error) {
	query := auditSelect + `
		WHERE structure_id = $1
		ORDER BY changed_at DESC
	`
	return r.list(ctx, query, structureID)
}

// ListByOrder returns the audit trail for every structure the order has had,
// newest first.
func (r *AuditRepository) ListByOrder(ctx context.Context, orderID string) ([]*CommissionAuditEntry, error) {
	query := auditSelect + `
		WHERE order_id = $1
		ORDER BY changed_at DESC
	`
	return r.list(ctx, query, orderID)
}

const auditSelect = `
	SELECT id, structure_id, order_id, action,
	       prev_master_rate, prev_sub_rate, prev_sub_sub_rate,
	       new_master_rate, new_sub_rate, new_sub_sub_rate,
	       changed_by, changed_at, reason
	FROM commission_audit_log
`

func (r *AuditRepository) list(ctx context.Context, query string, args ...any) ([]*CommissionAuditEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to query audit log")
	}
	defer rows.Close()

	entries := make([]*CommissionAuditEntry, 0)
	for rows.Next() {
		entry := &CommissionAuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.StructureID,
			&entry.OrderID,
			&entry.Action,
			&entry.PrevMasterRate,
			&entry.PrevSubRate,
			&entry.PrevSubSubRate,
			&entry.NewMasterRate,
			&entry.NewSubRate,
			&entry.NewSubSubRate,
			&entry.ChangedBy,
			&entry.ChangedAt,
			&entry.Reason,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to scan audit entry")
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to read audit log")
	}
	return entries, nil
}
