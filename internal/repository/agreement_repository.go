package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/database"
)

// AgreementRepository manages commission agreement history. At most one open
// agreement (end_date null) exists per rep; creating a new one closes the
// previous open agreement in the same transaction.
type AgreementRepository struct {
	db *database.DB
}

// NewAgreementRepository creates a new agreement repository.
func NewAgreementRepository(db *database.DB) *AgreementRepository {
	return &AgreementRepository{db: db}
}

// Create inserts an agreement, ending the rep's current open agreement as of
// the new effective date.
func (r *AgreementRepository) Create(ctx context.Context, agreement *CommissionAgreement) error {
	if agreement.CommissionRate.IsNegative() || agreement.CommissionRate.GreaterThan(decimal.NewFromInt(100)) {
		return apperrors.New(apperrors.CodeInvalidRate, "commission rate must be between 0 and 100")
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		closeQuery := `
			UPDATE commission_agreements
			SET end_date = $2
			WHERE rep_id = $1 AND end_date IS NULL
		`
		if _, err := tx.Exec(ctx, closeQuery, agreement.RepID, agreement.EffectiveDate); err != nil {
			return apperrors.Wrap(err, apperrors.CodeStorage, "failed to close open agreement")
		}

		insertQuery := `
			INSERT INTO commission_agreements (rep_id, commission_rate, effective_date, end_date)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`
		err := tx.QueryRow(ctx, insertQuery,
			agreement.RepID,
			agreement.CommissionRate,
			agreement.EffectiveDate,
			agreement.EndDate,
		).Scan(&agreement.ID, &agreement.CreatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeStorage, "failed to create agreement")
		}
		return nil
	})
}

// ActiveRate returns the rate from the agreement covering asOf, or nil when no
// agreement covers that date. Historical lookups pick the agreement active on
// the order's date of service, not today's.
func (r *AgreementRepository) ActiveRate(ctx context.Context, repID string, asOf time.Time) (*decimal.Decimal, error) {
	query := `
		SELECT commission_rate
		FROM commission_agreements
		WHERE rep_id = $1
		  AND effective_date <= $2
		  AND (end_date IS NULL OR $2 < end_date)
		ORDER BY effective_date DESC
		LIMIT 1
	`

	var rate decimal.Decimal
	err := r.db.QueryRow(ctx, query, repID, asOf).Scan(&rate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to resolve agreement rate")
	}
	return &rate, nil
}

// ListByRep returns a rep's agreement history, newest effective date first.
func (r *AgreementRepository) ListByRep(ctx context.Context, repID string) ([]*CommissionAgreement, error) {
	query := `
		SELECT id, rep_id, commission_rate, effective_date, end_date, created_at
		FROM commission_agreements
		WHERE rep_id = $1
		ORDER BY effective_date DESC
	`

	rows, err := r.db.Query(ctx, query, repID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to list agreements")
	}
	defer rows.Close()

	agreements := make([]*CommissionAgreement, 0)
	for rows.Next() {
		a := &CommissionAgreement{}
		err := rows.Scan(&a.ID, &a.RepID, &a.CommissionRate, &a.EffectiveDate, &a.EndDate, &a.CreatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to scan agreement")
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to read agreements")
	}
	return agreements, nil
}
