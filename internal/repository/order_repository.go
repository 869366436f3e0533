package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/database"
)

// OrderRepository handles order data operations.
type OrderRepository struct {
	db *database.DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *database.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, doctor_id, product_id, date_of_service, units, invoice_amount,
	       master_rep_id, sub_rep_id, sub_sub_rep_id,
	       status, created_by, created_at, updated_by, updated_at`

// Create inserts a new order.
func (r *OrderRepository) Create(ctx context.Context, order *Order) error {
	query := `
		INSERT INTO orders (doctor_id, product_id, date_of_service, units, invoice_amount,
		                    master_rep_id, sub_rep_id, sub_sub_rep_id, status, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::order_status, $10)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		order.DoctorID,
		order.ProductID,
		order.DateOfService,
		order.Units,
		order.InvoiceAmount,
		order.MasterRepID,
		order.SubRepID,
		order.SubSubRepID,
		order.Status,
		order.CreatedBy,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)

	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to create order")
	}
	return nil
}

// GetByID retrieves an order by ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("order", id)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeStorage, "failed to get order")
	}
	return order, nil
}

// List retrieves orders with filtering and pagination, newest date of service
// first. Returns the matching rows and the unpaginated total.
func (r *OrderRepository) List(ctx context.Context, filter OrderFilter) ([]*Order, int64, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM orders WHERE 1=1`

	args := []any{}
	argCount := 1

	if filter.Status != nil {
		clause := fmt.Sprintf(" AND status = $%d::order_status", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.DoctorID != nil {
		clause := fmt.Sprintf(" AND doctor_id = $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.DoctorID)
		argCount++
	}
	if filter.RepID != nil {
		clause := fmt.Sprintf(" AND (master_rep_id = $%d OR sub_rep_id = $%d OR sub_sub_rep_id = $%d)",
			argCount, argCount, argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.RepID)
		argCount++
	}
	if filter.FromDate != nil {
		clause := fmt.Sprintf(" AND date_of_service >= $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.FromDate)
		argCount++
	}
	if filter.ToDate != nil {
		clause := fmt.Sprintf(" AND date_of_service <= $%d", argCount)
		query += clause
		countQuery += clause
		args = append(args, *filter.ToDate)
		argCount++
	}

	query += " ORDER BY date_of_service DESC, created_at DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(args, filter.Limit, filter.Offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeStorage, "failed to count orders")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeStorage, "failed to list orders")
	}
	defer rows.Close()

	orders := make([]*Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, apperrors.CodeStorage, "failed to scan order")
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeStorage, "failed to read orders")
	}

	return orders, total, nil
}

// Update rewrites an order's invoice amount and rep chain. The caller decides
// whether the change warrants recalculation.
func (r *OrderRepository) Update(ctx context.Context, order *Order) error {
	query := `
		UPDATE orders
		SET invoice_amount = $2,
		    units          = $3,
		    master_rep_id  = $4,
		    sub_rep_id     = $5,
		    sub_sub_rep_id = $6,
		    updated_by     = $7,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query,
		order.ID,
		order.InvoiceAmount,
		order.Units,
		order.MasterRepID,
		order.SubRepID,
		order.SubSubRepID,
		order.UpdatedBy,
	).Scan(&order.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("order", order.ID)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to update order")
	}
	return nil
}

// UpdateStatus sets an order's status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status OrderStatus, updatedBy *string) error {
	query := `
		UPDATE orders
		SET status     = $2::order_status,
		    updated_by = $3,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id, status, updatedBy).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("order", id)
	}
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStorage, "failed to update order status")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type orderScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row orderScanner) (*Order, error) {
	order := &Order{}
	err := row.Scan(
		&order.ID,
		&order.DoctorID,
		&order.ProductID,
		&order.DateOfService,
		&order.Units,
		&order.InvoiceAmount,
		&order.MasterRepID,
		&order.SubRepID,
		&order.SubSubRepID,
		&order.Status,
		&order.CreatedBy,
		&order.CreatedAt,
		&order.UpdatedBy,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}
