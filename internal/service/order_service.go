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

// OrderService manages graft orders. Commission calculation happens through
// the CommissionService at creation, and again whenever an update changes the
// invoice amount or the rep chain.
type OrderService struct {
	orders      OrderStore
	commissions *CommissionService
	actors      ActorDirectory
	validate    *validator.Validate
	log         *logger.Logger
}

// NewOrderService creates a new OrderService.
func NewOrderService(orders OrderStore, commissions *CommissionService, actors ActorDirectory, log *logger.Logger) *OrderService {
	return &OrderService{
		orders:      orders,
		commissions: commissions,
		actors:      actors,
		validate:    validator.New(),
		log:         log,
	}
}

// CreateOrderRequest carries the fields for a new order.
type CreateOrderRequest struct {
	DoctorID      string          `json:"doctor_id" validate:"required"`
	ProductID     string          `json:"product_id" validate:"required"`
	DateOfService time.Time       `json:"date_of_service" validate:"required"`
	Units         int             `json:"units" validate:"gt=0"`
	InvoiceAmount decimal.Decimal `json:"invoice_amount"`
	MasterRepID   string          `json:"master_rep_id"`
	SubRepID      *string         `json:"sub_rep_id"`
	SubSubRepID   *string         `json:"sub_sub_rep_id"`
}

// UpdateOrderRequest carries mutable order fields. Nil fields are left as-is.
type UpdateOrderRequest struct {
	InvoiceAmount *decimal.Decimal `json:"invoice_amount"`
	Units         *int             `json:"units"`
	MasterRepID   *string          `json:"master_rep_id"`
	SubRepID      *string          `json:"sub_rep_id"`
	SubSubRepID   *string          `json:"sub_sub_rep_id"`
	ClearSubRep   bool             `json:"clear_sub_rep"`
	ClearSubSub   bool             `json:"clear_sub_sub_rep"`
}

// CreateOrder validates the rep chain, persists the order, and attaches its
// commission structure. Chain and rate failures surface before anything is
// persisted.
func (s *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*repository.Order, error) {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInvalidInput, "invalid order request")
	}

	chain := repository.RepChain{
		MasterRepID: req.MasterRepID,
		SubRepID:    req.SubRepID,
		SubSubRepID: req.SubSubRepID,
	}
	if err := chain.Validate(); err != nil {
		return nil, err
	}

	order := &repository.Order{
		DoctorID:      req.DoctorID,
		ProductID:     req.ProductID,
		DateOfService: req.DateOfService,
		Units:         req.Units,
		InvoiceAmount: req.InvoiceAmount,
		RepChain:      chain,
		Status:        repository.OrderPending,
		CreatedBy:     &actor.ID,
	}

	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	if _, err := s.commissions.CalculateForOrder(ctx, order.ID); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("order_id", order.ID).
		Str("doctor_id", order.DoctorID).
		Str("invoice_amount", order.InvoiceAmount.String()).
		Msg("Order created")

	return order, nil
}

// UpdateOrder applies changes to an order and recalculates its commission if
// the invoice amount or the rep chain changed.
func (s *OrderService) UpdateOrder(ctx context.Context, orderID string, req *UpdateOrderRequest) (*repository.Order, error) {
	actor, err := s.actors.CurrentActor(ctx)
	if err != nil {
		return nil, err
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	prevAmount := order.InvoiceAmount
	prevChain := order.RepChain

	if req.InvoiceAmount != nil {
		order.InvoiceAmount = *req.InvoiceAmount
	}
	if req.Units != nil {
		order.Units = *req.Units
	}
	if req.MasterRepID != nil {
		order.MasterRepID = *req.MasterRepID
	}
	if req.SubRepID != nil {
		order.SubRepID = req.SubRepID
	} else if req.ClearSubRep {
		order.SubRepID = nil
	}
	if req.SubSubRepID != nil {
		order.SubSubRepID = req.SubSubRepID
	} else if req.ClearSubSub {
		order.SubSubRepID = nil
	}

	if err := order.RepChain.Validate(); err != nil {
		return nil, err
	}

	order.UpdatedBy = &actor.ID
	if err := s.orders.Update(ctx, order); err != nil {
		return nil, err
	}

	if !order.InvoiceAmount.Equal(prevAmount) || !order.RepChain.Equal(prevChain) {
		if _, err := s.commissions.Recalculate(ctx, orderID); err != nil {
			return nil, err
		}
	}

	return order, nil
}

// GetOrder retrieves one order.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*repository.Order, error) {
	return s.orders.GetByID(ctx, orderID)
}

// ListOrders retrieves orders with filtering and pagination.
func (s *OrderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, int64, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.orders.List(ctx, filter)
}
