package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/commission"
	"github.com/mscmedsupply/be-commissions/internal/repository"
)

// Actor is the authenticated user acting on a request.
type Actor struct {
	ID   string
	Role string
}

// RoleAdmin is the role required for approval state transitions.
const RoleAdmin = "admin"

// IsAdmin reports whether the actor holds the admin capability.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// ActorDirectory resolves the current actor from the request context. The
// real implementation reads the identity stamped by the auth middleware.
type ActorDirectory interface {
	CurrentActor(ctx context.Context) (Actor, error)
}

// OrderStore is the order persistence surface the services consume.
type OrderStore interface {
	Create(ctx context.Context, order *repository.Order) error
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	List(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, int64, error)
	Update(ctx context.Context, order *repository.Order) error
	UpdateStatus(ctx context.Context, id string, status repository.OrderStatus, updatedBy *string) error
}

// StructureStore is the commission structure persistence surface.
type StructureStore interface {
	Create(ctx context.Context, s *repository.CommissionStructure) error
	Replace(ctx context.Context, supersededID string, next *repository.CommissionStructure) error
	GetByID(ctx context.Context, id string) (*repository.CommissionStructure, error)
	GetByOrder(ctx context.Context, orderID string) (*repository.CommissionStructure, error)
	ListPending(ctx context.Context) ([]*repository.CommissionStructure, error)
	Approve(ctx context.Context, id, approvedBy string) (*repository.CommissionStructure, error)
	Reject(ctx context.Context, id, rejectedBy, reason string) (*repository.CommissionStructure, error)
	AmendRates(ctx context.Context, s *repository.CommissionStructure) error
	ListApprovedByRepYear(ctx context.Context, repID string, year int) ([]*repository.CommissionStructure, error)
}

// AuditStore is the append-only audit log surface.
type AuditStore interface {
	Append(ctx context.Context, entry *repository.CommissionAuditEntry) error
	ListByStructure(ctx context.Context, structureID string) ([]*repository.CommissionAuditEntry, error)
	ListByOrder(ctx context.Context, orderID string) ([]*repository.CommissionAuditEntry, error)
}

// RateSource resolves per-tier rates for a rep chain as of a date.
// *commission.RateResolver is the production implementation.
type RateSource interface {
	Resolve(ctx context.Context, chain repository.RepChain, asOf time.Time) (commission.RateSet, error)
}

// RepresentativeStore is the rep directory surface.
type RepresentativeStore interface {
	Create(ctx context.Context, rep *repository.Representative) error
	GetByID(ctx context.Context, id string) (*repository.Representative, error)
	List(ctx context.Context, tier *repository.RepTier, parentID *string) ([]*repository.Representative, error)
	SetStatus(ctx context.Context, id, status string) error
	DefaultRate(ctx context.Context, repID string) (*decimal.Decimal, error)
}

// AgreementStore is the agreement history surface.
type AgreementStore interface {
	Create(ctx context.Context, agreement *repository.CommissionAgreement) error
	ListByRep(ctx context.Context, repID string) ([]*repository.CommissionAgreement, error)
}
