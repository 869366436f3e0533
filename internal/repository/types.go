package repository

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
)

// ── Domain types for the commission engine ───────────────────────────────────

// RepTier is a representative's level in the three-tier sales hierarchy.
type RepTier string

const (
	TierMaster RepTier = "master"
	TierSub    RepTier = "sub"
	TierSubSub RepTier = "sub_sub"
)

// OrderStatus follows the order lifecycle. Statuses advance only forward
// except explicit admin correction.
type OrderStatus string

const (
	OrderPending     OrderStatus = "pending"
	OrderApproved    OrderStatus = "approved"
	OrderRejected    OrderStatus = "rejected"
	OrderPaid        OrderStatus = "paid"
	OrderPartial     OrderStatus = "partial"
	OrderOutstanding OrderStatus = "outstanding"
)

// StructureStatus is the approval state of a commission structure.
// Superseded marks a pending structure replaced by a recalculation; it is
// terminal and kept for audit joins.
type StructureStatus string

const (
	StructurePending    StructureStatus = "pending"
	StructureApproved   StructureStatus = "approved"
	StructureRejected   StructureStatus = "rejected"
	StructureSuperseded StructureStatus = "superseded"
)

// RepChain is the (master, optional sub, optional sub-sub) tuple attached to
// an order. A sub-sub rep is only valid underneath a sub rep.
type RepChain struct {
	MasterRepID string
	SubRepID    *string
	SubSubRepID *string
}

// Validate checks structural chain rules. Every order must have a master rep,
// and a sub-sub rep requires a sub rep above it.
func (c RepChain) Validate() error {
	if c.MasterRepID == "" {
		return apperrors.New(apperrors.CodeMissingMasterRep, "order has no master representative")
	}
	if c.SubSubRepID != nil && c.SubRepID == nil {
		return apperrors.InvalidInput("sub_sub_rep_id", "sub-sub rep requires a sub rep in the chain")
	}
	return nil
}

// Equal reports whether two chains reference the same reps.
func (c RepChain) Equal(o RepChain) bool {
	return c.MasterRepID == o.MasterRepID &&
		eqStrPtr(c.SubRepID, o.SubRepID) &&
		eqStrPtr(c.SubSubRepID, o.SubSubRepID)
}

func eqStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Order is a graft order placed for a doctor. InvoiceAmount is the base for
// commission calculation.
type Order struct {
	ID            string
	DoctorID      string
	ProductID     string
	DateOfService time.Time
	Units         int
	InvoiceAmount decimal.Decimal
	RepChain
	Status    OrderStatus
	CreatedBy *string
	CreatedAt time.Time
	UpdatedBy *string
	UpdatedAt time.Time
}

// OrderFilter narrows order listings.
type OrderFilter struct {
	Status   *OrderStatus
	DoctorID *string
	RepID    *string // matches any position in the chain
	FromDate *time.Time
	ToDate   *time.Time
	Limit    int
	Offset   int
}

// Representative is a sales rep in the three-tier hierarchy. Subs report to a
// master, sub-subs report to a sub; the tree never goes deeper.
type Representative struct {
	ID                    string
	Name                  string
	Tier                  RepTier
	ParentID              *string
	DefaultCommissionRate *decimal.Decimal
	Status                string // active | inactive
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// CommissionAgreement is a dated rate agreement for one rep. At most one
// agreement per rep is open (end_date null) at a time.
type CommissionAgreement struct {
	ID             string
	RepID          string
	CommissionRate decimal.Decimal // percentage, 0-100
	EffectiveDate  time.Time
	EndDate        *time.Time
	CreatedAt      time.Time
}

// CommissionStructure is the persisted commission split for one order. The
// rep chain and rates are snapshotted at calculation time so later hierarchy
// changes never rewrite history.
type CommissionStructure struct {
	ID      string
	OrderID string

	MasterRepID string
	SubRepID    *string
	SubSubRepID *string

	MasterRate decimal.Decimal
	SubRate    *decimal.Decimal
	SubSubRate *decimal.Decimal

	MasterAmount decimal.Decimal
	SubAmount    *decimal.Decimal
	SubSubAmount *decimal.Decimal

	TotalCommission decimal.Decimal

	Status          StructureStatus
	ApprovedBy      *string
	ApprovedAt      *time.Time
	RejectedBy      *string
	RejectedAt      *time.Time
	RejectionReason *string

	CreatedBy *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Chain returns the structure's snapshotted rep chain.
func (s *CommissionStructure) Chain() RepChain {
	return RepChain{MasterRepID: s.MasterRepID, SubRepID: s.SubRepID, SubSubRepID: s.SubSubRepID}
}

// AuditAction is the kind of change recorded in the audit log.
type AuditAction string

const (
	AuditCreated      AuditAction = "created"
	AuditRecalculated AuditAction = "recalculated"
	AuditRatesAmended AuditAction = "rates_amended"
	AuditApproved     AuditAction = "approved"
	AuditRejected     AuditAction = "rejected"
)

// CommissionAuditEntry is one immutable audit record. Entries are never
// updated or deleted; per-tier previous/new rates are nil for tiers absent
// from the structure's chain.
type CommissionAuditEntry struct {
	ID          string
	StructureID string
	OrderID     string
	Action      AuditAction

	PrevMasterRate *decimal.Decimal
	PrevSubRate    *decimal.Decimal
	PrevSubSubRate *decimal.Decimal
	NewMasterRate  *decimal.Decimal
	NewSubRate     *decimal.Decimal
	NewSubSubRate  *decimal.Decimal

	ChangedBy string
	ChangedAt time.Time
	Reason    *string
}
