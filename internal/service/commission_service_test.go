package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/mscmedsupply/be-commissions/internal/apperrors"
	"github.com/mscmedsupply/be-commissions/internal/commission"
	"github.com/mscmedsupply/be-commissions/internal/logger"
	"github.com/mscmedsupply/be-commissions/internal/repository"
)

// ── Mocks ─────────────────────────────────────────────────────────────────────

type actorDirectoryMock struct {
	currentActorFn func(ctx context.Context) (Actor, error)
}

func (m *actorDirectoryMock) CurrentActor(ctx context.Context) (Actor, error) {
	return m.currentActorFn(ctx)
}

type orderStoreMock struct {
	createFn       func(ctx context.Context, order *repository.Order) error
	getByIDFn      func(ctx context.Context, id string) (*repository.Order, error)
	listFn         func(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, int64, error)
	updateFn       func(ctx context.Context, order *repository.Order) error
	updateStatusFn func(ctx context.Context, id string, status repository.OrderStatus, updatedBy *string) error
}

func (m *orderStoreMock) Create(ctx context.Context, order *repository.Order) error {
	return m.createFn(ctx, order)
}

func (m *orderStoreMock) GetByID(ctx context.Context, id string) (*repository.Order, error) {
	return m.getByIDFn(ctx, id)
}

func (m *orderStoreMock) List(ctx context.Context, filter repository.OrderFilter) ([]*repository.Order, int64, error) {
	return m.listFn(ctx, filter)
}

func (m *orderStoreMock) Update(ctx context.Context, order *repository.Order) error {
	return m.updateFn(ctx, order)
}

func (m *orderStoreMock) UpdateStatus(ctx context.Context, id string, status repository.OrderStatus, updatedBy *string) error {
	if m.updateStatusFn == nil {
		return nil
	}
	return m.updateStatusFn(ctx, id, status, updatedBy)
}

type structureStoreMock struct {
	createFn                func(ctx context.Context, s *repository.CommissionStructure) error
	replaceFn               func(ctx context.Context, supersededID string, next *repository.CommissionStructure) error
	getByIDFn               func(ctx context.Context, id string) (*repository.CommissionStructure, error)
	getByOrderFn            func(ctx context.Context, orderID string) (*repository.CommissionStructure, error)
	listPendingFn           func(ctx context.Context) ([]*repository.CommissionStructure, error)
	approveFn               func(ctx context.Context, id, approvedBy string) (*repository.CommissionStructure, error)
	rejectFn                func(ctx context.Context, id, rejectedBy, reason string) (*repository.CommissionStructure, error)
	amendRatesFn            func(ctx context.Context, s *repository.CommissionStructure) error
	listApprovedByRepYearFn func(ctx context.Context, repID string, year int) ([]*repository.CommissionStructure, error)
}

func (m *structureStoreMock) Create(ctx context.Context, s *repository.CommissionStructure) error {
	return m.createFn(ctx, s)
}

func (m *structureStoreMock) Replace(ctx context.Context, supersededID string, next *repository.CommissionStructure) error {
	return m.replaceFn(ctx, supersededID, next)
}

func (m *structureStoreMock) GetByID(ctx context.Context, id string) (*repository.CommissionStructure, error) {
	return m.getByIDFn(ctx, id)
}

func (m *structureStoreMock) GetByOrder(ctx context.Context, orderID string) (*repository.CommissionStructure, error) {
	return m.getByOrderFn(ctx, orderID)
}

func (m *structureStoreMock) ListPending(ctx context.Context) ([]*repository.CommissionStructure, error) {
	return m.listPendingFn(ctx)
}

func (m *structureStoreMock) Approve(ctx context.Context, id, approvedBy string) (*repository.CommissionStructure, error) {
	return m.approveFn(ctx, id, approvedBy)
}

func (m *structureStoreMock) Reject(ctx context.Context, id, rejectedBy, reason string) (*repository.CommissionStructure, error) {
	return m.rejectFn(ctx, id, rejectedBy, reason)
}

func (m *structureStoreMock) AmendRates(ctx context.Context, s *repository.CommissionStructure) error {
	return m.amendRatesFn(ctx, s)
}

func (m *structureStoreMock) ListApprovedByRepYear(ctx context.Context, repID string, year int) ([]*repository.CommissionStructure, error) {
	return m.listApprovedByRepYearFn(ctx, repID, year)
}

type auditStoreMock struct {
	mu      sync.Mutex
	entries []*repository.CommissionAuditEntry
}

func (m *auditStoreMock) Append(ctx context.Context, entry *repository.CommissionAuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *auditStoreMock) ListByStructure(ctx context.Context, structureID string) ([]*repository.CommissionAuditEntry, error) {
	return m.entries, nil
}

func (m *auditStoreMock) ListByOrder(ctx context.Context, orderID string) ([]*repository.CommissionAuditEntry, error) {
	return m.entries, nil
}

type rateSourceMock struct {
	resolveFn func(ctx context.Context, chain repository.RepChain, asOf time.Time) (commission.RateSet, error)
}

func (m *rateSourceMock) Resolve(ctx context.Context, chain repository.RepChain, asOf time.Time) (commission.RateSet, error) {
	return m.resolveFn(ctx, chain, asOf)
}

// ── Fixtures ──────────────────────────────────────────────────────────────────

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "disabled", Environment: "test"})
}

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	v, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return v
}

func decPtr(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	v := dec(t, s)
	return &v
}

func strP(s string) *string { return &s }

func adminDirectory() *actorDirectoryMock {
	return &actorDirectoryMock{
		currentActorFn: func(context.Context) (Actor, error) {
			return Actor{ID: "admin-1", Role: RoleAdmin}, nil
		},
	}
}

func fullChainOrder(t *testing.T) *repository.Order {
	return &repository.Order{
		ID:            "order-1",
		DoctorID:      "doc-1",
		ProductID:     "graft-1",
		DateOfService: time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC),
		Units:         2,
		InvoiceAmount: dec(t, "1000"),
		RepChain: repository.RepChain{
			MasterRepID: "rep-master",
			SubRepID:    strP("rep-sub"),
			SubSubRepID: strP("rep-subsub"),
		},
		Status: repository.OrderPending,
	}
}

func fullChainRates(t *testing.T) commission.RateSet {
	return commission.RateSet{
		Master: dec(t, "60"),
		Sub:    decPtr(t, "40"),
		SubSub: decPtr(t, "30"),
	}
}

func pendingStructure(t *testing.T) *repository.CommissionStructure {
	return &repository.CommissionStructure{
		ID:              "struct-1",
		OrderID:         "order-1",
		MasterRepID:     "rep-master",
		SubRepID:        strP("rep-sub"),
		MasterRate:      dec(t, "60"),
		SubRate:         decPtr(t, "40"),
		MasterAmount:    dec(t, "54"),
		SubAmount:       decPtr(t, "36"),
		TotalCommission: dec(t, "90"),
		Status:          repository.StructurePending,
	}
}

// ── Calculation ───────────────────────────────────────────────────────────────

func TestCalculateForOrderCreatesPendingStructure(t *testing.T) {
	var created *repository.CommissionStructure

	orders := &orderStoreMock{
		getByIDFn: func(_ context.Context, id string) (*repository.Order, error) {
			require.Equal(t, "order-1", id)
			return fullChainOrder(t), nil
		},
	}
	structures := &structureStoreMock{
		getByOrderFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return nil, nil
		},
		createFn: func(_ context.Context, s *repository.CommissionStructure) error {
			s.ID = "struct-1"
			created = s
			return nil
		},
	}
	audit := &auditStoreMock{}
	rates := &rateSourceMock{
		resolveFn: func(_ context.Context, _ repository.RepChain, asOf time.Time) (commission.RateSet, error) {
			require.Equal(t, 2026, asOf.Year())
			return fullChainRates(t), nil
		},
	}

	svc := NewCommissionService(orders, structures, audit, rates, adminDirectory(), testLogger())
	got, err := svc.CalculateForOrder(context.Background(), "order-1")
	require.NoError(t, err)
	require.NotNil(t, created)
	require.Same(t, created, got)

	require.Equal(t, repository.StructurePending, got.Status)
	require.True(t, got.MasterAmount.Equal(dec(t, "54")), "master = %s", got.MasterAmount)
	require.NotNil(t, got.SubAmount)
	require.True(t, got.SubAmount.Equal(dec(t, "25.20")), "sub = %s", got.SubAmount)
	require.NotNil(t, got.SubSubAmount)
	require.True(t, got.SubSubAmount.Equal(dec(t, "10.80")), "subSub = %s", got.SubSubAmount)
	require.True(t, got.TotalCommission.Equal(dec(t, "90")))

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, repository.AuditCreated, entry.Action)
	require.Nil(t, entry.PrevMasterRate)
	require.NotNil(t, entry.NewMasterRate)
	require.True(t, entry.NewMasterRate.Equal(dec(t, "60")))
	require.Equal(t, "admin-1", entry.ChangedBy)
}

func TestCalculateForOrderMissingMasterRep(t *testing.T) {
	order := fullChainOrder(t)
	order.MasterRepID = ""
	order.SubRepID = nil
	order.SubSubRepID = nil

	createCalled := false
	orders := &orderStoreMock{
		getByIDFn: func(context.Context, string) (*repository.Order, error) {
			return order, nil
		},
	}
	structures := &structureStoreMock{
		createFn: func(context.Context, *repository.CommissionStructure) error {
			createCalled = true
			return nil
		},
	}

	svc := NewCommissionService(orders, structures, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())
	_, err := svc.CalculateForOrder(context.Background(), "order-1")
	require.Error(t, err)
	require.Equal(t, apperrors.CodeMissingMasterRep, apperrors.CodeOf(err))
	require.False(t, createCalled, "nothing may be persisted on a chain failure")
}

func TestCalculateForOrderDuplicate(t *testing.T) {
	orders := &orderStoreMock{
		getByIDFn: func(context.Context, string) (*repository.Order, error) {
			return fullChainOrder(t), nil
		},
	}
	structures := &structureStoreMock{
		getByOrderFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return pendingStructure(t), nil
		},
	}

	svc := NewCommissionService(orders, structures, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())
	_, err := svc.CalculateForOrder(context.Background(), "order-1")
	require.Error(t, err)
	require.Equal(t, apperrors.CodeDuplicateStructure, apperrors.CodeOf(err))
}

func TestRecalculateSupersedesPending(t *testing.T) {
	existing := pendingStructure(t)

	var supersededID string
	var next *repository.CommissionStructure

	orders := &orderStoreMock{
		getByIDFn: func(context.Context, string) (*repository.Order, error) {
			order := fullChainOrder(t)
			order.SubSubRepID = nil
			order.InvoiceAmount = dec(t, "2000")
			return order, nil
		},
	}
	structures := &structureStoreMock{
		getByOrderFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return existing, nil
		},
		replaceFn: func(_ context.Context, id string, s *repository.CommissionStructure) error {
			supersededID = id
			s.ID = "struct-2"
			next = s
			return nil
		},
	}
	audit := &auditStoreMock{}
	rates := &rateSourceMock{
		resolveFn: func(context.Context, repository.RepChain, time.Time) (commission.RateSet, error) {
			set := fullChainRates(t)
			set.SubSub = nil
			return set, nil
		},
	}

	svc := NewCommissionService(orders, structures, audit, rates, adminDirectory(), testLogger())
	got, err := svc.Recalculate(context.Background(), "order-1")
	require.NoError(t, err)
	require.Equal(t, "struct-1", supersededID)
	require.Same(t, next, got)

	// pool = 300, master provisional 180, sub takes 40%
	require.True(t, got.MasterAmount.Equal(dec(t, "108")), "master = %s", got.MasterAmount)
	require.True(t, got.SubAmount.Equal(dec(t, "72")), "sub = %s", got.SubAmount)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, repository.AuditRecalculated, entry.Action)
	require.NotNil(t, entry.PrevMasterRate)
	require.True(t, entry.PrevMasterRate.Equal(dec(t, "60")))
}

func TestRecalculateLeavesApprovedUntouched(t *testing.T) {
	approved := pendingStructure(t)
	approved.Status = repository.StructureApproved

	replaceCalled := false
	var created *repository.CommissionStructure

	orders := &orderStoreMock{
		getByIDFn: func(context.Context, string) (*repository.Order, error) {
			order := fullChainOrder(t)
			order.SubSubRepID = nil
			return order, nil
		},
	}
	structures := &structureStoreMock{
		getByOrderFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return approved, nil
		},
		replaceFn: func(context.Context, string, *repository.CommissionStructure) error {
			replaceCalled = true
			return nil
		},
		createFn: func(_ context.Context, s *repository.CommissionStructure) error {
			s.ID = "struct-2"
			created = s
			return nil
		},
	}
	rates := &rateSourceMock{
		resolveFn: func(context.Context, repository.RepChain, time.Time) (commission.RateSet, error) {
			set := fullChainRates(t)
			set.SubSub = nil
			return set, nil
		},
	}

	svc := NewCommissionService(orders, structures, &auditStoreMock{}, rates, adminDirectory(), testLogger())
	got, err := svc.Recalculate(context.Background(), "order-1")
	require.NoError(t, err)
	require.False(t, replaceCalled, "an approved structure must never be superseded")
	require.Same(t, created, got)
	require.Equal(t, repository.StructureApproved, approved.Status)
	require.Equal(t, repository.StructurePending, got.Status)
}

// ── Approval state machine ────────────────────────────────────────────────────

func TestApproveRequiresAdmin(t *testing.T) {
	approveCalled := false
	structures := &structureStoreMock{
		approveFn: func(context.Context, string, string) (*repository.CommissionStructure, error) {
			approveCalled = true
			return nil, nil
		},
	}
	actors := &actorDirectoryMock{
		currentActorFn: func(context.Context) (Actor, error) {
			return Actor{ID: "rep-1", Role: "rep"}, nil
		},
	}

	svc := NewCommissionService(&orderStoreMock{}, structures, &auditStoreMock{}, &rateSourceMock{}, actors, testLogger())
	_, err := svc.Approve(context.Background(), "struct-1")
	require.Error(t, err)
	require.Equal(t, apperrors.CodeUnauthorized, apperrors.CodeOf(err))
	require.False(t, approveCalled)
}

func TestApproveUpdatesOrderAndAudits(t *testing.T) {
	approved := pendingStructure(t)
	approved.Status = repository.StructureApproved
	approved.ApprovedBy = strP("admin-1")

	var statusOrderID string
	var statusSet repository.OrderStatus

	orders := &orderStoreMock{
		updateStatusFn: func(_ context.Context, id string, status repository.OrderStatus, _ *string) error {
			statusOrderID = id
			statusSet = status
			return nil
		},
	}
	structures := &structureStoreMock{
		approveFn: func(_ context.Context, id, approvedBy string) (*repository.CommissionStructure, error) {
			require.Equal(t, "struct-1", id)
			require.Equal(t, "admin-1", approvedBy)
			return approved, nil
		},
	}
	audit := &auditStoreMock{}

	svc := NewCommissionService(orders, structures, audit, &rateSourceMock{}, adminDirectory(), testLogger())
	got, err := svc.Approve(context.Background(), "struct-1")
	require.NoError(t, err)
	require.Same(t, approved, got)
	require.Equal(t, "order-1", statusOrderID)
	require.Equal(t, repository.OrderApproved, statusSet)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, repository.AuditApproved, entry.Action)
	// Approval changes state, not rates: previous and new coincide.
	require.True(t, entry.PrevMasterRate.Equal(*entry.NewMasterRate))
}

func TestApproveConcurrentSingleWinner(t *testing.T) {
	approved := pendingStructure(t)
	approved.Status = repository.StructureApproved

	var won int32
	structures := &structureStoreMock{
		approveFn: func(_ context.Context, id, _ string) (*repository.CommissionStructure, error) {
			if !atomic.CompareAndSwapInt32(&won, 0, 1) {
				return nil, apperrors.Newf(apperrors.CodeInvalidTransition,
					"structure %s is not pending", id)
			}
			return approved, nil
		},
	}

	svc := NewCommissionService(&orderStoreMock{}, structures, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Approve(context.Background(), "struct-1")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, conflicts int
	for err := range errs {
		if err == nil {
			successes++
			continue
		}
		require.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
		conflicts++
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)
}

func TestRejectRequiresReason(t *testing.T) {
	svc := NewCommissionService(&orderStoreMock{}, &structureStoreMock{}, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())
	_, err := svc.Reject(context.Background(), "struct-1", "")
	require.Error(t, err)
	require.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
}

func TestRejectAudits(t *testing.T) {
	rejected := pendingStructure(t)
	rejected.Status = repository.StructureRejected
	rejected.RejectionReason = strP("wrong chain")

	orders := &orderStoreMock{}
	structures := &structureStoreMock{
		rejectFn: func(_ context.Context, id, rejectedBy, reason string) (*repository.CommissionStructure, error) {
			require.Equal(t, "admin-1", rejectedBy)
			require.Equal(t, "wrong chain", reason)
			return rejected, nil
		},
	}
	audit := &auditStoreMock{}

	svc := NewCommissionService(orders, structures, audit, &rateSourceMock{}, adminDirectory(), testLogger())
	_, err := svc.Reject(context.Background(), "struct-1", "wrong chain")
	require.NoError(t, err)

	require.Len(t, audit.entries, 1)
	require.Equal(t, repository.AuditRejected, audit.entries[0].Action)
	require.NotNil(t, audit.entries[0].Reason)
	require.Equal(t, "wrong chain", *audit.entries[0].Reason)
}

// ── Rate amendment ────────────────────────────────────────────────────────────

func TestAmendRatesRecomputesAmounts(t *testing.T) {
	structure := pendingStructure(t)

	var amended *repository.CommissionStructure
	orders := &orderStoreMock{
		getByIDFn: func(context.Context, string) (*repository.Order, error) {
			order := fullChainOrder(t)
			order.SubSubRepID = nil
			return order, nil
		},
	}
	structures := &structureStoreMock{
		getByIDFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return structure, nil
		},
		amendRatesFn: func(_ context.Context, s *repository.CommissionStructure) error {
			amended = s
			return nil
		},
	}
	audit := &auditStoreMock{}

	svc := NewCommissionService(orders, structures, audit, &rateSourceMock{}, adminDirectory(), testLogger())
	got, err := svc.AmendRates(context.Background(), "struct-1", AmendRatesRequest{
		MasterRate: dec(t, "70"),
		SubRate:    decPtr(t, "30"),
		Reason:     "negotiated correction",
	})
	require.NoError(t, err)
	require.Same(t, amended, got)

	// pool 150, master provisional 105, sub takes 30%
	require.True(t, got.MasterAmount.Equal(dec(t, "73.50")), "master = %s", got.MasterAmount)
	require.True(t, got.SubAmount.Equal(dec(t, "31.50")), "sub = %s", got.SubAmount)
	require.True(t, got.TotalCommission.Equal(dec(t, "105")), "total = %s", got.TotalCommission)

	require.Len(t, audit.entries, 1)
	entry := audit.entries[0]
	require.Equal(t, repository.AuditRatesAmended, entry.Action)
	require.True(t, entry.PrevMasterRate.Equal(dec(t, "60")))
	require.True(t, entry.NewMasterRate.Equal(dec(t, "70")))
}

func TestAmendRatesTierMismatch(t *testing.T) {
	structure := pendingStructure(t) // has a sub rep

	structures := &structureStoreMock{
		getByIDFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return structure, nil
		},
	}

	svc := NewCommissionService(&orderStoreMock{}, structures, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())
	_, err := svc.AmendRates(context.Background(), "struct-1", AmendRatesRequest{
		MasterRate: dec(t, "70"),
		Reason:     "drop the sub",
	})
	require.Error(t, err)
	require.Equal(t, apperrors.CodeInvalidInput, apperrors.CodeOf(err))
}

func TestAmendRatesRejectsNonPending(t *testing.T) {
	structure := pendingStructure(t)
	structure.Status = repository.StructureApproved

	structures := &structureStoreMock{
		getByIDFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return structure, nil
		},
	}

	svc := NewCommissionService(&orderStoreMock{}, structures, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())
	_, err := svc.AmendRates(context.Background(), "struct-1", AmendRatesRequest{
		MasterRate: dec(t, "70"),
		SubRate:    decPtr(t, "30"),
		Reason:     "too late",
	})
	require.Error(t, err)
	require.Equal(t, apperrors.CodeInvalidTransition, apperrors.CodeOf(err))
}

// ── Queries ───────────────────────────────────────────────────────────────────

func TestGetBreakdownNotFound(t *testing.T) {
	structures := &structureStoreMock{
		getByOrderFn: func(context.Context, string) (*repository.CommissionStructure, error) {
			return nil, nil
		},
	}

	svc := NewCommissionService(&orderStoreMock{}, structures, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())
	_, err := svc.GetBreakdown(context.Background(), "order-404")
	require.Error(t, err)
	require.Equal(t, apperrors.CodeNotFound, apperrors.CodeOf(err))
}

func TestYTDSplitsDirectAndIndirect(t *testing.T) {
	asMaster := pendingStructure(t)
	asMaster.Status = repository.StructureApproved
	asMaster.MasterRepID = "rep-1"

	asSub := pendingStructure(t)
	asSub.Status = repository.StructureApproved
	asSub.OrderID = "order-2"
	asSub.MasterRepID = "rep-other"
	asSub.SubRepID = strP("rep-1")
	asSub.SubAmount = decPtr(t, "36")

	structures := &structureStoreMock{
		listApprovedByRepYearFn: func(_ context.Context, repID string, year int) ([]*repository.CommissionStructure, error) {
			require.Equal(t, "rep-1", repID)
			require.Equal(t, 2026, year)
			return []*repository.CommissionStructure{asMaster, asSub}, nil
		},
	}

	svc := NewCommissionService(&orderStoreMock{}, structures, &auditStoreMock{}, &rateSourceMock{}, adminDirectory(), testLogger())
	summary, err := svc.YTD(context.Background(), "rep-1", 2026)
	require.NoError(t, err)

	require.True(t, summary.Direct.Equal(dec(t, "54")), "direct = %s", summary.Direct)
	require.True(t, summary.Indirect.Equal(dec(t, "36")), "indirect = %s", summary.Indirect)
	require.True(t, summary.Total.Equal(dec(t, "90")))
	require.Equal(t, 2, summary.Orders)
}
