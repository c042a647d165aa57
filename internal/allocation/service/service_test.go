package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodbank/internal/allocation/models"
	"bloodbank/internal/allocation/ports"
	ledgerstore "bloodbank/internal/allocation/store/ledger"
	invmodels "bloodbank/internal/inventory/models"
	alertstore "bloodbank/internal/inventory/store/alert"
	unitstore "bloodbank/internal/inventory/store/unit"
	"bloodbank/pkg/domain"
	dErrors "bloodbank/pkg/domain-errors"
	"bloodbank/pkg/platform/events"
)

var day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	ledger *ledgerstore.InMemoryLedgerStore
	units  *unitstore.InMemoryUnitStore
	events *events.MemoryPublisher
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		ledger: ledgerstore.New(),
		units:  unitstore.New(unitstore.WithClock(func() time.Time { return day0 })),
		events: events.NewMemory(),
	}
	opts = append([]Option{
		WithClock(func() time.Time { return day0 }),
		WithPublisher(f.events),
	}, opts...)
	svc, err := New(f.ledger, f.units, opts...)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addUnit(t *testing.T, group domain.BloodGroup, expiresInDays int) *invmodels.BloodUnit {
	t.Helper()
	u := &invmodels.BloodUnit{
		ID:             domain.NewUnitID(),
		BloodBank:      "Central",
		Group:          group,
		Component:      domain.ComponentWholeBlood,
		Quantity:       1,
		CollectionDate: day0.AddDate(0, 0, -1),
		ExpirationDate: day0.AddDate(0, 0, expiresInDays),
		Status:         invmodels.UnitAvailable,
		TestStatus:     invmodels.TestCleared,
	}
	require.NoError(t, f.units.Create(context.Background(), u))
	return u
}

func (f *fixture) submit(t *testing.T, group domain.BloodGroup, required int, urgency models.Urgency) *models.Request {
	t.Helper()
	req, err := f.svc.SubmitRequest(context.Background(), &models.Request{
		Group:         group,
		Component:     domain.ComponentWholeBlood,
		RequiredUnits: required,
		Urgency:       urgency,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) unitStatus(t *testing.T, unitID domain.UnitID) invmodels.UnitStatus {
	t.Helper()
	u, err := f.units.Get(context.Background(), unitID)
	require.NoError(t, err)
	return u.Status
}

func TestSubmitRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults component and urgency", func(t *testing.T) {
		f := newFixture(t)
		req, err := f.svc.SubmitRequest(ctx, &models.Request{
			Group:         domain.GroupAPos,
			RequiredUnits: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, domain.ComponentWholeBlood, req.Component)
		assert.Equal(t, models.UrgencyMedium, req.Urgency)
		assert.Equal(t, models.RequestPending, req.Status)
		assert.Equal(t, day0, req.CreatedAt)
	})

	t.Run("rejects non positive required units", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SubmitRequest(ctx, &models.Request{
			Group:         domain.GroupAPos,
			RequiredUnits: 0,
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects unknown blood group", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SubmitRequest(ctx, &models.Request{
			Group:         domain.BloodGroup("C+"),
			RequiredUnits: 1,
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func TestAllocateFulfilled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Three compatible units; the two expiring soonest must win.
	late := f.addUnit(t, domain.GroupONeg, 30)
	early := f.addUnit(t, domain.GroupAPos, 5)
	mid := f.addUnit(t, domain.GroupAPos, 12)

	req := f.submit(t, domain.GroupAPos, 2, models.UrgencyHigh)

	result, err := f.svc.Allocate(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultFulfilled, result.Status)
	require.Len(t, result.AllocatedUnitIDs, 2)
	assert.Equal(t, early.ID, result.AllocatedUnitIDs[0])
	assert.Equal(t, mid.ID, result.AllocatedUnitIDs[1])

	assert.Equal(t, invmodels.UnitReserved, f.unitStatus(t, early.ID))
	assert.Equal(t, invmodels.UnitReserved, f.unitStatus(t, mid.ID))
	assert.Equal(t, invmodels.UnitAvailable, f.unitStatus(t, late.ID))

	stored, err := f.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestFulfilled, stored.Status)
	assert.Equal(t, 2, stored.FulfilledUnits)
	require.NotNil(t, stored.FulfilledAt)
	assert.Equal(t, day0, *stored.FulfilledAt)

	allocations, err := f.ledger.ActiveAllocations(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	for _, a := range allocations {
		assert.Equal(t, models.DeliveryPending, a.DeliveryStatus)
	}
}

func TestAllocatePartiallyFulfilled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addUnit(t, domain.GroupABNeg, 5)
	f.addUnit(t, domain.GroupABNeg, 9)

	req := f.submit(t, domain.GroupABNeg, 5, models.UrgencyMedium)

	result, err := f.svc.Allocate(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultPartiallyFulfilled, result.Status)
	assert.Equal(t, 2, result.AllocatedCount)

	stored, err := f.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPartiallyFulfilled, stored.Status)
	assert.Equal(t, 2, stored.FulfilledUnits)
	assert.Equal(t, 3, stored.Remaining())
	assert.True(t, stored.Status.Open())
	assert.Nil(t, stored.FulfilledAt)
}

func TestAllocateUnfulfilled(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// AB- only accepts Rh negative red cells; A+ stock cannot serve it.
	f.addUnit(t, domain.GroupAPos, 5)

	req := f.submit(t, domain.GroupABNeg, 1, models.UrgencyMedium)

	result, err := f.svc.Allocate(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultUnfulfilled, result.Status)
	assert.Empty(t, result.AllocatedUnitIDs)

	stored, err := f.ledger.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, stored.Status)
	assert.Equal(t, 0, stored.FulfilledUnits)
}

func TestAllocateExcludesStaleUnits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// Still marked Available but expired; the snapshot filter must skip it.
	stale := f.addUnit(t, domain.GroupAPos, -1)
	fresh := f.addUnit(t, domain.GroupAPos, 10)

	req := f.submit(t, domain.GroupAPos, 2, models.UrgencyMedium)

	result, err := f.svc.Allocate(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ResultPartiallyFulfilled, result.Status)
	require.Len(t, result.AllocatedUnitIDs, 1)
	assert.Equal(t, fresh.ID, result.AllocatedUnitIDs[0])
	assert.Equal(t, invmodels.UnitAvailable, f.unitStatus(t, stale.ID))
}

func TestAllocateConcurrentLastUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.addUnit(t, domain.GroupONeg, 5)

	reqA := f.submit(t, domain.GroupONeg, 1, models.UrgencyHigh)
	reqB := f.submit(t, domain.GroupONeg, 1, models.UrgencyHigh)

	results := make([]*models.Result, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, id := range []domain.RequestID{reqA.ID, reqB.ID} {
		wg.Add(1)
		go func(i int, id domain.RequestID) {
			defer wg.Done()
			results[i], errs[i] = f.svc.Allocate(ctx, id)
		}(i, id)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	fulfilled, unfulfilled := 0, 0
	for _, r := range results {
		switch r.Status {
		case models.ResultFulfilled:
			fulfilled++
		case models.ResultUnfulfilled:
			unfulfilled++
		}
	}
	assert.Equal(t, 1, fulfilled, "exactly one request wins the unit")
	assert.Equal(t, 1, unfulfilled, "the loser reports unfulfilled, not an error")
}

func TestAllocateRejectsClosedRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addUnit(t, domain.GroupAPos, 5)

	req := f.submit(t, domain.GroupAPos, 1, models.UrgencyMedium)
	_, err := f.svc.Allocate(ctx, req.ID)
	require.NoError(t, err)

	_, err = f.svc.Allocate(ctx, req.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestAllocateUnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Allocate(context.Background(), domain.NewRequestID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

// failingLedger delegates to the memory store but fails every Finalize,
// forcing the compensating rollback path.
type failingLedger struct {
	*ledgerstore.InMemoryLedgerStore
}

func (f *failingLedger) Finalize(context.Context, ports.FinalizeParams) error {
	return fmt.Errorf("ledger unavailable")
}

func TestAllocateRollsBackOnFinalizeFailure(t *testing.T) {
	ctx := context.Background()
	mem := ledgerstore.New()
	units := unitstore.New(unitstore.WithClock(func() time.Time { return day0 }))
	pub := events.NewMemory()
	svc, err := New(&failingLedger{mem}, units,
		WithClock(func() time.Time { return day0 }),
		WithPublisher(pub))
	require.NoError(t, err)

	unitA := &invmodels.BloodUnit{
		ID:             domain.NewUnitID(),
		BloodBank:      "Central",
		Group:          domain.GroupAPos,
		Component:      domain.ComponentWholeBlood,
		Quantity:       1,
		CollectionDate: day0.AddDate(0, 0, -1),
		ExpirationDate: day0.AddDate(0, 0, 5),
		Status:         invmodels.UnitAvailable,
		TestStatus:     invmodels.TestCleared,
	}
	unitB := *unitA
	unitB.ID = domain.NewUnitID()
	require.NoError(t, units.Create(ctx, unitA))
	require.NoError(t, units.Create(ctx, &unitB))

	req := &models.Request{
		Group:         domain.GroupAPos,
		Component:     domain.ComponentWholeBlood,
		RequiredUnits: 2,
		Urgency:       models.UrgencyHigh,
	}
	submitted, err := svc.SubmitRequest(ctx, req)
	require.NoError(t, err)

	_, err = svc.Allocate(ctx, submitted.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))

	// Every reservation must have been compensated.
	for _, id := range []domain.UnitID{unitA.ID, unitB.ID} {
		u, err := units.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, invmodels.UnitAvailable, u.Status)
	}

	var rolledBack bool
	for _, e := range pub.Events() {
		if e.Kind == events.KindAllocationRolledBack {
			rolledBack = true
		}
	}
	assert.True(t, rolledBack)
}

func TestAllocateCriticalUnfulfilledRaisesAlert(t *testing.T) {
	ctx := context.Background()
	alerts := alertstore.New()
	f := newFixture(t, WithAlerts(alerts))

	req := f.submit(t, domain.GroupONeg, 1, models.UrgencyCritical)

	result, err := f.svc.Allocate(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, models.ResultUnfulfilled, result.Status)

	unresolved, err := alerts.ListUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, invmodels.AlertCriticalRequest, unresolved[0].Type)
	assert.Equal(t, domain.GroupONeg, unresolved[0].Group)

	// A second unfulfilled pass dedups against the unresolved alert.
	_, err = f.svc.Allocate(ctx, req.ID)
	require.NoError(t, err)
	unresolved, err = alerts.ListUnresolved(ctx)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)
}

func TestCancelRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("releases allocated units", func(t *testing.T) {
		f := newFixture(t)
		u := f.addUnit(t, domain.GroupAPos, 5)
		req := f.submit(t, domain.GroupAPos, 2, models.UrgencyMedium)

		_, err := f.svc.Allocate(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, invmodels.UnitReserved, f.unitStatus(t, u.ID))

		require.NoError(t, f.svc.CancelRequest(ctx, req.ID))
		assert.Equal(t, invmodels.UnitAvailable, f.unitStatus(t, u.ID))

		stored, err := f.ledger.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, models.RequestCancelled, stored.Status)

		allocations, err := f.ledger.ActiveAllocations(ctx, req.ID)
		require.NoError(t, err)
		assert.Empty(t, allocations)
	})

	t.Run("rejects cancelling a fulfilled request", func(t *testing.T) {
		f := newFixture(t)
		f.addUnit(t, domain.GroupAPos, 5)
		req := f.submit(t, domain.GroupAPos, 1, models.UrgencyMedium)
		_, err := f.svc.Allocate(ctx, req.ID)
		require.NoError(t, err)

		err = f.svc.CancelRequest(ctx, req.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("unknown request", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.CancelRequest(ctx, domain.NewRequestID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*fixture, *models.Allocation, domain.UnitID) {
		f := newFixture(t)
		u := f.addUnit(t, domain.GroupAPos, 5)
		req := f.submit(t, domain.GroupAPos, 1, models.UrgencyMedium)
		_, err := f.svc.Allocate(ctx, req.ID)
		require.NoError(t, err)
		allocations, err := f.ledger.ActiveAllocations(ctx, req.ID)
		require.NoError(t, err)
		require.Len(t, allocations, 1)
		return f, allocations[0], u.ID
	}

	t.Run("pending to in transit to delivered marks unit used", func(t *testing.T) {
		f, allocation, unitID := setup(t)

		require.NoError(t, f.svc.MarkInTransit(ctx, allocation.ID))
		require.NoError(t, f.svc.MarkDelivered(ctx, allocation.ID))

		assert.Equal(t, invmodels.UnitUsed, f.unitStatus(t, unitID))
		stored, err := f.ledger.GetAllocation(ctx, allocation.ID)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveryDelivered, stored.DeliveryStatus)
	})

	t.Run("direct delivery from pending", func(t *testing.T) {
		f, allocation, unitID := setup(t)
		require.NoError(t, f.svc.MarkDelivered(ctx, allocation.ID))
		assert.Equal(t, invmodels.UnitUsed, f.unitStatus(t, unitID))
	})

	t.Run("failed delivery releases the unit", func(t *testing.T) {
		f, allocation, unitID := setup(t)
		require.NoError(t, f.svc.MarkInTransit(ctx, allocation.ID))
		require.NoError(t, f.svc.FailDelivery(ctx, allocation.ID))
		assert.Equal(t, invmodels.UnitAvailable, f.unitStatus(t, unitID))
	})

	t.Run("delivered allocation cannot be delivered again", func(t *testing.T) {
		f, allocation, _ := setup(t)
		require.NoError(t, f.svc.MarkDelivered(ctx, allocation.ID))
		err := f.svc.MarkDelivered(ctx, allocation.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}
