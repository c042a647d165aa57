package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodbank/internal/eligibility"
	"bloodbank/internal/inventory/models"
	donorstore "bloodbank/internal/inventory/store/donor"
	unitstore "bloodbank/internal/inventory/store/unit"
	"bloodbank/pkg/domain"
	dErrors "bloodbank/pkg/domain-errors"
	"bloodbank/pkg/platform/events"
)

var day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	units  *unitstore.InMemoryUnitStore
	donors *donorstore.InMemoryDonorStore
	events *events.MemoryPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		units:  unitstore.New(unitstore.WithClock(func() time.Time { return day0 })),
		donors: donorstore.New(),
		events: events.NewMemory(),
	}
	svc, err := New(f.units, f.donors,
		WithClock(func() time.Time { return day0 }),
		WithPublisher(f.events))
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) addDonor(t *testing.T, lastDonationDaysAgo int) *models.Donor {
	t.Helper()
	donor := &models.Donor{
		ID:           domain.NewDonorID(),
		Name:         "Jordan Reyes",
		Group:        domain.GroupAPos,
		Age:          34,
		Active:       true,
		RegisteredAt: day0.AddDate(-2, 0, 0),
	}
	if lastDonationDaysAgo >= 0 {
		when := day0.AddDate(0, 0, -lastDonationDaysAgo)
		donor.LastDonationDate = &when
		donor.TotalDonations = 3
	}
	require.NoError(t, f.donors.Create(context.Background(), donor))
	return donor
}

func intake() models.DonationIntake {
	return models.DonationIntake{
		BloodBank:      "Central",
		Component:      domain.ComponentWholeBlood,
		Quantity:       1,
		CollectionDate: day0,
		ExpirationDate: day0.AddDate(0, 0, 35),
	}
}

func TestCheckEligibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	donor := f.addDonor(t, 60)
	result, err := f.svc.CheckEligibility(ctx, donor.ID)
	require.NoError(t, err)
	assert.True(t, result.Eligible)

	recent := f.addDonor(t, 10)
	result, err = f.svc.CheckEligibility(ctx, recent.ID)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonTooSoon, result.Reason)
	assert.Equal(t, 46, result.DaysRemaining)

	_, err = f.svc.CheckEligibility(ctx, domain.NewDonorID())
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestRecordDonation(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a pending unit and stamps the donor", func(t *testing.T) {
		f := newFixture(t)
		donor := f.addDonor(t, -1)

		result, err := f.svc.RecordDonation(ctx, donor.ID, intake())
		require.NoError(t, err)
		require.True(t, result.Accepted)
		require.NotNil(t, result.Unit)

		unit, err := f.units.Get(ctx, result.Unit.ID)
		require.NoError(t, err)
		assert.Equal(t, models.UnitAvailable, unit.Status)
		assert.Equal(t, models.TestPending, unit.TestStatus)
		assert.Equal(t, donor.Group, unit.Group)
		assert.Equal(t, donor.ID, unit.DonorID)

		stored, err := f.donors.Get(ctx, donor.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.LastDonationDate)
		assert.Equal(t, day0, *stored.LastDonationDate)
		assert.Equal(t, 1, stored.TotalDonations)

		var recorded bool
		for _, e := range f.events.Events() {
			if e.Kind == events.KindDonationRecorded {
				recorded = true
			}
		}
		assert.True(t, recorded)
	})

	t.Run("ineligible donor is refused without error", func(t *testing.T) {
		f := newFixture(t)
		donor := f.addDonor(t, 10)

		result, err := f.svc.RecordDonation(ctx, donor.ID, intake())
		require.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, eligibility.ReasonTooSoon, result.Eligibility.Reason)
		assert.Nil(t, result.Unit)

		stored, err := f.donors.Get(ctx, donor.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, stored.TotalDonations, "refused donation leaves history untouched")
	})

	t.Run("rejects expiration before collection", func(t *testing.T) {
		f := newFixture(t)
		donor := f.addDonor(t, -1)

		bad := intake()
		bad.ExpirationDate = bad.CollectionDate.AddDate(0, 0, -1)
		_, err := f.svc.RecordDonation(ctx, donor.ID, bad)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects missing blood bank", func(t *testing.T) {
		f := newFixture(t)
		donor := f.addDonor(t, -1)

		bad := intake()
		bad.BloodBank = ""
		_, err := f.svc.RecordDonation(ctx, donor.ID, bad)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("unknown donor", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.RecordDonation(ctx, domain.NewDonorID(), intake())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestScreeningTransitions(t *testing.T) {
	ctx := context.Background()

	donate := func(t *testing.T, f *fixture) domain.UnitID {
		t.Helper()
		donor := f.addDonor(t, -1)
		result, err := f.svc.RecordDonation(ctx, donor.ID, intake())
		require.NoError(t, err)
		require.True(t, result.Accepted)
		return result.Unit.ID
	}

	t.Run("clear makes the unit matchable", func(t *testing.T) {
		f := newFixture(t)
		unitID := donate(t, f)

		require.NoError(t, f.svc.ClearUnit(ctx, unitID))
		unit, err := f.units.Get(ctx, unitID)
		require.NoError(t, err)
		assert.Equal(t, models.TestCleared, unit.TestStatus)
		assert.True(t, unit.Matchable(day0))
	})

	t.Run("reject quarantines the unit", func(t *testing.T) {
		f := newFixture(t)
		unitID := donate(t, f)

		require.NoError(t, f.svc.RejectUnit(ctx, unitID))
		unit, err := f.units.Get(ctx, unitID)
		require.NoError(t, err)
		assert.Equal(t, models.TestRejected, unit.TestStatus)
		assert.Equal(t, models.UnitQuarantine, unit.Status)
	})

	t.Run("screening concludes once", func(t *testing.T) {
		f := newFixture(t)
		unitID := donate(t, f)

		require.NoError(t, f.svc.ClearUnit(ctx, unitID))
		err := f.svc.RejectUnit(ctx, unitID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("unknown unit", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.ClearUnit(ctx, domain.NewUnitID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestQuarantineUnit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	donor := f.addDonor(t, -1)
	result, err := f.svc.RecordDonation(ctx, donor.ID, intake())
	require.NoError(t, err)

	require.NoError(t, f.svc.QuarantineUnit(ctx, result.Unit.ID))
	unit, err := f.units.Get(ctx, result.Unit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UnitQuarantine, unit.Status)

	err = f.svc.QuarantineUnit(ctx, result.Unit.ID)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
}

func TestDeactivateDonor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	donor := f.addDonor(t, -1)

	require.NoError(t, f.svc.DeactivateDonor(ctx, donor.ID))

	result, err := f.svc.CheckEligibility(ctx, donor.ID)
	require.NoError(t, err)
	assert.False(t, result.Eligible)
	assert.Equal(t, eligibility.ReasonInactive, result.Reason)
}

func TestAvailabilityReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	clear := func(group domain.BloodGroup, bank string) {
		u := &models.BloodUnit{
			ID:             domain.NewUnitID(),
			BloodBank:      bank,
			Group:          group,
			Component:      domain.ComponentWholeBlood,
			Quantity:       1,
			CollectionDate: day0.AddDate(0, 0, -1),
			ExpirationDate: day0.AddDate(0, 0, 30),
			Status:         models.UnitAvailable,
			TestStatus:     models.TestCleared,
		}
		require.NoError(t, f.units.Create(ctx, u))
	}
	clear(domain.GroupAPos, "Central")
	clear(domain.GroupAPos, "Central")
	clear(domain.GroupONeg, "Central")
	clear(domain.GroupAPos, "Annex")

	levels, err := f.svc.AvailabilityReport(ctx)
	require.NoError(t, err)
	require.Len(t, levels, 3)
	assert.Equal(t, models.StockLevel{BloodBank: "Annex", Group: domain.GroupAPos, Available: 1}, levels[0])
	assert.Equal(t, models.StockLevel{BloodBank: "Central", Group: domain.GroupAPos, Available: 2}, levels[1])
	assert.Equal(t, models.StockLevel{BloodBank: "Central", Group: domain.GroupONeg, Available: 1}, levels[2])
}
