// Package ports defines the storage interfaces of the inventory module.
// The allocation engine and the maintenance sweeper consume these as well,
// so they live here rather than beside a single service.
package ports

import (
	"context"
	"time"

	"bloodbank/internal/inventory/models"
	"bloodbank/pkg/domain"
)

// CandidateFilter narrows the unit scan performed for one allocation attempt.
type CandidateFilter struct {
	// Groups are the acceptable donor blood groups, from the compatibility
	// matrix. Empty matches nothing.
	Groups []domain.BloodGroup

	// Component restricts candidates to one component type.
	Component domain.Component

	// BloodBank optionally restricts candidates to a single bank.
	BloodBank string

	// Now is the snapshot instant; units whose expiration date is not
	// strictly after it are excluded even if still marked Available.
	Now time.Time
}

// UnitStore manages blood units. The Reserve transition carries the single
// concurrency guarantee of the system: at most one caller wins the
// Available -> Reserved compare-and-set for a given unit.
type UnitStore interface {
	// Create persists a new unit.
	Create(ctx context.Context, unit *models.BloodUnit) error

	// Get returns a unit by id, or sentinel.ErrNotFound.
	Get(ctx context.Context, unitID domain.UnitID) (*models.BloodUnit, error)

	// FindCandidates returns matchable units (Available, Cleared, unexpired)
	// in FEFO order: ascending expiration date, ties broken by ascending
	// unit id. The result is deterministic for a given inventory snapshot.
	FindCandidates(ctx context.Context, filter CandidateFilter) ([]*models.BloodUnit, error)

	// Reserve transitions Available -> Reserved only if the unit is still
	// Available. Returns sentinel.ErrConflict when the compare-and-set
	// misses and sentinel.ErrNotFound for unknown units.
	Reserve(ctx context.Context, unitID domain.UnitID) error

	// Release is the compensating rollback Reserved -> Available. Returns
	// sentinel.ErrInvalidState if the unit is not Reserved.
	Release(ctx context.Context, unitID domain.UnitID) error

	// MarkUsed transitions Reserved -> Used on delivery.
	MarkUsed(ctx context.Context, unitID domain.UnitID) error

	// SetTestStatus moves the screening result from an expected prior value.
	// Returns sentinel.ErrInvalidState when the current value differs.
	SetTestStatus(ctx context.Context, unitID domain.UnitID, from, to models.TestStatus) error

	// Quarantine moves a non-terminal unit into Quarantine.
	Quarantine(ctx context.Context, unitID domain.UnitID) error

	// ExpireStale transitions every unit with expiration date before today
	// and status Available or Reserved to Expired, returning the affected
	// ids. Idempotent: a second run on the same day affects nothing.
	ExpireStale(ctx context.Context, today time.Time) ([]domain.UnitID, error)

	// ListExpiringBefore returns Available units expiring before the cutoff.
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*models.BloodUnit, error)

	// CountAvailable returns Available-and-Cleared unit counts per
	// (blood bank, group) bucket.
	CountAvailable(ctx context.Context) (map[models.StockKey]int, error)
}

// DonorStore manages donor records.
type DonorStore interface {
	// Create persists a new donor.
	Create(ctx context.Context, donor *models.Donor) error

	// Get returns a donor by id, or sentinel.ErrNotFound.
	Get(ctx context.Context, donorID domain.DonorID) (*models.Donor, error)

	// RecordDonation stamps the last donation date and increments the total.
	RecordDonation(ctx context.Context, donorID domain.DonorID, when time.Time) error

	// Deactivate clears the donor's activity flag. Donors are never deleted.
	Deactivate(ctx context.Context, donorID domain.DonorID) error
}

// AlertStore manages inventory alerts.
type AlertStore interface {
	// RaiseIfAbsent creates the alert unless an unresolved alert with the
	// same (Type, BloodBank, Group) already exists. Reports whether a new
	// alert was raised.
	RaiseIfAbsent(ctx context.Context, alert *models.Alert) (bool, error)

	// Resolve marks an alert resolved, or sentinel.ErrNotFound.
	Resolve(ctx context.Context, alertID domain.AlertID) error

	// ListUnresolved returns all unresolved alerts.
	ListUnresolved(ctx context.Context) ([]*models.Alert, error)
}
