// Package service exposes the inventory operations: donation intake, test
// status transitions, and the availability report the sweeper and operators
// read. Allocation has its own service; this one never touches requests.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"bloodbank/internal/eligibility"
	"bloodbank/internal/inventory/cache"
	"bloodbank/internal/inventory/models"
	"bloodbank/internal/inventory/ports"
	"bloodbank/pkg/domain"
	dErrors "bloodbank/pkg/domain-errors"
	"bloodbank/pkg/platform/events"
	"bloodbank/pkg/platform/sentinel"
)

// Clock abstracts time.Now for testability.
type Clock func() time.Time

type Service struct {
	units     ports.UnitStore
	donors    ports.DonorStore
	cache     *cache.AvailabilityCache
	publisher events.Publisher
	logger    *slog.Logger
	clock     Clock
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func WithAvailabilityCache(c *cache.AvailabilityCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

func New(units ports.UnitStore, donors ports.DonorStore, opts ...Option) (*Service, error) {
	if units == nil {
		return nil, fmt.Errorf("unit store is required")
	}
	if donors == nil {
		return nil, fmt.Errorf("donor store is required")
	}
	svc := &Service{
		units:     units,
		donors:    donors,
		publisher: events.Nop{},
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// DonationResult reports a donation attempt. An ineligible donor is a
// result, not an error: Accepted is false and Eligibility says why.
type DonationResult struct {
	Accepted    bool
	Eligibility eligibility.Result
	Unit        *models.BloodUnit
}

// CheckEligibility evaluates the donor without side effects.
func (s *Service) CheckEligibility(ctx context.Context, donorID domain.DonorID) (eligibility.Result, error) {
	donor, err := s.donors.Get(ctx, donorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return eligibility.Result{}, dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
		}
		return eligibility.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load donor")
	}
	return eligibility.Check(*donor, s.clock()), nil
}

// RecordDonation creates a unit from an eligible donor's collection and
// stamps the donor's donation history. The new unit enters the inventory as
// Available with screening Pending; it only becomes matchable once cleared.
func (s *Service) RecordDonation(ctx context.Context, donorID domain.DonorID, intake models.DonationIntake) (*DonationResult, error) {
	donor, err := s.donors.Get(ctx, donorID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load donor")
	}

	check := eligibility.Check(*donor, s.clock())
	if !check.Eligible {
		return &DonationResult{Eligibility: check}, nil
	}

	if intake.BloodBank == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "blood bank is required")
	}
	if !intake.Component.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid component")
	}
	if !intake.ExpirationDate.After(intake.CollectionDate) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "expiration date must be after collection date")
	}
	quantity := intake.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	unit := &models.BloodUnit{
		ID:              domain.NewUnitID(),
		BloodBank:       intake.BloodBank,
		Group:           donor.Group,
		Component:       intake.Component,
		Quantity:        quantity,
		CollectionDate:  intake.CollectionDate,
		ExpirationDate:  intake.ExpirationDate,
		Status:          models.UnitAvailable,
		TestStatus:      models.TestPending,
		StorageLocation: intake.StorageLocation,
		DonorID:         donorID,
	}
	if err := s.units.Create(ctx, unit); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create blood unit")
	}
	if err := s.donors.RecordDonation(ctx, donorID, intake.CollectionDate); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record donation history")
	}

	s.publisher.Emit(ctx, events.Event{
		Kind:    events.KindDonationRecorded,
		Subject: unit.ID.String(),
		Fields: map[string]string{
			"donor_id":    donorID.String(),
			"blood_group": donor.Group.String(),
			"blood_bank":  intake.BloodBank,
		},
	})
	s.logger.Info("donation recorded",
		"unit_id", unit.ID, "donor_id", donorID, "blood_group", donor.Group)

	return &DonationResult{Accepted: true, Eligibility: check, Unit: unit}, nil
}

// ClearUnit marks a pending unit as screened and matchable.
func (s *Service) ClearUnit(ctx context.Context, unitID domain.UnitID) error {
	return s.setTestStatus(ctx, unitID, models.TestCleared)
}

// RejectUnit marks a pending unit as failed screening and quarantines it.
func (s *Service) RejectUnit(ctx context.Context, unitID domain.UnitID) error {
	if err := s.setTestStatus(ctx, unitID, models.TestRejected); err != nil {
		return err
	}
	if err := s.units.Quarantine(ctx, unitID); err != nil && !errors.Is(err, sentinel.ErrInvalidState) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to quarantine rejected unit")
	}
	return nil
}

func (s *Service) setTestStatus(ctx context.Context, unitID domain.UnitID, to models.TestStatus) error {
	err := s.units.SetTestStatus(ctx, unitID, models.TestPending, to)
	switch {
	case err == nil:
		s.invalidateAvailability(ctx)
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "unit not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "unit screening already concluded")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update test status")
	}
}

// QuarantineUnit removes a unit from circulation.
func (s *Service) QuarantineUnit(ctx context.Context, unitID domain.UnitID) error {
	err := s.units.Quarantine(ctx, unitID)
	switch {
	case err == nil:
		s.invalidateAvailability(ctx)
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, "unit not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.Wrap(err, dErrors.CodeInvalidState, "unit is in a terminal state")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to quarantine unit")
	}
}

// DeactivateDonor retires a donor without deleting their history.
func (s *Service) DeactivateDonor(ctx context.Context, donorID domain.DonorID) error {
	if err := s.donors.Deactivate(ctx, donorID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeNotFound, "donor not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to deactivate donor")
	}
	return nil
}

// AvailabilityReport returns Available-and-Cleared counts per (bank, group),
// sorted for stable output. Served from the cache when one is wired.
func (s *Service) AvailabilityReport(ctx context.Context) ([]models.StockLevel, error) {
	if cached, err := s.cache.Get(ctx); err == nil && cached != nil {
		return cached, nil
	} else if err != nil {
		s.logger.Warn("availability cache read failed", "error", err)
	}

	counts, err := s.units.CountAvailable(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count available units")
	}
	levels := make([]models.StockLevel, 0, len(counts))
	for key, n := range counts {
		levels = append(levels, models.StockLevel{
			BloodBank: key.BloodBank,
			Group:     key.Group,
			Available: n,
		})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].BloodBank != levels[j].BloodBank {
			return levels[i].BloodBank < levels[j].BloodBank
		}
		return levels[i].Group < levels[j].Group
	})

	if err := s.cache.Set(ctx, levels); err != nil {
		s.logger.Warn("availability cache write failed", "error", err)
	}
	return levels, nil
}

func (s *Service) invalidateAvailability(ctx context.Context) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("availability cache invalidation failed", "error", err)
	}
}
