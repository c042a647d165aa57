// Package service implements the allocation engine: match open requests to
// compatible, matchable units in FEFO order, reserve them one compare-and-set
// at a time, and commit the outcome in a single durable finalize.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bloodbank/internal/allocation/metrics"
	"bloodbank/internal/allocation/models"
	"bloodbank/internal/allocation/ports"
	"bloodbank/internal/compat"
	invmodels "bloodbank/internal/inventory/models"
	invports "bloodbank/internal/inventory/ports"
	"bloodbank/pkg/domain"
	dErrors "bloodbank/pkg/domain-errors"
	"bloodbank/pkg/platform/events"
	"bloodbank/pkg/platform/sentinel"
)

// Clock abstracts time.Now for testability.
type Clock func() time.Time

type Service struct {
	ledger    ports.LedgerStore
	units     invports.UnitStore
	alerts    invports.AlertStore
	metrics   *metrics.Metrics
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

// WithAlerts enables Critical_Request alerts for unfulfilled critical
// requests. Without it, unfulfilled criticals are only logged.
func WithAlerts(alerts invports.AlertStore) Option {
	return func(s *Service) {
		s.alerts = alerts
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

func New(ledger ports.LedgerStore, units invports.UnitStore, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if units == nil {
		return nil, fmt.Errorf("unit store is required")
	}
	svc := &Service{
		ledger:    ledger,
		units:     units,
		publisher: events.Nop{},
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SubmitRequest validates and persists a new request in Pending status.
func (s *Service) SubmitRequest(ctx context.Context, request *models.Request) (*models.Request, error) {
	if request == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "request is required")
	}
	if !request.Group.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid blood group")
	}
	if request.Component == "" {
		request.Component = domain.ComponentWholeBlood
	}
	if !request.Component.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid component")
	}
	if request.RequiredUnits <= 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "required units must be positive")
	}
	if request.Urgency == "" {
		request.Urgency = models.UrgencyMedium
	}
	if !request.Urgency.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid urgency")
	}

	request.ID = domain.NewRequestID()
	request.Status = models.RequestPending
	request.FulfilledUnits = 0
	request.FulfilledAt = nil
	request.CreatedAt = s.clock()

	if err := s.ledger.CreateRequest(ctx, request); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create request")
	}
	s.logger.Info("request submitted",
		"request_id", request.ID.String(),
		"blood_group", request.Group.String(),
		"component", string(request.Component),
		"required_units", request.RequiredUnits,
		"urgency", string(request.Urgency))
	return request, nil
}

// GetRequest returns a request by id.
func (s *Service) GetRequest(ctx context.Context, requestID domain.RequestID) (*models.Request, error) {
	request, err := s.ledger.GetRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get request")
	}
	return request, nil
}

// Allocate attempts to fill the request's remaining need from matchable
// inventory. Insufficient stock is a valid outcome, reported in the Result,
// never as an error. The call either commits every reservation it made in
// one durable finalize or releases all of them.
func (s *Service) Allocate(ctx context.Context, requestID domain.RequestID) (*models.Result, error) {
	request, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.Status.Open() {
		return nil, dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("request is %s and cannot receive allocations", request.Status))
	}

	remaining := request.Remaining()
	if remaining == 0 {
		// Counter already satisfied; settle the status and stop.
		if err := s.ledger.Finalize(ctx, ports.FinalizeParams{
			RequestID: request.ID,
			Status:    models.RequestFulfilled,
			Now:       s.clock(),
		}); err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "finalize request")
		}
		return &models.Result{RequestID: request.ID, Status: models.ResultFulfilled}, nil
	}

	groups := compat.CompatibleDonorGroups(request.Group, request.Component)
	if len(groups) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "no compatibility rule for request")
	}

	now := s.clock()
	candidates, err := s.units.FindCandidates(ctx, invports.CandidateFilter{
		Groups:    groups,
		Component: request.Component,
		BloodBank: request.BloodBank,
		Now:       now,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "find candidates")
	}

	reserved := make([]domain.UnitID, 0, remaining)
	for _, candidate := range candidates {
		if len(reserved) == remaining {
			break
		}
		if err := ctx.Err(); err != nil {
			s.rollback(context.WithoutCancel(ctx), request.ID, reserved)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "allocation cancelled")
		}
		err := s.units.Reserve(ctx, candidate.ID)
		switch {
		case err == nil:
			reserved = append(reserved, candidate.ID)
		case errors.Is(err, sentinel.ErrConflict), errors.Is(err, sentinel.ErrNotFound):
			// Another allocation won the unit between scan and reserve.
			if s.metrics != nil {
				s.metrics.IncrementConflicts()
			}
		default:
			s.rollback(context.WithoutCancel(ctx), request.ID, reserved)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "reserve unit")
		}
	}

	result := &models.Result{
		RequestID:        request.ID,
		AllocatedUnitIDs: reserved,
		AllocatedCount:   len(reserved),
	}
	switch {
	case len(reserved) == remaining:
		result.Status = models.ResultFulfilled
	case len(reserved) > 0:
		result.Status = models.ResultPartiallyFulfilled
	default:
		result.Status = models.ResultUnfulfilled
	}

	if len(reserved) > 0 {
		status := models.RequestPartiallyFulfilled
		if result.Status == models.ResultFulfilled {
			status = models.RequestFulfilled
		}
		err := s.ledger.Finalize(ctx, ports.FinalizeParams{
			RequestID: request.ID,
			Status:    status,
			UnitIDs:   reserved,
			Now:       now,
		})
		if err != nil {
			s.rollback(context.WithoutCancel(ctx), request.ID, reserved)
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "finalize allocation")
		}
	}

	s.observeOutcome(ctx, request, result)
	return result, nil
}

// rollback is the compensating release of every unit reserved during a
// failed allocation attempt. Release failures are logged and skipped; a
// stuck Reserved unit is recovered by the maintenance sweep, not by
// aborting the rollback.
func (s *Service) rollback(ctx context.Context, requestID domain.RequestID, reserved []domain.UnitID) {
	if len(reserved) == 0 {
		return
	}
	for _, unitID := range reserved {
		if err := s.units.Release(ctx, unitID); err != nil {
			s.logger.Error("rollback release failed",
				"request_id", requestID.String(),
				"unit_id", unitID.String(),
				"error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.IncrementRollbacks()
	}
	s.publisher.Emit(ctx, events.Event{
		Kind:      events.KindAllocationRolledBack,
		Timestamp: s.clock(),
		Subject:   requestID.String(),
		Fields:    map[string]string{"released_units": fmt.Sprintf("%d", len(reserved))},
	})
}

func (s *Service) observeOutcome(ctx context.Context, request *models.Request, result *models.Result) {
	if s.metrics != nil {
		s.metrics.ObserveOutcome(string(result.Status))
		s.metrics.AddUnitsAllocated(result.AllocatedCount)
	}
	s.logger.Info("allocation completed",
		"request_id", request.ID.String(),
		"status", string(result.Status),
		"allocated_units", result.AllocatedCount)
	if result.AllocatedCount > 0 {
		s.publisher.Emit(ctx, events.Event{
			Kind:      events.KindBloodAllocated,
			Timestamp: s.clock(),
			Subject:   request.ID.String(),
			Fields: map[string]string{
				"status":          string(result.Status),
				"allocated_units": fmt.Sprintf("%d", result.AllocatedCount),
			},
		})
	}
	if result.Status == models.ResultUnfulfilled && request.Urgency == models.UrgencyCritical {
		s.raiseCriticalAlert(ctx, request)
	}
}

func (s *Service) raiseCriticalAlert(ctx context.Context, request *models.Request) {
	if s.alerts == nil {
		s.logger.Warn("critical request unfulfilled",
			"request_id", request.ID.String(),
			"blood_group", request.Group.String())
		return
	}
	alert := &invmodels.Alert{
		ID:        domain.NewAlertID(),
		Type:      invmodels.AlertCriticalRequest,
		Severity:  invmodels.SeverityCritical,
		BloodBank: request.BloodBank,
		Group:     request.Group,
		Message: fmt.Sprintf("critical request %s for %s %s unfulfilled",
			request.ID.String(), request.Group.String(), request.Component),
		CreatedAt: s.clock(),
	}
	raised, err := s.alerts.RaiseIfAbsent(ctx, alert)
	if err != nil {
		s.logger.Error("raise critical alert failed",
			"request_id", request.ID.String(), "error", err)
		return
	}
	if raised {
		s.publisher.Emit(ctx, events.Event{
			Kind:      events.KindAlertRaised,
			Timestamp: s.clock(),
			Subject:   alert.ID.String(),
			Fields: map[string]string{
				"alert_type":  string(alert.Type),
				"blood_group": alert.Group.String(),
			},
		})
	}
}

// CancelRequest cancels an open request, cancels its active allocations and
// releases their units back to inventory.
func (s *Service) CancelRequest(ctx context.Context, requestID domain.RequestID) error {
	released, err := s.ledger.CancelRequest(ctx, requestID)
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return dErrors.New(dErrors.CodeNotFound, "request not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return dErrors.New(dErrors.CodeInvalidState, "request is not open")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "cancel request")
	}
	for _, unitID := range released {
		if err := s.units.Release(ctx, unitID); err != nil {
			s.logger.Error("release after cancel failed",
				"request_id", requestID.String(),
				"unit_id", unitID.String(),
				"error", err)
		}
	}
	s.logger.Info("request cancelled",
		"request_id", requestID.String(),
		"released_units", len(released))
	s.publisher.Emit(ctx, events.Event{
		Kind:      events.KindRequestCancelled,
		Timestamp: s.clock(),
		Subject:   requestID.String(),
		Fields:    map[string]string{"released_units": fmt.Sprintf("%d", len(released))},
	})
	return nil
}

// MarkInTransit moves a pending allocation into transit.
func (s *Service) MarkInTransit(ctx context.Context, allocationID domain.AllocationID) error {
	err := s.ledger.SetDeliveryStatus(ctx, allocationID, models.DeliveryPending, models.DeliveryInTransit)
	return s.translateDeliveryErr(err)
}

// MarkDelivered completes an allocation's delivery and marks its unit Used.
// Direct Pending -> Delivered is accepted for hand-carried units.
func (s *Service) MarkDelivered(ctx context.Context, allocationID domain.AllocationID) error {
	allocation, err := s.ledger.GetAllocation(ctx, allocationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "allocation not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "get allocation")
	}
	if !allocation.DeliveryStatus.Active() {
		return dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("allocation is %s", allocation.DeliveryStatus))
	}
	err = s.ledger.SetDeliveryStatus(ctx, allocationID, allocation.DeliveryStatus, models.DeliveryDelivered)
	if err != nil {
		return s.translateDeliveryErr(err)
	}
	if err := s.units.MarkUsed(ctx, allocation.UnitID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "mark unit used")
	}
	s.logger.Info("allocation delivered",
		"allocation_id", allocationID.String(),
		"unit_id", allocation.UnitID.String())
	return nil
}

// FailDelivery marks an active allocation's delivery as failed and returns
// the unit to inventory.
func (s *Service) FailDelivery(ctx context.Context, allocationID domain.AllocationID) error {
	allocation, err := s.ledger.GetAllocation(ctx, allocationID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "allocation not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "get allocation")
	}
	if !allocation.DeliveryStatus.Active() {
		return dErrors.New(dErrors.CodeInvalidState,
			fmt.Sprintf("allocation is %s", allocation.DeliveryStatus))
	}
	err = s.ledger.SetDeliveryStatus(ctx, allocationID, allocation.DeliveryStatus, models.DeliveryFailed)
	if err != nil {
		return s.translateDeliveryErr(err)
	}
	if err := s.units.Release(ctx, allocation.UnitID); err != nil {
		s.logger.Error("release after failed delivery",
			"allocation_id", allocationID.String(),
			"unit_id", allocation.UnitID.String(),
			"error", err)
	}
	return nil
}

func (s *Service) translateDeliveryErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "allocation not found")
	case errors.Is(err, sentinel.ErrInvalidState):
		return dErrors.New(dErrors.CodeInvalidState, "delivery status transition not allowed")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "set delivery status")
}
