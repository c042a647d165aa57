// Package maintenance runs the scheduled hygiene passes over inventory:
// expiring stale units, raising low stock and expiring-soon alerts, and
// resolving alerts once an operator has acted on them.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"bloodbank/internal/inventory/models"
	"bloodbank/internal/inventory/ports"
	"bloodbank/pkg/domain"
	dErrors "bloodbank/pkg/domain-errors"
	"bloodbank/pkg/platform/events"
	"bloodbank/pkg/platform/sentinel"
)

// DefaultLowStockThreshold applies to any group without an explicit
// threshold.
const DefaultLowStockThreshold = 10

// Thresholds maps blood groups to the minimum available unit count below
// which a Low_Stock alert is raised.
type Thresholds map[domain.BloodGroup]int

// Min returns the threshold for a group, falling back to the default.
func (t Thresholds) Min(group domain.BloodGroup) int {
	if t == nil {
		return DefaultLowStockThreshold
	}
	if min, ok := t[group]; ok {
		return min
	}
	return DefaultLowStockThreshold
}

// Summary reports one RunDaily pass. Errors holds the failures of the
// individual passes that did not stop the run.
type Summary struct {
	Expired      int
	LowStock     int
	ExpiringSoon int
	Errors       []error
}

// Clock abstracts time.Now for testability.
type Clock func() time.Time

type Service struct {
	units      ports.UnitStore
	alerts     ports.AlertStore
	thresholds Thresholds
	horizon    time.Duration
	publisher  events.Publisher
	logger     *slog.Logger
	clock      Clock
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

// WithThresholds sets per-group low stock thresholds.
func WithThresholds(thresholds Thresholds) Option {
	return func(s *Service) {
		s.thresholds = thresholds
	}
}

// WithExpiryHorizon sets how far ahead the expiring-soon pass looks.
func WithExpiryHorizon(horizon time.Duration) Option {
	return func(s *Service) {
		if horizon > 0 {
			s.horizon = horizon
		}
	}
}

func WithPublisher(publisher events.Publisher) Option {
	return func(s *Service) {
		if publisher != nil {
			s.publisher = publisher
		}
	}
}

func New(units ports.UnitStore, alerts ports.AlertStore, opts ...Option) (*Service, error) {
	if units == nil {
		return nil, fmt.Errorf("unit store is required")
	}
	if alerts == nil {
		return nil, fmt.Errorf("alert store is required")
	}
	svc := &Service{
		units:     units,
		alerts:    alerts,
		horizon:   7 * 24 * time.Hour,
		publisher: events.Nop{},
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// SweepExpired transitions every Available or Reserved unit whose expiration
// date has passed to Expired and reports how many changed. Running it twice
// for the same day is a no-op the second time.
func (s *Service) SweepExpired(ctx context.Context, today time.Time) (int, error) {
	expired, err := s.units.ExpireStale(ctx, today)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "expire stale units")
	}
	if len(expired) == 0 {
		return 0, nil
	}
	s.logger.Info("expired stale units", "count", len(expired))
	s.publisher.Emit(ctx, events.Event{
		Kind:      events.KindUnitsExpired,
		Timestamp: s.clock(),
		Fields:    map[string]string{"count": fmt.Sprintf("%d", len(expired))},
	})
	return len(expired), nil
}

// RaiseLowStockAlerts compares available stock per (bank, group) bucket
// against the thresholds and raises a Low_Stock alert for every bucket
// short of its minimum. Dedup is left to the alert store: an unresolved
// alert for the same bucket suppresses a new one. Returns how many new
// alerts were raised.
func (s *Service) RaiseLowStockAlerts(ctx context.Context) (int, error) {
	counts, err := s.units.CountAvailable(ctx)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "count available units")
	}

	// Every known bank is checked against the full group list so a group
	// with zero stock still alerts. Deterministic order keeps logs stable.
	banks := make(map[string]bool)
	for key := range counts {
		banks[key.BloodBank] = true
	}
	bankNames := make([]string, 0, len(banks))
	for bank := range banks {
		bankNames = append(bankNames, bank)
	}
	sort.Strings(bankNames)

	keys := make([]models.StockKey, 0, len(bankNames)*len(domain.Groups()))
	for _, bank := range bankNames {
		for _, group := range domain.Groups() {
			keys = append(keys, models.StockKey{BloodBank: bank, Group: group})
		}
	}

	raised := 0
	for _, key := range keys {
		available := counts[key]
		min := s.thresholds.Min(key.Group)
		if available >= min {
			continue
		}
		severity := models.SeverityHigh
		if available == 0 {
			severity = models.SeverityCritical
		}
		ok, err := s.raise(ctx, &models.Alert{
			ID:        domain.NewAlertID(),
			Type:      models.AlertLowStock,
			BloodBank: key.BloodBank,
			Group:     key.Group,
			Severity:  severity,
			Message: fmt.Sprintf("%s stock at %s is %d, below threshold %d",
				key.Group.String(), key.BloodBank, available, min),
		})
		if err != nil {
			return raised, err
		}
		if ok {
			raised++
		}
	}
	return raised, nil
}

// RaiseExpiryAlerts raises an Expiring_Soon alert per (bank, group) bucket
// holding Available units that expire within the horizon. Returns how many
// new alerts were raised.
func (s *Service) RaiseExpiryAlerts(ctx context.Context, today time.Time) (int, error) {
	cutoff := today.Add(s.horizon)
	expiring, err := s.units.ListExpiringBefore(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "list expiring units")
	}

	buckets := make(map[models.StockKey]int)
	for _, unit := range expiring {
		buckets[models.StockKey{BloodBank: unit.BloodBank, Group: unit.Group}]++
	}
	keys := make([]models.StockKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].BloodBank != keys[j].BloodBank {
			return keys[i].BloodBank < keys[j].BloodBank
		}
		return keys[i].Group < keys[j].Group
	})

	raised := 0
	for _, key := range keys {
		ok, err := s.raise(ctx, &models.Alert{
			ID:        domain.NewAlertID(),
			Type:      models.AlertExpiringSoon,
			BloodBank: key.BloodBank,
			Group:     key.Group,
			Severity:  models.SeverityMedium,
			Message: fmt.Sprintf("%d %s unit(s) at %s expire before %s",
				buckets[key], key.Group.String(), key.BloodBank, cutoff.Format("2006-01-02")),
		})
		if err != nil {
			return raised, err
		}
		if ok {
			raised++
		}
	}
	return raised, nil
}

func (s *Service) raise(ctx context.Context, alert *models.Alert) (bool, error) {
	alert.CreatedAt = s.clock()
	raised, err := s.alerts.RaiseIfAbsent(ctx, alert)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "raise alert")
	}
	if !raised {
		return false, nil
	}
	s.logger.Warn("alert raised",
		"alert_type", string(alert.Type),
		"blood_bank", alert.BloodBank,
		"blood_group", alert.Group.String(),
		"severity", string(alert.Severity))
	s.publisher.Emit(ctx, events.Event{
		Kind:      events.KindAlertRaised,
		Timestamp: s.clock(),
		Subject:   alert.ID.String(),
		Fields: map[string]string{
			"alert_type":  string(alert.Type),
			"blood_bank":  alert.BloodBank,
			"blood_group": alert.Group.String(),
		},
	})
	return true, nil
}

// RunDaily chains the sweep and both alert passes. A failing pass is
// recorded in the summary and the run continues with the next one.
func (s *Service) RunDaily(ctx context.Context, today time.Time) (Summary, error) {
	var summary Summary

	expired, err := s.SweepExpired(ctx, today)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Errorf("sweep expired: %w", err))
	}
	summary.Expired = expired

	lowStock, err := s.RaiseLowStockAlerts(ctx)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Errorf("low stock alerts: %w", err))
	}
	summary.LowStock = lowStock

	expiring, err := s.RaiseExpiryAlerts(ctx, today)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Errorf("expiry alerts: %w", err))
	}
	summary.ExpiringSoon = expiring

	s.logger.Info("daily maintenance completed",
		"expired", summary.Expired,
		"low_stock_alerts", summary.LowStock,
		"expiring_soon_alerts", summary.ExpiringSoon,
		"failed_passes", len(summary.Errors))
	return summary, nil
}

// ResolveAlert marks an alert resolved so the bucket can alert again.
func (s *Service) ResolveAlert(ctx context.Context, alertID domain.AlertID) error {
	if err := s.alerts.Resolve(ctx, alertID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "alert not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve alert")
	}
	return nil
}

// ListAlerts returns the unresolved alerts for operators.
func (s *Service) ListAlerts(ctx context.Context) ([]*models.Alert, error) {
	alerts, err := s.alerts.ListUnresolved(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list alerts")
	}
	return alerts, nil
}
