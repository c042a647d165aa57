package alert

import (
	"context"
	"sort"
	"sync"
	"time"

	"bloodbank/internal/inventory/models"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// dedupKey identifies the bucket an unresolved alert occupies.
type dedupKey struct {
	Type      models.AlertType
	BloodBank string
	Group     domain.BloodGroup
}

// InMemoryAlertStore keeps alerts in a mutex-guarded map and enforces the
// one-unresolved-alert-per-bucket invariant under the same lock as the write.
type InMemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[domain.AlertID]*models.Alert
	clock  func() time.Time
}

// New constructs an empty in-memory alert store.
func New() *InMemoryAlertStore {
	return &InMemoryAlertStore{
		alerts: make(map[domain.AlertID]*models.Alert),
		clock:  time.Now,
	}
}

func (s *InMemoryAlertStore) RaiseIfAbsent(_ context.Context, alert *models.Alert) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := dedupKey{Type: alert.Type, BloodBank: alert.BloodBank, Group: alert.Group}
	for _, existing := range s.alerts {
		if existing.Resolved {
			continue
		}
		if (dedupKey{Type: existing.Type, BloodBank: existing.BloodBank, Group: existing.Group}) == key {
			return false, nil
		}
	}

	stored := *alert
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.clock()
	}
	s.alerts[stored.ID] = &stored
	return true, nil
}

func (s *InMemoryAlertStore) Resolve(_ context.Context, alertID domain.AlertID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.alerts[alertID]
	if !exists {
		return sentinel.ErrNotFound
	}
	stored.Resolved = true
	return nil
}

func (s *InMemoryAlertStore) ListUnresolved(_ context.Context) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var unresolved []*models.Alert
	for _, stored := range s.alerts {
		if stored.Resolved {
			continue
		}
		copied := *stored
		unresolved = append(unresolved, &copied)
	}
	sort.Slice(unresolved, func(i, j int) bool {
		if !unresolved[i].CreatedAt.Equal(unresolved[j].CreatedAt) {
			return unresolved[i].CreatedAt.Before(unresolved[j].CreatedAt)
		}
		return unresolved[i].ID.String() < unresolved[j].ID.String()
	})
	return unresolved, nil
}
