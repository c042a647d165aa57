package unit

import (
	"context"
	"sort"
	"sync"
	"time"

	"bloodbank/internal/inventory/models"
	"bloodbank/internal/inventory/ports"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// Clock abstracts time.Now for testability.
type Clock func() time.Time

// InMemoryUnitStore keeps blood units in a mutex-guarded map. It backs unit
// tests and infrastructure-free runs; the postgres store is the durable twin.
type InMemoryUnitStore struct {
	mu    sync.RWMutex
	units map[domain.UnitID]*models.BloodUnit
	clock Clock
}

// Option configures the store.
type Option func(*InMemoryUnitStore)

// WithClock sets the clock function for testability.
func WithClock(clock Clock) Option {
	return func(s *InMemoryUnitStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs an empty in-memory unit store.
func New(opts ...Option) *InMemoryUnitStore {
	s := &InMemoryUnitStore{
		units: make(map[domain.UnitID]*models.BloodUnit),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryUnitStore) Create(_ context.Context, unit *models.BloodUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.units[unit.ID]; exists {
		return sentinel.ErrConflict
	}
	now := s.clock()
	stored := *unit
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.units[unit.ID] = &stored
	return nil
}

func (s *InMemoryUnitStore) Get(_ context.Context, unitID domain.UnitID) (*models.BloodUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.units[unitID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (s *InMemoryUnitStore) FindCandidates(_ context.Context, filter ports.CandidateFilter) ([]*models.BloodUnit, error) {
	groups := make(map[domain.BloodGroup]bool, len(filter.Groups))
	for _, g := range filter.Groups {
		groups[g] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*models.BloodUnit
	for _, stored := range s.units {
		if !groups[stored.Group] || stored.Component != filter.Component {
			continue
		}
		if filter.BloodBank != "" && stored.BloodBank != filter.BloodBank {
			continue
		}
		if !stored.Matchable(filter.Now) {
			continue
		}
		copied := *stored
		candidates = append(candidates, &copied)
	}

	// FEFO with unit-id tie-break keeps the scan deterministic for a
	// given snapshot.
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ExpirationDate.Equal(candidates[j].ExpirationDate) {
			return candidates[i].ExpirationDate.Before(candidates[j].ExpirationDate)
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
	return candidates, nil
}

func (s *InMemoryUnitStore) Reserve(_ context.Context, unitID domain.UnitID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.units[unitID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if stored.Status != models.UnitAvailable {
		return sentinel.ErrConflict
	}
	stored.Status = models.UnitReserved
	stored.UpdatedAt = s.clock()
	return nil
}

func (s *InMemoryUnitStore) Release(_ context.Context, unitID domain.UnitID) error {
	return s.transition(unitID, models.UnitReserved, models.UnitAvailable)
}

func (s *InMemoryUnitStore) MarkUsed(_ context.Context, unitID domain.UnitID) error {
	return s.transition(unitID, models.UnitReserved, models.UnitUsed)
}

func (s *InMemoryUnitStore) transition(unitID domain.UnitID, from, to models.UnitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.units[unitID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if stored.Status != from {
		return sentinel.ErrInvalidState
	}
	stored.Status = to
	stored.UpdatedAt = s.clock()
	return nil
}

func (s *InMemoryUnitStore) SetTestStatus(_ context.Context, unitID domain.UnitID, from, to models.TestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.units[unitID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if stored.TestStatus != from {
		return sentinel.ErrInvalidState
	}
	stored.TestStatus = to
	stored.UpdatedAt = s.clock()
	return nil
}

func (s *InMemoryUnitStore) Quarantine(_ context.Context, unitID domain.UnitID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.units[unitID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if stored.Status.Terminal() {
		return sentinel.ErrInvalidState
	}
	stored.Status = models.UnitQuarantine
	stored.UpdatedAt = s.clock()
	return nil
}

func (s *InMemoryUnitStore) ExpireStale(_ context.Context, today time.Time) ([]domain.UnitID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []domain.UnitID
	for _, stored := range s.units {
		if !stored.ExpirationDate.Before(today) {
			continue
		}
		if stored.Status != models.UnitAvailable && stored.Status != models.UnitReserved {
			continue
		}
		stored.Status = models.UnitExpired
		stored.UpdatedAt = s.clock()
		expired = append(expired, stored.ID)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].String() < expired[j].String() })
	return expired, nil
}

func (s *InMemoryUnitStore) ListExpiringBefore(_ context.Context, cutoff time.Time) ([]*models.BloodUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expiring []*models.BloodUnit
	for _, stored := range s.units {
		if stored.Status != models.UnitAvailable || !stored.ExpirationDate.Before(cutoff) {
			continue
		}
		copied := *stored
		expiring = append(expiring, &copied)
	}
	sort.Slice(expiring, func(i, j int) bool {
		if !expiring[i].ExpirationDate.Equal(expiring[j].ExpirationDate) {
			return expiring[i].ExpirationDate.Before(expiring[j].ExpirationDate)
		}
		return expiring[i].ID.String() < expiring[j].ID.String()
	})
	return expiring, nil
}

func (s *InMemoryUnitStore) CountAvailable(_ context.Context) (map[models.StockKey]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.StockKey]int)
	for _, stored := range s.units {
		if stored.Status != models.UnitAvailable || stored.TestStatus != models.TestCleared {
			continue
		}
		counts[models.StockKey{BloodBank: stored.BloodBank, Group: stored.Group}]++
	}
	return counts, nil
}
