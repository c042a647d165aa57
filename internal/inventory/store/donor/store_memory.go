package donor

import (
	"context"
	"sync"
	"time"

	"bloodbank/internal/inventory/models"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// InMemoryDonorStore keeps donor records in a mutex-guarded map.
type InMemoryDonorStore struct {
	mu     sync.RWMutex
	donors map[domain.DonorID]*models.Donor
}

// New constructs an empty in-memory donor store.
func New() *InMemoryDonorStore {
	return &InMemoryDonorStore{
		donors: make(map[domain.DonorID]*models.Donor),
	}
}

func (s *InMemoryDonorStore) Create(_ context.Context, donor *models.Donor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.donors[donor.ID]; exists {
		return sentinel.ErrConflict
	}
	stored := *donor
	s.donors[donor.ID] = &stored
	return nil
}

func (s *InMemoryDonorStore) Get(_ context.Context, donorID domain.DonorID) (*models.Donor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.donors[donorID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	if stored.LastDonationDate != nil {
		last := *stored.LastDonationDate
		copied.LastDonationDate = &last
	}
	return &copied, nil
}

func (s *InMemoryDonorStore) RecordDonation(_ context.Context, donorID domain.DonorID, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.donors[donorID]
	if !exists {
		return sentinel.ErrNotFound
	}
	last := when
	stored.LastDonationDate = &last
	stored.TotalDonations++
	return nil
}

func (s *InMemoryDonorStore) Deactivate(_ context.Context, donorID domain.DonorID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.donors[donorID]
	if !exists {
		return sentinel.ErrNotFound
	}
	stored.Active = false
	return nil
}
