package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"bloodbank/internal/allocation/models"
	"bloodbank/internal/allocation/ports"
	"bloodbank/pkg/domain"
	"bloodbank/pkg/platform/sentinel"
)

// InMemoryLedgerStore keeps requests and allocations in mutex-guarded maps.
// One lock covers both so Finalize and CancelRequest stay atomic, matching
// the transactional guarantees of the postgres twin.
type InMemoryLedgerStore struct {
	mu          sync.RWMutex
	requests    map[domain.RequestID]*models.Request
	allocations map[domain.AllocationID]*models.Allocation
}

// New constructs an empty in-memory ledger store.
func New() *InMemoryLedgerStore {
	return &InMemoryLedgerStore{
		requests:    make(map[domain.RequestID]*models.Request),
		allocations: make(map[domain.AllocationID]*models.Allocation),
	}
}

func (s *InMemoryLedgerStore) CreateRequest(_ context.Context, request *models.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[request.ID]; exists {
		return sentinel.ErrConflict
	}
	stored := *request
	if stored.Status == "" {
		stored.Status = models.RequestPending
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.requests[stored.ID] = &stored
	return nil
}

func (s *InMemoryLedgerStore) GetRequest(_ context.Context, requestID domain.RequestID) (*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.requests[requestID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (s *InMemoryLedgerStore) ListOpen(_ context.Context) ([]*models.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []*models.Request
	for _, stored := range s.requests {
		if !stored.Status.Open() {
			continue
		}
		copied := *stored
		open = append(open, &copied)
	}
	sort.Slice(open, func(i, j int) bool {
		if !open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].CreatedAt.Before(open[j].CreatedAt)
		}
		return open[i].ID.String() < open[j].ID.String()
	})
	return open, nil
}

func (s *InMemoryLedgerStore) Finalize(_ context.Context, params ports.FinalizeParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.requests[params.RequestID]
	if !exists {
		return sentinel.ErrNotFound
	}

	for _, unitID := range params.UnitIDs {
		alloc := &models.Allocation{
			ID:             domain.NewAllocationID(),
			RequestID:      params.RequestID,
			UnitID:         unitID,
			AllocatedAt:    params.Now,
			DeliveryStatus: models.DeliveryPending,
		}
		s.allocations[alloc.ID] = alloc
	}

	stored.FulfilledUnits += len(params.UnitIDs)
	stored.Status = params.Status
	if params.Status == models.RequestFulfilled {
		at := params.Now
		stored.FulfilledAt = &at
	}
	return nil
}

func (s *InMemoryLedgerStore) ActiveAllocations(_ context.Context, requestID domain.RequestID) ([]*models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var active []*models.Allocation
	for _, stored := range s.allocations {
		if stored.RequestID != requestID || !stored.DeliveryStatus.Active() {
			continue
		}
		copied := *stored
		active = append(active, &copied)
	}
	sort.Slice(active, func(i, j int) bool {
		if !active[i].AllocatedAt.Equal(active[j].AllocatedAt) {
			return active[i].AllocatedAt.Before(active[j].AllocatedAt)
		}
		return active[i].ID.String() < active[j].ID.String()
	})
	return active, nil
}

func (s *InMemoryLedgerStore) GetAllocation(_ context.Context, allocationID domain.AllocationID) (*models.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, exists := s.allocations[allocationID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (s *InMemoryLedgerStore) SetDeliveryStatus(_ context.Context, allocationID domain.AllocationID, from, to models.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.allocations[allocationID]
	if !exists {
		return sentinel.ErrNotFound
	}
	if stored.DeliveryStatus != from {
		return sentinel.ErrInvalidState
	}
	stored.DeliveryStatus = to
	return nil
}

func (s *InMemoryLedgerStore) CancelRequest(_ context.Context, requestID domain.RequestID) ([]domain.UnitID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.requests[requestID]
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	if !stored.Status.Open() {
		return nil, sentinel.ErrInvalidState
	}

	var released []domain.UnitID
	for _, alloc := range s.allocations {
		if alloc.RequestID != requestID || !alloc.DeliveryStatus.Active() {
			continue
		}
		alloc.DeliveryStatus = models.DeliveryCancelled
		released = append(released, alloc.UnitID)
	}
	stored.Status = models.RequestCancelled
	sort.Slice(released, func(i, j int) bool { return released[i].String() < released[j].String() })
	return released, nil
}
