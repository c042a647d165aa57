// Package ports defines the storage interface of the allocation module.
package ports

import (
	"context"
	"time"

	"bloodbank/internal/allocation/models"
	"bloodbank/pkg/domain"
)

// FinalizeParams captures the single durable operation concluding an
// allocation call: the allocation rows and the request's new status and
// counters must become visible together or not at all.
type FinalizeParams struct {
	RequestID domain.RequestID
	Status    models.RequestStatus
	UnitIDs   []domain.UnitID
	Now       time.Time
}

// LedgerStore manages requests and their allocations. Finalize and
// CancelRequest are the two transactional operations; everything else is a
// plain read or single-row write.
type LedgerStore interface {
	// CreateRequest persists a new request.
	CreateRequest(ctx context.Context, request *models.Request) error

	// GetRequest returns a request by id, or sentinel.ErrNotFound.
	GetRequest(ctx context.Context, requestID domain.RequestID) (*models.Request, error)

	// ListOpen returns every request still eligible for allocation
	// (Pending, Processing, Partially_Fulfilled).
	ListOpen(ctx context.Context) ([]*models.Request, error)

	// Finalize atomically records the allocation rows, advances the
	// request's fulfilled counter by len(UnitIDs), and sets its status.
	Finalize(ctx context.Context, params FinalizeParams) error

	// ActiveAllocations returns the non-cancelled allocations of a request.
	ActiveAllocations(ctx context.Context, requestID domain.RequestID) ([]*models.Allocation, error)

	// GetAllocation returns an allocation by id, or sentinel.ErrNotFound.
	GetAllocation(ctx context.Context, allocationID domain.AllocationID) (*models.Allocation, error)

	// SetDeliveryStatus moves an allocation's delivery status from an
	// expected prior value; sentinel.ErrInvalidState on mismatch.
	SetDeliveryStatus(ctx context.Context, allocationID domain.AllocationID, from, to models.DeliveryStatus) error

	// CancelRequest atomically cancels the request and its active
	// allocations, returning the unit ids that must be released. Returns
	// sentinel.ErrInvalidState when the request is not open.
	CancelRequest(ctx context.Context, requestID domain.RequestID) ([]domain.UnitID, error)
}
