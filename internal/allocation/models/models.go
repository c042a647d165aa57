package models

import (
	"time"

	"bloodbank/pkg/domain"
)

// RequestStatus tracks a blood request through its lifecycle. Only the
// allocation engine and explicit status updates advance it.
type RequestStatus string

const (
	RequestPending            RequestStatus = "Pending"
	RequestProcessing         RequestStatus = "Processing"
	RequestFulfilled          RequestStatus = "Fulfilled"
	RequestPartiallyFulfilled RequestStatus = "Partially_Fulfilled"
	RequestDenied             RequestStatus = "Denied"
	RequestCancelled          RequestStatus = "Cancelled"
)

// IsValid checks if the status is one of the supported enum values.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestPending, RequestProcessing, RequestFulfilled,
		RequestPartiallyFulfilled, RequestDenied, RequestCancelled:
		return true
	}
	return false
}

// Open reports whether the request can still receive allocations. A
// partially fulfilled request stays open until resubmitted or cancelled.
func (s RequestStatus) Open() bool {
	return s == RequestPending || s == RequestProcessing || s == RequestPartiallyFulfilled
}

// Urgency grades how quickly a request must be served.
type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

// Rank orders urgencies for the queue processor; higher is more urgent.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	}
	return 0
}

// IsValid checks if the urgency is one of the supported enum values.
func (u Urgency) IsValid() bool {
	return u.Rank() > 0
}

// DeliveryStatus tracks an allocation from reservation to transfusion.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "Pending"
	DeliveryInTransit DeliveryStatus = "In_Transit"
	DeliveryDelivered DeliveryStatus = "Delivered"
	DeliveryFailed    DeliveryStatus = "Failed"
	DeliveryCancelled DeliveryStatus = "Cancelled"
)

// Active reports whether the allocation still holds its unit.
func (s DeliveryStatus) Active() bool {
	return s == DeliveryPending || s == DeliveryInTransit
}

// Request is a demand for compatible blood units. The engine reads the
// required fields and writes only status and fulfillment counters; the rest
// belongs to the intake collaborator.
type Request struct {
	ID             domain.RequestID  `json:"id"`
	Group          domain.BloodGroup `json:"blood_group"`
	Component      domain.Component  `json:"component"`
	RequiredUnits  int               `json:"required_units"`
	FulfilledUnits int               `json:"fulfilled_units"`
	Urgency        Urgency           `json:"urgency"`
	Priority       int               `json:"priority"`
	Status         RequestStatus     `json:"status"`
	BloodBank      string            `json:"blood_bank,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	FulfilledAt    *time.Time        `json:"fulfilled_at,omitempty"`
}

// Remaining is how many units the request still needs.
func (r Request) Remaining() int {
	if r.FulfilledUnits >= r.RequiredUnits {
		return 0
	}
	return r.RequiredUnits - r.FulfilledUnits
}

// Allocation links one reserved unit to one request.
// Invariant: a unit has at most one active allocation at any time.
type Allocation struct {
	ID             domain.AllocationID `json:"id"`
	RequestID      domain.RequestID    `json:"request_id"`
	UnitID         domain.UnitID       `json:"unit_id"`
	AllocatedAt    time.Time           `json:"allocated_at"`
	DeliveryStatus DeliveryStatus      `json:"delivery_status"`
}

// ResultStatus is the outcome vocabulary of one allocation call.
type ResultStatus string

const (
	ResultFulfilled          ResultStatus = "Fulfilled"
	ResultPartiallyFulfilled ResultStatus = "Partially_Fulfilled"
	ResultUnfulfilled        ResultStatus = "Unfulfilled"
)

// Result reports one allocation call. Insufficient inventory is expressed
// here, never as an error.
type Result struct {
	RequestID        domain.RequestID `json:"request_id"`
	Status           ResultStatus     `json:"status"`
	AllocatedUnitIDs []domain.UnitID  `json:"allocated_unit_ids"`
	AllocatedCount   int              `json:"allocated_count"`
}

// Summary aggregates one backlog run.
type Summary struct {
	Processed   int `json:"processed"`
	Fulfilled   int `json:"fulfilled"`
	Partial     int `json:"partial"`
	Unfulfilled int `json:"unfulfilled"`
	Failed      int `json:"failed"`
}
