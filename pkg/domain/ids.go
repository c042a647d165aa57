package domain

import (
	"github.com/google/uuid"

	dErrors "bloodbank/pkg/domain-errors"
)

// Typed identifiers keep units, donors, requests, allocations and alerts from
// being confused at compile time.
//
// Usage: construct via the Parse* functions at trust boundaries; direct
// casting bypasses validation.
type (
	UnitID       uuid.UUID
	DonorID      uuid.UUID
	RequestID    uuid.UUID
	AllocationID uuid.UUID
	AlertID      uuid.UUID
)

func NewUnitID() UnitID             { return UnitID(uuid.New()) }
func NewDonorID() DonorID           { return DonorID(uuid.New()) }
func NewRequestID() RequestID       { return RequestID(uuid.New()) }
func NewAllocationID() AllocationID { return AllocationID(uuid.New()) }
func NewAlertID() AlertID           { return AlertID(uuid.New()) }

func (id UnitID) String() string       { return uuid.UUID(id).String() }
func (id DonorID) String() string      { return uuid.UUID(id).String() }
func (id RequestID) String() string    { return uuid.UUID(id).String() }
func (id AllocationID) String() string { return uuid.UUID(id).String() }
func (id AlertID) String() string      { return uuid.UUID(id).String() }

func (id UnitID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id DonorID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id RequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id AllocationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AlertID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

func parseUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id cannot be the nil UUID")
	}
	return u, nil
}

func ParseUnitID(s string) (UnitID, error) {
	u, err := parseUUID(s)
	return UnitID(u), err
}

func ParseDonorID(s string) (DonorID, error) {
	u, err := parseUUID(s)
	return DonorID(u), err
}

func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s)
	return RequestID(u), err
}

func ParseAllocationID(s string) (AllocationID, error) {
	u, err := parseUUID(s)
	return AllocationID(u), err
}

func ParseAlertID(s string) (AlertID, error) {
	u, err := parseUUID(s)
	return AlertID(u), err
}
