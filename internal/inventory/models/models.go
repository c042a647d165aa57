package models

import (
	"time"

	"bloodbank/pkg/domain"
)

// UnitStatus tracks a blood unit through its lifecycle. Transitions are
// monotonic (Available -> Reserved -> Used) except for the compensating
// rollback Reserved -> Available; Expired and Quarantine are terminal.
type UnitStatus string

const (
	UnitAvailable  UnitStatus = "Available"
	UnitReserved   UnitStatus = "Reserved"
	UnitUsed       UnitStatus = "Used"
	UnitExpired    UnitStatus = "Expired"
	UnitQuarantine UnitStatus = "Quarantine"
)

// IsValid checks if the status is one of the supported enum values.
func (s UnitStatus) IsValid() bool {
	switch s {
	case UnitAvailable, UnitReserved, UnitUsed, UnitExpired, UnitQuarantine:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed from the status.
func (s UnitStatus) Terminal() bool {
	return s == UnitUsed || s == UnitExpired || s == UnitQuarantine
}

// TestStatus tracks screening of a unit. Only Cleared units are matchable.
type TestStatus string

const (
	TestPending  TestStatus = "Pending"
	TestCleared  TestStatus = "Cleared"
	TestRejected TestStatus = "Rejected"
)

// IsValid checks if the test status is one of the supported enum values.
func (s TestStatus) IsValid() bool {
	return s == TestPending || s == TestCleared || s == TestRejected
}

// BloodUnit is a single collected unit held by a blood bank.
// Invariant: ExpirationDate is strictly after CollectionDate.
type BloodUnit struct {
	ID              domain.UnitID     `json:"id"`
	BloodBank       string            `json:"blood_bank"`
	Group           domain.BloodGroup `json:"blood_group"`
	Component       domain.Component  `json:"component"`
	Quantity        int               `json:"quantity"`
	CollectionDate  time.Time         `json:"collection_date"`
	ExpirationDate  time.Time         `json:"expiration_date"`
	Status          UnitStatus        `json:"status"`
	TestStatus      TestStatus        `json:"test_status"`
	StorageLocation string            `json:"storage_location,omitempty"`
	DonorID         domain.DonorID    `json:"donor_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// Matchable reports whether the unit can be offered to the allocator at the
// given instant: available, cleared, and not yet expired.
func (u BloodUnit) Matchable(now time.Time) bool {
	return u.Status == UnitAvailable &&
		u.TestStatus == TestCleared &&
		u.ExpirationDate.After(now)
}

// Donor is a registered blood donor. Donors are deactivated, never deleted,
// while donation history references them.
type Donor struct {
	ID               domain.DonorID    `json:"id"`
	Name             string            `json:"name"`
	Group            domain.BloodGroup `json:"blood_group"`
	Age              int               `json:"age"`
	Active           bool              `json:"active"`
	LastDonationDate *time.Time        `json:"last_donation_date,omitempty"`
	TotalDonations   int               `json:"total_donations"`
	RegisteredAt     time.Time         `json:"registered_at"`
}

// DonationIntake carries the collection details for a new unit.
type DonationIntake struct {
	BloodBank       string
	Component       domain.Component
	Quantity        int
	CollectionDate  time.Time
	ExpirationDate  time.Time
	StorageLocation string
}

// StockKey identifies an inventory bucket for counting and alerting.
type StockKey struct {
	BloodBank string
	Group     domain.BloodGroup
}

// StockLevel is one row of the availability report.
type StockLevel struct {
	BloodBank string            `json:"blood_bank"`
	Group     domain.BloodGroup `json:"blood_group"`
	Available int               `json:"available"`
}

// AlertType classifies inventory alerts.
type AlertType string

const (
	AlertLowStock        AlertType = "Low_Stock"
	AlertExpiringSoon    AlertType = "Expiring_Soon"
	AlertCriticalRequest AlertType = "Critical_Request"
)

// Severity grades an alert.
type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

// Alert is a raised inventory condition. At most one unresolved alert exists
// per (Type, BloodBank, Group) at any time.
type Alert struct {
	ID        domain.AlertID    `json:"id"`
	Type      AlertType         `json:"type"`
	BloodBank string            `json:"blood_bank,omitempty"`
	Group     domain.BloodGroup `json:"blood_group,omitempty"`
	Message   string            `json:"message"`
	Severity  Severity          `json:"severity"`
	Resolved  bool              `json:"resolved"`
	CreatedAt time.Time         `json:"created_at"`
}
