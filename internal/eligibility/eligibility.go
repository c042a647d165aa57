// Package eligibility evaluates whether a donor may donate. The check is a
// pure function over the donor record and an injected clock so the 56-day
// interval boundary stays testable.
package eligibility

import (
	"fmt"
	"time"

	"bloodbank/internal/inventory/models"
)

// MinDonationInterval is the required gap between two donations.
const MinDonationInterval = 56 * 24 * time.Hour

// MinDonorAge and MaxDonorAge bound the accepted donor age, inclusive.
const (
	MinDonorAge = 18
	MaxDonorAge = 65
)

// Reason is a stable code explaining an eligibility decision.
type Reason string

const (
	ReasonEligible      Reason = "ELIGIBLE"
	ReasonInactive      Reason = "INACTIVE"
	ReasonAgeOutOfRange Reason = "AGE_OUT_OF_RANGE"
	ReasonTooSoon       Reason = "TOO_SOON"
)

// Result reports an eligibility decision. DaysRemaining is only set for
// ReasonTooSoon; Message is derived from the reason and safe to show users.
type Result struct {
	Eligible      bool
	Reason        Reason
	DaysRemaining int
	Message       string
}

// Check evaluates the donor against the eligibility rules in order:
// activity, age range, then the inter-donation interval. A donor with no
// recorded donation is eligible once active and in range. No side effects.
func Check(donor models.Donor, now time.Time) Result {
	if !donor.Active {
		return Result{
			Reason:  ReasonInactive,
			Message: "donor is deactivated and cannot donate",
		}
	}
	if donor.Age < MinDonorAge || donor.Age > MaxDonorAge {
		return Result{
			Reason:  ReasonAgeOutOfRange,
			Message: fmt.Sprintf("donor age must be between %d and %d", MinDonorAge, MaxDonorAge),
		}
	}
	if donor.LastDonationDate == nil {
		return Result{
			Eligible: true,
			Reason:   ReasonEligible,
			Message:  "donor has no prior donation on record and may donate",
		}
	}

	daysSince := int(now.Sub(*donor.LastDonationDate).Hours() / 24)
	minDays := int(MinDonationInterval.Hours() / 24)
	if daysSince >= minDays {
		return Result{
			Eligible: true,
			Reason:   ReasonEligible,
			Message:  fmt.Sprintf("last donation was %d days ago; donor may donate", daysSince),
		}
	}

	remaining := minDays - daysSince
	return Result{
		Reason:        ReasonTooSoon,
		DaysRemaining: remaining,
		Message:       fmt.Sprintf("donor must wait %d more days before donating", remaining),
	}
}
