// Package compat holds the static transfusion compatibility rules.
//
// Two rule tables exist: the ABO/Rh table for red-cell components (whole
// blood, RBC) and the inverted table for plasma-suspended components
// (plasma, platelets, cryoprecipitate). Plasma compatibility runs opposite
// to red cells - AB donates to all, O receives from all - so it is kept as
// its own literal table rather than derived from the red-cell one.
//
// The tables never change at runtime and have no error path; unknown inputs
// return nil and validation belongs to callers.
package compat

import "bloodbank/pkg/domain"

// rbcDonors maps a recipient group to the donor groups whose red cells it
// may receive. O- is the universal donor; AB+ the universal recipient.
var rbcDonors = map[domain.BloodGroup][]domain.BloodGroup{
	domain.GroupONeg:  {domain.GroupONeg},
	domain.GroupOPos:  {domain.GroupOPos, domain.GroupONeg},
	domain.GroupANeg:  {domain.GroupANeg, domain.GroupONeg},
	domain.GroupAPos:  {domain.GroupAPos, domain.GroupANeg, domain.GroupOPos, domain.GroupONeg},
	domain.GroupBNeg:  {domain.GroupBNeg, domain.GroupONeg},
	domain.GroupBPos:  {domain.GroupBPos, domain.GroupBNeg, domain.GroupOPos, domain.GroupONeg},
	domain.GroupABNeg: {domain.GroupABNeg, domain.GroupANeg, domain.GroupBNeg, domain.GroupONeg},
	domain.GroupABPos: {
		domain.GroupABPos, domain.GroupABNeg,
		domain.GroupAPos, domain.GroupANeg,
		domain.GroupBPos, domain.GroupBNeg,
		domain.GroupOPos, domain.GroupONeg,
	},
}

// plasmaDonors maps a recipient group to acceptable plasma donor groups.
// The matrix is the transpose of the red-cell one: AB+ donates to every
// recipient, and an O- recipient accepts plasma from anyone.
var plasmaDonors = map[domain.BloodGroup][]domain.BloodGroup{
	domain.GroupONeg: {
		domain.GroupONeg, domain.GroupOPos,
		domain.GroupANeg, domain.GroupAPos,
		domain.GroupBNeg, domain.GroupBPos,
		domain.GroupABNeg, domain.GroupABPos,
	},
	domain.GroupOPos:  {domain.GroupOPos, domain.GroupAPos, domain.GroupBPos, domain.GroupABPos},
	domain.GroupANeg:  {domain.GroupANeg, domain.GroupAPos, domain.GroupABNeg, domain.GroupABPos},
	domain.GroupAPos:  {domain.GroupAPos, domain.GroupABPos},
	domain.GroupBNeg:  {domain.GroupBNeg, domain.GroupBPos, domain.GroupABNeg, domain.GroupABPos},
	domain.GroupBPos:  {domain.GroupBPos, domain.GroupABPos},
	domain.GroupABNeg: {domain.GroupABNeg, domain.GroupABPos},
	domain.GroupABPos: {domain.GroupABPos},
}

// CompatibleDonorGroups returns the donor groups whose units of the given
// component may be transfused to the recipient group. The returned slice is
// in a fixed order and must not be mutated; unknown inputs return nil.
func CompatibleDonorGroups(recipient domain.BloodGroup, component domain.Component) []domain.BloodGroup {
	switch component {
	case domain.ComponentWholeBlood, domain.ComponentRBC:
		return rbcDonors[recipient]
	case domain.ComponentPlasma, domain.ComponentPlatelets, domain.ComponentCryoprecipitate:
		return plasmaDonors[recipient]
	}
	return nil
}

// CanDonateTo reports whether a donor group may give the component to the
// recipient group.
func CanDonateTo(donor, recipient domain.BloodGroup, component domain.Component) bool {
	for _, g := range CompatibleDonorGroups(recipient, component) {
		if g == donor {
			return true
		}
	}
	return false
}
