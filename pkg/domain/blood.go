package domain

import dErrors "bloodbank/pkg/domain-errors"

// BloodGroup is an ABO/Rh blood group value.
// Invariant: the value must be one of the eight supported groups.
//
// Usage: construct via ParseBloodGroup at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type BloodGroup string

const (
	GroupOPos  BloodGroup = "O+"
	GroupONeg  BloodGroup = "O-"
	GroupAPos  BloodGroup = "A+"
	GroupANeg  BloodGroup = "A-"
	GroupBPos  BloodGroup = "B+"
	GroupBNeg  BloodGroup = "B-"
	GroupABPos BloodGroup = "AB+"
	GroupABNeg BloodGroup = "AB-"
)

// Groups lists every supported blood group in a fixed order. Callers must not
// mutate the returned slice.
func Groups() []BloodGroup {
	return []BloodGroup{
		GroupOPos, GroupONeg,
		GroupAPos, GroupANeg,
		GroupBPos, GroupBNeg,
		GroupABPos, GroupABNeg,
	}
}

// validBloodGroups is the single source of truth for valid groups.
var validBloodGroups = map[BloodGroup]bool{
	GroupOPos: true, GroupONeg: true,
	GroupAPos: true, GroupANeg: true,
	GroupBPos: true, GroupBNeg: true,
	GroupABPos: true, GroupABNeg: true,
}

// ParseBloodGroup constructs a BloodGroup from external input.
func ParseBloodGroup(s string) (BloodGroup, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "blood group cannot be empty")
	}
	g := BloodGroup(s)
	if !g.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid blood group")
	}
	return g, nil
}

// IsValid checks if the group is one of the supported enum values.
func (g BloodGroup) IsValid() bool {
	return validBloodGroups[g]
}

// String returns the string representation of the group.
func (g BloodGroup) String() string {
	return string(g)
}

// ABO returns the ABO part of the group ("O", "A", "B", "AB").
func (g BloodGroup) ABO() string {
	return string(g[:len(g)-1])
}

// RhPositive reports whether the group carries the Rh factor.
func (g BloodGroup) RhPositive() bool {
	return g[len(g)-1] == '+'
}

// Component identifies a blood component type.
type Component string

const (
	ComponentWholeBlood      Component = "Whole Blood"
	ComponentRBC             Component = "RBC"
	ComponentPlasma          Component = "Plasma"
	ComponentPlatelets       Component = "Platelets"
	ComponentCryoprecipitate Component = "Cryoprecipitate"
)

var validComponents = map[Component]bool{
	ComponentWholeBlood:      true,
	ComponentRBC:             true,
	ComponentPlasma:          true,
	ComponentPlatelets:       true,
	ComponentCryoprecipitate: true,
}

// ParseComponent constructs a Component from external input.
func ParseComponent(s string) (Component, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "component cannot be empty")
	}
	c := Component(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid component")
	}
	return c, nil
}

// IsValid checks if the component is one of the supported enum values.
func (c Component) IsValid() bool {
	return validComponents[c]
}

// String returns the string representation of the component.
func (c Component) String() string {
	return string(c)
}
