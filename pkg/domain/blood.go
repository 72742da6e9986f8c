package domain

import dErrors "bloodledger/pkg/domain-errors"

// BloodGroup is a donor/recipient ABO+Rh group.
// Invariant: the value must be one of the eight supported groups.
//
// Usage: construct via ParseBloodGroup at trust boundaries to enforce the
// allowlist; direct casting bypasses validation.
type BloodGroup string

const (
	BloodGroupAPos  BloodGroup = "A+"
	BloodGroupANeg  BloodGroup = "A-"
	BloodGroupBPos  BloodGroup = "B+"
	BloodGroupBNeg  BloodGroup = "B-"
	BloodGroupABPos BloodGroup = "AB+"
	BloodGroupABNeg BloodGroup = "AB-"
	BloodGroupOPos  BloodGroup = "O+"
	BloodGroupONeg  BloodGroup = "O-"
)

// validBloodGroups is the single source of truth for supported groups.
var validBloodGroups = map[BloodGroup]bool{
	BloodGroupAPos:  true,
	BloodGroupANeg:  true,
	BloodGroupBPos:  true,
	BloodGroupBNeg:  true,
	BloodGroupABPos: true,
	BloodGroupABNeg: true,
	BloodGroupOPos:  true,
	BloodGroupONeg:  true,
}

// ParseBloodGroup constructs a BloodGroup from external input.
// Errors: CodeValidation when the value is empty or unsupported.
func ParseBloodGroup(s string) (BloodGroup, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "blood group cannot be empty")
	}
	g := BloodGroup(s)
	if !g.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid blood group")
	}
	return g, nil
}

func (g BloodGroup) IsValid() bool  { return validBloodGroups[g] }
func (g BloodGroup) String() string { return string(g) }

// Component is a separable blood product with its own shelf life.
type Component string

const (
	ComponentWholeBlood Component = "WholeBlood"
	ComponentRBC        Component = "RBC"
	ComponentPlasma     Component = "Plasma"
	ComponentPlatelets  Component = "Platelets"
	ComponentCryo       Component = "Cryo"
)

var validComponents = map[Component]bool{
	ComponentWholeBlood: true,
	ComponentRBC:        true,
	ComponentPlasma:     true,
	ComponentPlatelets:  true,
	ComponentCryo:       true,
}

// ParseComponent constructs a Component from external input.
// Errors: CodeValidation when the value is empty or unsupported.
func ParseComponent(s string) (Component, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "component cannot be empty")
	}
	c := Component(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "invalid component")
	}
	return c, nil
}

func (c Component) IsValid() bool  { return validComponents[c] }
func (c Component) String() string { return string(c) }
