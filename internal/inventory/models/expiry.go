package models

import (
	"time"

	"bloodledger/pkg/domain"
)

// Shelf lives per component, in days. Unrecognized components get a
// conservative 30-day default.
var shelfLifeDays = map[domain.Component]int{
	domain.ComponentWholeBlood: 35,
	domain.ComponentRBC:        42,
	domain.ComponentPlasma:     365,
	domain.ComponentPlatelets:  5,
	domain.ComponentCryo:       365,
}

const defaultShelfLifeDays = 30

// ShelfLife returns the shelf life for a component.
func ShelfLife(component domain.Component) time.Duration {
	days, ok := shelfLifeDays[component]
	if !ok {
		days = defaultShelfLifeDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// DeriveExpiry computes a batch expiry from its collection time and component
// type. Pure and deterministic; applied only when a batch is created without
// an explicit expiry.
func DeriveExpiry(component domain.Component, collectedAt time.Time) time.Time {
	return collectedAt.Add(ShelfLife(component))
}
