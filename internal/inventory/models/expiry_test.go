package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"bloodledger/pkg/domain"
)

func TestDeriveExpiry(t *testing.T) {
	collected := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		component domain.Component
		days      int
	}{
		{domain.ComponentWholeBlood, 35},
		{domain.ComponentRBC, 42},
		{domain.ComponentPlasma, 365},
		{domain.ComponentPlatelets, 5},
		{domain.ComponentCryo, 365},
		{domain.Component("Granulocytes"), 30}, // unrecognized falls back
	}

	for _, tc := range tests {
		t.Run(string(tc.component), func(t *testing.T) {
			got := DeriveExpiry(tc.component, collected)
			assert.Equal(t, collected.AddDate(0, 0, tc.days), got)
		})
	}
}

func TestNewBatchDerivesExpiryWhenOmitted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b, err := NewBatch(domain.ComponentPlatelets, 3, nil, nil, "", now)
	assert.NoError(t, err)
	assert.Equal(t, now, b.CollectedAt)
	assert.Equal(t, now.AddDate(0, 0, 5), b.ExpiresAt)
}

func TestNewBatchKeepsExplicitExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := now.AddDate(0, 0, 2)

	b, err := NewBatch(domain.ComponentPlasma, 1, nil, &expires, "short-dated", now)
	assert.NoError(t, err)
	assert.Equal(t, expires, b.ExpiresAt)
	assert.Equal(t, "short-dated", b.Note)
}

func TestNewBatchRejectsNonPositiveUnits(t *testing.T) {
	now := time.Now()
	_, err := NewBatch(domain.ComponentRBC, 0, nil, nil, "", now)
	assert.Error(t, err)
}
