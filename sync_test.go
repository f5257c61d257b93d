package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/svanecode/shelter-updater/internal/config"
)

func resetResolvedCfg(t *testing.T, cfg *config.Resolved) {
	t.Helper()

	old := resolvedCfg

	t.Cleanup(func() { resolvedCfg = old })

	resolvedCfg = cfg
}

func TestPageLimiter(t *testing.T) {
	resetResolvedCfg(t, &config.Resolved{})

	// No delay configured: pacing is off entirely.
	assert.Nil(t, pageLimiter())

	resolvedCfg.PageDelay = 500 * time.Millisecond
	limiter := pageLimiter()
	require.NotNil(t, limiter)
	assert.InDelta(t, 2.0, float64(limiter.Limit()), 0.001)
	assert.Equal(t, 1, limiter.Burst())
}

func TestAddressLimiter(t *testing.T) {
	resetResolvedCfg(t, &config.Resolved{})

	assert.Nil(t, addressLimiter())

	resolvedCfg.AddressRate = 10
	limiter := addressLimiter()
	require.NotNil(t, limiter)
	assert.Equal(t, rate.Limit(10), limiter.Limit())
	assert.Equal(t, 1, limiter.Burst())
}

func TestDeleteGuardFromConfig(t *testing.T) {
	resetResolvedCfg(t, &config.Resolved{
		SafeThreshold:     500,
		MinDeleteCoverage: 0.8,
	})

	guard := deleteGuard()

	assert.Equal(t, 500, guard.SafeThreshold)
	assert.InDelta(t, 0.8, guard.MinCoverage, 0.001)
}
