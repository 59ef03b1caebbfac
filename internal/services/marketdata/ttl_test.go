package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bobmcallan/papertrade/internal/marketcal"
)

func TestSeriesTTL(t *testing.T) {
	cal := marketcal.NewDefault()
	policy := ttlPolicy{
		current:    time.Minute,
		recent:     time.Hour,
		midday:     4 * time.Hour,
		historical: 7 * 24 * time.Hour,
	}

	now := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC) // Tuesday

	today := time.Date(2026, 3, 3, 14, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Hour, policy.seriesTTL(cal, today, now))

	monday := time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC)
	assert.Equal(t, 4*time.Hour, policy.seriesTTL(cal, monday, now))

	lastWeek := time.Date(2026, 2, 24, 21, 0, 0, 0, time.UTC)
	assert.Equal(t, 7*24*time.Hour, policy.seriesTTL(cal, lastWeek, now))
}

func TestCurrentTTL(t *testing.T) {
	cal := marketcal.NewDefault()
	policy := ttlPolicy{
		current:    time.Minute,
		recent:     time.Hour,
		midday:     4 * time.Hour,
		historical: 7 * 24 * time.Hour,
	}

	open := time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Minute, policy.currentTTL(cal, open.Add(-time.Minute), open))

	// After the close a same-day quote follows the series policy.
	closed := time.Date(2026, 3, 3, 22, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Hour, policy.currentTTL(cal, closed.Add(-time.Hour), closed))
}
