package surrealdb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/papertrade/internal/models"
)

func dailyPoint(ticker models.Ticker, price string, day time.Time) models.PricePoint {
	return models.PricePoint{
		Ticker:    ticker,
		Price:     models.MustMoney(price, "USD"),
		Timestamp: day,
		Source:    models.SourceProvider,
		Interval:  models.IntervalDaily,
	}
}

func TestUpsertAndGetLatest(t *testing.T) {
	store := newTestManager(t).PriceStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []models.PricePoint{
		dailyPoint("AAPL", "150.00", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		dailyPoint("AAPL", "151.25", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)),
		dailyPoint("MSFT", "400.00", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)),
	}))

	latest, err := store.GetLatest(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, latest.Price.Equal(models.MustMoney("151.25", "USD")), "got %s", latest.Price)
	assert.Equal(t, models.IntervalDaily, latest.Interval)

	missing, err := store.GetLatest(ctx, "GOOG")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGetLatestSkipsOtherIntervals(t *testing.T) {
	store := newTestManager(t).PriceStore()
	ctx := context.Background()

	daily := dailyPoint("AAPL", "150.00", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	hourly := dailyPoint("AAPL", "151.00", time.Date(2026, 3, 2, 18, 0, 0, 0, time.UTC))
	hourly.Interval = models.IntervalHourly
	require.NoError(t, store.Upsert(ctx, []models.PricePoint{daily, hourly}))

	// The newer hourly row is not a "latest price" candidate.
	latest, err := store.GetLatest(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.IntervalDaily, latest.Interval)
	assert.True(t, latest.Price.Equal(models.MustMoney("150.00", "USD")))
}

func TestUpsertIdempotent(t *testing.T) {
	store := newTestManager(t).PriceStore()
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, []models.PricePoint{dailyPoint("AAPL", "150.00", day)}))
	// Re-upserting the same key replaces the row instead of duplicating it.
	require.NoError(t, store.Upsert(ctx, []models.PricePoint{dailyPoint("AAPL", "150.50", day)}))

	series, err := store.GetRange(ctx, "AAPL", day.AddDate(0, 0, -1), day.AddDate(0, 0, 1), models.IntervalDaily, 0)
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.True(t, series[0].Price.Equal(models.MustMoney("150.50", "USD")))
}

func TestGetAt(t *testing.T) {
	store := newTestManager(t).PriceStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []models.PricePoint{
		dailyPoint("AAPL", "150.00", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		dailyPoint("AAPL", "151.00", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)),
		dailyPoint("AAPL", "152.00", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)),
	}))

	// Nearest row at or before the requested instant.
	p, err := store.GetAt(ctx, "AAPL", time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, p.Price.Equal(models.MustMoney("151.00", "USD")))

	// Before all rows.
	p, err = store.GetAt(ctx, "AAPL", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetRange(t *testing.T) {
	store := newTestManager(t).PriceStore()
	ctx := context.Background()

	week := []models.PricePoint{
		dailyPoint("AAPL", "150.00", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		dailyPoint("AAPL", "151.00", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)),
		dailyPoint("AAPL", "152.00", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, store.Upsert(ctx, week))
	// A realtime row inside the range is not part of the daily series.
	rt := dailyPoint("AAPL", "151.50", time.Date(2026, 3, 3, 15, 0, 0, 0, time.UTC))
	rt.Interval = models.IntervalRealtime
	require.NoError(t, store.Upsert(ctx, []models.PricePoint{rt}))

	series, err := store.GetRange(ctx, "AAPL",
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		models.IntervalDaily, 0)
	require.NoError(t, err)
	require.Len(t, series, 3)
	assert.True(t, series[0].Timestamp.Before(series[1].Timestamp))
	assert.True(t, series[1].Timestamp.Before(series[2].Timestamp))

	limited, err := store.GetRange(ctx, "AAPL",
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC),
		models.IntervalDaily, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestUpsertPreservesOHLCV(t *testing.T) {
	store := newTestManager(t).PriceStore()
	ctx := context.Background()

	open := models.MustMoney("149.00", "USD")
	high := models.MustMoney("152.50", "USD")
	low := models.MustMoney("148.75", "USD")
	p := dailyPoint("AAPL", "151.3333", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	p.Open = &open
	p.High = &high
	p.Low = &low
	p.Volume = 123456789

	require.NoError(t, store.Upsert(ctx, []models.PricePoint{p}))

	got, err := store.GetLatest(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Price.Equal(models.MustMoney("151.3333", "USD")), "decimal precision survives storage")
	require.NotNil(t, got.Open)
	assert.True(t, got.Open.Equal(open))
	require.NotNil(t, got.High)
	assert.True(t, got.High.Equal(high))
	require.NotNil(t, got.Low)
	assert.True(t, got.Low.Equal(low))
	assert.Equal(t, int64(123456789), got.Volume)
}
