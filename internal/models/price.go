package models

import (
	"time"
)

// PriceSource records which cache tier a PricePoint was served from.
type PriceSource string

const (
	SourceProvider  PriceSource = "provider"
	SourceWarmStore PriceSource = "warm_store"
	SourceHotCache  PriceSource = "hot_cache"
	// SourceStale marks warm/hot data returned while the provider was
	// unreachable or rate-limited.
	SourceStale PriceSource = "stale"
)

// PriceInterval is the sampling interval of a price row.
type PriceInterval string

const (
	IntervalRealtime PriceInterval = "realtime"
	IntervalDaily    PriceInterval = "daily"
	IntervalHourly   PriceInterval = "hourly"
)

// PricePoint is a single observed price for a ticker.
// Rows are unique on (ticker, timestamp, interval) in the warm store.
type PricePoint struct {
	Ticker    Ticker        `json:"ticker"`
	Price     Money         `json:"price"`
	Timestamp time.Time     `json:"timestamp"`
	Source    PriceSource   `json:"source"`
	Interval  PriceInterval `json:"interval"`

	// Optional OHLCV detail from daily provider series.
	Open   *Money `json:"open,omitempty"`
	High   *Money `json:"high,omitempty"`
	Low    *Money `json:"low,omitempty"`
	Volume int64  `json:"volume,omitempty"`

	// Stale is set alongside Source == SourceStale so callers can surface a
	// warning without string-matching on the source.
	Stale bool `json:"stale,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// RefreshStatus is the observable (non-authoritative) state of the
// background price refresher.
type RefreshStatus struct {
	LastRunAt     time.Time            `json:"last_run_at"`
	LastRunErrors int                  `json:"last_run_errors"`
	LastSuccessAt map[Ticker]time.Time `json:"last_success_at"`
}
