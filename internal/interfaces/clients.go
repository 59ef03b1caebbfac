// Package interfaces defines service contracts for Papertrade
package interfaces

import (
	"context"

	"github.com/bobmcallan/papertrade/internal/models"
)

// MarketDataProvider is the external (cold) price source.
//
// Implementations classify failures with the domain error kinds:
// ticker_not_found for a definitive symbol rejection, rate_limited when the
// provider throttles, auth_failed for credential problems, and transient for
// everything retryable.
type MarketDataProvider interface {
	// FetchCurrent returns the provider's latest quote for the ticker.
	FetchCurrent(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error)

	// FetchDailySeries returns the provider's full daily close series for
	// the ticker, sorted ascending by timestamp.
	FetchDailySeries(ctx context.Context, ticker models.Ticker) ([]models.PricePoint, error)
}
