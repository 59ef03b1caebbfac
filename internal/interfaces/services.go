// Package interfaces defines service contracts for Papertrade
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/papertrade/internal/models"
)

// MarketDataService resolves prices through the hot -> warm -> provider
// tiers, applying the trading-calendar freshness policy and provider rate
// limits.
type MarketDataService interface {
	// GetCurrentPrice returns the freshest price for the ticker. When the
	// provider is unreachable or throttled, the latest warm row is returned
	// marked stale instead of failing.
	GetCurrentPrice(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error)

	// GetPriceAt returns the price effective at ts: the nearest stored row
	// at or before ts, backfilled on demand from the provider's daily
	// series when the warm store has no coverage.
	GetPriceAt(ctx context.Context, ticker models.Ticker, ts time.Time) (*models.PricePoint, error)

	// GetPriceHistory returns the series for [start, end] at interval
	// sorted ascending, backfilled from the provider when gaps are
	// detected.
	GetPriceHistory(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval) ([]models.PricePoint, error)
}

// TradingService owns portfolio lifecycle and ledger writes. All mutations
// append immutable transactions; derived state is projected on read.
type TradingService interface {
	CreatePortfolio(ctx context.Context, ownerID, name, currency string, openingBalance models.Money) (*models.Portfolio, error)
	GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error)
	ListPortfolios(ctx context.Context, ownerID string) ([]*models.Portfolio, error)

	// GetPortfolioState projects cash, holdings, and a priced valuation.
	// A nil asOf means "now"; a historical asOf values the ledger prefix at
	// that instant using historical prices.
	GetPortfolioState(ctx context.Context, id string, asOf *time.Time) (*models.PortfolioValuation, error)

	ListTransactions(ctx context.Context, portfolioID string, filter TransactionFilter) ([]*models.Transaction, error)

	Deposit(ctx context.Context, portfolioID string, amount models.Money, notes string) (*models.Transaction, error)
	Withdraw(ctx context.Context, portfolioID string, amount models.Money, notes string) (*models.Transaction, error)

	// ExecuteBuy and ExecuteSell price the order via the market-data
	// service, validate it against projected state, and append the trade
	// under optimistic concurrency. A non-nil asOf executes at a historical
	// timestamp using the price effective then.
	ExecuteBuy(ctx context.Context, portfolioID string, ticker models.Ticker, quantity int64, asOf *time.Time, notes string) (*models.Transaction, error)
	ExecuteSell(ctx context.Context, portfolioID string, ticker models.Ticker, quantity int64, asOf *time.Time, notes string) (*models.Transaction, error)
}

// RefreshService is the scheduled price refresher for actively held tickers.
type RefreshService interface {
	Start() error
	Stop()

	// RunOnce triggers a refresh cycle immediately. Concurrent runs are
	// rejected with a conflict domain error.
	RunOnce(ctx context.Context) error

	Status() models.RefreshStatus
}
