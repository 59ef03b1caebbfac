// Package interfaces defines service contracts for Papertrade
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/papertrade/internal/models"
)

// StorageManager coordinates the durable storage backends.
type StorageManager interface {
	LedgerStore() LedgerStore
	PriceStore() PriceStore

	// Lifecycle
	Close() error
}

// LedgerStore is the append-only system of record for portfolios and their
// transactions.
type LedgerStore interface {
	// CreatePortfolio persists the portfolio row and its opening deposit
	// transaction in a single unit of work.
	CreatePortfolio(ctx context.Context, portfolio *models.Portfolio, opening *models.Transaction) error

	// GetPortfolio fetches a portfolio by id. Returns a not_found domain
	// error if absent.
	GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error)

	// ListPortfolios returns an owner's portfolios sorted by created_at
	// ascending.
	ListPortfolios(ctx context.Context, ownerID string) ([]*models.Portfolio, error)

	// AppendTransactions atomically appends one or more transactions and
	// bumps the portfolio version. Fails with a conflict domain error when
	// expectedVersion does not match the stored version at commit time.
	// Re-appending an already-stored transaction id leaves state unchanged
	// and returns the stored version (retry safety).
	AppendTransactions(ctx context.Context, portfolioID string, expectedVersion int64, txns []*models.Transaction) (int64, error)

	// ListTransactions returns a portfolio's transactions sorted by
	// (timestamp ASC, id ASC) for deterministic replay.
	ListTransactions(ctx context.Context, portfolioID string, filter TransactionFilter) ([]*models.Transaction, error)

	// TransactionsAtOrBefore returns the ledger prefix with timestamp <= ts,
	// sorted (timestamp ASC, id ASC), for point-in-time projection.
	TransactionsAtOrBefore(ctx context.Context, portfolioID string, ts time.Time) ([]*models.Transaction, error)

	// ListActiveTickers returns tickers that are currently held or were
	// traded within the lookback window, across all portfolios. Feeds the
	// scheduled price refresher.
	ListActiveTickers(ctx context.Context, window time.Duration) ([]models.Ticker, error)
}

// TransactionFilter restricts ListTransactions results.
type TransactionFilter struct {
	From  *time.Time
	To    *time.Time
	Kinds []models.TransactionKind
	Limit int
}

// Matches reports whether tx passes the time-range and kind filters.
func (f TransactionFilter) Matches(tx *models.Transaction) bool {
	if f.From != nil && tx.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && tx.Timestamp.After(*f.To) {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if tx.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// PriceStore is the warm (durable) store of historical price rows, unique on
// (ticker, timestamp, interval).
type PriceStore interface {
	// GetLatest returns the most recent realtime or daily row for the
	// ticker, or nil if none exists.
	GetLatest(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error)

	// GetAt returns the nearest row with timestamp <= ts, or nil if none
	// exists. Freshness windows are enforced by the caller.
	GetAt(ctx context.Context, ticker models.Ticker, ts time.Time) (*models.PricePoint, error)

	// GetRange returns rows in [start, end] at the given interval sorted
	// ascending by timestamp. limit <= 0 selects the implementation cap.
	GetRange(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval, limit int) ([]models.PricePoint, error)

	// Upsert bulk inserts-or-replaces rows on the unique key. Idempotent.
	Upsert(ctx context.Context, points []models.PricePoint) error
}

// HotCache is the ephemeral key-value tier in front of the warm store.
// Values are opaque byte slices; a zero ttl stores without expiry.
type HotCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
