// Package surrealdb implements the durable stores on SurrealDB: the
// append-only transaction ledger and the warm price store.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	ledgerStore *LedgerStore
	priceStore  *PriceStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config, clock common.Clock) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	m, err := newManagerWithDB(db, logger, clock)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// newManagerWithDB wires stores onto an already-connected DB. Used directly
// by tests running against a container.
func newManagerWithDB(db *surrealdb.DB, logger *common.Logger, clock common.Clock) (*Manager, error) {
	ctx := context.Background()
	if clock == nil {
		clock = common.RealClock{}
	}

	// Define tables up front (SurrealDB v3 errors on querying non-existent
	// tables).
	tables := []string{"portfolio", "transaction", "price"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	// Transactions are unique on tx_id so a retried append cannot double-write.
	indexes := []string{
		"DEFINE INDEX IF NOT EXISTS transaction_tx_id ON TABLE transaction FIELDS tx_id UNIQUE",
		"DEFINE INDEX IF NOT EXISTS transaction_portfolio ON TABLE transaction FIELDS portfolio_id",
		"DEFINE INDEX IF NOT EXISTS price_ticker_ts ON TABLE price FIELDS ticker, timestamp",
	}
	for _, sql := range indexes {
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define index: %w", err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}
	m.ledgerStore = NewLedgerStore(db, logger, clock)
	m.priceStore = NewPriceStore(db, logger, clock)
	return m, nil
}

func (m *Manager) LedgerStore() interfaces.LedgerStore {
	return m.ledgerStore
}

func (m *Manager) PriceStore() interfaces.PriceStore {
	return m.priceStore
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
