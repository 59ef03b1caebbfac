package surrealdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// LedgerStore implements interfaces.LedgerStore on SurrealDB. Transactions
// are append-only; the only mutable field in the whole store is the
// portfolio version counter.
type LedgerStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	clock  common.Clock
}

func NewLedgerStore(db *surrealdb.DB, logger *common.Logger, clock common.Clock) *LedgerStore {
	return &LedgerStore{db: db, logger: logger, clock: clock}
}

func (s *LedgerStore) CreatePortfolio(ctx context.Context, portfolio *models.Portfolio, opening *models.Transaction) error {
	sql := `BEGIN;
CREATE $prid CONTENT $portfolio;
CREATE $trid CONTENT $tx;
COMMIT;`
	vars := map[string]any{
		"prid":      surrealmodels.NewRecordID("portfolio", portfolio.ID),
		"portfolio": toPortfolioRecord(portfolio),
		"trid":      surrealmodels.NewRecordID("transaction", opening.ID),
		"tx":        toTransactionRecord(opening),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return models.Errorf(models.KindConflict, "portfolio %s already exists", portfolio.ID)
		}
		return fmt.Errorf("failed to create portfolio: %w", err)
	}

	s.logger.Info().
		Str("portfolio", portfolio.ID).
		Str("owner", portfolio.OwnerID).
		Msg("Portfolio created")
	return nil
}

func (s *LedgerStore) GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error) {
	rec, err := surrealdb.Select[portfolioRecord](ctx, s.db, surrealmodels.NewRecordID("portfolio", id))
	if err != nil {
		return nil, fmt.Errorf("failed to select portfolio: %w", err)
	}
	if rec == nil || rec.PortfolioID == "" {
		return nil, models.Errorf(models.KindNotFound, "portfolio %s not found", id)
	}
	return rec.toModel(), nil
}

func (s *LedgerStore) ListPortfolios(ctx context.Context, ownerID string) ([]*models.Portfolio, error) {
	sql := "SELECT * FROM portfolio WHERE owner_id = $owner ORDER BY created_at ASC"
	vars := map[string]any{"owner": ownerID}

	results, err := surrealdb.Query[[]portfolioRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolios: %w", err)
	}

	var portfolios []*models.Portfolio
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			portfolios = append(portfolios, (*results)[0].Result[i].toModel())
		}
	}
	return portfolios, nil
}

// AppendTransactions performs the optimistic-concurrency append: the version
// check, the transaction inserts, and the version bump commit or roll back
// together. A THROW inside the SurrealDB transaction aborts the whole batch.
func (s *LedgerStore) AppendTransactions(ctx context.Context, portfolioID string, expectedVersion int64, txns []*models.Transaction) (int64, error) {
	if len(txns) == 0 {
		return 0, models.NewError(models.KindInvalidArgument, "no transactions to append")
	}

	// Retry safety: if the batch is already stored the earlier attempt won
	// the race. Report the stored version without writing anything.
	stored, err := s.countStored(ctx, txns)
	if err != nil {
		return 0, err
	}
	if stored == len(txns) {
		p, err := s.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return 0, err
		}
		return p.Version, nil
	}
	if stored > 0 {
		return 0, models.Errorf(models.KindInconsistentLedger,
			"%d of %d transactions already stored", stored, len(txns))
	}

	newVersion := expectedVersion + int64(len(txns))

	var b strings.Builder
	b.WriteString("BEGIN;\n")
	b.WriteString("LET $p = (SELECT * FROM ONLY $prid);\n")
	b.WriteString("IF $p == NONE { THROW \"portfolio_missing\" };\n")
	b.WriteString("IF $p.version != $expected { THROW \"version_conflict\" };\n")
	vars := map[string]any{
		"prid":     surrealmodels.NewRecordID("portfolio", portfolioID),
		"expected": expectedVersion,
		"next":     newVersion,
	}
	for i, tx := range txns {
		rid := fmt.Sprintf("trid%d", i)
		data := fmt.Sprintf("tx%d", i)
		fmt.Fprintf(&b, "CREATE $%s CONTENT $%s;\n", rid, data)
		vars[rid] = surrealmodels.NewRecordID("transaction", tx.ID)
		vars[data] = toTransactionRecord(tx)
	}
	b.WriteString("UPDATE $prid SET version = $next;\n")
	b.WriteString("COMMIT;")

	if _, err := surrealdb.Query[any](ctx, s.db, b.String(), vars); err != nil {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "version_conflict"):
			return 0, models.Errorf(models.KindConflict,
				"portfolio %s version changed (expected %d)", portfolioID, expectedVersion)
		case strings.Contains(msg, "portfolio_missing"):
			return 0, models.Errorf(models.KindNotFound, "portfolio %s not found", portfolioID)
		case strings.Contains(msg, "already exists"):
			return 0, models.Errorf(models.KindConflict, "transaction id collision")
		}
		return 0, fmt.Errorf("failed to append transactions: %w", err)
	}

	s.logger.Debug().
		Str("portfolio", portfolioID).
		Int("count", len(txns)).
		Int64("version", newVersion).
		Msg("Transactions appended")
	return newVersion, nil
}

// countStored returns how many of the batch's transaction ids already exist.
func (s *LedgerStore) countStored(ctx context.Context, txns []*models.Transaction) (int, error) {
	ids := make([]string, len(txns))
	for i, tx := range txns {
		ids[i] = tx.ID
	}
	sql := "SELECT tx_id FROM transaction WHERE tx_id IN $ids"
	vars := map[string]any{"ids": ids}

	type idRow struct {
		TxID string `json:"tx_id"`
	}
	results, err := surrealdb.Query[[]idRow](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to check stored transactions: %w", err)
	}
	if results != nil && len(*results) > 0 {
		return len((*results)[0].Result), nil
	}
	return 0, nil
}

func (s *LedgerStore) ListTransactions(ctx context.Context, portfolioID string, filter interfaces.TransactionFilter) ([]*models.Transaction, error) {
	var b strings.Builder
	b.WriteString("SELECT * FROM transaction WHERE portfolio_id = $pid")
	vars := map[string]any{"pid": portfolioID}

	if filter.From != nil {
		b.WriteString(" AND timestamp >= $from")
		vars["from"] = filter.From.UTC()
	}
	if filter.To != nil {
		b.WriteString(" AND timestamp <= $to")
		vars["to"] = filter.To.UTC()
	}
	if len(filter.Kinds) > 0 {
		kinds := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			kinds[i] = string(k)
		}
		b.WriteString(" AND kind IN $kinds")
		vars["kinds"] = kinds
	}
	b.WriteString(" ORDER BY timestamp ASC, tx_id ASC")
	if filter.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", filter.Limit)
	}

	return s.queryTransactions(ctx, b.String(), vars)
}

func (s *LedgerStore) TransactionsAtOrBefore(ctx context.Context, portfolioID string, ts time.Time) ([]*models.Transaction, error) {
	sql := "SELECT * FROM transaction WHERE portfolio_id = $pid AND timestamp <= $ts ORDER BY timestamp ASC, tx_id ASC"
	vars := map[string]any{"pid": portfolioID, "ts": ts.UTC()}
	return s.queryTransactions(ctx, sql, vars)
}

func (s *LedgerStore) queryTransactions(ctx context.Context, sql string, vars map[string]any) ([]*models.Transaction, error) {
	results, err := surrealdb.Query[[]transactionRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	var txns []*models.Transaction
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			tx, err := (*results)[0].Result[i].toModel()
			if err != nil {
				return nil, err
			}
			txns = append(txns, tx)
		}
	}
	return txns, nil
}

// ListActiveTickers folds trade rows into per-ticker net quantity and last
// trade time, returning tickers either still held or traded inside the
// window. Paper-trading ledgers are small enough to fold client-side.
func (s *LedgerStore) ListActiveTickers(ctx context.Context, window time.Duration) ([]models.Ticker, error) {
	sql := "SELECT ticker, kind, quantity, timestamp FROM transaction WHERE ticker != '' AND ticker != NONE"

	type tradeRow struct {
		Ticker    string    `json:"ticker"`
		Kind      string    `json:"kind"`
		Quantity  int64     `json:"quantity"`
		Timestamp time.Time `json:"timestamp"`
	}
	results, err := surrealdb.Query[[]tradeRow](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}

	type agg struct {
		net      int64
		lastSeen time.Time
	}
	byTicker := make(map[string]*agg)
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			a := byTicker[row.Ticker]
			if a == nil {
				a = &agg{}
				byTicker[row.Ticker] = a
			}
			if row.Kind == string(models.TxBuy) {
				a.net += row.Quantity
			} else {
				a.net -= row.Quantity
			}
			if row.Timestamp.After(a.lastSeen) {
				a.lastSeen = row.Timestamp
			}
		}
	}

	cutoff := s.clock.Now().UTC().Add(-window)
	var active []models.Ticker
	for ticker, a := range byTicker {
		if a.net > 0 || a.lastSeen.After(cutoff) {
			active = append(active, models.Ticker(ticker))
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i] < active[j] })
	return active, nil
}

// Compile-time check
var _ interfaces.LedgerStore = (*LedgerStore)(nil)
