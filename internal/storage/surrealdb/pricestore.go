package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// defaultRangeLimit caps GetRange result sets when the caller passes no limit.
const defaultRangeLimit = 10000

// PriceStore implements interfaces.PriceStore on SurrealDB. Rows are keyed
// on (ticker, timestamp, interval) so refresh cycles and backfills can
// re-upsert the same series without duplicates.
type PriceStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	clock  common.Clock
}

func NewPriceStore(db *surrealdb.DB, logger *common.Logger, clock common.Clock) *PriceStore {
	return &PriceStore{db: db, logger: logger, clock: clock}
}

// priceKey builds the composite record key.
func priceKey(ticker models.Ticker, ts time.Time, interval models.PriceInterval) string {
	return fmt.Sprintf("%s:%d:%s", ticker, ts.UTC().Unix(), interval)
}

func (s *PriceStore) GetLatest(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error) {
	// Only realtime and daily rows can answer "latest price".
	sql := "SELECT * FROM price WHERE ticker = $ticker AND interval IN $intervals ORDER BY timestamp DESC LIMIT 1"
	vars := map[string]any{
		"ticker":    string(ticker),
		"intervals": []string{string(models.IntervalRealtime), string(models.IntervalDaily)},
	}

	results, err := surrealdb.Query[[]priceRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return (*results)[0].Result[0].toModel()
}

func (s *PriceStore) GetAt(ctx context.Context, ticker models.Ticker, ts time.Time) (*models.PricePoint, error) {
	sql := "SELECT * FROM price WHERE ticker = $ticker AND timestamp <= $ts ORDER BY timestamp DESC LIMIT 1"
	vars := map[string]any{"ticker": string(ticker), "ts": ts.UTC()}

	results, err := surrealdb.Query[[]priceRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get price at timestamp: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}
	return (*results)[0].Result[0].toModel()
}

func (s *PriceStore) GetRange(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval, limit int) ([]models.PricePoint, error) {
	if limit <= 0 {
		limit = defaultRangeLimit
	}
	sql := "SELECT * FROM price WHERE ticker = $ticker AND interval = $interval AND timestamp >= $start AND timestamp <= $end ORDER BY timestamp ASC LIMIT $limit"
	vars := map[string]any{
		"ticker":   string(ticker),
		"interval": string(interval),
		"start":    start.UTC(),
		"end":      end.UTC(),
		"limit":    limit,
	}

	results, err := surrealdb.Query[[]priceRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get price range: %w", err)
	}

	var points []models.PricePoint
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			p, err := (*results)[0].Result[i].toModel()
			if err != nil {
				return nil, err
			}
			points = append(points, *p)
		}
	}
	return points, nil
}

func (s *PriceStore) Upsert(ctx context.Context, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	sql := "UPSERT $rid CONTENT $data"
	for i := range points {
		p := &points[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = s.clock.Now().UTC()
		}
		vars := map[string]any{
			"rid":  surrealmodels.NewRecordID("price", priceKey(p.Ticker, p.Timestamp, p.Interval)),
			"data": toPriceRecord(p),
		}

		var lastErr error
		for attempt := 1; attempt <= 3; attempt++ {
			_, err := surrealdb.Query[any](ctx, s.db, sql, vars)
			if err == nil {
				lastErr = nil
				break
			}
			lastErr = err
		}
		if lastErr != nil {
			return fmt.Errorf("failed to upsert price after retries: %w", lastErr)
		}
	}

	s.logger.Debug().Int("count", len(points)).Msg("Price rows upserted")
	return nil
}

// Compile-time check
var _ interfaces.PriceStore = (*PriceStore)(nil)
