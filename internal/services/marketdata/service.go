// Package marketdata implements the tiered price engine: hot cache in front
// of the warm price store in front of the rate-limited external provider.
// Reads fall through the tiers and write back on the way out; provider
// failures degrade to stale cached data instead of erroring whenever any
// fallback exists.
package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/marketcal"
	"github.com/bobmcallan/papertrade/internal/models"
)

// maxLookbackTradingDays bounds how far GetPriceAt may reach behind the
// requested timestamp before the price is considered absent.
const maxLookbackTradingDays = 5

// Service implements interfaces.MarketDataService.
type Service struct {
	store    interfaces.PriceStore
	hot      interfaces.HotCache
	provider interfaces.MarketDataProvider
	limiter  *RateLimiter
	calendar *marketcal.Calendar
	ttl      ttlPolicy
	logger   *common.Logger
	clock    common.Clock

	// One in-flight provider fetch per key; concurrent callers share it.
	flight singleflight.Group
}

// NewService wires the engine. limiter guards every outbound provider call;
// cache hits cost no budget.
func NewService(
	store interfaces.PriceStore,
	hot interfaces.HotCache,
	provider interfaces.MarketDataProvider,
	limiter *RateLimiter,
	calendar *marketcal.Calendar,
	config *common.Config,
	logger *common.Logger,
	clock common.Clock,
) *Service {
	if clock == nil {
		clock = common.RealClock{}
	}
	recent, midday, historical := config.Cache.GetHistoryTTLs()
	return &Service{
		store:    store,
		hot:      hot,
		provider: provider,
		limiter:  limiter,
		calendar: calendar,
		ttl: ttlPolicy{
			current:    config.Cache.GetCurrentTTL(),
			recent:     recent,
			midday:     midday,
			historical: historical,
		},
		logger: logger,
		clock:  clock,
	}
}

// Limiter exposes the provider budget for the background refresher, which
// paces itself with WaitAcquire instead of TryAcquire.
func (s *Service) Limiter() *RateLimiter {
	return s.limiter
}

func currentKey(ticker models.Ticker) string {
	return fmt.Sprintf("price:current:%s", ticker)
}

func rangeKey(ticker models.Ticker, start, end time.Time, interval models.PriceInterval) string {
	return fmt.Sprintf("price:range:%s:%s:%s:%s",
		ticker, start.UTC().Format("2006-01-02"), end.UTC().Format("2006-01-02"), interval)
}

// GetCurrentPrice resolves hot cache, then warm store, then provider.
func (s *Service) GetCurrentPrice(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error) {
	key := currentKey(ticker)

	if data, ok, err := s.hot.Get(ctx, key); err == nil && ok {
		p, err := decodePoint(data)
		if err == nil {
			p.Source = models.SourceHotCache
			return p, nil
		}
		// A corrupt entry is dropped and resolved through the lower tiers.
		_ = s.hot.Delete(ctx, key)
	} else if err != nil {
		s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("hot cache read failed")
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.resolveCurrent(ctx, ticker)
	})
	if err != nil {
		return nil, err
	}
	p := v.(*models.PricePoint)
	cp := *p
	return &cp, nil
}

func (s *Service) resolveCurrent(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error) {
	now := s.clock.Now().UTC()

	warm, err := s.store.GetLatest(ctx, ticker)
	if err != nil {
		s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("warm store read failed")
		warm = nil
	}
	if isFreshCurrent(s.calendar, warm, now) {
		warm.Source = models.SourceWarmStore
		s.cacheCurrent(ctx, ticker, warm, now)
		return warm, nil
	}

	if s.limiter.TryAcquire() {
		fetched, err := s.fetchCurrentOnce(ctx, ticker)
		switch {
		case err == nil:
			if err := s.store.Upsert(ctx, []models.PricePoint{*fetched}); err != nil {
				s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("price upsert failed")
			}
			s.cacheCurrent(ctx, ticker, fetched, now)
			return fetched, nil

		case models.IsKind(err, models.KindTickerNotFound),
			models.IsKind(err, models.KindAuthFailed):
			// Definitive answers do not degrade to stale data.
			return nil, err

		default:
			s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("provider fetch failed, falling back")
		}
	} else {
		s.logger.Debug().Str("ticker", string(ticker)).Msg("provider budget exhausted, falling back")
	}

	if warm != nil {
		stale := *warm
		stale.Source = models.SourceStale
		stale.Stale = true
		return &stale, nil
	}
	return nil, models.Errorf(models.KindMarketDataUnavailable, "no price available for %s", ticker)
}

// fetchCurrentOnce calls the provider with a single transient retry.
func (s *Service) fetchCurrentOnce(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error) {
	fetched, err := s.provider.FetchCurrent(ctx, ticker)
	if err != nil && models.IsKind(err, models.KindTransient) {
		select {
		case <-time.After(transientRetryDelay()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		fetched, err = s.provider.FetchCurrent(ctx, ticker)
	}
	return fetched, err
}

func (s *Service) cacheCurrent(ctx context.Context, ticker models.Ticker, p *models.PricePoint, now time.Time) {
	data, err := encodePoint(p)
	if err != nil {
		return
	}
	ttl := s.ttl.currentTTL(s.calendar, p.Timestamp, now)
	if err := s.hot.Set(ctx, currentKey(ticker), data, ttl); err != nil {
		s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("hot cache write failed")
	}
}

// RefreshTicker force-fetches the current quote for the background
// refresher. Unlike GetCurrentPrice it bypasses the freshness check and
// waits on the provider budget up to deadline instead of falling back.
func (s *Service) RefreshTicker(ctx context.Context, ticker models.Ticker, deadline time.Time) error {
	if err := s.limiter.WaitAcquire(ctx, deadline); err != nil {
		return err
	}

	fetched, err := s.provider.FetchCurrent(ctx, ticker)
	if err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, []models.PricePoint{*fetched}); err != nil {
		return models.WrapError(models.KindTransient, "refresh upsert", err)
	}
	s.cacheCurrent(ctx, ticker, fetched, s.clock.Now().UTC())
	return nil
}

// GetPriceAt returns the price effective at ts: the nearest stored row at or
// before ts within the lookback bound, backfilling the daily series on
// demand when the warm store has no coverage.
func (s *Service) GetPriceAt(ctx context.Context, ticker models.Ticker, ts time.Time) (*models.PricePoint, error) {
	now := s.clock.Now().UTC()
	ts = ts.UTC()
	if ts.After(now) {
		return nil, models.NewError(models.KindInvalidArgument, "timestamp is in the future")
	}

	p, err := s.store.GetAt(ctx, ticker, ts)
	if err != nil {
		return nil, err
	}
	if p != nil && withinTradingDays(s.calendar, p.Timestamp, ts, maxLookbackTradingDays) {
		return p, nil
	}

	// Backfill shares one flight per ticker; the full series covers every
	// historical request.
	key := fmt.Sprintf("backfill:%s", ticker)
	_, err, _ = s.flight.Do(key, func() (interface{}, error) {
		return nil, s.backfillDaily(ctx, ticker)
	})
	if err != nil {
		if p != nil {
			stale := *p
			stale.Source = models.SourceStale
			stale.Stale = true
			return &stale, nil
		}
		if models.IsKind(err, models.KindTickerNotFound) || models.IsKind(err, models.KindAuthFailed) {
			return nil, err
		}
		// Rate limiting and transport failures stay internal; with no stored
		// fallback the caller sees the data as unavailable.
		return nil, models.WrapError(models.KindMarketDataUnavailable,
			fmt.Sprintf("no price available for %s", ticker), err)
	}

	p, err = s.store.GetAt(ctx, ticker, ts)
	if err != nil {
		return nil, err
	}
	if p == nil || !withinTradingDays(s.calendar, p.Timestamp, ts, maxLookbackTradingDays) {
		return nil, models.Errorf(models.KindMarketDataUnavailable,
			"no price for %s within %d trading days of %s", ticker, maxLookbackTradingDays, ts.Format("2006-01-02"))
	}
	return p, nil
}

// backfillDaily fetches the provider's full daily series and upserts it.
func (s *Service) backfillDaily(ctx context.Context, ticker models.Ticker) error {
	if !s.limiter.TryAcquire() {
		return models.NewError(models.KindRateLimited, "provider budget exhausted")
	}
	series, err := s.provider.FetchDailySeries(ctx, ticker)
	if err != nil && models.IsKind(err, models.KindTransient) {
		select {
		case <-time.After(transientRetryDelay()):
		case <-ctx.Done():
			return ctx.Err()
		}
		series, err = s.provider.FetchDailySeries(ctx, ticker)
	}
	if err != nil {
		return err
	}
	if err := s.store.Upsert(ctx, series); err != nil {
		return models.WrapError(models.KindTransient, "backfill upsert", err)
	}
	s.logger.Info().Str("ticker", string(ticker)).Int("rows", len(series)).Msg("daily series backfilled")
	return nil
}

// GetPriceHistory resolves a series through the same three tiers, using the
// trading-calendar completeness check to decide whether cached coverage is
// good enough.
func (s *Service) GetPriceHistory(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval) ([]models.PricePoint, error) {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil, models.NewError(models.KindInvalidArgument, "range end before start")
	}
	if interval == "" {
		interval = models.IntervalDaily
	}
	now := s.clock.Now().UTC()
	key := rangeKey(ticker, start, end, interval)

	if data, ok, err := s.hot.Get(ctx, key); err == nil && ok {
		series, err := decodeSeries(data)
		if err == nil && (interval != models.IntervalDaily || isCompleteDaily(s.calendar, series, start, end, now)) {
			return series, nil
		}
		_ = s.hot.Delete(ctx, key)
	}

	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.resolveRange(ctx, ticker, start, end, interval, now)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.PricePoint), nil
}

func (s *Service) resolveRange(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval, now time.Time) ([]models.PricePoint, error) {
	warm, err := s.store.GetRange(ctx, ticker, start, end, interval, 0)
	if err != nil {
		s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("warm range read failed")
		warm = nil
	}
	if len(warm) > 0 && (interval != models.IntervalDaily || isCompleteDaily(s.calendar, warm, start, end, now)) {
		s.cacheRange(ctx, ticker, start, end, interval, warm, now)
		return warm, nil
	}

	// Only the daily series is available upstream; other intervals serve
	// whatever the warm store holds.
	if interval != models.IntervalDaily {
		return warm, nil
	}

	if err := s.backfillDaily(ctx, ticker); err != nil {
		if models.IsKind(err, models.KindTickerNotFound) || models.IsKind(err, models.KindAuthFailed) {
			return nil, err
		}
		if len(warm) > 0 {
			stale := make([]models.PricePoint, len(warm))
			copy(stale, warm)
			for i := range stale {
				stale[i].Source = models.SourceStale
				stale[i].Stale = true
			}
			return stale, nil
		}
		return nil, models.Errorf(models.KindMarketDataUnavailable, "no history available for %s", ticker)
	}

	series, err := s.store.GetRange(ctx, ticker, start, end, interval, 0)
	if err != nil {
		return nil, err
	}
	s.cacheRange(ctx, ticker, start, end, interval, series, now)
	return series, nil
}

func (s *Service) cacheRange(ctx context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval, series []models.PricePoint, now time.Time) {
	if len(series) == 0 {
		return
	}
	data, err := encodeSeries(series)
	if err != nil {
		return
	}
	freshest := series[len(series)-1].Timestamp
	ttl := s.ttl.seriesTTL(s.calendar, freshest, now)
	if err := s.hot.Set(ctx, rangeKey(ticker, start, end, interval), data, ttl); err != nil {
		s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("hot cache write failed")
	}
}

// transientRetryDelay jitters the single transport retry around 500ms so
// coalesced callers do not re-hit the provider in lockstep.
func transientRetryDelay() time.Duration {
	return 250*time.Millisecond + time.Duration(rand.Int63n(int64(500*time.Millisecond)))
}

// Compile-time check
var _ interfaces.MarketDataService = (*Service)(nil)
