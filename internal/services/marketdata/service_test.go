package marketdata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/marketcal"
	"github.com/bobmcallan/papertrade/internal/models"
)

// fakePriceStore is an in-memory PriceStore keyed the same way as the real
// one: unique on (ticker, timestamp, interval).
type fakePriceStore struct {
	mu     sync.Mutex
	points []models.PricePoint
}

func (s *fakePriceStore) GetLatest(_ context.Context, ticker models.Ticker) (*models.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PricePoint
	for i := range s.points {
		p := &s.points[i]
		if p.Ticker != ticker {
			continue
		}
		if best == nil || p.Timestamp.After(best.Timestamp) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *fakePriceStore) GetAt(_ context.Context, ticker models.Ticker, ts time.Time) (*models.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var best *models.PricePoint
	for i := range s.points {
		p := &s.points[i]
		if p.Ticker != ticker || p.Timestamp.After(ts) {
			continue
		}
		if best == nil || p.Timestamp.After(best.Timestamp) {
			best = p
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (s *fakePriceStore) GetRange(_ context.Context, ticker models.Ticker, start, end time.Time, interval models.PriceInterval, _ int) ([]models.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PricePoint
	for _, p := range s.points {
		if p.Ticker != ticker || p.Interval != interval {
			continue
		}
		if p.Timestamp.Before(start) || p.Timestamp.After(end) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakePriceStore) Upsert(_ context.Context, points []models.PricePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
next:
	for _, p := range points {
		for i := range s.points {
			e := &s.points[i]
			if e.Ticker == p.Ticker && e.Timestamp.Equal(p.Timestamp) && e.Interval == p.Interval {
				*e = p
				continue next
			}
		}
		s.points = append(s.points, p)
	}
	return nil
}

// fakeHotCache is a map-backed HotCache that ignores expiry.
type fakeHotCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newFakeHotCache() *fakeHotCache {
	return &fakeHotCache{entries: make(map[string][]byte)}
}

func (c *fakeHotCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeHotCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *fakeHotCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *fakeHotCache) Close() error { return nil }

// fakeProvider counts calls and serves scripted responses.
type fakeProvider struct {
	mu           sync.Mutex
	currentCalls int
	seriesCalls  int
	currentFn    func(models.Ticker) (*models.PricePoint, error)
	seriesFn     func(models.Ticker) ([]models.PricePoint, error)
}

func (p *fakeProvider) FetchCurrent(_ context.Context, ticker models.Ticker) (*models.PricePoint, error) {
	p.mu.Lock()
	p.currentCalls++
	fn := p.currentFn
	p.mu.Unlock()
	if fn == nil {
		return nil, models.NewError(models.KindTransient, "no script")
	}
	return fn(ticker)
}

func (p *fakeProvider) FetchDailySeries(_ context.Context, ticker models.Ticker) ([]models.PricePoint, error) {
	p.mu.Lock()
	p.seriesCalls++
	fn := p.seriesFn
	p.mu.Unlock()
	if fn == nil {
		return nil, models.NewError(models.KindTransient, "no script")
	}
	return fn(ticker)
}

func (p *fakeProvider) calls() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentCalls, p.seriesCalls
}

// mondayOpen is a trading day during market hours.
var mondayOpen = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newTestService(store *fakePriceStore, hot *fakeHotCache, provider *fakeProvider, limiter *RateLimiter, clock common.Clock) *Service {
	return NewService(
		store, hot, provider, limiter,
		marketcal.NewDefault(),
		common.NewDefaultConfig(),
		common.NewSilentLogger(),
		clock,
	)
}

func quote(ticker models.Ticker, price string, ts time.Time) *models.PricePoint {
	return &models.PricePoint{
		Ticker:    ticker,
		Price:     models.MustMoney(price, "USD"),
		Timestamp: ts,
		Source:    models.SourceProvider,
		Interval:  models.IntervalRealtime,
	}
}

func dailyClose(ticker models.Ticker, price string, day time.Time) models.PricePoint {
	return models.PricePoint{
		Ticker:    ticker,
		Price:     models.MustMoney(price, "USD"),
		Timestamp: day,
		Source:    models.SourceProvider,
		Interval:  models.IntervalDaily,
	}
}

func TestGetCurrentPriceHotCacheHit(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	hot := newFakeHotCache()
	provider := &fakeProvider{}
	svc := newTestService(store, hot, provider, NewRateLimiter(5, 0, clock), clock)

	data, err := encodePoint(quote("AAPL", "150.00", mondayOpen.Add(-time.Minute)))
	require.NoError(t, err)
	require.NoError(t, hot.Set(context.Background(), currentKey("AAPL"), data, 0))

	p, err := svc.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceHotCache, p.Source)
	assert.True(t, p.Price.Equal(models.MustMoney("150.00", "USD")))

	cc, sc := provider.calls()
	assert.Zero(t, cc)
	assert.Zero(t, sc)
}

func TestGetCurrentPriceWarmFresh(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	hot := newFakeHotCache()
	provider := &fakeProvider{}
	svc := newTestService(store, hot, provider, NewRateLimiter(5, 0, clock), clock)

	warm := quote("AAPL", "151.00", mondayOpen.Add(-2*time.Minute))
	require.NoError(t, store.Upsert(context.Background(), []models.PricePoint{*warm}))

	p, err := svc.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceWarmStore, p.Source)

	cc, _ := provider.calls()
	assert.Zero(t, cc, "fresh warm data costs no provider budget")

	// Promotion into the hot cache makes the next read a hot hit.
	_, ok, err := hot.Get(context.Background(), currentKey("AAPL"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetCurrentPriceWeekendHold(t *testing.T) {
	// Saturday; the Friday close is as fresh as data can get.
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	clock := common.NewFakeClock(saturday)
	store := &fakePriceStore{}
	hot := newFakeHotCache()
	provider := &fakeProvider{}
	svc := newTestService(store, hot, provider, NewRateLimiter(5, 0, clock), clock)

	friday := quote("AAPL", "152.00", time.Date(2026, 3, 6, 21, 0, 0, 0, time.UTC))
	require.NoError(t, store.Upsert(context.Background(), []models.PricePoint{*friday}))

	p, err := svc.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceWarmStore, p.Source)
	assert.False(t, p.Stale)

	cc, _ := provider.calls()
	assert.Zero(t, cc)
}

func TestGetCurrentPriceProviderFetch(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	hot := newFakeHotCache()
	provider := &fakeProvider{
		currentFn: func(ticker models.Ticker) (*models.PricePoint, error) {
			return quote(ticker, "153.00", mondayOpen), nil
		},
	}
	svc := newTestService(store, hot, provider, NewRateLimiter(5, 0, clock), clock)

	p, err := svc.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceProvider, p.Source)

	// The fetch is written through to the warm store.
	stored, err := store.GetLatest(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Price.Equal(models.MustMoney("153.00", "USD")))
}

func TestGetCurrentPriceTransientRetry(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	hot := newFakeHotCache()

	attempts := 0
	provider := &fakeProvider{}
	provider.currentFn = func(ticker models.Ticker) (*models.PricePoint, error) {
		attempts++
		if attempts == 1 {
			return nil, models.NewError(models.KindTransient, "connection reset")
		}
		return quote(ticker, "154.00", mondayOpen), nil
	}
	svc := newTestService(store, hot, provider, NewRateLimiter(5, 0, clock), clock)

	p, err := svc.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.True(t, p.Price.Equal(models.MustMoney("154.00", "USD")))
}

func TestGetCurrentPriceStaleFallback(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	hot := newFakeHotCache()
	provider := &fakeProvider{}

	// Daily budget already spent: the engine must not call the provider.
	limiter := NewRateLimiter(5, 1, clock)
	require.True(t, limiter.TryAcquire())

	stale := quote("AAPL", "149.00", mondayOpen.AddDate(0, 0, -1))
	require.NoError(t, store.Upsert(context.Background(), []models.PricePoint{*stale}))

	svc := newTestService(store, hot, provider, limiter, clock)
	p, err := svc.GetCurrentPrice(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.SourceStale, p.Source)
	assert.True(t, p.Stale)

	cc, _ := provider.calls()
	assert.Zero(t, cc)
}

func TestGetCurrentPriceSingleFlight(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	hot := newFakeHotCache()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	provider := &fakeProvider{}
	provider.currentFn = func(ticker models.Ticker) (*models.PricePoint, error) {
		once.Do(func() { close(entered) })
		<-release
		return quote(ticker, "156.00", mondayOpen), nil
	}
	svc := newTestService(store, hot, provider, NewRateLimiter(5, 0, clock), clock)

	const callers = 8
	type result struct {
		p   *models.PricePoint
		err error
	}
	results := make(chan result, callers)
	for i := 0; i < callers; i++ {
		go func() {
			p, err := svc.GetCurrentPrice(context.Background(), "AAPL")
			results <- result{p, err}
		}()
	}

	// Hold the provider call open until every caller has had time to join
	// the in-flight fetch.
	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < callers; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.True(t, r.p.Price.Equal(models.MustMoney("156.00", "USD")))
	}

	cc, _ := provider.calls()
	assert.Equal(t, 1, cc, "concurrent callers share one provider fetch")
}

func TestGetCurrentPriceUnavailable(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	limiter := NewRateLimiter(5, 1, clock)
	require.True(t, limiter.TryAcquire())

	svc := newTestService(&fakePriceStore{}, newFakeHotCache(), &fakeProvider{}, limiter, clock)
	_, err := svc.GetCurrentPrice(context.Background(), "AAPL")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindMarketDataUnavailable))
}

func TestGetCurrentPriceTickerNotFound(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	provider := &fakeProvider{
		currentFn: func(models.Ticker) (*models.PricePoint, error) {
			return nil, models.NewError(models.KindTickerNotFound, "unknown symbol")
		},
	}
	svc := newTestService(&fakePriceStore{}, newFakeHotCache(), provider, NewRateLimiter(5, 0, clock), clock)

	_, err := svc.GetCurrentPrice(context.Background(), "NOPE")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindTickerNotFound), "definitive answers do not degrade to stale data")
}

func TestGetPriceAtFutureTimestamp(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	svc := newTestService(&fakePriceStore{}, newFakeHotCache(), &fakeProvider{}, NewRateLimiter(5, 0, clock), clock)

	_, err := svc.GetPriceAt(context.Background(), "AAPL", mondayOpen.Add(time.Hour))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestGetPriceAtCoveredByStore(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	provider := &fakeProvider{}
	svc := newTestService(store, newFakeHotCache(), provider, NewRateLimiter(5, 0, clock), clock)

	// Friday close answers a Monday-morning lookup within the lookback bound.
	friday := dailyClose("AAPL", "148.00", time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Upsert(context.Background(), []models.PricePoint{friday}))

	p, err := svc.GetPriceAt(context.Background(), "AAPL", mondayOpen.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(models.MustMoney("148.00", "USD")))

	_, sc := provider.calls()
	assert.Zero(t, sc)
}

func TestGetPriceAtBackfills(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	provider := &fakeProvider{
		seriesFn: func(ticker models.Ticker) ([]models.PricePoint, error) {
			return []models.PricePoint{
				dailyClose(ticker, "140.00", time.Date(2026, 2, 26, 0, 0, 0, 0, time.UTC)),
				dailyClose(ticker, "141.00", time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC)),
			}, nil
		},
	}
	svc := newTestService(store, newFakeHotCache(), provider, NewRateLimiter(5, 0, clock), clock)

	p, err := svc.GetPriceAt(context.Background(), "AAPL", time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(models.MustMoney("141.00", "USD")))

	_, sc := provider.calls()
	assert.Equal(t, 1, sc)
}

func TestGetPriceAtBeyondLookback(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	provider := &fakeProvider{
		seriesFn: func(ticker models.Ticker) ([]models.PricePoint, error) {
			// Provider has nothing near the requested date either.
			return []models.PricePoint{
				dailyClose(ticker, "100.00", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)),
			}, nil
		},
	}
	svc := newTestService(store, newFakeHotCache(), provider, NewRateLimiter(5, 0, clock), clock)

	_, err := svc.GetPriceAt(context.Background(), "AAPL", time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindMarketDataUnavailable))
}

func TestGetPriceAtBudgetExhaustedUnavailable(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	provider := &fakeProvider{}

	// Daily budget already spent and nothing in the warm store: the caller
	// sees unavailable data, not the internal rate-limit state.
	limiter := NewRateLimiter(5, 1, clock)
	require.True(t, limiter.TryAcquire())

	svc := newTestService(&fakePriceStore{}, newFakeHotCache(), provider, limiter, clock)

	_, err := svc.GetPriceAt(context.Background(), "AAPL", mondayOpen.AddDate(0, 0, -3))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindMarketDataUnavailable), "got kind %s", models.KindOf(err))

	_, sc := provider.calls()
	assert.Zero(t, sc)
}

func TestGetPriceHistoryWarmComplete(t *testing.T) {
	// Sunday: the full Mon-Fri week is already stored.
	sunday := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	clock := common.NewFakeClock(sunday)
	store := &fakePriceStore{}
	provider := &fakeProvider{}
	svc := newTestService(store, newFakeHotCache(), provider, NewRateLimiter(5, 0, clock), clock)

	week := []models.PricePoint{
		dailyClose("AAPL", "150.00", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		dailyClose("AAPL", "151.00", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)),
		dailyClose("AAPL", "152.00", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)),
		dailyClose("AAPL", "153.00", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)),
		dailyClose("AAPL", "154.00", time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, store.Upsert(context.Background(), week))

	series, err := svc.GetPriceHistory(context.Background(), "AAPL",
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC),
		models.IntervalDaily)
	require.NoError(t, err)
	assert.Len(t, series, 5)

	_, sc := provider.calls()
	assert.Zero(t, sc, "weekend range with full weekday coverage needs no provider call")
}

func TestGetPriceHistoryBackfillsGaps(t *testing.T) {
	sunday := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	clock := common.NewFakeClock(sunday)
	store := &fakePriceStore{}
	provider := &fakeProvider{
		seriesFn: func(ticker models.Ticker) ([]models.PricePoint, error) {
			return []models.PricePoint{
				dailyClose(ticker, "150.00", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
				dailyClose(ticker, "151.00", time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)),
				dailyClose(ticker, "152.00", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)),
				dailyClose(ticker, "153.00", time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)),
				dailyClose(ticker, "154.00", time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)),
			}, nil
		},
	}
	svc := newTestService(store, newFakeHotCache(), provider, NewRateLimiter(5, 0, clock), clock)

	// Only Monday and Wednesday stored: an interior gap forces a backfill.
	require.NoError(t, store.Upsert(context.Background(), []models.PricePoint{
		dailyClose("AAPL", "150.00", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		dailyClose("AAPL", "152.00", time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)),
	}))

	series, err := svc.GetPriceHistory(context.Background(), "AAPL",
		time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC),
		models.IntervalDaily)
	require.NoError(t, err)
	assert.Len(t, series, 5)

	_, sc := provider.calls()
	assert.Equal(t, 1, sc)
}

func TestGetPriceHistoryInvalidRange(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	svc := newTestService(&fakePriceStore{}, newFakeHotCache(), &fakeProvider{}, NewRateLimiter(5, 0, clock), clock)

	_, err := svc.GetPriceHistory(context.Background(), "AAPL",
		mondayOpen, mondayOpen.Add(-time.Hour), models.IntervalDaily)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestRefreshTickerWritesThrough(t *testing.T) {
	clock := common.NewFakeClock(mondayOpen)
	store := &fakePriceStore{}
	hot := newFakeHotCache()
	provider := &fakeProvider{
		currentFn: func(ticker models.Ticker) (*models.PricePoint, error) {
			return quote(ticker, "155.00", mondayOpen), nil
		},
	}
	svc := newTestService(store, hot, provider, NewRateLimiter(5, 0, clock), clock)

	err := svc.RefreshTicker(context.Background(), "AAPL", time.Now().Add(time.Second))
	require.NoError(t, err)

	stored, err := store.GetLatest(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.Price.Equal(models.MustMoney("155.00", "USD")))

	_, ok, err := hot.Get(context.Background(), currentKey("AAPL"))
	require.NoError(t, err)
	assert.True(t, ok)
}
