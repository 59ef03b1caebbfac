package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// tickerLedger stubs the single LedgerStore method the refresher uses.
type tickerLedger struct {
	interfaces.LedgerStore
	tickers []models.Ticker
	err     error
}

func (l *tickerLedger) ListActiveTickers(context.Context, time.Duration) ([]models.Ticker, error) {
	return l.tickers, l.err
}

type fakeRefresher struct {
	mu      sync.Mutex
	calls   []models.Ticker
	fail    map[models.Ticker]error
	block   chan struct{} // when set, RefreshTicker waits until closed
	started chan struct{}
}

func (r *fakeRefresher) RefreshTicker(_ context.Context, ticker models.Ticker, _ time.Time) error {
	r.mu.Lock()
	r.calls = append(r.calls, ticker)
	fail := r.fail[ticker]
	block := r.block
	started := r.started
	r.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	return fail
}

func (r *fakeRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var runStart = time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)

func newTestService(ledger *tickerLedger, refresher *fakeRefresher) *Service {
	return NewService(ledger, refresher, "0 22 * * *", 30*24*time.Hour, common.NewSilentLogger(), common.NewFakeClock(runStart))
}

func TestRunOnce(t *testing.T) {
	ledger := &tickerLedger{tickers: []models.Ticker{"AAPL", "MSFT"}}
	refresher := &fakeRefresher{}
	svc := newTestService(ledger, refresher)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Equal(t, 2, refresher.callCount())

	status := svc.Status()
	assert.Equal(t, runStart, status.LastRunAt)
	assert.Zero(t, status.LastRunErrors)
	assert.Contains(t, status.LastSuccessAt, models.Ticker("AAPL"))
	assert.Contains(t, status.LastSuccessAt, models.Ticker("MSFT"))
}

func TestRunOnceCountsErrors(t *testing.T) {
	ledger := &tickerLedger{tickers: []models.Ticker{"AAPL", "MSFT", "GOOG"}}
	refresher := &fakeRefresher{
		fail: map[models.Ticker]error{
			"MSFT": models.NewError(models.KindRateLimited, "budget exhausted"),
		},
	}
	svc := newTestService(ledger, refresher)

	require.NoError(t, svc.RunOnce(context.Background()))
	assert.Equal(t, 3, refresher.callCount(), "one failure does not stop the cycle")

	status := svc.Status()
	assert.Equal(t, 1, status.LastRunErrors)
	assert.NotContains(t, status.LastSuccessAt, models.Ticker("MSFT"))
	assert.Contains(t, status.LastSuccessAt, models.Ticker("GOOG"))
}

func TestRunOnceEmptyTickers(t *testing.T) {
	svc := newTestService(&tickerLedger{}, &fakeRefresher{})

	require.NoError(t, svc.RunOnce(context.Background()))
	status := svc.Status()
	assert.Equal(t, runStart, status.LastRunAt)
	assert.Zero(t, status.LastRunErrors)
}

func TestRunOnceLedgerError(t *testing.T) {
	ledger := &tickerLedger{err: models.NewError(models.KindTransient, "db down")}
	svc := newTestService(ledger, &fakeRefresher{})

	err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, svc.Status().LastRunErrors)
}

func TestRunOnceRejectsConcurrent(t *testing.T) {
	ledger := &tickerLedger{tickers: []models.Ticker{"AAPL"}}
	refresher := &fakeRefresher{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	svc := newTestService(ledger, refresher)

	done := make(chan error, 1)
	go func() { done <- svc.RunOnce(context.Background()) }()

	// Wait for the first cycle to be inside RefreshTicker.
	select {
	case <-refresher.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never started")
	}

	err := svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict))

	close(refresher.block)
	require.NoError(t, <-done)
}

func TestStatusReturnsCopy(t *testing.T) {
	ledger := &tickerLedger{tickers: []models.Ticker{"AAPL"}}
	svc := newTestService(ledger, &fakeRefresher{})
	require.NoError(t, svc.RunOnce(context.Background()))

	status := svc.Status()
	status.LastSuccessAt["INJECTED"] = time.Now()

	assert.NotContains(t, svc.Status().LastSuccessAt, models.Ticker("INJECTED"))
}

func TestStartInvalidCron(t *testing.T) {
	svc := NewService(&tickerLedger{}, &fakeRefresher{}, "not a cron spec", time.Hour, common.NewSilentLogger(), nil)

	err := svc.Start()
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}

func TestStartTwice(t *testing.T) {
	svc := NewService(&tickerLedger{}, &fakeRefresher{}, "0 22 * * *", time.Hour, common.NewSilentLogger(), nil)

	require.NoError(t, svc.Start())
	defer svc.Stop()

	err := svc.Start()
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindConflict))
}
