// Package refresh runs the scheduled price refresher: on each cron tick it
// lists the actively traded tickers and pulls a fresh quote for each,
// pacing itself against the provider budget so interactive requests still
// have tokens left.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// deadlineMargin is held back from the next tick so a slow cycle finishes
// before the following one starts.
const deadlineMargin = 5 * time.Minute

// PriceRefresher is the slice of the market-data engine the refresher needs.
type PriceRefresher interface {
	RefreshTicker(ctx context.Context, ticker models.Ticker, deadline time.Time) error
}

// Service implements interfaces.RefreshService on a cron schedule.
type Service struct {
	ledger    interfaces.LedgerStore
	refresher PriceRefresher
	logger    *common.Logger
	clock     common.Clock

	cronSpec string
	window   time.Duration
	cron     *cron.Cron
	entryID  cron.EntryID

	// runMu serializes cycles; a tick that fires while one is running is
	// skipped, not queued.
	runMu sync.Mutex

	statusMu sync.Mutex
	status   models.RefreshStatus
}

// NewService creates the refresher. cronSpec is a standard 5-field cron
// expression; window is the active-ticker lookback.
func NewService(ledger interfaces.LedgerStore, refresher PriceRefresher, cronSpec string, window time.Duration, logger *common.Logger, clock common.Clock) *Service {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Service{
		ledger:    ledger,
		refresher: refresher,
		logger:    logger,
		clock:     clock,
		cronSpec:  cronSpec,
		window:    window,
		status: models.RefreshStatus{
			LastSuccessAt: make(map[models.Ticker]time.Time),
		},
	}
}

// Start registers the cron job and begins scheduling.
func (s *Service) Start() error {
	if s.cron != nil {
		return models.NewError(models.KindConflict, "refresher already started")
	}
	c := cron.New()
	id, err := c.AddFunc(s.cronSpec, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			if models.IsKind(err, models.KindConflict) {
				s.logger.Warn().Msg("refresh tick skipped, previous cycle still running")
				return
			}
			s.logger.Error().Err(err).Msg("refresh cycle failed")
		}
	})
	if err != nil {
		return models.WrapError(models.KindInvalidArgument, "invalid cron expression", err)
	}
	s.cron = c
	s.entryID = id
	c.Start()

	s.logger.Info().Str("schedule", s.cronSpec).Msg("Price refresher started")
	return nil
}

// Stop halts scheduling. A cycle already in flight runs to completion.
func (s *Service) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.logger.Info().Msg("Price refresher stopped")
	}
}

// RunOnce executes one refresh cycle. Concurrent cycles are rejected.
func (s *Service) RunOnce(ctx context.Context) error {
	if !s.runMu.TryLock() {
		return models.NewError(models.KindConflict, "refresh cycle already running")
	}
	defer s.runMu.Unlock()

	started := s.clock.Now().UTC()
	deadline := s.cycleDeadline(started)

	tickers, err := s.ledger.ListActiveTickers(ctx, s.window)
	if err != nil {
		s.recordRun(started, 1, nil)
		return err
	}
	if len(tickers) == 0 {
		s.recordRun(started, 0, nil)
		s.logger.Debug().Msg("refresh cycle found no active tickers")
		return nil
	}

	errCount := 0
	succeeded := make(map[models.Ticker]time.Time, len(tickers))
	for _, ticker := range tickers {
		if s.clock.Now().After(deadline) {
			s.logger.Warn().
				Int("remaining", len(tickers)-len(succeeded)-errCount).
				Msg("refresh cycle hit deadline, deferring rest to next tick")
			break
		}
		if err := s.refresher.RefreshTicker(ctx, ticker, deadline); err != nil {
			errCount++
			s.logger.Warn().Err(err).Str("ticker", string(ticker)).Msg("ticker refresh failed")
			continue
		}
		succeeded[ticker] = s.clock.Now().UTC()
	}

	s.recordRun(started, errCount, succeeded)
	s.logger.Info().
		Int("tickers", len(tickers)).
		Int("errors", errCount).
		Msg("Refresh cycle complete")
	return nil
}

// Status reports the last cycle's outcome.
func (s *Service) Status() models.RefreshStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	out := models.RefreshStatus{
		LastRunAt:     s.status.LastRunAt,
		LastRunErrors: s.status.LastRunErrors,
		LastSuccessAt: make(map[models.Ticker]time.Time, len(s.status.LastSuccessAt)),
	}
	for k, v := range s.status.LastSuccessAt {
		out.LastSuccessAt[k] = v
	}
	return out
}

// cycleDeadline leaves deadlineMargin before the next scheduled tick. When
// the scheduler is not running (manual RunOnce) a fixed budget applies.
func (s *Service) cycleDeadline(started time.Time) time.Time {
	if s.cron != nil {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() && next.After(started.Add(deadlineMargin)) {
			return next.Add(-deadlineMargin)
		}
	}
	return started.Add(10 * time.Minute)
}

func (s *Service) recordRun(started time.Time, errCount int, succeeded map[models.Ticker]time.Time) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.status.LastRunAt = started
	s.status.LastRunErrors = errCount
	for k, v := range succeeded {
		s.status.LastSuccessAt[k] = v
	}
}

// Compile-time check
var _ interfaces.RefreshService = (*Service)(nil)
