// Package trading owns portfolio lifecycle and every ledger write. All
// mutations are appended as immutable transactions under optimistic
// concurrency; derived state (cash, holdings, valuations) is projected from
// the ledger on read, never stored.
package trading

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
	"github.com/bobmcallan/papertrade/internal/projection"
)

const (
	// maxCommitAttempts bounds optimistic-lock retries before surfacing
	// the conflict to the caller.
	maxCommitAttempts = 3

	backoffMin = 20 * time.Millisecond
	backoffMax = 200 * time.Millisecond
)

// Service implements interfaces.TradingService.
type Service struct {
	ledger     interfaces.LedgerStore
	marketData interfaces.MarketDataService
	logger     *common.Logger
	clock      common.Clock
}

// NewService creates the trading service.
func NewService(ledger interfaces.LedgerStore, marketData interfaces.MarketDataService, logger *common.Logger, clock common.Clock) *Service {
	if clock == nil {
		clock = common.RealClock{}
	}
	return &Service{
		ledger:     ledger,
		marketData: marketData,
		logger:     logger,
		clock:      clock,
	}
}

// CreatePortfolio creates the portfolio row and its opening deposit in one
// atomic write.
func (s *Service) CreatePortfolio(ctx context.Context, ownerID, name, currency string, openingBalance models.Money) (*models.Portfolio, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, models.NewError(models.KindInvalidArgument, "owner id is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, models.NewError(models.KindInvalidArgument, "portfolio name is required")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return nil, models.Errorf(models.KindInvalidArgument, "invalid currency %q", currency)
	}
	if openingBalance.Currency != currency {
		return nil, models.Errorf(models.KindInvalidArgument,
			"opening balance currency %s does not match portfolio currency %s", openingBalance.Currency, currency)
	}
	if !openingBalance.IsPositive() {
		return nil, models.NewError(models.KindInvalidArgument, "opening balance must be positive")
	}

	now := s.clock.Now().UTC()
	portfolio := &models.Portfolio{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(name),
		Currency:  currency,
		Version:   1,
		CreatedAt: now,
	}
	opening := &models.Transaction{
		ID:          uuid.New().String(),
		PortfolioID: portfolio.ID,
		Kind:        models.TxDeposit,
		Timestamp:   now,
		CashDelta:   openingBalance,
		Notes:       "opening balance",
		CreatedAt:   now,
	}
	if err := opening.Validate(); err != nil {
		return nil, err
	}

	if err := s.ledger.CreatePortfolio(ctx, portfolio, opening); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("portfolio", portfolio.ID).
		Str("owner", ownerID).
		Str("opening_balance", openingBalance.String()).
		Msg("Portfolio created")
	return portfolio, nil
}

func (s *Service) GetPortfolio(ctx context.Context, id string) (*models.Portfolio, error) {
	return s.ledger.GetPortfolio(ctx, id)
}

func (s *Service) ListPortfolios(ctx context.Context, ownerID string) ([]*models.Portfolio, error) {
	return s.ledger.ListPortfolios(ctx, ownerID)
}

// GetPortfolioState projects the full valuation. A nil asOf values the
// portfolio now with current prices; a historical asOf replays the ledger
// prefix and prices holdings at that instant.
func (s *Service) GetPortfolioState(ctx context.Context, id string, asOf *time.Time) (*models.PortfolioValuation, error) {
	portfolio, err := s.ledger.GetPortfolio(ctx, id)
	if err != nil {
		return nil, err
	}

	effective := s.clock.Now().UTC()
	historical := false
	if asOf != nil {
		effective = asOf.UTC()
		historical = true
		if effective.After(s.clock.Now().UTC()) {
			return nil, models.NewError(models.KindInvalidArgument, "as_of is in the future")
		}
	}

	txns, err := s.ledger.TransactionsAtOrBefore(ctx, id, effective)
	if err != nil {
		return nil, err
	}
	projection.Sort(txns)

	priceOf := func(ticker models.Ticker) (models.Money, error) {
		var p *models.PricePoint
		var err error
		if historical {
			p, err = s.marketData.GetPriceAt(ctx, ticker, effective)
		} else {
			p, err = s.marketData.GetCurrentPrice(ctx, ticker)
		}
		if err != nil {
			return models.Money{}, err
		}
		return p.Price, nil
	}

	return projection.Valuate(portfolio, txns, effective, priceOf)
}

func (s *Service) ListTransactions(ctx context.Context, portfolioID string, filter interfaces.TransactionFilter) ([]*models.Transaction, error) {
	if _, err := s.ledger.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, portfolioID, filter)
}

// Deposit appends a positive cash movement.
func (s *Service) Deposit(ctx context.Context, portfolioID string, amount models.Money, notes string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, models.NewError(models.KindInvalidArgument, "deposit amount must be positive")
	}

	return s.commitWithRetry(ctx, portfolioID, func(portfolio *models.Portfolio, txns []*models.Transaction, now time.Time) (*models.Transaction, error) {
		if amount.Currency != portfolio.Currency {
			return nil, models.Errorf(models.KindInvalidArgument,
				"deposit currency %s does not match portfolio currency %s", amount.Currency, portfolio.Currency)
		}
		return &models.Transaction{
			ID:          uuid.New().String(),
			PortfolioID: portfolio.ID,
			Kind:        models.TxDeposit,
			Timestamp:   now,
			CashDelta:   amount,
			Notes:       notes,
			CreatedAt:   now,
		}, nil
	})
}

// Withdraw appends a negative cash movement after checking projected cash.
func (s *Service) Withdraw(ctx context.Context, portfolioID string, amount models.Money, notes string) (*models.Transaction, error) {
	if !amount.IsPositive() {
		return nil, models.NewError(models.KindInvalidArgument, "withdrawal amount must be positive")
	}

	return s.commitWithRetry(ctx, portfolioID, func(portfolio *models.Portfolio, txns []*models.Transaction, now time.Time) (*models.Transaction, error) {
		if amount.Currency != portfolio.Currency {
			return nil, models.Errorf(models.KindInvalidArgument,
				"withdrawal currency %s does not match portfolio currency %s", amount.Currency, portfolio.Currency)
		}
		cash, err := projection.Cash(txns, portfolio.Currency)
		if err != nil {
			return nil, err
		}
		cmp, err := cash.Cmp(amount)
		if err != nil {
			return nil, err
		}
		if cmp < 0 {
			return nil, models.Errorf(models.KindInsufficientFunds,
				"cash %s is less than withdrawal %s", cash, amount)
		}
		return &models.Transaction{
			ID:          uuid.New().String(),
			PortfolioID: portfolio.ID,
			Kind:        models.TxWithdraw,
			Timestamp:   now,
			CashDelta:   amount.Neg(),
			Notes:       notes,
			CreatedAt:   now,
		}, nil
	})
}

// ExecuteBuy prices the order, checks projected cash, and appends the trade.
func (s *Service) ExecuteBuy(ctx context.Context, portfolioID string, ticker models.Ticker, quantity int64, asOf *time.Time, notes string) (*models.Transaction, error) {
	return s.executeTrade(ctx, portfolioID, models.TxBuy, ticker, quantity, asOf, notes)
}

// ExecuteSell prices the order, checks projected shares, and appends the trade.
func (s *Service) ExecuteSell(ctx context.Context, portfolioID string, ticker models.Ticker, quantity int64, asOf *time.Time, notes string) (*models.Transaction, error) {
	return s.executeTrade(ctx, portfolioID, models.TxSell, ticker, quantity, asOf, notes)
}

func (s *Service) executeTrade(ctx context.Context, portfolioID string, kind models.TransactionKind, ticker models.Ticker, quantity int64, asOf *time.Time, notes string) (*models.Transaction, error) {
	if quantity < 1 {
		return nil, models.Errorf(models.KindInvalidArgument, "quantity must be >= 1, got %d", quantity)
	}
	parsed, err := models.ParseTicker(string(ticker))
	if err != nil {
		return nil, err
	}
	ticker = parsed

	now := s.clock.Now().UTC()
	effective := now
	if asOf != nil {
		effective = asOf.UTC()
		if effective.After(now) {
			return nil, models.NewError(models.KindInvalidArgument, "as_of is in the future")
		}
	}

	// Price resolution happens once; the optimistic-retry loop below only
	// re-reads ledger state, not the market.
	var price *models.PricePoint
	if asOf == nil {
		price, err = s.marketData.GetCurrentPrice(ctx, ticker)
	} else {
		price, err = s.marketData.GetPriceAt(ctx, ticker, effective)
	}
	if err != nil {
		return nil, err
	}

	return s.commitWithRetryAt(ctx, portfolioID, effective, func(portfolio *models.Portfolio, txns []*models.Transaction, _ time.Time) (*models.Transaction, error) {
		if price.Price.Currency != portfolio.Currency {
			return nil, models.Errorf(models.KindInvalidArgument,
				"price currency %s does not match portfolio currency %s", price.Price.Currency, portfolio.Currency)
		}

		gross := price.Price.MulInt(quantity)

		switch kind {
		case models.TxBuy:
			cash, err := projection.Cash(txns, portfolio.Currency)
			if err != nil {
				return nil, err
			}
			cmp, err := cash.Cmp(gross)
			if err != nil {
				return nil, err
			}
			if cmp < 0 {
				return nil, models.Errorf(models.KindInsufficientFunds,
					"cash %s is less than cost %s", cash, gross)
			}

		case models.TxSell:
			holdings, err := projection.Holdings(txns, portfolio.Currency)
			if err != nil {
				return nil, err
			}
			var held int64
			for _, h := range holdings {
				if h.Ticker == ticker {
					held = h.Quantity
					break
				}
			}
			if held < quantity {
				return nil, models.Errorf(models.KindInsufficientShares,
					"holding %d %s, cannot sell %d", held, ticker, quantity)
			}
		}

		cashDelta := gross
		if kind == models.TxBuy {
			cashDelta = gross.Neg()
		}
		unitPrice := price.Price
		tx := &models.Transaction{
			ID:          uuid.New().String(),
			PortfolioID: portfolio.ID,
			Kind:        kind,
			Timestamp:   effective,
			CashDelta:   cashDelta,
			Ticker:      ticker,
			Quantity:    quantity,
			UnitPrice:   &unitPrice,
			Notes:       notes,
			CreatedAt:   s.clock.Now().UTC(),
		}
		return tx, nil
	})
}

// buildTxFunc validates against projected state and constructs the
// transaction to append. It runs once per commit attempt against freshly
// loaded state.
type buildTxFunc func(portfolio *models.Portfolio, txns []*models.Transaction, now time.Time) (*models.Transaction, error)

func (s *Service) commitWithRetry(ctx context.Context, portfolioID string, build buildTxFunc) (*models.Transaction, error) {
	return s.commitWithRetryAt(ctx, portfolioID, s.clock.Now().UTC(), build)
}

// commitWithRetryAt runs the load-validate-append loop. On a version
// conflict it reloads and revalidates, because the competing write may have
// consumed the cash or shares this transaction depends on.
func (s *Service) commitWithRetryAt(ctx context.Context, portfolioID string, effective time.Time, build buildTxFunc) (*models.Transaction, error) {
	var lastErr error
	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		portfolio, err := s.ledger.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return nil, err
		}

		txns, err := s.ledger.TransactionsAtOrBefore(ctx, portfolioID, effective)
		if err != nil {
			return nil, err
		}
		projection.Sort(txns)

		tx, err := build(portfolio, txns, effective)
		if err != nil {
			return nil, err
		}
		if err := tx.Validate(); err != nil {
			return nil, err
		}

		if _, err := s.ledger.AppendTransactions(ctx, portfolioID, portfolio.Version, []*models.Transaction{tx}); err != nil {
			if models.IsKind(err, models.KindConflict) && attempt < maxCommitAttempts {
				lastErr = err
				s.logger.Debug().
					Str("portfolio", portfolioID).
					Int("attempt", attempt).
					Msg("version conflict, retrying commit")
				select {
				case <-time.After(jitterBackoff()):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				continue
			}
			return nil, err
		}

		s.logger.Info().
			Str("portfolio", portfolioID).
			Str("kind", string(tx.Kind)).
			Str("cash_delta", tx.CashDelta.String()).
			Msg("Transaction committed")
		return tx, nil
	}
	return nil, models.WrapError(models.KindConflict, "commit retries exhausted", lastErr)
}

func jitterBackoff() time.Duration {
	return backoffMin + time.Duration(rand.Int63n(int64(backoffMax-backoffMin)))
}

// Compile-time check
var _ interfaces.TradingService = (*Service)(nil)
