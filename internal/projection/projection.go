// Package projection derives portfolio state from the transaction ledger.
// Everything here is a pure fold over an ordered transaction slice: no
// storage, no clock, no I/O. Replaying the same ledger always yields the
// same state.
package projection

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/papertrade/internal/models"
)

// avgCostPlaces is the scale average cost is carried at between trades.
const avgCostPlaces = 4

// Sort orders transactions into canonical replay order: timestamp ascending,
// id ascending as the tiebreaker. Any permutation of the same ledger projects
// identically once sorted.
func Sort(txns []*models.Transaction) {
	sort.Slice(txns, func(i, j int) bool {
		if !txns[i].Timestamp.Equal(txns[j].Timestamp) {
			return txns[i].Timestamp.Before(txns[j].Timestamp)
		}
		return txns[i].ID < txns[j].ID
	})
}

// Cash folds the signed cash deltas of the ledger. currency seeds the zero
// value so an empty ledger still projects a typed zero. A negative running
// balance at any point means the ledger violated the overdraft invariant
// when it was written, so projection fails rather than reporting it.
func Cash(txns []*models.Transaction, currency string) (models.Money, error) {
	total := models.Money{Amount: decimal.Zero, Currency: currency}
	for _, tx := range txns {
		next, err := total.Add(tx.CashDelta)
		if err != nil {
			return models.Money{}, models.WrapError(models.KindInconsistentLedger, "cash projection", err)
		}
		if next.IsNegative() {
			return models.Money{}, models.Errorf(models.KindInconsistentLedger,
				"cash balance goes negative at transaction %s", tx.ID)
		}
		total = next
	}
	return total, nil
}

// position is the mutable accumulator for one ticker during replay.
type position struct {
	quantity int64
	avgCost  decimal.Decimal
}

// Holdings replays the ledger's trades into open positions.
//
// BUY folds into the running average cost, rounded to 4 decimal places with
// banker's rounding. SELL reduces quantity and leaves average cost untouched.
// A position that reaches zero quantity is dropped; a later BUY reopens it
// with a fresh cost basis. A SELL exceeding the held quantity means the
// ledger itself is corrupt and projection fails rather than guessing.
//
// Results are sorted by ticker for deterministic output.
func Holdings(txns []*models.Transaction, currency string) ([]models.Holding, error) {
	positions := make(map[models.Ticker]*position)

	for _, tx := range txns {
		if !tx.Kind.IsTrade() {
			continue
		}
		if tx.UnitPrice == nil {
			return nil, models.Errorf(models.KindInconsistentLedger,
				"trade %s has no unit price", tx.ID)
		}
		if tx.UnitPrice.Currency != currency {
			return nil, models.Errorf(models.KindInconsistentLedger,
				"trade %s priced in %s, portfolio currency is %s", tx.ID, tx.UnitPrice.Currency, currency)
		}

		pos := positions[tx.Ticker]

		switch tx.Kind {
		case models.TxBuy:
			if pos == nil {
				pos = &position{}
				positions[tx.Ticker] = pos
			}
			oldBasis := pos.avgCost.Mul(decimal.NewFromInt(pos.quantity))
			addBasis := tx.UnitPrice.Amount.Mul(decimal.NewFromInt(tx.Quantity))
			newQty := pos.quantity + tx.Quantity
			pos.avgCost = oldBasis.Add(addBasis).
				Div(decimal.NewFromInt(newQty)).
				RoundBank(avgCostPlaces)
			pos.quantity = newQty

		case models.TxSell:
			if pos == nil || pos.quantity < tx.Quantity {
				held := int64(0)
				if pos != nil {
					held = pos.quantity
				}
				return nil, models.Errorf(models.KindInsufficientShares,
					"sell of %d %s exceeds held quantity %d", tx.Quantity, tx.Ticker, held)
			}
			pos.quantity -= tx.Quantity
			if pos.quantity == 0 {
				delete(positions, tx.Ticker)
			}
		}
	}

	holdings := make([]models.Holding, 0, len(positions))
	for ticker, pos := range positions {
		holdings = append(holdings, models.Holding{
			Ticker:      ticker,
			Quantity:    pos.quantity,
			AverageCost: models.Money{Amount: pos.avgCost, Currency: currency},
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Ticker < holdings[j].Ticker })
	return holdings, nil
}

// RealizedPnL sums (sell price - average cost at sale time) x quantity over
// the ledger's sells, replaying positions the same way Holdings does.
func RealizedPnL(txns []*models.Transaction, currency string) (models.Money, error) {
	positions := make(map[models.Ticker]*position)
	realized := decimal.Zero

	for _, tx := range txns {
		if !tx.Kind.IsTrade() {
			continue
		}
		if tx.UnitPrice == nil {
			return models.Money{}, models.Errorf(models.KindInconsistentLedger,
				"trade %s has no unit price", tx.ID)
		}

		pos := positions[tx.Ticker]

		switch tx.Kind {
		case models.TxBuy:
			if pos == nil {
				pos = &position{}
				positions[tx.Ticker] = pos
			}
			oldBasis := pos.avgCost.Mul(decimal.NewFromInt(pos.quantity))
			addBasis := tx.UnitPrice.Amount.Mul(decimal.NewFromInt(tx.Quantity))
			newQty := pos.quantity + tx.Quantity
			pos.avgCost = oldBasis.Add(addBasis).
				Div(decimal.NewFromInt(newQty)).
				RoundBank(avgCostPlaces)
			pos.quantity = newQty

		case models.TxSell:
			if pos == nil || pos.quantity < tx.Quantity {
				held := int64(0)
				if pos != nil {
					held = pos.quantity
				}
				return models.Money{}, models.Errorf(models.KindInsufficientShares,
					"sell of %d %s exceeds held quantity %d", tx.Quantity, tx.Ticker, held)
			}
			gain := tx.UnitPrice.Amount.Sub(pos.avgCost).Mul(decimal.NewFromInt(tx.Quantity))
			realized = realized.Add(gain)
			pos.quantity -= tx.Quantity
			if pos.quantity == 0 {
				delete(positions, tx.Ticker)
			}
		}
	}

	return models.Money{Amount: realized, Currency: currency}, nil
}

// PriceFunc resolves a price for a ticker during valuation.
type PriceFunc func(ticker models.Ticker) (models.Money, error)

// Valuate projects cash and holdings from the ledger, prices each open
// position through priceOf, and assembles the full valuation. priceOf is
// called once per distinct held ticker.
//
// total_value = cash + sum(market values); unrealized P/L per holding is
// (price - average cost) x quantity.
func Valuate(portfolio *models.Portfolio, txns []*models.Transaction, asOf time.Time, priceOf PriceFunc) (*models.PortfolioValuation, error) {
	cash, err := Cash(txns, portfolio.Currency)
	if err != nil {
		return nil, err
	}
	holdings, err := Holdings(txns, portfolio.Currency)
	if err != nil {
		return nil, err
	}

	total := cash.Amount
	valued := make([]models.HoldingValuation, 0, len(holdings))
	for _, h := range holdings {
		price, err := priceOf(h.Ticker)
		if err != nil {
			return nil, err
		}
		if price.Currency != portfolio.Currency {
			return nil, models.Errorf(models.KindInvalidArgument,
				"price for %s in %s, portfolio currency is %s", h.Ticker, price.Currency, portfolio.Currency)
		}
		qty := decimal.NewFromInt(h.Quantity)
		market := price.Amount.Mul(qty)
		pnl := price.Amount.Sub(h.AverageCost.Amount).Mul(qty)
		valued = append(valued, models.HoldingValuation{
			Holding:       h,
			Price:         price,
			MarketValue:   models.Money{Amount: market, Currency: portfolio.Currency},
			UnrealizedPnL: models.Money{Amount: pnl, Currency: portfolio.Currency},
		})
		total = total.Add(market)
	}

	return &models.PortfolioValuation{
		PortfolioID: portfolio.ID,
		AsOf:        asOf,
		Cash:        cash,
		Holdings:    valued,
		TotalValue:  models.Money{Amount: total, Currency: portfolio.Currency},
	}, nil
}
