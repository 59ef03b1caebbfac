package models

import (
	"time"
)

// TransactionKind categorizes ledger entries.
type TransactionKind string

const (
	TxDeposit  TransactionKind = "deposit"
	TxWithdraw TransactionKind = "withdraw"
	TxBuy      TransactionKind = "buy"
	TxSell     TransactionKind = "sell"
)

// validTransactionKinds lists all accepted transaction kinds.
var validTransactionKinds = map[TransactionKind]bool{
	TxDeposit:  true,
	TxWithdraw: true,
	TxBuy:      true,
	TxSell:     true,
}

// ValidTransactionKind returns true if k is a valid transaction kind.
func ValidTransactionKind(k TransactionKind) bool {
	return validTransactionKinds[k]
}

// IsTrade returns true for BUY and SELL kinds.
func (k TransactionKind) IsTrade() bool {
	return k == TxBuy || k == TxSell
}

// Portfolio is a paper-trading account. It holds no balance fields; cash,
// holdings, and valuations are projected from the transaction ledger.
// Version is bumped on every transaction append for optimistic concurrency.
type Portfolio struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Currency  string    `json:"currency"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is an immutable ledger entry. Once written it is never updated
// or deleted; the ordered set of transactions is the system of record.
type Transaction struct {
	ID          string          `json:"id"`
	PortfolioID string          `json:"portfolio_id"`
	Kind        TransactionKind `json:"kind"`
	// Timestamp is the effective trading time (UTC). It may be historical
	// for backtests but never in the future at write time.
	Timestamp time.Time `json:"timestamp"`
	// CashDelta is signed: negative means cash leaves the portfolio.
	CashDelta Money  `json:"cash_delta"`
	Ticker    Ticker `json:"ticker,omitempty"`
	Quantity  int64  `json:"quantity,omitempty"`
	UnitPrice *Money `json:"unit_price,omitempty"`
	Notes     string `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the per-kind field invariants:
//   - DEPOSIT/WITHDRAW carry no ticker/quantity/unit price and the cash
//     delta sign matches the kind.
//   - BUY: cash_delta = -(quantity × unit_price), quantity ≥ 1.
//   - SELL: cash_delta = +(quantity × unit_price), quantity ≥ 1.
func (t *Transaction) Validate() error {
	if !ValidTransactionKind(t.Kind) {
		return Errorf(KindInvalidArgument, "invalid transaction kind %q", t.Kind)
	}
	if t.Timestamp.IsZero() {
		return NewError(KindInvalidArgument, "transaction timestamp is required")
	}
	if t.CashDelta.Currency == "" {
		return NewError(KindInvalidArgument, "transaction cash delta currency is required")
	}

	switch t.Kind {
	case TxDeposit, TxWithdraw:
		if t.Ticker != "" || t.Quantity != 0 || t.UnitPrice != nil {
			return Errorf(KindInvalidArgument, "%s transaction must not carry ticker, quantity, or unit price", t.Kind)
		}
		if t.Kind == TxDeposit && !t.CashDelta.IsPositive() {
			return NewError(KindInvalidArgument, "deposit cash delta must be positive")
		}
		if t.Kind == TxWithdraw && !t.CashDelta.IsNegative() {
			return NewError(KindInvalidArgument, "withdraw cash delta must be negative")
		}

	case TxBuy, TxSell:
		if t.Ticker == "" || t.UnitPrice == nil {
			return Errorf(KindInvalidArgument, "%s transaction requires ticker and unit price", t.Kind)
		}
		if t.Quantity < 1 {
			return Errorf(KindInvalidArgument, "%s quantity must be >= 1, got %d", t.Kind, t.Quantity)
		}
		if !t.UnitPrice.IsPositive() {
			return Errorf(KindInvalidArgument, "%s unit price must be positive", t.Kind)
		}
		if t.UnitPrice.Currency != t.CashDelta.Currency {
			return Errorf(KindInvalidArgument, "unit price currency %s does not match cash delta currency %s",
				t.UnitPrice.Currency, t.CashDelta.Currency)
		}

		gross := t.UnitPrice.MulInt(t.Quantity)
		want := gross
		if t.Kind == TxBuy {
			want = gross.Neg()
		}
		if !t.CashDelta.Equal(want) {
			return Errorf(KindInvalidArgument, "%s cash delta %s does not equal %s", t.Kind, t.CashDelta, want)
		}
	}

	return nil
}

// Holding is a derived position: never stored, always projected from the
// ledger.
type Holding struct {
	Ticker      Ticker `json:"ticker"`
	Quantity    int64  `json:"quantity"`
	AverageCost Money  `json:"average_cost"`
}

// HoldingValuation is a Holding priced at a point in time.
type HoldingValuation struct {
	Holding
	Price         Money `json:"price"`
	MarketValue   Money `json:"market_value"`
	UnrealizedPnL Money `json:"unrealized_pnl"`
}

// PortfolioValuation is the full derived state of a portfolio at a point in
// time.
type PortfolioValuation struct {
	PortfolioID string             `json:"portfolio_id"`
	AsOf        time.Time          `json:"as_of"`
	Cash        Money              `json:"cash"`
	Holdings    []HoldingValuation `json:"holdings"`
	TotalValue  Money              `json:"total_value"`
}
