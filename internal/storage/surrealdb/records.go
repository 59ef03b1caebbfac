package surrealdb

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/papertrade/internal/models"
)

// Storage records keep their own key fields (portfolio_id, tx_id) because
// SurrealDB reserves the id column for record IDs. Decimal amounts travel as
// strings so the CBOR round-trip stays exact.

type portfolioRecord struct {
	PortfolioID string    `json:"portfolio_id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	Currency    string    `json:"currency"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
}

func toPortfolioRecord(p *models.Portfolio) *portfolioRecord {
	return &portfolioRecord{
		PortfolioID: p.ID,
		OwnerID:     p.OwnerID,
		Name:        p.Name,
		Currency:    p.Currency,
		Version:     p.Version,
		CreatedAt:   p.CreatedAt,
	}
}

func (r *portfolioRecord) toModel() *models.Portfolio {
	return &models.Portfolio{
		ID:        r.PortfolioID,
		OwnerID:   r.OwnerID,
		Name:      r.Name,
		Currency:  r.Currency,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
	}
}

type transactionRecord struct {
	TxID        string    `json:"tx_id"`
	PortfolioID string    `json:"portfolio_id"`
	Kind        string    `json:"kind"`
	Timestamp   time.Time `json:"timestamp"`
	CashAmount  string    `json:"cash_amount"`
	Currency    string    `json:"currency"`
	Ticker      string    `json:"ticker,omitempty"`
	Quantity    int64     `json:"quantity,omitempty"`
	UnitPrice   string    `json:"unit_price,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func toTransactionRecord(tx *models.Transaction) *transactionRecord {
	r := &transactionRecord{
		TxID:        tx.ID,
		PortfolioID: tx.PortfolioID,
		Kind:        string(tx.Kind),
		Timestamp:   tx.Timestamp.UTC(),
		CashAmount:  tx.CashDelta.Amount.String(),
		Currency:    tx.CashDelta.Currency,
		Ticker:      string(tx.Ticker),
		Quantity:    tx.Quantity,
		Notes:       tx.Notes,
		CreatedAt:   tx.CreatedAt.UTC(),
	}
	if tx.UnitPrice != nil {
		r.UnitPrice = tx.UnitPrice.Amount.String()
	}
	return r
}

func (r *transactionRecord) toModel() (*models.Transaction, error) {
	cash, err := decimal.NewFromString(r.CashAmount)
	if err != nil {
		return nil, models.Errorf(models.KindInconsistentLedger, "transaction %s has bad cash amount %q", r.TxID, r.CashAmount)
	}
	tx := &models.Transaction{
		ID:          r.TxID,
		PortfolioID: r.PortfolioID,
		Kind:        models.TransactionKind(r.Kind),
		Timestamp:   r.Timestamp,
		CashDelta:   models.Money{Amount: cash, Currency: r.Currency},
		Ticker:      models.Ticker(r.Ticker),
		Quantity:    r.Quantity,
		Notes:       r.Notes,
		CreatedAt:   r.CreatedAt,
	}
	if r.UnitPrice != "" {
		px, err := decimal.NewFromString(r.UnitPrice)
		if err != nil {
			return nil, models.Errorf(models.KindInconsistentLedger, "transaction %s has bad unit price %q", r.TxID, r.UnitPrice)
		}
		m := models.Money{Amount: px, Currency: r.Currency}
		tx.UnitPrice = &m
	}
	return tx, nil
}

type priceRecord struct {
	Ticker    string    `json:"ticker"`
	Price     string    `json:"price"`
	Currency  string    `json:"currency"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Interval  string    `json:"interval"`
	Open      string    `json:"open,omitempty"`
	High      string    `json:"high,omitempty"`
	Low       string    `json:"low,omitempty"`
	Volume    int64     `json:"volume,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toPriceRecord(p *models.PricePoint) *priceRecord {
	r := &priceRecord{
		Ticker:    string(p.Ticker),
		Price:     p.Price.Amount.String(),
		Currency:  p.Price.Currency,
		Timestamp: p.Timestamp.UTC(),
		Source:    string(p.Source),
		Interval:  string(p.Interval),
		Volume:    p.Volume,
		CreatedAt: p.CreatedAt.UTC(),
	}
	if p.Open != nil {
		r.Open = p.Open.Amount.String()
	}
	if p.High != nil {
		r.High = p.High.Amount.String()
	}
	if p.Low != nil {
		r.Low = p.Low.Amount.String()
	}
	return r
}

func (r *priceRecord) toModel() (*models.PricePoint, error) {
	px, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, models.Errorf(models.KindTransient, "price row %s@%s has bad price %q", r.Ticker, r.Timestamp, r.Price)
	}
	p := &models.PricePoint{
		Ticker:    models.Ticker(r.Ticker),
		Price:     models.Money{Amount: px, Currency: r.Currency},
		Timestamp: r.Timestamp,
		Source:    models.PriceSource(r.Source),
		Interval:  models.PriceInterval(r.Interval),
		Volume:    r.Volume,
		CreatedAt: r.CreatedAt,
	}
	for _, f := range []struct {
		raw  string
		dest **models.Money
	}{{r.Open, &p.Open}, {r.High, &p.High}, {r.Low, &p.Low}} {
		if f.raw == "" {
			continue
		}
		if d, err := decimal.NewFromString(f.raw); err == nil {
			m := models.Money{Amount: d, Currency: r.Currency}
			*f.dest = &m
		}
	}
	return p, nil
}
