package projection

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/papertrade/internal/models"
)

var txTime = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func deposit(id, amount string) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		PortfolioID: "p-1",
		Kind:        models.TxDeposit,
		Timestamp:   txTime,
		CashDelta:   models.MustMoney(amount, "USD"),
	}
}

func withdraw(id, amount string) *models.Transaction {
	return &models.Transaction{
		ID:          id,
		PortfolioID: "p-1",
		Kind:        models.TxWithdraw,
		Timestamp:   txTime,
		CashDelta:   models.MustMoney(amount, "USD").Neg(),
	}
}

func buy(id string, ticker models.Ticker, qty int64, price string) *models.Transaction {
	px := models.MustMoney(price, "USD")
	return &models.Transaction{
		ID:          id,
		PortfolioID: "p-1",
		Kind:        models.TxBuy,
		Timestamp:   txTime,
		CashDelta:   px.MulInt(qty).Neg(),
		Ticker:      ticker,
		Quantity:    qty,
		UnitPrice:   &px,
	}
}

func sell(id string, ticker models.Ticker, qty int64, price string) *models.Transaction {
	px := models.MustMoney(price, "USD")
	return &models.Transaction{
		ID:          id,
		PortfolioID: "p-1",
		Kind:        models.TxSell,
		Timestamp:   txTime,
		CashDelta:   px.MulInt(qty),
		Ticker:      ticker,
		Quantity:    qty,
		UnitPrice:   &px,
	}
}

func TestCashFold(t *testing.T) {
	txns := []*models.Transaction{
		deposit("t1", "10000"),
		buy("t2", "AAPL", 10, "150.00"),
		withdraw("t3", "500"),
		sell("t4", "AAPL", 5, "160.00"),
	}

	cash, err := Cash(txns, "USD")
	require.NoError(t, err)
	// 10000 - 1500 - 500 + 800
	assert.True(t, cash.Equal(models.MustMoney("8800", "USD")))
}

func TestCashEmptyLedger(t *testing.T) {
	cash, err := Cash(nil, "USD")
	require.NoError(t, err)
	assert.True(t, cash.IsZero())
	assert.Equal(t, "USD", cash.Currency)
}

func TestCashNegativeBalanceFails(t *testing.T) {
	txns := []*models.Transaction{
		deposit("t1", "100"),
		withdraw("t2", "200"),
	}

	_, err := Cash(txns, "USD")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInconsistentLedger))
}

func TestHoldingsAverageCost(t *testing.T) {
	txns := []*models.Transaction{
		deposit("t1", "100000"),
		buy("t2", "AAPL", 10, "150.00"),
		buy("t3", "AAPL", 5, "160.00"),
	}

	holdings, err := Holdings(txns, "USD")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, models.Ticker("AAPL"), holdings[0].Ticker)
	assert.Equal(t, int64(15), holdings[0].Quantity)
	// (10*150 + 5*160) / 15 = 153.3333 at 4 places, banker's rounding.
	assert.True(t, holdings[0].AverageCost.Amount.Equal(decimal.RequireFromString("153.3333")),
		"got %s", holdings[0].AverageCost.Amount)
}

func TestHoldingsBankersRounding(t *testing.T) {
	// 1 @ 1.0000 then 1 @ 1.0001: basis 2.0001 / 2 = 1.00005, an exact
	// half. Banker's rounding at 4 places resolves to the even 1.0000.
	txns := []*models.Transaction{
		buy("t1", "XYZ", 1, "1.0000"),
		buy("t2", "XYZ", 1, "1.0001"),
	}

	holdings, err := Holdings(txns, "USD")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.True(t, holdings[0].AverageCost.Amount.Equal(decimal.RequireFromString("1.0000")),
		"got %s", holdings[0].AverageCost.Amount)
}

func TestHoldingsSellLeavesAvgCost(t *testing.T) {
	txns := []*models.Transaction{
		buy("t1", "AAPL", 10, "150.00"),
		sell("t2", "AAPL", 4, "170.00"),
	}

	holdings, err := Holdings(txns, "USD")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(6), holdings[0].Quantity)
	assert.True(t, holdings[0].AverageCost.Amount.Equal(decimal.RequireFromString("150")))
}

func TestHoldingsSellToZeroThenReopen(t *testing.T) {
	txns := []*models.Transaction{
		buy("t1", "AAPL", 10, "150.00"),
		sell("t2", "AAPL", 10, "170.00"),
	}

	holdings, err := Holdings(txns, "USD")
	require.NoError(t, err)
	assert.Empty(t, holdings)

	// A later buy starts a fresh cost basis.
	txns = append(txns, buy("t3", "AAPL", 2, "200.00"))
	holdings, err = Holdings(txns, "USD")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, int64(2), holdings[0].Quantity)
	assert.True(t, holdings[0].AverageCost.Amount.Equal(decimal.RequireFromString("200")))
}

func TestHoldingsOversellFails(t *testing.T) {
	txns := []*models.Transaction{
		buy("t1", "AAPL", 5, "150.00"),
		sell("t2", "AAPL", 6, "170.00"),
	}

	_, err := Holdings(txns, "USD")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInsufficientShares))

	// Selling a never-held ticker fails the same way.
	_, err = Holdings([]*models.Transaction{sell("t1", "MSFT", 1, "10.00")}, "USD")
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInsufficientShares))
}

func TestHoldingsSortedByTicker(t *testing.T) {
	txns := []*models.Transaction{
		buy("t1", "MSFT", 1, "400.00"),
		buy("t2", "AAPL", 1, "150.00"),
		buy("t3", "GOOG", 1, "170.00"),
	}

	holdings, err := Holdings(txns, "USD")
	require.NoError(t, err)
	require.Len(t, holdings, 3)
	assert.Equal(t, models.Ticker("AAPL"), holdings[0].Ticker)
	assert.Equal(t, models.Ticker("GOOG"), holdings[1].Ticker)
	assert.Equal(t, models.Ticker("MSFT"), holdings[2].Ticker)
}

func TestHoldingsPermutationInvariant(t *testing.T) {
	txns := []*models.Transaction{
		deposit("t1", "10000"),
		buy("t2", "AAPL", 10, "150.00"),
		buy("t3", "MSFT", 2, "400.00"),
		sell("t4", "AAPL", 4, "170.00"),
		buy("t5", "AAPL", 5, "160.00"),
	}
	for i, tx := range txns {
		tx.Timestamp = txTime.Add(time.Duration(i) * time.Minute)
	}

	want, err := Holdings(txns, "USD")
	require.NoError(t, err)

	shuffled := make([]*models.Transaction, len(txns))
	copy(shuffled, txns)
	rand.New(rand.NewSource(1)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	Sort(shuffled)

	// Sorting restores canonical replay order, so any permutation projects
	// the same holdings.
	assert.Equal(t, txns, shuffled)
	got, err := Holdings(shuffled, "USD")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSortBreaksTimestampTiesByID(t *testing.T) {
	a := deposit("t1", "100")
	b := deposit("t2", "200")
	txns := []*models.Transaction{b, a}

	Sort(txns)
	assert.Equal(t, "t1", txns[0].ID)
	assert.Equal(t, "t2", txns[1].ID)
}

func TestRealizedPnL(t *testing.T) {
	txns := []*models.Transaction{
		buy("t1", "AAPL", 10, "150.00"),
		sell("t2", "AAPL", 4, "170.00"),
	}

	pnl, err := RealizedPnL(txns, "USD")
	require.NoError(t, err)
	// (170 - 150) * 4 = 80
	assert.True(t, pnl.Equal(models.MustMoney("80", "USD")))
}

func TestRealizedPnLRoundTripIsZero(t *testing.T) {
	txns := []*models.Transaction{
		buy("t1", "AAPL", 10, "150.00"),
		sell("t2", "AAPL", 10, "150.00"),
	}

	pnl, err := RealizedPnL(txns, "USD")
	require.NoError(t, err)
	assert.True(t, pnl.IsZero())
}

func TestValuate(t *testing.T) {
	p := &models.Portfolio{ID: "p-1", Currency: "USD", Version: 3}
	txns := []*models.Transaction{
		deposit("t1", "10000"),
		buy("t2", "AAPL", 10, "150.00"),
	}
	asOf := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)

	calls := 0
	v, err := Valuate(p, txns, asOf, func(ticker models.Ticker) (models.Money, error) {
		calls++
		assert.Equal(t, models.Ticker("AAPL"), ticker)
		return models.MustMoney("160.00", "USD"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	assert.Equal(t, "p-1", v.PortfolioID)
	assert.Equal(t, asOf, v.AsOf)
	assert.True(t, v.Cash.Equal(models.MustMoney("8500", "USD")))
	require.Len(t, v.Holdings, 1)
	assert.True(t, v.Holdings[0].MarketValue.Equal(models.MustMoney("1600", "USD")))
	assert.True(t, v.Holdings[0].UnrealizedPnL.Equal(models.MustMoney("100", "USD")))
	// total = cash + market values
	assert.True(t, v.TotalValue.Equal(models.MustMoney("10100", "USD")))
}

func TestValuatePriceCurrencyMismatch(t *testing.T) {
	p := &models.Portfolio{ID: "p-1", Currency: "USD"}
	txns := []*models.Transaction{buy("t1", "BHP.AU", 1, "40.00")}

	_, err := Valuate(p, txns, txTime, func(models.Ticker) (models.Money, error) {
		return models.MustMoney("60.00", "AUD"), nil
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.KindInvalidArgument))
}
