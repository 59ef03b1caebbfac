package marketdata

import (
	"time"

	"github.com/bobmcallan/papertrade/internal/marketcal"
	"github.com/bobmcallan/papertrade/internal/models"
)

// maxQuoteAge is how old an intraday quote may be while the market is open.
const maxQuoteAge = 5 * time.Minute

// isFreshCurrent reports whether a stored price is still authoritative for
// "current price" requests. While the market is open only a quote from the
// current trading day within maxQuoteAge qualifies; while closed, the close
// of the last expected trading day is as fresh as data can get, so holding
// it avoids pointless provider calls over weekends and holidays.
func isFreshCurrent(cal *marketcal.Calendar, p *models.PricePoint, now time.Time) bool {
	if p == nil {
		return false
	}
	now = now.UTC()
	if cal.IsMarketOpen(now) {
		return marketcal.DateOf(p.Timestamp).Equal(marketcal.DateOf(now)) &&
			now.Sub(p.Timestamp) <= maxQuoteAge
	}
	return marketcal.DateOf(p.Timestamp).Equal(cal.LastExpectedTradingDay(now))
}

// isCompleteDaily reports whether a daily series covers every expected
// trading day in [start, end], with a tolerance of one missing day at each
// boundary. Providers publish the newest close late and backfill the oldest
// day lazily, so boundary gaps do not force a refetch.
func isCompleteDaily(cal *marketcal.Calendar, points []models.PricePoint, start, end, now time.Time) bool {
	expected := cal.ExpectedTradingDays(start, end, now)
	if len(expected) == 0 {
		return true
	}

	have := make(map[string]bool, len(points))
	for i := range points {
		have[marketcal.DateOf(points[i].Timestamp).Format("2006-01-02")] = true
	}

	for i, day := range expected {
		if have[day.Format("2006-01-02")] {
			continue
		}
		if i == 0 || i == len(expected)-1 {
			continue
		}
		return false
	}
	return true
}

// withinTradingDays reports whether earlier is at most n trading days before
// later.
func withinTradingDays(cal *marketcal.Calendar, earlier, later time.Time, n int) bool {
	return cal.TradingDaysBetween(earlier, later) <= n
}
