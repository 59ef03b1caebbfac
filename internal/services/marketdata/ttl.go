package marketdata

import (
	"time"

	"github.com/bobmcallan/papertrade/internal/marketcal"
)

// ttlPolicy maps the freshest timestamp in a cached value to its hot-cache
// lifetime. Values that still track the live market expire quickly; a
// series whose newest row is historical cannot change and can sit for days.
type ttlPolicy struct {
	current    time.Duration // live current-price entries
	recent     time.Duration // series including now's trading day
	midday     time.Duration // series ending on the previous trading day
	historical time.Duration // anything older
}

func (p ttlPolicy) seriesTTL(cal *marketcal.Calendar, freshest, now time.Time) time.Duration {
	d := marketcal.DateOf(freshest)
	switch {
	case d.Equal(marketcal.DateOf(now)):
		return p.recent
	case d.Equal(cal.PreviousTradingDay(now)):
		return p.midday
	default:
		return p.historical
	}
}

// currentTTL picks the lifetime for a current-price entry. While the market
// is open the short quote TTL applies; while closed the entry stays valid
// until the data could change, so it follows the series policy.
func (p ttlPolicy) currentTTL(cal *marketcal.Calendar, freshest, now time.Time) time.Duration {
	if cal.IsMarketOpen(now) {
		return p.current
	}
	return p.seriesTTL(cal, freshest, now)
}
