package marketdata

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/bobmcallan/papertrade/internal/models"
)

// Hot-cache values travel as msgpack so the Redis backend stays compact and
// the in-memory backend stays interchangeable with it. Decimal amounts are
// encoded as strings; msgpack cannot see inside decimal.Decimal.

type cachedPrice struct {
	Ticker    string    `msgpack:"t"`
	Price     string    `msgpack:"p"`
	Currency  string    `msgpack:"c"`
	Timestamp time.Time `msgpack:"ts"`
	Source    string    `msgpack:"s"`
	Interval  string    `msgpack:"i"`
	Open      string    `msgpack:"o,omitempty"`
	High      string    `msgpack:"h,omitempty"`
	Low       string    `msgpack:"l,omitempty"`
	Volume    int64     `msgpack:"v,omitempty"`
}

func toCached(p *models.PricePoint) cachedPrice {
	c := cachedPrice{
		Ticker:    string(p.Ticker),
		Price:     p.Price.Amount.String(),
		Currency:  p.Price.Currency,
		Timestamp: p.Timestamp.UTC(),
		Source:    string(p.Source),
		Interval:  string(p.Interval),
		Volume:    p.Volume,
	}
	if p.Open != nil {
		c.Open = p.Open.Amount.String()
	}
	if p.High != nil {
		c.High = p.High.Amount.String()
	}
	if p.Low != nil {
		c.Low = p.Low.Amount.String()
	}
	return c
}

func (c cachedPrice) toModel() (*models.PricePoint, error) {
	px, err := decimal.NewFromString(c.Price)
	if err != nil {
		return nil, models.WrapError(models.KindTransient, "decode cached price", err)
	}
	p := &models.PricePoint{
		Ticker:    models.Ticker(c.Ticker),
		Price:     models.Money{Amount: px, Currency: c.Currency},
		Timestamp: c.Timestamp,
		Source:    models.PriceSource(c.Source),
		Interval:  models.PriceInterval(c.Interval),
		Volume:    c.Volume,
	}
	for _, f := range []struct {
		raw  string
		dest **models.Money
	}{{c.Open, &p.Open}, {c.High, &p.High}, {c.Low, &p.Low}} {
		if f.raw == "" {
			continue
		}
		if d, err := decimal.NewFromString(f.raw); err == nil {
			m := models.Money{Amount: d, Currency: c.Currency}
			*f.dest = &m
		}
	}
	return p, nil
}

func encodePoint(p *models.PricePoint) ([]byte, error) {
	return msgpack.Marshal(toCached(p))
}

func decodePoint(data []byte) (*models.PricePoint, error) {
	var c cachedPrice
	if err := msgpack.Unmarshal(data, &c); err != nil {
		return nil, models.WrapError(models.KindTransient, "unmarshal cached price", err)
	}
	return c.toModel()
}

func encodeSeries(points []models.PricePoint) ([]byte, error) {
	cs := make([]cachedPrice, len(points))
	for i := range points {
		cs[i] = toCached(&points[i])
	}
	return msgpack.Marshal(cs)
}

func decodeSeries(data []byte) ([]models.PricePoint, error) {
	var cs []cachedPrice
	if err := msgpack.Unmarshal(data, &cs); err != nil {
		return nil, models.WrapError(models.KindTransient, "unmarshal cached series", err)
	}
	points := make([]models.PricePoint, 0, len(cs))
	for i := range cs {
		p, err := cs[i].toModel()
		if err != nil {
			return nil, err
		}
		points = append(points, *p)
	}
	return points, nil
}
