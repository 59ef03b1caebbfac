// Package alphavantage provides a client for the Alpha Vantage API
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/models"
)

const (
	DefaultBaseURL = "https://www.alphavantage.co/query"
	DefaultTimeout = 30 * time.Second

	// Alpha Vantage quotes are USD for US-listed symbols.
	quoteCurrency = "USD"
)

// Client implements the MarketDataProvider interface against Alpha Vantage.
// It does not rate-limit itself; quota enforcement lives with the caller so
// cache hits never consume provider budget.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client. Intended for tests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a new Alpha Vantage client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// envelope carries the error/throttle fields Alpha Vantage returns with HTTP
// 200. Any of them being set means the payload holds no data.
type envelope struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

func (e *envelope) failure() error {
	switch {
	case e.ErrorMessage != "":
		// The API answers "Invalid API call" for unknown symbols.
		if strings.Contains(e.ErrorMessage, "Invalid API call") {
			return models.NewError(models.KindTickerNotFound, e.ErrorMessage)
		}
		return models.NewError(models.KindTransient, e.ErrorMessage)
	case e.Note != "":
		// Notes are how the free tier reports quota exhaustion.
		return models.NewError(models.KindRateLimited, e.Note)
	case e.Information != "":
		if strings.Contains(strings.ToLower(e.Information), "api key") {
			return models.NewError(models.KindAuthFailed, e.Information)
		}
		return models.NewError(models.KindRateLimited, e.Information)
	}
	return nil
}

// get performs a GET request and decodes the body into result after checking
// the error envelope.
func (c *Client) get(ctx context.Context, params url.Values, result interface{}) error {
	params.Set("apikey", c.apiKey)
	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return models.WrapError(models.KindTransient, "create request", err)
	}

	c.logger.Debug().Str("function", params.Get("function")).Str("symbol", params.Get("symbol")).Msg("Alpha Vantage request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.WrapError(models.KindTransient, "provider request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.WrapError(models.KindTransient, "read provider response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.NewError(models.KindRateLimited, "provider returned 429")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.Errorf(models.KindAuthFailed, "provider returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return models.Errorf(models.KindTransient, "provider returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if ferr := env.failure(); ferr != nil {
			return ferr
		}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return models.WrapError(models.KindTransient, "decode provider response", err)
	}
	return nil
}

type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		LatestDay     string `json:"07. latest trading day"`
		PreviousClose string `json:"08. previous close"`
	} `json:"Global Quote"`
}

// FetchCurrent returns the latest quote for ticker via GLOBAL_QUOTE.
func (c *Client) FetchCurrent(ctx context.Context, ticker models.Ticker) (*models.PricePoint, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", string(ticker))

	var resp globalQuoteResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}

	// An empty quote object with HTTP 200 is how GLOBAL_QUOTE reports an
	// unknown symbol.
	if resp.GlobalQuote.Symbol == "" || resp.GlobalQuote.Price == "" {
		return nil, models.Errorf(models.KindTickerNotFound, "no quote for %s", ticker)
	}

	price, err := decimal.NewFromString(resp.GlobalQuote.Price)
	if err != nil {
		return nil, models.WrapError(models.KindTransient, "parse quote price", err)
	}

	return &models.PricePoint{
		Ticker:    ticker,
		Price:     models.NewMoney(price, quoteCurrency),
		Timestamp: time.Now().UTC(),
		Source:    models.SourceProvider,
		Interval:  models.IntervalRealtime,
	}, nil
}

type dailySeriesResponse struct {
	MetaData struct {
		Symbol string `json:"2. Symbol"`
	} `json:"Meta Data"`
	TimeSeries map[string]struct {
		Open   string `json:"1. open"`
		High   string `json:"2. high"`
		Low    string `json:"3. low"`
		Close  string `json:"4. close"`
		Volume string `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

// FetchDailySeries returns the full daily close series for ticker via
// TIME_SERIES_DAILY, sorted ascending by date.
func (c *Client) FetchDailySeries(ctx context.Context, ticker models.Ticker) ([]models.PricePoint, error) {
	params := url.Values{}
	params.Set("function", "TIME_SERIES_DAILY")
	params.Set("symbol", string(ticker))
	params.Set("outputsize", "full")

	var resp dailySeriesResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	if len(resp.TimeSeries) == 0 {
		return nil, models.Errorf(models.KindTickerNotFound, "no daily series for %s", ticker)
	}

	points := make([]models.PricePoint, 0, len(resp.TimeSeries))
	for date, row := range resp.TimeSeries {
		ts, err := time.ParseInLocation("2006-01-02", date, time.UTC)
		if err != nil {
			c.logger.Warn().Str("ticker", string(ticker)).Str("date", date).Msg("skipping unparseable series date")
			continue
		}
		closePx, err := decimal.NewFromString(row.Close)
		if err != nil {
			c.logger.Warn().Str("ticker", string(ticker)).Str("date", date).Msg("skipping unparseable close price")
			continue
		}

		p := models.PricePoint{
			Ticker:    ticker,
			Price:     models.NewMoney(closePx, quoteCurrency),
			Timestamp: ts,
			Source:    models.SourceProvider,
			Interval:  models.IntervalDaily,
		}
		if open, err := decimal.NewFromString(row.Open); err == nil {
			m := models.NewMoney(open, quoteCurrency)
			p.Open = &m
		}
		if high, err := decimal.NewFromString(row.High); err == nil {
			m := models.NewMoney(high, quoteCurrency)
			p.High = &m
		}
		if low, err := decimal.NewFromString(row.Low); err == nil {
			m := models.NewMoney(low, quoteCurrency)
			p.Low = &m
		}
		if vol, err := strconv.ParseInt(row.Volume, 10, 64); err == nil {
			p.Volume = vol
		}

		points = append(points, p)
	}

	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
