package currency

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/clinton-khozah/website-sub002/internal/presenter"
)

// Converter turns a USD amount into a display string for the viewer's
// location. Implementations return an error rather than a partial
// string; callers fall back to the USD literal.
type Converter interface {
	Convert(ctx context.Context, amountUSD decimal.Decimal, location string) (string, error)
}

type currencyInfo struct {
	Code      string
	Symbol    string
	ZeroMinor bool // currencies conventionally displayed without cents
}

// Display currency per ISO 3166 country code. Unlisted locations and
// an empty location stay in USD.
var currencyByCountry = map[string]currencyInfo{
	"GB": {Code: "GBP", Symbol: "£"},
	"DE": {Code: "EUR", Symbol: "€"},
	"FR": {Code: "EUR", Symbol: "€"},
	"ES": {Code: "EUR", Symbol: "€"},
	"IT": {Code: "EUR", Symbol: "€"},
	"NL": {Code: "EUR", Symbol: "€"},
	"IE": {Code: "EUR", Symbol: "€"},
	"CA": {Code: "CAD", Symbol: "CA$"},
	"AU": {Code: "AUD", Symbol: "A$"},
	"IN": {Code: "INR", Symbol: "₹"},
	"NG": {Code: "NGN", Symbol: "₦"},
	"KE": {Code: "KES", Symbol: "KSh "},
	"ZA": {Code: "ZAR", Symbol: "R"},
	"GH": {Code: "GHS", Symbol: "GH₵"},
	"BR": {Code: "BRL", Symbol: "R$"},
	"JP": {Code: "JPY", Symbol: "¥", ZeroMinor: true},
}

type ratesResponse struct {
	Result string                     `json:"result"`
	Rates  map[string]decimal.Decimal `json:"rates"`
}

// ExchangeConverter fetches USD exchange rates over HTTP and formats
// amounts in the viewer's display currency. Rates are cached in
// process and, when a Redis client is supplied, shared across
// instances.
type ExchangeConverter struct {
	client   *resty.Client
	cache    redis.UniversalClient
	cacheTTL time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	rates   map[string]decimal.Decimal
	fetched time.Time
}

func NewExchangeConverter(baseURL string, timeout time.Duration, cache redis.UniversalClient, log zerolog.Logger) *ExchangeConverter {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(1)

	return &ExchangeConverter{
		client:   client,
		cache:    cache,
		cacheTTL: time.Hour,
		log:      log,
	}
}

func (c *ExchangeConverter) Convert(ctx context.Context, amountUSD decimal.Decimal, location string) (string, error) {
	info, ok := currencyByCountry[strings.ToUpper(strings.TrimSpace(location))]
	if !ok {
		return presenter.FallbackPrice(amountUSD), nil
	}

	rate, err := c.rate(ctx, info.Code)
	if err != nil {
		return "", err
	}

	converted := amountUSD.Mul(rate)
	if info.ZeroMinor {
		return info.Symbol + converted.StringFixed(0), nil
	}
	return info.Symbol + converted.StringFixed(2), nil
}

func (c *ExchangeConverter) rate(ctx context.Context, code string) (decimal.Decimal, error) {
	c.mu.Lock()
	if c.rates != nil && time.Since(c.fetched) < c.cacheTTL {
		if rate, ok := c.rates[code]; ok && !rate.IsZero() {
			c.mu.Unlock()
			return rate, nil
		}
	}
	c.mu.Unlock()

	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, rateKey(code)).Result(); err == nil {
			if rate, err := decimal.NewFromString(cached); err == nil && !rate.IsZero() {
				return rate, nil
			}
		}
	}

	var body ratesResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/v6/latest/USD")
	if err != nil {
		return decimal.Zero, fmt.Errorf("fetch exchange rates: %w", err)
	}
	if resp.IsError() {
		return decimal.Zero, fmt.Errorf("exchange rate API returned %s", resp.Status())
	}

	rate, ok := body.Rates[code]
	if !ok || rate.IsZero() {
		return decimal.Zero, fmt.Errorf("no exchange rate for %s", code)
	}

	c.mu.Lock()
	c.rates = body.Rates
	c.fetched = time.Now()
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Set(ctx, rateKey(code), rate.String(), c.cacheTTL).Err(); err != nil {
			c.log.Warn().Err(err).Str("currency", code).Msg("failed to cache exchange rate")
		}
	}

	return rate, nil
}

func rateKey(code string) string {
	return "fx:usd:" + strings.ToLower(code)
}
