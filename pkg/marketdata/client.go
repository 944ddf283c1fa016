// Package marketdata fetches candles and tickers from public exchange and
// aggregator REST APIs, and streams live trades from Binance.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
)

const userAgent = "ema-signal-bot/1.0"

// Request describes a candle window. Zero Start/End leave the provider to
// return the most recent Limit candles.
type Request struct {
	Symbol   string
	Interval string
	Limit    int
	Start    time.Time
	End      time.Time
}

// SampleSource is anything that can return a window of candles.
type SampleSource interface {
	Name() string
	FetchSamples(ctx context.Context, req Request) ([]models.Sample, error)
}

// TickerSource returns 24h tickers and top-of-book quotes.
type TickerSource interface {
	Ticker(ctx context.Context, symbol string) (*models.Ticker, error)
	Tickers(ctx context.Context) ([]models.Ticker, error)
	BookTicker(ctx context.Context, symbol string) (*models.Ticker, error)
}

// ClientConfig configures one REST client.
type ClientConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"` // requests per second, 0 disables
	Burst     int           `mapstructure:"burst"`
	APIKey    string        `mapstructure:"api_key"`
}

// Client is a small JSON-over-HTTP client with a token bucket in front.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a client. A zero timeout defaults to 10 seconds.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		BaseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		limiter:    limiter,
	}
}

// getJSON issues a GET and decodes the body into result. An empty body or a
// body that does not decode is reported as utils.ErrNoData.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, result interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	u := c.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("Error closing response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return fmt.Errorf("%w: empty body from %s", utils.ErrNoData, path)
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%w: malformed body from %s: %v", utils.ErrNoData, path, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
