package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
)

// DefaultCryptoCompareURL is the public min-api endpoint.
const DefaultCryptoCompareURL = "https://min-api.cryptocompare.com"

// quoteAssets are tried longest first when splitting a pair symbol.
var quoteAssets = []string{"USDT", "USDC", "BUSD", "FDUSD", "BTC", "ETH", "BNB", "USD", "EUR"}

// CryptoCompare reads histo candles from the CryptoCompare aggregate API.
type CryptoCompare struct {
	*Client
	apiKey string
}

// NewCryptoCompare creates a CryptoCompare client. An empty BaseURL uses
// DefaultCryptoCompareURL.
func NewCryptoCompare(cfg ClientConfig) *CryptoCompare {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCryptoCompareURL
	}
	return &CryptoCompare{Client: NewClient(cfg), apiKey: cfg.APIKey}
}

// Name implements SampleSource.
func (c *CryptoCompare) Name() string { return "cryptocompare" }

type histoResponse struct {
	Response string `json:"Response"`
	Message  string `json:"Message"`
	Data     struct {
		Data []struct {
			Time       int64   `json:"time"`
			Open       float64 `json:"open"`
			High       float64 `json:"high"`
			Low        float64 `json:"low"`
			Close      float64 `json:"close"`
			VolumeFrom float64 `json:"volumefrom"`
		} `json:"Data"`
	} `json:"Data"`
}

// FetchSamples returns histo candles as samples, oldest first.
func (c *CryptoCompare) FetchSamples(ctx context.Context, req Request) ([]models.Sample, error) {
	base, quote, err := SplitSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	endpoint, aggregate, err := histoEndpoint(req.Interval)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("fsym", base)
	params.Set("tsym", quote)
	if aggregate > 1 {
		params.Set("aggregate", strconv.Itoa(aggregate))
	}
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(min(req.Limit, 2000)))
	}
	if !req.End.IsZero() {
		params.Set("toTs", strconv.FormatInt(req.End.Unix(), 10))
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	var resp histoResponse
	if err := c.getJSON(ctx, endpoint, params, &resp); err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Response, "Success") {
		return nil, fmt.Errorf("%w: cryptocompare %s: %s", utils.ErrNoData, req.Symbol, resp.Message)
	}

	samples := make([]models.Sample, 0, len(resp.Data.Data))
	for _, row := range resp.Data.Data {
		// the API pads missing history with zero candles
		if row.Close <= 0 {
			continue
		}
		t := time.Unix(row.Time, 0).UTC()
		if !req.Start.IsZero() && t.Before(req.Start) {
			continue
		}
		samples = append(samples, models.Sample{
			Time:   t,
			Open:   row.Open,
			High:   row.High,
			Low:    row.Low,
			Close:  row.Close,
			Volume: row.VolumeFrom,
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no candles for %s", utils.ErrNoData, req.Symbol)
	}
	return samples, nil
}

// SplitSymbol splits an exchange pair such as BTCUSDT into BTC and USDT.
func SplitSymbol(symbol string) (string, string, error) {
	s := strings.ToUpper(symbol)
	for _, q := range quoteAssets {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q, nil
		}
	}
	return "", "", utils.NewValidationErrorf("unknown quote asset in symbol %q", symbol)
}

// histoEndpoint maps a kline interval such as 5m or 4h to a histo endpoint
// and aggregation factor.
func histoEndpoint(interval string) (string, int, error) {
	if len(interval) < 2 {
		return "", 0, utils.NewValidationErrorf("invalid interval %q", interval)
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return "", 0, utils.NewValidationErrorf("invalid interval %q", interval)
	}
	switch interval[len(interval)-1] {
	case 'm':
		return "/data/v2/histominute", n, nil
	case 'h':
		return "/data/v2/histohour", n, nil
	case 'd':
		return "/data/v2/histoday", n, nil
	default:
		return "", 0, utils.NewValidationErrorf("unsupported interval %q", interval)
	}
}
