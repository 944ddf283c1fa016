package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
)

// DefaultBinanceURL is the public spot REST endpoint.
const DefaultBinanceURL = "https://api.binance.com"

// Binance reads klines and tickers from the Binance spot REST API.
type Binance struct {
	*Client
}

// NewBinance creates a Binance client. An empty BaseURL uses DefaultBinanceURL.
func NewBinance(cfg ClientConfig) *Binance {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBinanceURL
	}
	return &Binance{Client: NewClient(cfg)}
}

// Name implements SampleSource.
func (b *Binance) Name() string { return "binance" }

// FetchSamples returns klines as samples, oldest first.
func (b *Binance) FetchSamples(ctx context.Context, req Request) ([]models.Sample, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(req.Symbol))
	params.Set("interval", req.Interval)
	if req.Limit > 0 {
		params.Set("limit", strconv.Itoa(min(req.Limit, 1000)))
	}
	if !req.Start.IsZero() {
		params.Set("startTime", strconv.FormatInt(req.Start.UnixMilli(), 10))
	}
	if !req.End.IsZero() {
		params.Set("endTime", strconv.FormatInt(req.End.UnixMilli(), 10))
	}

	var rows [][]json.RawMessage
	if err := b.getJSON(ctx, "/api/v3/klines", params, &rows); err != nil {
		return nil, err
	}

	samples := make([]models.Sample, 0, len(rows))
	for i, row := range rows {
		s, err := parseKline(row)
		if err != nil {
			return nil, fmt.Errorf("%w: kline %d for %s: %v", utils.ErrNoData, i, req.Symbol, err)
		}
		samples = append(samples, s)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no klines for %s", utils.ErrNoData, req.Symbol)
	}
	return samples, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, ...].
func parseKline(row []json.RawMessage) (models.Sample, error) {
	if len(row) < 6 {
		return models.Sample{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}
	var openTime int64
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return models.Sample{}, fmt.Errorf("open time: %w", err)
	}

	fields := make([]float64, 5)
	for i := range fields {
		var raw string
		if err := json.Unmarshal(row[i+1], &raw); err != nil {
			return models.Sample{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.Sample{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		fields[i] = v
	}
	if fields[3] <= 0 {
		return models.Sample{}, fmt.Errorf("non-positive close %v", fields[3])
	}

	return models.Sample{
		Time:   time.UnixMilli(openTime).UTC(),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}, nil
}

type binanceTicker struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	QuoteVolume        string `json:"quoteVolume"`
	BidPrice           string `json:"bidPrice"`
	AskPrice           string `json:"askPrice"`
	CloseTime          int64  `json:"closeTime"`
}

func (t binanceTicker) toModel() models.Ticker {
	out := models.Ticker{
		Symbol:             t.Symbol,
		LastPrice:          parseFloat(t.LastPrice),
		PriceChangePercent: parseFloat(t.PriceChangePercent),
		QuoteVolume:        parseFloat(t.QuoteVolume),
		BidPrice:           parseFloat(t.BidPrice),
		AskPrice:           parseFloat(t.AskPrice),
	}
	if t.CloseTime > 0 {
		out.Timestamp = time.UnixMilli(t.CloseTime).UTC()
	}
	return out
}

// parseFloat returns 0 for empty or invalid numbers; Binance omits fields
// rather than sending nulls.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Ticker returns the 24h ticker of one symbol.
func (b *Binance) Ticker(ctx context.Context, symbol string) (*models.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var t binanceTicker
	if err := b.getJSON(ctx, "/api/v3/ticker/24hr", params, &t); err != nil {
		return nil, err
	}
	if t.Symbol == "" {
		return nil, fmt.Errorf("%w: empty ticker for %s", utils.ErrNoData, symbol)
	}
	out := t.toModel()
	return &out, nil
}

// Tickers returns the 24h tickers of every symbol.
func (b *Binance) Tickers(ctx context.Context) ([]models.Ticker, error) {
	var raw []binanceTicker
	if err := b.getJSON(ctx, "/api/v3/ticker/24hr", nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty ticker list", utils.ErrNoData)
	}
	out := make([]models.Ticker, 0, len(raw))
	for _, t := range raw {
		out = append(out, t.toModel())
	}
	return out, nil
}

// BookTicker returns the best bid and ask of one symbol.
func (b *Binance) BookTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))

	var t binanceTicker
	if err := b.getJSON(ctx, "/api/v3/ticker/bookTicker", params, &t); err != nil {
		return nil, err
	}
	if t.Symbol == "" {
		return nil, fmt.Errorf("%w: empty book ticker for %s", utils.ErrNoData, symbol)
	}
	out := t.toModel()
	out.Timestamp = time.Now().UTC()
	return &out, nil
}
