package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// DefaultStreamURL is the Binance combined-stream endpoint.
const DefaultStreamURL = "wss://stream.binance.com:9443"

// StreamConfig configures the trade stream.
type StreamConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
	MaxBackoff   time.Duration `mapstructure:"max_backoff"`
}

type streamEnvelope struct {
	Stream string       `json:"stream"`
	Data   tradePayload `json:"data"`
}

type tradePayload struct {
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// TradeStream reads <symbol>@trade events and reconnects with backoff.
type TradeStream struct {
	cfg    StreamConfig
	logger *logrus.Logger
}

// NewTradeStream creates a trade stream reader.
func NewTradeStream(cfg StreamConfig, logger *logrus.Logger) *TradeStream {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultStreamURL
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &TradeStream{cfg: cfg, logger: logger}
}

// URL returns the combined stream URL for symbols.
func (s *TradeStream) URL(symbols []string) string {
	streams := make([]string, len(symbols))
	for i, sym := range symbols {
		streams[i] = strings.ToLower(sym) + "@trade"
	}
	return fmt.Sprintf("%s/stream?streams=%s", strings.TrimSuffix(s.cfg.BaseURL, "/"), strings.Join(streams, "/"))
}

// Run delivers trades to out until ctx is cancelled.
func (s *TradeStream) Run(ctx context.Context, symbols []string, out chan<- models.Trade) error {
	if len(symbols) == 0 {
		return fmt.Errorf("trade stream requires at least one symbol")
	}
	url := s.URL(symbols)
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := s.consume(ctx, url, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WithError(err).WithField("symbols", symbols).Warn("Trade stream disconnected, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(s.cfg.MaxBackoff), float64(backoff)*1.8))
	}
}

func (s *TradeStream) consume(ctx context.Context, url string, out chan<- models.Trade) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	s.logger.WithField("url", url).Info("Connected trade stream")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-pingCtx.Done():
				// unblock ReadMessage
				_ = conn.SetReadDeadline(time.Now())
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		trade, err := decodeTrade(message)
		if err != nil {
			s.logger.WithError(err).Debug("Skipping undecodable trade message")
			continue
		}

		select {
		case out <- trade:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func decodeTrade(message []byte) (models.Trade, error) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return models.Trade{}, err
	}
	symbol := env.Data.Symbol
	if symbol == "" {
		symbol, _, _ = strings.Cut(env.Stream, "@")
	}
	if symbol == "" {
		return models.Trade{}, fmt.Errorf("trade without symbol")
	}
	price, err := strconv.ParseFloat(env.Data.Price, 64)
	if err != nil {
		return models.Trade{}, fmt.Errorf("price: %w", err)
	}
	qty, err := strconv.ParseFloat(env.Data.Quantity, 64)
	if err != nil {
		return models.Trade{}, fmt.Errorf("quantity: %w", err)
	}
	return models.Trade{
		Symbol:   strings.ToUpper(symbol),
		Price:    price,
		Quantity: qty,
		Time:     time.UnixMilli(env.Data.TradeTime).UTC(),
	}, nil
}

// CandleBuilder groups trades per symbol into candles of a fixed tick count.
// Candle times strictly increase per symbol, so trades sharing a millisecond
// never produce two candles a series would merge.
type CandleBuilder struct {
	ticks  int
	mu     sync.Mutex
	trades map[string][]models.Trade
	last   map[string]time.Time
}

// NewCandleBuilder closes a candle every ticks trades.
func NewCandleBuilder(ticks int) *CandleBuilder {
	if ticks <= 0 {
		ticks = 20
	}
	return &CandleBuilder{
		ticks:  ticks,
		trades: make(map[string][]models.Trade),
		last:   make(map[string]time.Time),
	}
}

// Add records a trade and returns a finished candle when one completes.
func (b *CandleBuilder) Add(t models.Trade) (models.Sample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	buf := append(b.trades[t.Symbol], t)
	if len(buf) < b.ticks {
		b.trades[t.Symbol] = buf
		return models.Sample{}, false
	}
	b.trades[t.Symbol] = nil

	c, ok := models.CandleFromTrades(buf)
	if !ok {
		return c, false
	}
	if prev, seen := b.last[t.Symbol]; seen && !c.Time.After(prev) {
		c.Time = prev.Add(time.Nanosecond)
	}
	b.last[t.Symbol] = c.Time
	return c, true
}
