package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

type fakeSender struct {
	mu      sync.Mutex
	texts   []string
	chatIDs []any
	actions int
	err     error
}

func (f *fakeSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.texts = append(f.texts, p.Text)
	f.chatIDs = append(f.chatIDs, p.ChatID)
	return &tgmodels.Message{ID: len(f.texts)}, nil
}

func (f *fakeSender) SendChatAction(_ context.Context, p *bot.SendChatActionParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.actions++
	return true, nil
}

func longSignal() *models.Signal {
	return &models.Signal{
		ID:          "sig-1",
		Symbol:      "BTCUSDT",
		Side:        models.SideLong,
		Kind:        models.KindEMATouch,
		Score:       81.4,
		Price:       decimal.RequireFromString("100"),
		StopLoss:    decimal.RequireFromString("99.78"),
		TakeProfit1: decimal.RequireFromString("100.35"),
		TakeProfit2: decimal.RequireFromString("100.6"),
		Mode:        models.ModeUp,
		RSI:         52.34,
		Growth:      0.4,
		VolumeRatio: 2.5,
		Threshold:   0.31,
		CreatedAt:   time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC),
	}
}

func TestParseChatID(t *testing.T) {
	assert.Equal(t, int64(-1001234), parseChatID("-1001234"))
	assert.Equal(t, "@alerts", parseChatID(" @alerts "))
	assert.Nil(t, parseChatID(""))
}

func TestFormatSignal_Long(t *testing.T) {
	ns := NewNotificationService(nil, "1", quietLogrus(), nil)
	msg := ns.FormatSignal(longSignal())

	assert.True(t, strings.HasPrefix(msg, "🟢 LONG BTCUSDT\n"))
	assert.Contains(t, msg, "Ema Touch · score 81")
	assert.Contains(t, msg, "Price: 100\n")
	assert.Contains(t, msg, "Growth: +0.40%")
	assert.Contains(t, msg, "Volume: 2.50x avg")
	assert.Contains(t, msg, "RSI: 52.3")
	assert.Contains(t, msg, "Mode: up")
	assert.Contains(t, msg, "SL: 99.78 (-0.22%)")
	assert.Contains(t, msg, "TP1: 100.35 (+0.35%)")
	assert.Contains(t, msg, "TP2: 100.6 (+0.60%)")
	assert.Contains(t, msg, "2024-05-01 10:05 UTC")
}

func TestFormatSignal_Short(t *testing.T) {
	ns := NewNotificationService(nil, "1", quietLogrus(), nil)
	sig := &models.Signal{
		Symbol:      "SOLUSDT",
		Side:        models.SideShort,
		Kind:        models.KindOverheat,
		Score:       90,
		Price:       decimal.RequireFromString("200"),
		StopLoss:    decimal.RequireFromString("200.5"),
		TakeProfit1: decimal.RequireFromString("199.2"),
		TakeProfit2: decimal.RequireFromString("198.4"),
		Mode:        models.ModeNeutral,
	}
	msg := ns.FormatSignal(sig)

	assert.True(t, strings.HasPrefix(msg, "🔴 SHORT IDEA SOLUSDT\n"))
	assert.Contains(t, msg, "Overheat · score 90")
	assert.Contains(t, msg, "SL: 200.5 (+0.25%)")
	assert.Contains(t, msg, "TP1: 199.2 (-0.40%)")
	assert.Contains(t, msg, "TP2: 198.4 (-0.80%)")
	assert.NotContains(t, msg, "RSI")
}

func TestFormatNewcomerAndReport(t *testing.T) {
	msg := FormatNewcomer(models.Ticker{Symbol: "PEPEUSDT", PriceChangePercent: 35.5, LastPrice: 0.0000123})
	assert.Contains(t, msg, "🆕 New hot token: PEPEUSDT +35.50% (24h)")
	assert.Contains(t, msg, "Last: 0.0000123")

	report := FormatReport(DailyReport{
		Day:      "2024-05-01",
		Sent:     2,
		DailyCap: 3,
		Watched:  7,
		BySymbol: map[string]int{"SOLUSDT": 1, "BTCUSDT": 1},
	})
	assert.Contains(t, report, "📊 Daily report 2024-05-01")
	assert.Contains(t, report, "Signals sent: 2/3")
	assert.Contains(t, report, "Watching: 7 symbols")
	assert.Less(t, strings.Index(report, "BTCUSDT"), strings.Index(report, "SOLUSDT"))
}

func TestNotificationService_Send(t *testing.T) {
	sender := &fakeSender{}
	ns := NewNotificationService(sender, "42", quietLogrus(), nil)
	ctx := context.Background()

	require.NoError(t, ns.NotifySignal(ctx, longSignal()))
	require.NoError(t, ns.NotifyNewcomer(ctx, models.Ticker{Symbol: "XUSDT", PriceChangePercent: 21}))
	require.NoError(t, ns.SendReport(ctx, DailyReport{Day: "2024-05-01"}))
	require.NoError(t, ns.Ping(ctx))

	assert.Len(t, sender.texts, 3)
	assert.Equal(t, int64(42), sender.chatIDs[0])
	assert.Equal(t, 1, sender.actions)
}

func TestNotificationService_Errors(t *testing.T) {
	ns := NewNotificationService(nil, "42", quietLogrus(), nil)
	assert.ErrorIs(t, ns.NotifySignal(context.Background(), longSignal()), ErrTelegramNotConfigured)
	assert.ErrorIs(t, ns.Ping(context.Background()), ErrTelegramNotConfigured)

	failing := NewNotificationService(&fakeSender{err: errors.New("429 too many requests")}, "42", quietLogrus(), nil)
	err := failing.NotifySignal(context.Background(), longSignal())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestNewTelegramBot_RequiresToken(t *testing.T) {
	_, err := NewTelegramBot(config.TelegramConfig{})
	assert.ErrorIs(t, err, ErrTelegramNotConfigured)
}

func TestTelegramBot_AgainstFakeAPI(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
		text    string
		chatID  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		methods = append(methods, method)
		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "sendMessage":
			text = r.FormValue("text")
			chatID = r.FormValue("chat_id")
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":1714557900,"chat":{"id":42,"type":"private"}}}`))
		case "sendChatAction":
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	defer srv.Close()

	b, err := NewTelegramBot(config.TelegramConfig{BotToken: "123:abc", APIURL: srv.URL})
	require.NoError(t, err)

	ns := NewNotificationService(b, "42", quietLogrus(), nil)
	require.NoError(t, ns.NotifySignal(context.Background(), longSignal()))
	require.NoError(t, ns.Ping(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"sendMessage", "sendChatAction"}, methods)
	assert.Contains(t, text, "LONG BTCUSDT")
	assert.Equal(t, "42", chatID)
}
