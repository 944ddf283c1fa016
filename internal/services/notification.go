package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/metrics"
	"github.com/OstapBender-commits/ema-signal-bot/internal/models"
)

// ErrTelegramNotConfigured is returned when no bot token or chat is set.
var ErrTelegramNotConfigured = errors.New("telegram bot not initialized")

// TelegramSender is the part of *bot.Bot the notifier uses.
type TelegramSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Notifier delivers alerts. The scanner and the background loops depend on
// this rather than on Telegram directly.
type Notifier interface {
	NotifySignal(ctx context.Context, sig *models.Signal) error
	NotifyNewcomer(ctx context.Context, t models.Ticker) error
	SendReport(ctx context.Context, r DailyReport) error
	Ping(ctx context.Context) error
}

// NotificationService sends plain-text messages to one Telegram chat.
type NotificationService struct {
	sender  TelegramSender
	chatID  any
	logger  *logrus.Logger
	metrics *metrics.MetricsCollector
	title   cases.Caser
}

// NewTelegramBot builds the go-telegram client. getMe is skipped so start-up
// does not depend on Telegram being reachable.
func NewTelegramBot(cfg config.TelegramConfig) (*bot.Bot, error) {
	if cfg.BotToken == "" {
		return nil, ErrTelegramNotConfigured
	}
	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.APIURL != "" {
		opts = append(opts, bot.WithServerURL(cfg.APIURL))
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return b, nil
}

func NewNotificationService(sender TelegramSender, chatID string, logger *logrus.Logger, mc *metrics.MetricsCollector) *NotificationService {
	return &NotificationService{
		sender:  sender,
		chatID:  parseChatID(chatID),
		logger:  logger,
		metrics: mc,
		title:   cases.Title(language.English),
	}
}

// parseChatID keeps numeric ids as int64 and passes "@channel" names through.
func parseChatID(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id
	}
	return raw
}

func (ns *NotificationService) send(ctx context.Context, kind, text string) error {
	if ns.sender == nil || ns.chatID == nil {
		ns.metrics.RecordNotification(kind, ErrTelegramNotConfigured)
		return ErrTelegramNotConfigured
	}
	_, err := ns.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: ns.chatID,
		Text:   text,
	})
	ns.metrics.RecordNotification(kind, err)
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// NotifySignal sends one LONG or SHORT alert.
func (ns *NotificationService) NotifySignal(ctx context.Context, sig *models.Signal) error {
	if err := ns.send(ctx, "signal", ns.FormatSignal(sig)); err != nil {
		return err
	}
	ns.logger.WithFields(logrus.Fields{
		"symbol": sig.Symbol,
		"side":   sig.Side,
		"kind":   sig.Kind,
		"id":     sig.ID,
	}).Info("Signal sent to telegram")
	return nil
}

// NotifyNewcomer announces a symbol added to the watch list.
func (ns *NotificationService) NotifyNewcomer(ctx context.Context, t models.Ticker) error {
	return ns.send(ctx, "newcomer", FormatNewcomer(t))
}

// SendReport sends the periodic summary.
func (ns *NotificationService) SendReport(ctx context.Context, r DailyReport) error {
	return ns.send(ctx, "report", FormatReport(r))
}

// Ping shows a "typing" action in the chat to keep the bot session warm.
func (ns *NotificationService) Ping(ctx context.Context) error {
	if ns.sender == nil || ns.chatID == nil {
		return ErrTelegramNotConfigured
	}
	_, err := ns.sender.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: ns.chatID,
		Action: tgmodels.ChatActionTyping,
	})
	if err != nil {
		return fmt.Errorf("failed to send chat action: %w", err)
	}
	return nil
}

// FormatSignal renders sig as a plain-text alert.
func (ns *NotificationService) FormatSignal(sig *models.Signal) string {
	var b strings.Builder

	if sig.Side == models.SideLong {
		fmt.Fprintf(&b, "🟢 LONG %s\n", sig.Symbol)
	} else {
		fmt.Fprintf(&b, "🔴 SHORT IDEA %s\n", sig.Symbol)
	}
	fmt.Fprintf(&b, "%s · score %.0f\n\n", ns.title.String(strings.ReplaceAll(string(sig.Kind), "_", " ")), sig.Score)

	fmt.Fprintf(&b, "Price: %s\n", sig.Price.String())
	if sig.Growth != 0 {
		fmt.Fprintf(&b, "Growth: %+.2f%%\n", sig.Growth)
	}
	if sig.VolumeRatio != 0 {
		fmt.Fprintf(&b, "Volume: %.2fx avg\n", sig.VolumeRatio)
	}
	if sig.RSI != 0 {
		fmt.Fprintf(&b, "RSI: %.1f\n", sig.RSI)
	}
	if sig.Threshold != 0 {
		fmt.Fprintf(&b, "Threshold: %.2f%%\n", sig.Threshold)
	}
	fmt.Fprintf(&b, "Mode: %s\n\n", sig.Mode)

	fmt.Fprintf(&b, "SL: %s (%s)\n", sig.StopLoss.String(), levelPercent(sig.Price, sig.StopLoss))
	fmt.Fprintf(&b, "TP1: %s (%s)\n", sig.TakeProfit1.String(), levelPercent(sig.Price, sig.TakeProfit1))
	fmt.Fprintf(&b, "TP2: %s (%s)\n", sig.TakeProfit2.String(), levelPercent(sig.Price, sig.TakeProfit2))
	fmt.Fprintf(&b, "\n%s UTC", sig.CreatedAt.UTC().Format("2006-01-02 15:04"))
	return b.String()
}

func levelPercent(entry, level decimal.Decimal) string {
	if entry.IsZero() {
		return "n/a"
	}
	pct := level.Sub(entry).Div(entry).Mul(decimal.NewFromInt(100)).Round(2)
	if pct.IsPositive() {
		return "+" + pct.StringFixed(2) + "%"
	}
	return pct.StringFixed(2) + "%"
}

// FormatNewcomer renders a watch-list addition.
func FormatNewcomer(t models.Ticker) string {
	return fmt.Sprintf("🆕 New hot token: %s %+.2f%% (24h)\nLast: %s\nNow watching it.",
		t.Symbol, t.PriceChangePercent, strconv.FormatFloat(t.LastPrice, 'f', -1, 64))
}

// DailyReport summarises one UTC day of activity.
type DailyReport struct {
	Day      string
	Sent     int
	DailyCap int
	Watched  int
	BySymbol map[string]int
	At       time.Time
}

// FormatReport renders r.
func FormatReport(r DailyReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 Daily report %s\n\n", r.Day)
	fmt.Fprintf(&b, "Signals sent: %d/%d\n", r.Sent, r.DailyCap)
	fmt.Fprintf(&b, "Watching: %d symbols\n", r.Watched)
	if len(r.BySymbol) > 0 {
		b.WriteString("\n")
		for _, sym := range sortedKeys(r.BySymbol) {
			fmt.Fprintf(&b, "• %s: %d\n", sym, r.BySymbol[sym])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
