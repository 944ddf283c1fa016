package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/OstapBender-commits/ema-signal-bot/internal/config"
	"github.com/OstapBender-commits/ema-signal-bot/internal/services"
)

func main() {
	send := flag.Bool("send", false, "send a test message to the configured chat")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Printf("⚠️  Warning: Could not load .env file: %v\n", err)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := validate(ctx, os.Stdout, cfg.Telegram, *send); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

// validate checks the token with getMe and the chat id with a typing action,
// optionally sending a test message.
func validate(ctx context.Context, out io.Writer, cfg config.TelegramConfig, send bool) error {
	fmt.Fprintln(out, "🔧 Validating Telegram Bot Configuration...")

	b, err := services.NewTelegramBot(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	fmt.Fprintf(out, "✅ TELEGRAM_BOT_TOKEN is configured (length: %d)\n", len(cfg.BotToken))

	fmt.Fprintln(out, "🔍 Testing bot API connection...")
	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bot info: %w", err)
	}
	fmt.Fprintf(out, "✅ Bot API connection successful: @%s (id %d)\n", me.Username, me.ID)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	notifier := services.NewNotificationService(b, cfg.ChatID, logger, nil)
	if err := notifier.Ping(ctx); err != nil {
		return fmt.Errorf("chat %s is not reachable: %w", cfg.ChatID, err)
	}
	fmt.Fprintf(out, "✅ Chat %s is reachable\n", cfg.ChatID)

	if send {
		if err := notifier.SendReport(ctx, services.DailyReport{
			Day: time.Now().UTC().Format("2006-01-02"),
		}); err != nil {
			return fmt.Errorf("failed to send test message: %w", err)
		}
		fmt.Fprintln(out, "✅ Test message sent")
	}

	fmt.Fprintln(out, "🎉 All Telegram bot configuration checks passed!")
	return nil
}
