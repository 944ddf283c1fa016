package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/OstapBender-commits/ema-signal-bot/internal/calibration"
	"github.com/OstapBender-commits/ema-signal-bot/internal/signal"
	"github.com/OstapBender-commits/ema-signal-bot/internal/utils"
	"github.com/OstapBender-commits/ema-signal-bot/pkg/marketdata"
)

type Config struct {
	Environment string                      `mapstructure:"environment"`
	LogLevel    string                      `mapstructure:"log_level"`
	LogFormat   string                      `mapstructure:"log_format"`
	Server      ServerConfig                `mapstructure:"server"`
	Telegram    TelegramConfig              `mapstructure:"telegram"`
	Scanner     ScannerConfig               `mapstructure:"scanner"`
	Newcomers   NewcomerConfig              `mapstructure:"newcomers"`
	Reporter    ReporterConfig              `mapstructure:"reporter"`
	Sources     SourcesConfig               `mapstructure:"sources"`
	Calibration calibration.ThresholdConfig `mapstructure:"calibration"`
	Profile     ProfileConfig               `mapstructure:"profile"`
	Signal      signal.Config               `mapstructure:"signal"`
	Cache       CacheConfig                 `mapstructure:"cache"`
	Redis       RedisConfig                 `mapstructure:"redis"`
	Database    DatabaseConfig              `mapstructure:"database"`
	Telemetry   TelemetryConfig             `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelegramConfig struct {
	BotToken          string        `mapstructure:"bot_token" json:"-"`
	ChatID            string        `mapstructure:"chat_id"`
	APIURL            string        `mapstructure:"api_url"`
	KeepAlive         bool          `mapstructure:"keep_alive"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
}

type ScannerConfig struct {
	Symbols        []string      `mapstructure:"symbols"`
	Interval       string        `mapstructure:"interval"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	HistoryLimit   int           `mapstructure:"history_limit"`
	SeriesCapacity int           `mapstructure:"series_capacity"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	UseBookTicker  bool          `mapstructure:"use_book_ticker"`
	Stream         bool          `mapstructure:"stream"`
	StreamTicks    int           `mapstructure:"stream_ticks"`
}

type NewcomerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	MinChangePercent float64       `mapstructure:"min_change_percent"`
	QuoteAsset       string        `mapstructure:"quote_asset"`
	MaxWatched       int           `mapstructure:"max_watched"`
}

type ReporterConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

type SourcesConfig struct {
	Order          []string                `mapstructure:"order"`
	Binance        marketdata.ClientConfig `mapstructure:"binance"`
	CryptoCompare  marketdata.ClientConfig `mapstructure:"cryptocompare"`
	Stream         marketdata.StreamConfig `mapstructure:"stream"`
	CircuitBreaker BreakerConfig           `mapstructure:"circuit_breaker"`
}

type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	SuccessThreshold int           `mapstructure:"success_threshold"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ProfileConfig enables the historical profile. ReferenceFrom/To are RFC3339
// timestamps; when empty the first fetched window is used.
type ProfileConfig struct {
	calibration.ProfileConfig `mapstructure:",squash"`

	Enabled       bool   `mapstructure:"enabled"`
	ReferenceFrom string `mapstructure:"reference_from"`
	ReferenceTo   string `mapstructure:"reference_to"`
}

type CacheConfig struct {
	FilePath  string        `mapstructure:"file_path"`
	AuditCSV  string        `mapstructure:"audit_csv"`
	RedisTTL  time.Duration `mapstructure:"redis_ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password" json:"-"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	DatabaseURL     string        `mapstructure:"database_url" json:"-"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string        `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime string        `mapstructure:"conn_max_idle_time"`
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Exporter       string `mapstructure:"exporter"` // otlp or stdout
	Endpoint       string `mapstructure:"endpoint"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Logs           bool   `mapstructure:"logs"`
}

// Load reads config.yaml (optional) from ./configs or the working directory,
// then environment variables. TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID and PORT
// are read directly.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindings := map[string]string{
		"telegram.bot_token":    "TELEGRAM_BOT_TOKEN",
		"telegram.chat_id":      "TELEGRAM_CHAT_ID",
		"server.port":           "PORT",
		"scanner.symbols":       "SYMBOLS",
		"database.database_url": "DATABASE_URL",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s environment variable: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	config := Config{
		Calibration: calibration.DefaultThresholdConfig(),
		Profile:     ProfileConfig{ProfileConfig: calibration.DefaultProfileConfig()},
		Signal:      signal.DefaultConfig(),
	}
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)
	config.Scanner.Symbols = normalizeSymbols(config.Scanner.Symbols)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects configurations the bot cannot run with.
func (c *Config) Validate() error {
	if c.Telegram.BotToken == "" {
		return utils.NewValidationError("TELEGRAM_BOT_TOKEN is required")
	}
	if c.Telegram.ChatID == "" {
		return utils.NewValidationError("TELEGRAM_CHAT_ID is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return utils.NewValidationErrorf("invalid port %d", c.Server.Port)
	}
	if len(c.Scanner.Symbols) == 0 {
		return utils.NewValidationError("at least one symbol must be watched")
	}
	if c.Scanner.PollInterval < time.Second {
		return utils.NewValidationErrorf("poll interval %s is too short", c.Scanner.PollInterval)
	}
	if _, err := IntervalDuration(c.Scanner.Interval); err != nil {
		return err
	}
	if len(c.Sources.Order) == 0 {
		return utils.NewValidationError("at least one data source is required")
	}
	for _, name := range c.Sources.Order {
		switch name {
		case "binance", "cryptocompare":
		default:
			return utils.NewValidationErrorf("unknown data source %q", name)
		}
	}
	if c.Calibration.MinThreshold <= 0 || c.Calibration.MaxThreshold < c.Calibration.MinThreshold {
		return utils.NewValidationErrorf("invalid threshold clamp [%v, %v]", c.Calibration.MinThreshold, c.Calibration.MaxThreshold)
	}
	if c.Signal.DailyCap < 0 {
		return utils.NewValidationErrorf("daily cap must not be negative, got %d", c.Signal.DailyCap)
	}
	if _, _, err := c.ReferenceWindow(); err != nil {
		return err
	}
	return nil
}

// ReferenceWindow parses the profile reference window. Zero times mean open.
func (c *Config) ReferenceWindow() (time.Time, time.Time, error) {
	var from, to time.Time
	var err error
	if c.Profile.ReferenceFrom != "" {
		if from, err = time.Parse(time.RFC3339, c.Profile.ReferenceFrom); err != nil {
			return from, to, utils.NewValidationErrorf("invalid profile.reference_from: %v", err)
		}
	}
	if c.Profile.ReferenceTo != "" {
		if to, err = time.Parse(time.RFC3339, c.Profile.ReferenceTo); err != nil {
			return from, to, utils.NewValidationErrorf("invalid profile.reference_to: %v", err)
		}
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return from, to, utils.NewValidationError("profile reference window is empty")
	}
	return from, to, nil
}

// IntervalDuration converts a kline interval such as 5m, 1h or 1d.
func IntervalDuration(interval string) (time.Duration, error) {
	if len(interval) >= 2 && strings.HasSuffix(interval, "d") {
		d, err := time.ParseDuration(strings.TrimSuffix(interval, "d") + "h")
		if err != nil || d <= 0 {
			return 0, utils.NewValidationErrorf("invalid interval %q", interval)
		}
		return d * 24, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil || d <= 0 || !strings.ContainsAny(interval[len(interval)-1:], "mh") {
		return 0, utils.NewValidationErrorf("invalid interval %q", interval)
	}
	return d, nil
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		for _, s := range strings.Split(raw, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	// Server
	v.SetDefault("server.port", 10000)
	v.SetDefault("server.shutdown_timeout", "10s")

	// Telegram
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")
	v.SetDefault("telegram.api_url", "")
	v.SetDefault("telegram.keep_alive", true)
	v.SetDefault("telegram.keep_alive_interval", "5m")

	// Scanner
	v.SetDefault("scanner.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT", "XRPUSDT", "DOGEUSDT"})
	v.SetDefault("scanner.interval", "5m")
	v.SetDefault("scanner.poll_interval", "1m")
	v.SetDefault("scanner.history_limit", 500)
	v.SetDefault("scanner.series_capacity", 1000)
	v.SetDefault("scanner.fetch_timeout", "15s")
	v.SetDefault("scanner.use_book_ticker", true)
	v.SetDefault("scanner.stream", false)
	v.SetDefault("scanner.stream_ticks", 20)

	// Newcomers
	v.SetDefault("newcomers.enabled", true)
	v.SetDefault("newcomers.interval", "10m")
	v.SetDefault("newcomers.min_change_percent", 20.0)
	v.SetDefault("newcomers.quote_asset", "USDT")
	v.SetDefault("newcomers.max_watched", 30)

	// Reporter
	v.SetDefault("reporter.enabled", true)
	v.SetDefault("reporter.interval", "24h")

	// Sources
	v.SetDefault("sources.order", []string{"binance", "cryptocompare"})
	v.SetDefault("sources.binance.base_url", marketdata.DefaultBinanceURL)
	v.SetDefault("sources.binance.timeout", "10s")
	v.SetDefault("sources.binance.rate_limit", 10.0)
	v.SetDefault("sources.binance.burst", 5)
	v.SetDefault("sources.cryptocompare.base_url", marketdata.DefaultCryptoCompareURL)
	v.SetDefault("sources.cryptocompare.timeout", "10s")
	v.SetDefault("sources.cryptocompare.rate_limit", 2.0)
	v.SetDefault("sources.cryptocompare.burst", 2)
	v.SetDefault("sources.cryptocompare.api_key", "")
	v.SetDefault("sources.stream.base_url", marketdata.DefaultStreamURL)
	v.SetDefault("sources.circuit_breaker.failure_threshold", 5)
	v.SetDefault("sources.circuit_breaker.success_threshold", 2)
	v.SetDefault("sources.circuit_breaker.timeout", "60s")

	// Profile
	v.SetDefault("profile.enabled", false)
	v.SetDefault("profile.reference_from", "")
	v.SetDefault("profile.reference_to", "")

	// Signal limits
	v.SetDefault("signal.cooldown", "1h")
	v.SetDefault("signal.daily_cap", 3)

	// Cache
	v.SetDefault("cache.file_path", "data/samples.json")
	v.SetDefault("cache.audit_csv", "data/signals.csv")
	v.SetDefault("cache.redis_ttl", "24h")
	v.SetDefault("cache.key_prefix", "samples:")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Database
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "signals")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.database_url", "")
	v.SetDefault("database.max_open_conns", 5)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "300s")
	v.SetDefault("database.conn_max_idle_time", "60s")
	v.SetDefault("database.retention", "720h")
	v.SetDefault("database.cleanup_interval", "1h")

	// Telemetry
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.exporter", "otlp")
	v.SetDefault("telemetry.endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "ema-signal-bot")
	v.SetDefault("telemetry.service_version", "1.0.0")
	v.SetDefault("telemetry.logs", false)
}
