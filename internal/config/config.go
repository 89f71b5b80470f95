package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"TickerStream/internal/model"
	"TickerStream/internal/stream"
)

// Config holds all application configuration.
type Config struct {
	Stream struct {
		Endpoint                  string        `yaml:"endpoint"`
		APIKey                    string        `yaml:"api_key"`
		Symbol                    string        `yaml:"symbol"`
		Enabled                   *bool         `yaml:"enabled"`
		UseFallbackData           *bool         `yaml:"use_fallback_data"`
		FallbackTimeout           time.Duration `yaml:"fallback_timeout"`
		SubscribeSecondAggregates *bool         `yaml:"subscribe_second_aggregates"`
		SubscribeMinuteAggregates *bool         `yaml:"subscribe_minute_aggregates"`
		ForcedRefreshInterval     time.Duration `yaml:"forced_refresh_interval"`
		ReconnectDelay            time.Duration `yaml:"reconnect_delay"`
		MaxReconnectAttempts      int           `yaml:"max_reconnect_attempts"`
		HandshakeTimeout          time.Duration `yaml:"handshake_timeout"`
	} `yaml:"stream"`
	Fallback model.FallbackQuote `yaml:"fallback"`
	Display  model.DisplayStats  `yaml:"display"`
	HTTP     struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		ControlToken   string   `yaml:"control_token"`
	} `yaml:"http"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		SQLitePath    string `yaml:"sqlite_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"database"`
	Schedule struct {
		SessionOpenCron string `yaml:"session_open_cron"`
		SnapshotCron    string `yaml:"snapshot_cron"`
		PruneCron       string `yaml:"prune_cron"`
	} `yaml:"schedule"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads .env and the YAML file, then applies environment variable overrides and defaults.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Stream.APIKey = v
	}
	if v := os.Getenv("STREAM_ENDPOINT"); v != "" {
		cfg.Stream.Endpoint = v
	}
	if v := os.Getenv("STREAM_SYMBOL"); v != "" {
		cfg.Stream.Symbol = v
	}
	if v := os.Getenv("STREAM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Stream.Enabled = &b
		}
	}
	if v := os.Getenv("FORCED_REFRESH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Stream.ForcedRefreshInterval = d
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("HTTP_CONTROL_TOKEN"); v != "" {
		cfg.HTTP.ControlToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	// Defaults
	if cfg.Stream.Endpoint == "" {
		cfg.Stream.Endpoint = "wss://delayed.polygon.io/stocks"
	}
	if cfg.Stream.Symbol == "" {
		cfg.Stream.Symbol = "DGXX"
	}
	if cfg.Stream.Enabled == nil {
		cfg.Stream.Enabled = boolPtr(true)
	}
	if cfg.Stream.UseFallbackData == nil {
		cfg.Stream.UseFallbackData = boolPtr(true)
	}
	if cfg.Stream.SubscribeSecondAggregates == nil {
		cfg.Stream.SubscribeSecondAggregates = boolPtr(true)
	}
	if cfg.Stream.SubscribeMinuteAggregates == nil {
		cfg.Stream.SubscribeMinuteAggregates = boolPtr(true)
	}
	if cfg.Stream.FallbackTimeout == 0 {
		cfg.Stream.FallbackTimeout = stream.DefaultFallbackTimeout
	}
	if cfg.Stream.ReconnectDelay == 0 {
		cfg.Stream.ReconnectDelay = stream.DefaultReconnectDelay
	}
	if cfg.Stream.MaxReconnectAttempts == 0 {
		cfg.Stream.MaxReconnectAttempts = stream.DefaultMaxReconnectAttempts
	}
	if cfg.Stream.HandshakeTimeout == 0 {
		cfg.Stream.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Fallback.IsZero() {
		cfg.Fallback = model.DefaultFallback
	}
	if cfg.Display.MarketCap == "" {
		cfg.Display.MarketCap = "N/A"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/tickerstream.db"
	}
	if cfg.Database.RetentionDays == 0 {
		cfg.Database.RetentionDays = 30
	}
	if cfg.Schedule.SessionOpenCron == "" {
		cfg.Schedule.SessionOpenCron = "0 30 9 * * 1-5"
	}
	if cfg.Schedule.SnapshotCron == "" {
		cfg.Schedule.SnapshotCron = "0 * * * * *"
	}
	if cfg.Schedule.PruneCron == "" {
		cfg.Schedule.PruneCron = "0 0 3 * * *"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return cfg, nil
}

// Validate checks that all required fields are set.
func (c *Config) Validate() error {
	if c.Stream.Symbol == "" {
		return fmt.Errorf("stream.symbol is required")
	}
	if *c.Stream.Enabled && c.Stream.APIKey == "" {
		return fmt.Errorf("stream.api_key is required when the stream is enabled")
	}
	if c.Stream.FallbackTimeout < 0 || c.Stream.ReconnectDelay < 0 || c.Stream.ForcedRefreshInterval < 0 {
		return fmt.Errorf("stream durations must not be negative")
	}
	if c.Stream.MaxReconnectAttempts < 0 {
		return fmt.Errorf("stream.max_reconnect_attempts must not be negative")
	}
	if c.Database.RetentionDays < 0 {
		return fmt.Errorf("database.retention_days must not be negative")
	}
	return nil
}

// Warnings returns non-fatal configuration problems.
func (c *Config) Warnings() []string {
	var w []string
	if !*c.Stream.SubscribeSecondAggregates && !*c.Stream.SubscribeMinuteAggregates {
		w = append(w, "no aggregate channel enabled; the stream will never receive ticks")
	}
	if c.HTTP.ControlToken == "" {
		w = append(w, "http.control_token not set; stream control endpoints disabled")
	}
	if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
		w = append(w, "telegram not configured; operator alerts disabled")
	}
	return w
}

// StreamConfig maps the file configuration onto the stream client configuration.
func (c *Config) StreamConfig() stream.Config {
	return stream.Config{
		Endpoint:                  c.Stream.Endpoint,
		Credential:                c.Stream.APIKey,
		Symbol:                    c.Stream.Symbol,
		Enabled:                   *c.Stream.Enabled,
		UseFallbackData:           *c.Stream.UseFallbackData,
		FallbackTimeout:           c.Stream.FallbackTimeout,
		SubscribeSecondAggregates: *c.Stream.SubscribeSecondAggregates,
		SubscribeMinuteAggregates: *c.Stream.SubscribeMinuteAggregates,
		ForcedRefreshInterval:     c.Stream.ForcedRefreshInterval,
		ReconnectDelay:            c.Stream.ReconnectDelay,
		MaxReconnectAttempts:      c.Stream.MaxReconnectAttempts,
		Fallback:                  c.Fallback,
		Display:                   c.Display,
	}
}

func boolPtr(b bool) *bool { return &b }
