package config

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	ServerAddr          string        `env:"KITE_ADDR" envDefault:":8000"`
	Store               string        `env:"KITE_STORE" envDefault:"memory"`
	DatabaseDSN         string        `env:"KITE_DATABASE_DSN"`
	RedisAddr           string        `env:"KITE_REDIS_ADDR"`
	IdMappingTTL        time.Duration `env:"KITE_ID_MAPPING_TTL" envDefault:"48h"`
	SigningSecret       string        `env:"KITE_SIGNING_KEY"`
	WidgetURL           string        `env:"KITE_WIDGET_URL" envDefault:"wss://localhost:8000/ws"`
	AllowedOrigins      []string      `env:"KITE_ALLOWED_ORIGINS" envSeparator:","`
	TelegramToken       string        `env:"KITE_TELEGRAM_TOKEN"`
	TelegramWebhookURL  string        `env:"KITE_TELEGRAM_WEBHOOK_URL"`
	TelegramSecret      string        `env:"KITE_TELEGRAM_SECRET"`
	EventsAsync         bool          `env:"KITE_EVENTS_ASYNC"`
	EventsQueue         int           `env:"KITE_EVENTS_QUEUE" envDefault:"256"`
	LogLevel            string        `env:"KITE_LOG_LEVEL" envDefault:"info"`
	LogFormat           string        `env:"KITE_LOG_FORMAT" envDefault:"text"`
	SingleRouteDelivery bool          `env:"KITE_SINGLE_ROUTE_DELIVERY"`

	SigningKey []byte  `env:"-"`
	Widget     url.URL `env:"-"`
}

// Load reads the configuration from the process environment.
func Load() (*Config, error) {
	return Parse(envMap(os.Environ()))
}

// Parse reads the configuration from environ instead of the process
// environment.
func Parse(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

func (c *Config) validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server address cannot be empty")
	}

	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database DSN cannot be empty")
		}
	default:
		return fmt.Errorf("unsupported store %q", c.Store)
	}

	if c.SigningSecret == "" {
		return fmt.Errorf("signing secret cannot be empty")
	}
	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(c.SigningSecret)
	if err != nil {
		return fmt.Errorf("decode signing secret: %w", err)
	}
	c.SigningKey = signingKey

	widget, err := widgetURL(c.WidgetURL)
	if err != nil {
		return err
	}
	c.Widget = *widget

	if c.TelegramWebhookURL != "" && c.TelegramToken == "" {
		return fmt.Errorf("telegram webhook requires a bot token")
	}
	if c.EventsQueue <= 0 {
		return fmt.Errorf("events queue size must be positive")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unsupported log format %q", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	if base64Secret == "" {
		return nil, fmt.Errorf("empty secret")
	}
	return base64.StdEncoding.DecodeString(base64Secret)
}

// widgetURL parses the base of shareable channel links. Widgets connect
// over secure websockets only.
func widgetURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse widget url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		u.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported widget url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("widget url must have a host")
	}
	return u, nil
}
