package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration fields for the service binaries.
type Config struct {
	DatabaseURL string
	AutoMigrate bool
	Port        string
	LogLevel    string
	LogFormat   string

	AMQPURL     string
	NotifyTopic string

	GupshupBaseURL      string
	GupshupAPIKey       string
	GupshupAppName      string
	GupshupSourceNumber string
	GupshupRPS          float64

	BridgeBaseURL string
	BridgeSecret  string

	HTTPTimeout time.Duration

	SchedulerSpec  string
	RunScheduler   bool
	RecoverOnStart bool
	Timezone       string

	ServiceAPIKey string
	WebhookDebug  bool

	// WSAllowedOrigins lists browser origins accepted on /ws. Empty means
	// same-origin only.
	WSAllowedOrigins []string
}

// Load reads a .env file when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, relying on OS environment variables")
	}

	cfg := &Config{
		DatabaseURL:         databaseURL(),
		Port:                getenv("PORT", "8080"),
		LogLevel:            getenv("LOG_LEVEL", "info"),
		LogFormat:           getenv("LOG_FORMAT", "console"),
		AMQPURL:             os.Getenv("AMQP_URL"),
		NotifyTopic:         getenv("NOTIFY_TOPIC", "campaign_status_updated"),
		GupshupBaseURL:      getenv("GUPSHUP_API_URL", "https://api.gupshup.io"),
		GupshupAPIKey:       os.Getenv("GUPSHUP_API_KEY"),
		GupshupAppName:      os.Getenv("GUPSHUP_APP_NAME"),
		GupshupSourceNumber: os.Getenv("GUPSHUP_SOURCE_NUMBER"),
		BridgeBaseURL:       os.Getenv("BAILEYS_API_URL"),
		BridgeSecret:        os.Getenv("BAILEYS_API_SECRET"),
		SchedulerSpec:       getenv("SCHEDULER_SPEC", "@every 1m"),
		Timezone:            getenv("CAMPAIGN_TIMEZONE", "America/Sao_Paulo"),
		ServiceAPIKey:       os.Getenv("SERVICE_API_KEY"),
		WSAllowedOrigins:    getlist("WS_ALLOWED_ORIGINS"),
	}

	var err error
	if cfg.AutoMigrate, err = getbool("AUTO_MIGRATE", false); err != nil {
		return nil, err
	}
	if cfg.RunScheduler, err = getbool("RUN_SCHEDULER", true); err != nil {
		return nil, err
	}
	if cfg.RecoverOnStart, err = getbool("RECOVER_ON_START", true); err != nil {
		return nil, err
	}
	if cfg.WebhookDebug, err = getbool("DEBUG_WEBHOOKS", false); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getduration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if raw := os.Getenv("GUPSHUP_RPS"); raw != "" {
		cfg.GupshupRPS, err = strconv.ParseFloat(raw, 64)
		if err != nil || cfg.GupshupRPS < 0 {
			return nil, fmt.Errorf("GUPSHUP_RPS: invalid value %q", raw)
		}
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("CAMPAIGN_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// Location returns the timezone used to read naive schedule timestamps.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"),
		getenv("DB_HOST", "localhost"), getenv("DB_PORT", "5432"), os.Getenv("DB_NAME"),
	)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getlist(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getbool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, raw)
	}
	return v, nil
}

func getduration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, raw, err)
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
