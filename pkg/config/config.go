package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the rotation trader.
type Config struct {
	// Kraken
	KrakenAPIKey    string
	KrakenAPISecret string // base64, as issued by the exchange
	KrakenBaseURL   string

	// Database
	DBPath string

	// Execution
	DryRun             bool
	MakerOffset        float64       // fractional offset for post-only pricing
	OrderPollInterval  time.Duration
	OrderStaleAfter    time.Duration
	MarketFillWait     time.Duration

	// Cadences
	ReconcileEveryHours int
	AnalyzerCronSpec    string // nightly by default
	AnalysisWindowDays  int

	// Live feed
	EnableLiveFeed bool
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	cfg := &Config{
		KrakenAPIKey:        os.Getenv("KRAKEN_API_KEY"),
		KrakenAPISecret:     os.Getenv("KRAKEN_API_SECRET"),
		KrakenBaseURL:       getEnv("KRAKEN_BASE_URL", "https://api.kraken.com"),
		DBPath:              getEnv("DB_PATH", "./data/rotation.db"),
		DryRun:              getEnv("DRY_RUN", "false") == "true",
		MakerOffset:         getEnvFloat("MAKER_OFFSET", 0.001),
		OrderPollInterval:   getEnvDuration("ORDER_POLL_INTERVAL", 5*time.Second),
		OrderStaleAfter:     getEnvDuration("ORDER_STALE_AFTER", 3*time.Minute),
		MarketFillWait:      getEnvDuration("MARKET_FILL_WAIT", 30*time.Second),
		ReconcileEveryHours: getEnvInt("RECONCILE_EVERY_HOURS", 1),
		AnalyzerCronSpec:    getEnv("ANALYZER_CRON", "0 3 * * *"),
		AnalysisWindowDays:  getEnvInt("ANALYSIS_WINDOW_DAYS", 30),
		EnableLiveFeed:      getEnv("ENABLE_LIVE_FEED", "true") == "true",
	}

	if !cfg.DryRun && (cfg.KrakenAPIKey == "" || cfg.KrakenAPISecret == "") {
		return nil, errors.New("config: KRAKEN_API_KEY and KRAKEN_API_SECRET are required outside dry-run")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
