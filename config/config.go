// Package config loads application configuration from environment
// variables.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"chartcore/internal/model"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Exchange endpoints
	BinanceWSURL   string
	BinanceRESTURL string

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	GatewayAddr   string

	// Subscription (comma-separated, e.g. "BTCUSDT,ETHUSDT")
	Symbols string

	// Timeframes
	BaseTF     string // kline interval of the upstream feed
	EnabledTFs string // comma-separated derived timeframes, e.g. "5m,15m,1h"

	// Bounded series + bootstrap
	SeriesCapacity int
	HistoryLimit   int

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		BinanceWSURL:   getEnv("BINANCE_WS_URL", "wss://stream.binance.com:9443"),
		BinanceRESTURL: getEnv("BINANCE_REST_URL", "https://api.binance.com"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/candles.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		GatewayAddr:   getEnv("GATEWAY_ADDR", ":8080"),

		Symbols: getEnv("SYMBOLS", "BTCUSDT"),

		BaseTF:     getEnv("BASE_TF", "1m"),
		EnabledTFs: getEnv("ENABLED_TFS", "5m,15m,1h,4h,1d"),

		SeriesCapacity: getEnvInt("SERIES_CAPACITY", 1000),
		HistoryLimit:   getEnvInt("HISTORY_LIMIT", 1000),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// ParseSymbols splits the Symbols string into a cleaned, upper-cased slice.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

// ParseBaseTF parses the base timeframe. Invalid values are fatal since
// every lane derives from it.
func (c *Config) ParseBaseTF() model.Timeframe {
	tf, err := model.ParseTimeframe(c.BaseTF)
	if err != nil {
		log.Fatalf("[config] invalid BASE_TF %q: %v", c.BaseTF, err)
	}
	return tf
}

// ParseEnabledTFs parses the derived timeframe list, dropping entries at
// or below the base timeframe.
func (c *Config) ParseEnabledTFs() []model.Timeframe {
	base := c.ParseBaseTF()
	tfs, err := model.ParseTimeframes(c.EnabledTFs)
	if err != nil {
		log.Printf("[config] %v (skipped)", err)
	}
	out := tfs[:0]
	for _, tf := range tfs {
		if tf <= base {
			log.Printf("[config] skipping TF %s: not above base %s", tf, base)
			continue
		}
		out = append(out, tf)
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}
