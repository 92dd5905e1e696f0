// Package config reads service settings from the environment.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Rate is a request budget over a window.
type Rate struct {
	Requests int
	Window   time.Duration
}

type Config struct {
	Port           string
	DBURL          string
	JWTSecret      string
	JWTIssuer      string
	AllowedOrigins []string
	LogLevel       slog.Level

	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64

	MessageRate Rate
	TypingRate  Rate
	TypingTTL   time.Duration
	HTTPRate    Rate

	HistoryLimit    int
	HistoryMaxLimit int

	StoreMaxRetries uint64
	StoreRetryBase  time.Duration
}

// Load reads .env if present, then the process environment. Unset or
// unparsable values fall back to their defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file loaded", "error", err)
	}

	return Config{
		Port:           getString("PORT", "8080"),
		DBURL:          os.Getenv("DB_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      os.Getenv("JWT_ISS"),
		AllowedOrigins: getList("ALLOWED_ORIGINS"),
		LogLevel:       getLevel("LOG_LEVEL", slog.LevelInfo),

		SendBuffer:      getInt("SEND_BUFFER", 64),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		PingInterval:    getDuration("PING_INTERVAL", 30*time.Second),
		MaxMessageBytes: int64(getInt("MAX_MESSAGE_BYTES", 64<<10)),

		MessageRate: getRate("MESSAGE_RATE", Rate{30, time.Minute}),
		TypingRate:  getRate("TYPING_RATE", Rate{10, 10 * time.Second}),
		TypingTTL:   getDuration("TYPING_TTL", 5*time.Second),
		HTTPRate:    getRate("HTTP_RATE", Rate{120, time.Minute}),

		HistoryLimit:    getInt("HISTORY_LIMIT", 50),
		HistoryMaxLimit: getInt("HISTORY_MAX_LIMIT", 200),

		StoreMaxRetries: uint64(getInt("STORE_MAX_RETRIES", 3)),
		StoreRetryBase:  getDuration("STORE_RETRY_BASE", 50*time.Millisecond),
	}
}

// Validate reports every required setting that is missing.
func (c Config) Validate() error {
	var errs []error
	if c.DBURL == "" {
		errs = append(errs, errors.New("DB_URL environment variable is not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET environment variable is not set"))
	}
	if c.HistoryLimit > c.HistoryMaxLimit {
		errs = append(errs, errors.New("HISTORY_LIMIT must not exceed HISTORY_MAX_LIMIT"))
	}
	return errors.Join(errs...)
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("invalid integer setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration setting, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// getRate parses "<requests>/<window>", e.g. "30/1m".
func getRate(key string, def Rate) Rate {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, w, ok := strings.Cut(v, "/")
	requests, err := strconv.Atoi(strings.TrimSpace(n))
	if !ok || err != nil || requests <= 0 {
		slog.Warn("invalid rate setting, using default", "key", key, "value", v)
		return def
	}
	window, err := time.ParseDuration(strings.TrimSpace(w))
	if err != nil || window <= 0 {
		slog.Warn("invalid rate setting, using default", "key", key, "value", v)
		return def
	}
	return Rate{Requests: requests, Window: window}
}

func getList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getLevel(key string, def slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		slog.Warn("invalid log level, using default", "key", key, "value", v)
		return def
	}
	return l
}
