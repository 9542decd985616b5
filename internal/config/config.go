package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full environment surface shared by the api and worker
// binaries.
type Config struct {
	// Verification policy.
	EnvelopeSender string
	HeloName       string
	SMTPTimeout    time.Duration
	MaxAttempts    int
	Backoff        []time.Duration
	JitterFraction float64
	MXCacheTTL     time.Duration

	// Adapters.
	ListenAddr        string
	RedisAddr         string
	DatabaseURL       string
	APIKey            string
	WorkerConcurrency int
	LogLevel          string

	// Optional SMTP egress proxying.
	ProxyList        []string
	ProxyConcurrency int
	SMTPProxyEnabled bool
}

// Load reads the environment, honoring a .env file when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		EnvelopeSender: getEnv("ENVELOPE_SENDER", "verify@mta1.mailprobe.io"),
		HeloName:       getEnv("HELO_NAME", "mta1.mailprobe.io"),
		SMTPTimeout:    getEnvAsMillis("SMTP_TIMEOUT_MS", 15000),
		MaxAttempts:    getEnvAsInt("MAX_ATTEMPTS", 3),
		Backoff:        getEnvAsMillisList("BACKOFF_MS", []time.Duration{time.Second, 3 * time.Second, 10 * time.Second}),
		JitterFraction: getEnvAsFloat("JITTER_FRACTION", 0.3),
		MXCacheTTL:     getEnvAsMillis("MX_CACHE_TTL_MS", 15*60*1000),

		ListenAddr:        getEnv("LISTEN_ADDR", ":8080"),
		RedisAddr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		DatabaseURL:       getEnv("DB_URL", ""),
		APIKey:            getEnv("API_SECRET_KEY", ""),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 0),
		LogLevel:          getEnv("LOG_LEVEL", "info"),

		ProxyConcurrency: getEnvAsInt("PROXY_CONCURRENCY", 0),
		SMTPProxyEnabled: getEnvAsBool("SMTP_PROXY_ENABLED", false),
	}

	if raw := getEnv("PROXY_LIST", ""); raw != "" {
		cfg.ProxyList = strings.Split(raw, ",")
	}

	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1, got %d", cfg.MaxAttempts)
	}
	if cfg.JitterFraction < 0 || cfg.JitterFraction >= 1 {
		return nil, fmt.Errorf("JITTER_FRACTION must be in [0, 1), got %v", cfg.JitterFraction)
	}
	if cfg.HeloName == "" {
		return nil, fmt.Errorf("HELO_NAME must not be empty")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return v
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return v
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	}
	return fallback
}

func getEnvAsMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvAsInt(key, fallbackMs)) * time.Millisecond
}

// getEnvAsMillisList parses a comma-separated list of millisecond values,
// e.g. "1000,3000,10000".
func getEnvAsMillisList(key string, fallback []time.Duration) []time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback
	}
	var out []time.Duration
	for _, part := range strings.Split(raw, ",") {
		ms, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || ms < 0 {
			return fallback
		}
		out = append(out, time.Duration(ms)*time.Millisecond)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
