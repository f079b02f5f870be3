// Package config loads server configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8080
	DefaultDatabaseURL = "sqlite://openintent.db"
	DefaultLogLevel    = "info"

	DefaultLeaseSweepInterval        = 5 * time.Second
	DefaultSubscriptionSweepInterval = 30 * time.Second
	DefaultSSEQueueSize              = 100
	DefaultSSEPingInterval           = 30 * time.Second

	DefaultFederationTimeout    = 30 * time.Second
	DefaultFederationMaxRetries = 3
	DefaultFederationRateLimit  = 10 // envelopes per second per source
)

// Config is the full server configuration, resolved once at startup and
// passed down by value.
type Config struct {
	Host        string
	Port        int
	DatabaseURL string
	APIKeys     []string
	LogLevel    slog.Level

	LeaseSweepInterval        time.Duration
	SubscriptionSweepInterval time.Duration
	SSEQueueSize              int
	SSEPingInterval           time.Duration

	// Federation identity and trust.
	PublicURL            string
	ServerDID            string
	TrustPolicy          string
	FederationAllowlist  []string
	FederationSecret     string // enables the HMAC dev fallback when set
	FederationKeyPath    string
	FederationTimeout    time.Duration
	FederationMaxRetries int
	FederationRateLimit  int
}

// Load reads configuration from the environment. It fails on malformed
// values, never on absent ones.
func Load() (Config, error) {
	cfg := Config{
		Host:        getEnv("OPENINTENT_HOST", DefaultHost),
		DatabaseURL: getEnv("DATABASE_URL", DefaultDatabaseURL),
		PublicURL:   os.Getenv("OPENINTENT_PUBLIC_URL"),
		TrustPolicy: getEnv("OPENINTENT_FEDERATION_TRUST", "allowlist"),

		FederationSecret:  os.Getenv("OPENINTENT_FEDERATION_SECRET"),
		FederationKeyPath: getEnv("OPENINTENT_FEDERATION_KEY", "openintent_ed25519.key"),
	}

	port, err := getEnvInt("OPENINTENT_PORT", DefaultPort)
	if err != nil {
		return Config{}, err
	}
	cfg.Port = port

	cfg.APIKeys = splitList(os.Getenv("OPENINTENT_API_KEYS"))
	cfg.FederationAllowlist = splitList(os.Getenv("OPENINTENT_FEDERATION_ALLOWLIST"))

	level, err := parseLogLevel(getEnv("OPENINTENT_LOG_LEVEL", DefaultLogLevel))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	cfg.LeaseSweepInterval, err = getEnvDuration("OPENINTENT_LEASE_SWEEP_INTERVAL", DefaultLeaseSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SubscriptionSweepInterval, err = getEnvDuration("OPENINTENT_SUBSCRIPTION_SWEEP_INTERVAL", DefaultSubscriptionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SSEQueueSize, err = getEnvInt("OPENINTENT_SSE_QUEUE_SIZE", DefaultSSEQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.SSEPingInterval, err = getEnvDuration("OPENINTENT_SSE_PING_INTERVAL", DefaultSSEPingInterval)
	if err != nil {
		return Config{}, err
	}

	cfg.FederationTimeout, err = getEnvDuration("OPENINTENT_FEDERATION_TIMEOUT", DefaultFederationTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FederationMaxRetries, err = getEnvInt("OPENINTENT_FEDERATION_MAX_RETRIES", DefaultFederationMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.FederationRateLimit, err = getEnvInt("OPENINTENT_FEDERATION_RATE_LIMIT", DefaultFederationRateLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.PublicURL == "" {
		cfg.PublicURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}
	if cfg.ServerDID = os.Getenv("OPENINTENT_SERVER_DID"); cfg.ServerDID == "" {
		cfg.ServerDID = didFromURL(cfg.PublicURL)
	}

	return cfg, nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// didFromURL derives a did:web identifier from a public URL, e.g.
// https://intents.example.com:8443 becomes did:web:intents.example.com%3A8443.
func didFromURL(raw string) string {
	host := raw
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")
	host = strings.ReplaceAll(host, ":", "%3A")
	return "did:web:" + host
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid OPENINTENT_LOG_LEVEL %q", s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
