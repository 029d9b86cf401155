package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds service configuration.
type Config struct {
	ServerAddr  string
	UpstreamURL string
	DatabaseURL string

	RelayNick       string
	DefaultChannels []string

	MaxConnections      int
	MaxConnectionsPerIP int
	RateLimitCount      int
	RateLimitWindow     time.Duration

	HistoryCapacity   int
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration

	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Load reads configuration from environment.
func Load() (*Config, error) {
	upstreamURL := os.Getenv("UPSTREAM_URL")
	if upstreamURL == "" {
		return nil, fmt.Errorf("UPSTREAM_URL is required")
	}
	if !strings.HasPrefix(upstreamURL, "ws://") && !strings.HasPrefix(upstreamURL, "wss://") {
		return nil, fmt.Errorf("UPSTREAM_URL must be a ws:// or wss:// URL")
	}

	return &Config{
		ServerAddr:          getenv("SERVER_ADDR", "0.0.0.0:8080"),
		UpstreamURL:         upstreamURL,
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RelayNick:           getenv("RELAY_NICK", "relay-observer"),
		DefaultChannels:     splitCSV(getenv("DEFAULT_CHANNELS", "general,marketplace")),
		MaxConnections:      parseInt(getenv("MAX_CONNECTIONS", "100"), 100),
		MaxConnectionsPerIP: parseInt(getenv("MAX_CONNECTIONS_PER_IP", "10"), 10),
		RateLimitCount:      parseInt(getenv("RATE_LIMIT_COUNT", "50"), 50),
		RateLimitWindow:     parseDuration(getenv("RATE_LIMIT_WINDOW", "10s"), 10*time.Second),
		HistoryCapacity:     parseInt(getenv("HISTORY_CAPACITY", "200"), 200),
		HeartbeatInterval:   parseDuration(getenv("HEARTBEAT_INTERVAL", "30s"), 30*time.Second),
		ClientTimeout:       parseDuration(getenv("CLIENT_TIMEOUT", "40s"), 40*time.Second),
		ReconnectMin:        parseDuration(getenv("RECONNECT_MIN", "1s"), time.Second),
		ReconnectMax:        parseDuration(getenv("RECONNECT_MAX", "30s"), 30*time.Second),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := []string{}
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
