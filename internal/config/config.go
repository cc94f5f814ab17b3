// Package config loads and validates SDK configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Transport modes.
const (
	TransportHTTP  = "http"
	TransportStdio = "stdio"
)

// Auth modes for the HTTP transport.
const (
	AuthStatic   = "static"   // API key sent directly as the bearer token.
	AuthExchange = "exchange" // API key exchanged for a short-lived JWT.
)

// Config holds all SDK configuration.
type Config struct {
	// Transport selection: "http" or "stdio".
	Transport string

	// Collector settings (HTTP transport).
	BaseURL    string
	APIKey     string
	AuthMode   string
	SchemaName string // Span schema name sent with every span create.

	// Agent identity.
	AgentID          string
	AgentIdentifier  string // agent_version.external_identifier
	AgentName        string
	AgentDescription string

	// HTTP requester settings.
	RequestTimeout time.Duration
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration

	// Queue settings.
	QueueMaxRetries  int
	QueueRetryDelay  time.Duration
	DrainTimeout     time.Duration
	QueueMaxCapacity int

	// OTEL self-telemetry settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables and validates it.
func Load() (Config, error) {
	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv reads configuration from environment variables with sensible
// defaults, without validating. Callers that layer overrides on top (the SDK's
// functional options) validate after merging.
func FromEnv() Config {
	return Config{
		Transport:        envStr("KISEKI_TRANSPORT", TransportHTTP),
		BaseURL:          envStr("KISEKI_BASE_URL", ""),
		APIKey:           envStr("KISEKI_API_KEY", ""),
		AuthMode:         envStr("KISEKI_AUTH_MODE", AuthStatic),
		SchemaName:       envStr("KISEKI_SCHEMA_NAME", ""),
		AgentID:          envStr("KISEKI_AGENT_ID", ""),
		AgentIdentifier:  envStr("KISEKI_AGENT_IDENTIFIER", ""),
		AgentName:        envStr("KISEKI_AGENT_NAME", ""),
		AgentDescription: envStr("KISEKI_AGENT_DESCRIPTION", ""),
		RequestTimeout:   envDuration("KISEKI_REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:       envInt("KISEKI_MAX_RETRIES", 3),
		InitialDelay:     envDuration("KISEKI_RETRY_INITIAL_DELAY", 500*time.Millisecond),
		MaxDelay:         envDuration("KISEKI_RETRY_MAX_DELAY", 30*time.Second),
		QueueMaxRetries:  envInt("KISEKI_QUEUE_MAX_RETRIES", 2),
		QueueRetryDelay:  envDuration("KISEKI_QUEUE_RETRY_DELAY", 200*time.Millisecond),
		DrainTimeout:     envDuration("KISEKI_DRAIN_TIMEOUT", 10*time.Second),
		QueueMaxCapacity: envInt("KISEKI_QUEUE_MAX_CAPACITY", 10_000),
		OTELEndpoint:     envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:      envStr("OTEL_SERVICE_NAME", "kiseki"),
		LogLevel:         envStr("KISEKI_LOG_LEVEL", "info"),
	}
}

// Validate checks that required configuration is present. Network credentials
// are required for the HTTP transport and never silently defaulted.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportHTTP, TransportStdio:
	default:
		return fmt.Errorf("config: KISEKI_TRANSPORT must be %q or %q, got %q", TransportHTTP, TransportStdio, c.Transport)
	}
	if c.Transport == TransportHTTP {
		if c.BaseURL == "" {
			return fmt.Errorf("config: KISEKI_BASE_URL is required for the http transport")
		}
		if c.APIKey == "" {
			return fmt.Errorf("config: KISEKI_API_KEY is required for the http transport")
		}
		if c.SchemaName == "" {
			return fmt.Errorf("config: KISEKI_SCHEMA_NAME is required for the http transport")
		}
	}
	if c.AuthMode != AuthStatic && c.AuthMode != AuthExchange {
		return fmt.Errorf("config: KISEKI_AUTH_MODE must be %q or %q, got %q", AuthStatic, AuthExchange, c.AuthMode)
	}
	if c.QueueMaxCapacity <= 0 {
		return fmt.Errorf("config: KISEKI_QUEUE_MAX_CAPACITY must be positive")
	}
	if c.MaxRetries < 0 || c.QueueMaxRetries < 0 {
		return fmt.Errorf("config: retry counts must not be negative")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
