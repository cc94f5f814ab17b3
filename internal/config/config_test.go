package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, TransportHTTP, cfg.Transport)
	assert.Equal(t, AuthStatic, cfg.AuthMode)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2, cfg.QueueMaxRetries)
	assert.Equal(t, 10*time.Second, cfg.DrainTimeout)
	assert.Equal(t, 10_000, cfg.QueueMaxCapacity)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("KISEKI_TRANSPORT", "stdio")
	t.Setenv("KISEKI_BASE_URL", "https://collector.example")
	t.Setenv("KISEKI_API_KEY", "k")
	t.Setenv("KISEKI_SCHEMA_NAME", "orders_v1")
	t.Setenv("KISEKI_REQUEST_TIMEOUT", "5s")
	t.Setenv("KISEKI_MAX_RETRIES", "7")
	t.Setenv("KISEKI_QUEUE_MAX_CAPACITY", "42")

	cfg := FromEnv()
	assert.Equal(t, TransportStdio, cfg.Transport)
	assert.Equal(t, "https://collector.example", cfg.BaseURL)
	assert.Equal(t, "orders_v1", cfg.SchemaName)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 42, cfg.QueueMaxCapacity)
}

func TestFromEnvIgnoresMalformedValues(t *testing.T) {
	t.Setenv("KISEKI_MAX_RETRIES", "lots")
	t.Setenv("KISEKI_REQUEST_TIMEOUT", "soon")

	cfg := FromEnv()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
}

func TestValidateHTTPRequiresCredentials(t *testing.T) {
	base := Config{
		Transport:        TransportHTTP,
		AuthMode:         AuthStatic,
		QueueMaxCapacity: 100,
	}

	err := base.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "KISEKI_BASE_URL")

	cfg := base
	cfg.BaseURL = "https://collector.example"
	err = cfg.Validate()
	assert.ErrorContains(t, err, "KISEKI_API_KEY")

	cfg.APIKey = "k"
	err = cfg.Validate()
	assert.ErrorContains(t, err, "KISEKI_SCHEMA_NAME")

	cfg.SchemaName = "orders_v1"
	assert.NoError(t, cfg.Validate())
}

func TestValidateStdioNeedsNoCredentials(t *testing.T) {
	cfg := Config{
		Transport:        TransportStdio,
		AuthMode:         AuthStatic,
		QueueMaxCapacity: 100,
	}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadEnums(t *testing.T) {
	cfg := Config{Transport: "carrier-pigeon", AuthMode: AuthStatic, QueueMaxCapacity: 1}
	assert.ErrorContains(t, cfg.Validate(), "KISEKI_TRANSPORT")

	cfg = Config{Transport: TransportStdio, AuthMode: "vibes", QueueMaxCapacity: 1}
	assert.ErrorContains(t, cfg.Validate(), "KISEKI_AUTH_MODE")
}

func TestLoadValidates(t *testing.T) {
	// http transport with no credentials in the environment must fail.
	t.Setenv("KISEKI_TRANSPORT", "http")
	t.Setenv("KISEKI_BASE_URL", "")
	t.Setenv("KISEKI_API_KEY", "")

	_, err := Load()
	assert.Error(t, err)
}
