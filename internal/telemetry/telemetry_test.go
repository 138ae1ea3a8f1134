package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentjj/internal/config"
)

func TestNewDisabled(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	tel, err := New(context.Background(), cfg)
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Healthy)
	assert.False(t, tel.Health().Degraded)

	// Disabled instances still hand out usable no-op scopes.
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	_, err := New(context.Background(), cfg)
	require.Error(t, err)
}

func TestNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	require.NoError(t, tel.Shutdown(context.Background()))
	require.NoError(t, tel.ForceFlush(context.Background()))
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults disabled", func(c *Config) {}, false},
		{"enabled local", func(c *Config) { c.Enabled = true }, false},
		{"enabled ipv6 local", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "[::1]:4317"
		}, false},
		{"insecure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
		}, true},
		{"secure remote", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
			c.Insecure = false
		}, false},
		{"bad protocol", func(c *Config) {
			c.Enabled = true
			c.Protocol = "udp"
		}, true},
		{"bad sample rate", func(c *Config) {
			c.Enabled = true
			c.Sampling.Rate = 1.5
		}, true},
		{"zero shutdown timeout", func(c *Config) {
			c.Enabled = true
			c.Shutdown.Timeout = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestNewConfigFromApp(t *testing.T) {
	t.Parallel()

	app := config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4318",
		Protocol:    "http",
		Insecure:    true,
		ServiceName: "agentjj-test",
		SampleRatio: 0.25,
	}

	cfg := NewConfig(app)
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "127.0.0.1:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "agentjj-test", cfg.ServiceName)
	assert.InDelta(t, 0.25, cfg.Sampling.Rate, 1e-9)
	// Fields the app section does not carry keep their defaults.
	assert.Equal(t, "0.1.0", cfg.ServiceVersion)
	assert.True(t, cfg.Metrics.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestStripScheme(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "host:4318", stripScheme("https://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("http://host:4318"))
	assert.Equal(t, "host:4318", stripScheme("host:4318"))
}

func TestTestTelemetrySpans(t *testing.T) {
	t.Parallel()

	tt := NewTestTelemetry()
	tracer := tt.Tracer("test")

	_, span := tracer.Start(context.Background(), "engine.run")
	span.End()

	tt.AssertSpanExists(t, "engine.run")
	assert.Nil(t, tt.SpanByName("missing"))
	assert.True(t, tt.IsEnabled())
}
