package main

import (
	"testing"

	"github.com/chinmina/xert-bridge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestConfigureHTTPTransport(t *testing.T) {
	transport := configureHTTPTransport(config.ServerConfig{
		OutgoingHTTPMaxIdleConns:    7,
		OutgoingHTTPMaxConnsPerHost: 3,
	})

	assert.Equal(t, 7, transport.MaxIdleConns)
	assert.Equal(t, 3, transport.MaxConnsPerHost)
}

func TestConfigureLogging(t *testing.T) {
	original := log.Logger
	t.Cleanup(func() {
		log.Logger = original
		zerolog.DefaultContextLogger = nil
	})

	tests := []struct {
		name     string
		cfg      config.LogConfig
		expected zerolog.Level
	}{
		{"empty defaults to info", config.LogConfig{}, zerolog.InfoLevel},
		{"upper case accepted", config.LogConfig{Level: "DEBUG", Format: "json"}, zerolog.DebugLevel},
		{"console format", config.LogConfig{Level: "warn", Format: "console"}, zerolog.WarnLevel},
		{"unknown level falls back", config.LogConfig{Level: "chatty"}, zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configureLogging(tt.cfg)

			assert.Equal(t, tt.expected, log.Logger.GetLevel())
			assert.Same(t, &log.Logger, zerolog.DefaultContextLogger)
		})
	}
}
