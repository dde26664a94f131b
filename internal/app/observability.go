package app

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/airpulse/airpulse/internal/config"
	"github.com/airpulse/airpulse/internal/telemetry"
)

// NewLogger returns the root logger for a binary. An unknown level falls
// back to info.
func NewLogger(w io.Writer, service, version, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Str("version", version).
		Logger()
}

// TelemetryConfig maps the file config onto telemetry.Init settings.
func TelemetryConfig(cfg config.Config, service, version string) telemetry.Config {
	return telemetry.Config{
		ServiceName:    service,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	}
}
