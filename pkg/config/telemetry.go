package config

import (
	"fmt"
	"strings"
	"time"
)

type TelemetryConfig struct {
	Enabled bool `koanf:"enabled"`
	Traces  struct {
		OtlpHttp struct {
			Endpoint string        `koanf:"endpoint"`
			Timeout  time.Duration `koanf:"timeout"`
			Insecure bool          `koanf:"insecure"`
		} `koanf:"otlphttp"`
	} `koanf:"traces"`
}

// String returns a string representation of the telemetry configuration.
func (c *TelemetryConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Telemetry ---\n")
	b.WriteString(fmt.Sprintf("  enabled: %t\n", c.Enabled))
	b.WriteString(fmt.Sprintf("  traces.otlphttp.endpoint: %s\n", c.Traces.OtlpHttp.Endpoint))
	b.WriteString(fmt.Sprintf("  traces.otlphttp.timeout: %s\n", c.Traces.OtlpHttp.Timeout))
	b.WriteString(fmt.Sprintf("  traces.otlphttp.insecure: %t\n", c.Traces.OtlpHttp.Insecure))
	return b.String()
}

func (c *TelemetryConfig) Validate() error {
	if c.Enabled && c.Traces.OtlpHttp.Endpoint == "" {
		return fmt.Errorf("telemetry is enabled but traces endpoint is not configured")
	}
	return nil
}
