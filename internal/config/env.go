package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides file values with environment variables.
func (c *Config) ApplyEnv() {
	c.DataDir = envString("FEEDCARD_DATA_DIR", c.DataDir)
	c.Language = envString("FEEDCARD_LANGUAGE", c.Language)
	c.Source.Endpoint = envString("FEEDCARD_ENDPOINT", c.Source.Endpoint)
	c.Source.Kind = strings.ToLower(envString("FEEDCARD_SOURCE", c.Source.Kind))
	c.Store.Driver = strings.ToLower(envString("FEEDCARD_STORE_DRIVER", c.Store.Driver))

	c.Telemetry.Enabled = envBool("OTEL_ENABLED", c.Telemetry.Enabled)
	c.Telemetry.Endpoint = envString("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.Endpoint)
	c.Telemetry.Protocol = strings.ToLower(envString("OTEL_EXPORTER_OTLP_PROTOCOL", c.Telemetry.Protocol))
	c.Telemetry.ServiceName = envString("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.SampleRatio = envFloat("OTEL_TRACES_SAMPLE_RATIO", c.Telemetry.SampleRatio)
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
