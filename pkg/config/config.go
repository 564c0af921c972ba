// Package config loads service configuration from the environment, with an
// optional yaml profile file layered underneath.
package config

import (
	"log/slog"
	"os"
)

// Config holds server configuration.
type Config struct {
	Port        string `yaml:"port"`
	LogLevel    string `yaml:"log_level"`
	TenantID    string `yaml:"tenant_id"`
	StoreDriver string `yaml:"store_driver"` // memory | sqlite | postgres
	StoreDSN    string `yaml:"store_dsn"`

	TelemetryEnabled bool   `yaml:"telemetry_enabled"`
	OTLPEndpoint     string `yaml:"otlp_endpoint"`
	OTLPInsecure     bool   `yaml:"otlp_insecure"`
}

// Load reads configuration from environment variables, falling back to
// defaults. Environment always wins over profile values.
func Load() *Config {
	cfg := defaults()

	if path := os.Getenv("SENTINEL_PROFILE"); path != "" {
		// Missing or malformed profiles fall through to env/defaults.
		if err := ApplyProfile(cfg, path); err != nil {
			slog.Warn("config profile not applied", "path", path, "error", err)
		}
	}

	applyEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		Port:         "8080",
		LogLevel:     "INFO",
		TenantID:     "default",
		StoreDriver:  "sqlite",
		StoreDSN:     "sentinel.db",
		OTLPEndpoint: "localhost:4317",
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TENANT_ID"); v != "" {
		cfg.TenantID = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		cfg.StoreDSN = v
	}
	if os.Getenv("TELEMETRY_ENABLED") == "true" {
		cfg.TelemetryEnabled = true
	}
	if v := os.Getenv("OTLP_ENDPOINT"); v != "" {
		cfg.OTLPEndpoint = v
	}
	if os.Getenv("OTLP_INSECURE") == "true" {
		cfg.OTLPInsecure = true
	}
}
