package protocol

import (
	"time"

	"github.com/clipforge/warden/pkg/consts"
)

// Config is the root configuration for the warden supervisor.
type Config struct {
	Version       string              `yaml:"version"`
	Backend       BackendConfig       `yaml:"backend"`
	Launch        LaunchConfig        `yaml:"launch"`
	Health        HealthConfig        `yaml:"health"`
	Bridge        BridgeConfig        `yaml:"bridge"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type BackendConfig struct {
	// BaseURL is where the backend's HTTP API listens. Empty means the
	// default local bind, overridable via WARDEN_BACKEND_URL.
	BaseURL string `yaml:"base_url"`
	// ResourcesDir overrides the packaged application resource directory
	// detected by the prober.
	ResourcesDir string `yaml:"resources_dir"`
	// SourceDir overrides the development source tree location.
	SourceDir string `yaml:"source_dir"`
	// Env holds extra NAME=VALUE pairs passed to the spawned backend.
	Env []string `yaml:"env"`
}

type LaunchConfig struct {
	GracePeriod string `yaml:"grace_period"` // Graceful shutdown window before SIGKILL
}

type HealthConfig struct {
	Interval     string `yaml:"interval"`      // Poll interval
	ProbeTimeout string `yaml:"probe_timeout"` // Per-probe bound
}

type BridgeConfig struct {
	ListenAddr string `yaml:"listen_addr"` // UI-facing HTTP surface
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Normalize fills every unset field with its default so downstream code
// reads the config without per-site fallbacks. BaseURL is left alone: it
// resolves through the config > WARDEN_BACKEND_URL > default chain at
// startup, and a value written here would mask the environment override.
func (c *Config) Normalize() {
	if c.Launch.GracePeriod == "" {
		c.Launch.GracePeriod = consts.DefaultGracePeriod.String()
	}
	if c.Health.Interval == "" {
		c.Health.Interval = consts.DefaultPollInterval.String()
	}
	if c.Health.ProbeTimeout == "" {
		c.Health.ProbeTimeout = consts.DefaultProbeTimeout.String()
	}
	if c.Bridge.ListenAddr == "" {
		c.Bridge.ListenAddr = consts.DefaultBridgeAddr
	}
	if c.Observability.LogLevel == "" {
		c.Observability.LogLevel = "info"
	}
}

// GracePeriodDuration parses the configured grace period, falling back to
// the default on absence or parse failure.
func (l LaunchConfig) GracePeriodDuration() time.Duration {
	return parseDuration(l.GracePeriod, consts.DefaultGracePeriod)
}

// IntervalDuration parses the configured poll interval.
func (h HealthConfig) IntervalDuration() time.Duration {
	return parseDuration(h.Interval, consts.DefaultPollInterval)
}

// ProbeTimeoutDuration parses the per-probe timeout bound.
func (h HealthConfig) ProbeTimeoutDuration() time.Duration {
	return parseDuration(h.ProbeTimeout, consts.DefaultProbeTimeout)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
