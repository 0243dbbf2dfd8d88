package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Data is the coordinator's full configuration, loadable from a YAML
// file overlaid with environment variables.
type Data struct {
	// ListenAddress is the address the coordinator's API/metrics
	// endpoints bind to.
	ListenAddress string `json:"listenAddress" yaml:"listenAddress" env:"PGFO_LISTEN_ADDRESS"`

	// StoreDriver selects the store.Store backend: "memory" or "postgres".
	StoreDriver string `json:"storeDriver" yaml:"storeDriver" env:"PGFO_STORE_DRIVER"`

	// StoreDSN is the lib/pq connection string, used when StoreDriver is
	// "postgres".
	StoreDSN string `json:"storeDsn" yaml:"storeDsn" env:"PGFO_STORE_DSN"`

	// LogLevel is one of debug/info/warn/error.
	LogLevel string `json:"logLevel" yaml:"logLevel" env:"PGFO_LOG_LEVEL"`

	// LogFormat is "console" or "json".
	LogFormat string `json:"logFormat" yaml:"logFormat" env:"PGFO_LOG_FORMAT"`

	// SweepIntervalSeconds is how often the background sweeper
	// re-evaluates every group for time-based transitions.
	SweepIntervalSeconds int64 `json:"sweepIntervalSeconds" yaml:"sweepIntervalSeconds" env:"PGFO_SWEEP_INTERVAL_SECONDS"`

	// MinAgentVersion is the minimum agent semver, in the form
	// internal/version.CheckMinimum accepts. It is loaded like every other
	// field; RegisterNode does not compare agent versions against it.
	MinAgentVersion string `json:"minAgentVersion" yaml:"minAgentVersion" env:"PGFO_MIN_AGENT_VERSION"`

	// Default formation timers and thresholds. They are loaded like every
	// other field; no code in this repository builds a formation record
	// from them.
	EnableSyncLagThresholdBytes int64 `json:"enableSyncLagThresholdBytes" yaml:"enableSyncLagThresholdBytes" env:"PGFO_ENABLE_SYNC_LAG_THRESHOLD_BYTES"`
	PromoteLagThresholdBytes    int64 `json:"promoteLagThresholdBytes"    yaml:"promoteLagThresholdBytes"    env:"PGFO_PROMOTE_LAG_THRESHOLD_BYTES"`
	DrainTimeoutSeconds         int64 `json:"drainTimeoutSeconds"         yaml:"drainTimeoutSeconds"         env:"PGFO_DRAIN_TIMEOUT_SECONDS"`
	UnhealthyTimeoutSeconds     int64 `json:"unhealthyTimeoutSeconds"     yaml:"unhealthyTimeoutSeconds"     env:"PGFO_UNHEALTHY_TIMEOUT_SECONDS"`
	StartupGraceSeconds         int64 `json:"startupGraceSeconds"         yaml:"startupGraceSeconds"         env:"PGFO_STARTUP_GRACE_SECONDS"`
}

// Defaults mirrors spec.md §8's reference thresholds.
func Defaults() *Data {
	return &Data{
		ListenAddress:               ":8080",
		StoreDriver:                 "memory",
		LogLevel:                    "info",
		LogFormat:                   "console",
		SweepIntervalSeconds:        5,
		MinAgentVersion:             "1.0.0",
		EnableSyncLagThresholdBytes: 16 << 20,
		PromoteLagThresholdBytes:    16 << 20,
		DrainTimeoutSeconds:         30,
		UnhealthyTimeoutSeconds:     20,
		StartupGraceSeconds:         10,
	}
}

// Load unmarshals a YAML document over Defaults(), then overlays any
// matching environment variable on top field by field — env always wins,
// and a value absent or unparseable from the environment falls back to
// whatever the YAML document (or the built-in default) already set.
func Load(yamlDoc []byte, env EnvironmentSource) (*Data, error) {
	data := Defaults()
	if len(yamlDoc) > 0 {
		if err := yaml.Unmarshal(yamlDoc, data); err != nil {
			return nil, err
		}
	}

	current := *data
	ReadConfigMap(data, &current, nil, env)
	return data, nil
}

// SweepInterval and the three formation timer defaults are exposed as
// time.Duration helpers; the lag thresholds are already plain byte counts.
func (d *Data) SweepInterval() time.Duration     { return time.Duration(d.SweepIntervalSeconds) * time.Second }
func (d *Data) DrainTimeout() time.Duration      { return time.Duration(d.DrainTimeoutSeconds) * time.Second }
func (d *Data) UnhealthyTimeout() time.Duration  { return time.Duration(d.UnhealthyTimeoutSeconds) * time.Second }
func (d *Data) StartupGrace() time.Duration      { return time.Duration(d.StartupGraceSeconds) * time.Second }
