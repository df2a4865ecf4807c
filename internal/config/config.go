// Package config provides configuration loading from environment variables,
// an optional YAML file, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opsgrid/sentinel/pkg/baseline"
	"github.com/opsgrid/sentinel/pkg/fingerprint"
)

// GetEnv returns the value of key from the environment, or defaultValue if unset or empty.
func GetEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return defaultValue
}

// GetEnvDuration returns the duration for key, or defaultValue if unset/invalid.
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultValue
	}
	return d
}

// GetEnvBool returns the boolean for key, or defaultValue if unset/invalid.
func GetEnvBool(key string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return defaultValue
	}
}

// Config holds all settings for a sentinel run.
type Config struct {
	// ConfigPaths are the files tracked for integrity drift.
	ConfigPaths []string `yaml:"config_paths"`
	// BaselinePath is where the learned baseline lives.
	BaselinePath string `yaml:"baseline_path"`
	// IncludeNetwork enables the socket table probe.
	IncludeNetwork bool `yaml:"include_network"`
	// WatchInterval is the delay between probe cycles in watch mode.
	WatchInterval time.Duration `yaml:"watch_interval"`
	// NotifyEndpoint, when set, receives deviation reports as JSON POSTs.
	NotifyEndpoint string `yaml:"notify_endpoint"`
	// MetricsAddr, when set, serves Prometheus metrics in watch mode.
	MetricsAddr string `yaml:"metrics_addr"`

	Thresholds fingerprint.Thresholds `yaml:"thresholds"`
}

// Default returns configuration from environment with defaults.
func Default() Config {
	return Config{
		ConfigPaths:    defaultConfigPaths(),
		BaselinePath:   GetEnv("SENTINEL_BASELINE", baseline.DefaultPath()),
		IncludeNetwork: GetEnvBool("SENTINEL_NETWORK", false),
		WatchInterval:  GetEnvDuration("SENTINEL_INTERVAL", 60*time.Second),
		NotifyEndpoint: GetEnv("SENTINEL_NOTIFY_ENDPOINT", ""),
		MetricsAddr:    GetEnv("SENTINEL_METRICS_ADDR", ""),
		Thresholds:     fingerprint.DefaultThresholds(),
	}
}

// defaultConfigPaths are the common system configs probed when the caller
// specifies none.
func defaultConfigPaths() []string {
	return []string{
		"/etc/hosts",
		"/etc/passwd",
		"/etc/ssh/sshd_config",
		"/etc/fstab",
		"/etc/resolv.conf",
	}
}

// Load returns the default config overlaid with values from a YAML file.
// Zero-valued file fields keep their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, fmt.Errorf("parse config file: %w", err)
	}

	if len(file.ConfigPaths) > 0 {
		cfg.ConfigPaths = file.ConfigPaths
	}
	if file.BaselinePath != "" {
		cfg.BaselinePath = file.BaselinePath
	}
	if file.IncludeNetwork {
		cfg.IncludeNetwork = true
	}
	if file.WatchInterval > 0 {
		cfg.WatchInterval = file.WatchInterval
	}
	if file.NotifyEndpoint != "" {
		cfg.NotifyEndpoint = file.NotifyEndpoint
	}
	if file.MetricsAddr != "" {
		cfg.MetricsAddr = file.MetricsAddr
	}
	if file.Thresholds.HighFDCount > 0 {
		cfg.Thresholds.HighFDCount = file.Thresholds.HighFDCount
	}
	if file.Thresholds.LongRunning > 0 {
		cfg.Thresholds.LongRunning = file.Thresholds.LongRunning
	}
	if file.Thresholds.VeryLongRunning > 0 {
		cfg.Thresholds.VeryLongRunning = file.Thresholds.VeryLongRunning
	}
	if file.Thresholds.HighMemoryBytes > 0 {
		cfg.Thresholds.HighMemoryBytes = file.Thresholds.HighMemoryBytes
	}
	return cfg, nil
}
