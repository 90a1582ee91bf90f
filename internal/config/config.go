// Package config loads and validates nestegg configuration from viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Destination modes.
const (
	DestinationLocal  = "local"
	DestinationRemote = "remote"
)

// Remote holds the remote destination parameters. Password-based
// authentication is the only supported path.
type Remote struct {
	Protocol  string `mapstructure:"protocol"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	Directory string `mapstructure:"directory"`
}

// Config is the full recognized configuration surface.
type Config struct {
	StagingDir              string `mapstructure:"staging_dir"`
	LedgerPath              string `mapstructure:"ledger_path"`
	HelperImage             string `mapstructure:"helper_image"`
	HelperTimeoutSeconds    int    `mapstructure:"helper_timeout_seconds"`
	DiscoveryTimeoutSeconds int    `mapstructure:"discovery_timeout_seconds"`
	MaxNamespaceScan        int    `mapstructure:"max_namespace_scan"`
	StartupRetries          int    `mapstructure:"startup_retries"`
	DestinationMode         string `mapstructure:"destination_mode"`
	Remote                  Remote `mapstructure:"remote"`
}

// SetDefaults installs the default configuration values on a viper
// instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("staging_dir", "./backups")
	v.SetDefault("ledger_path", "./data/backups.db")
	v.SetDefault("helper_image", "alpine:3.20")
	v.SetDefault("helper_timeout_seconds", 120)
	v.SetDefault("discovery_timeout_seconds", 20)
	v.SetDefault("max_namespace_scan", 100)
	v.SetDefault("startup_retries", 1)
	v.SetDefault("destination_mode", DestinationLocal)
}

// Load unmarshals and validates configuration from a viper instance.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects contract-violating values before any cluster call is
// attempted.
func (c *Config) Validate() error {
	if c.StagingDir == "" {
		return fmt.Errorf("staging_dir must not be empty")
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("ledger_path must not be empty")
	}
	if c.HelperImage == "" {
		return fmt.Errorf("helper_image must not be empty")
	}
	if c.HelperTimeoutSeconds <= 0 {
		return fmt.Errorf("helper_timeout_seconds must be positive, got %d", c.HelperTimeoutSeconds)
	}
	if c.DiscoveryTimeoutSeconds <= 0 {
		return fmt.Errorf("discovery_timeout_seconds must be positive, got %d", c.DiscoveryTimeoutSeconds)
	}
	if c.MaxNamespaceScan <= 0 {
		return fmt.Errorf("max_namespace_scan must be positive, got %d", c.MaxNamespaceScan)
	}
	if c.StartupRetries < 0 {
		return fmt.Errorf("startup_retries must be >= 0, got %d", c.StartupRetries)
	}

	mode := strings.ToLower(strings.TrimSpace(c.DestinationMode))
	switch mode {
	case DestinationLocal:
	case DestinationRemote:
		if err := c.Remote.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("destination_mode must be %q or %q, got %q", DestinationLocal, DestinationRemote, c.DestinationMode)
	}
	c.DestinationMode = mode
	return nil
}

func (r *Remote) validate() error {
	if r.Protocol == "" {
		return fmt.Errorf("remote.protocol is required for remote destinations")
	}
	if r.Host == "" {
		return fmt.Errorf("remote.host is required for remote destinations")
	}
	if r.Username == "" {
		return fmt.Errorf("remote.username is required for remote destinations")
	}
	if r.Password == "" {
		return fmt.Errorf("remote.password is required for remote destinations")
	}
	if r.Port < 0 {
		return fmt.Errorf("remote.port must be >= 0, got %d", r.Port)
	}
	return nil
}
