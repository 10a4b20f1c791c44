package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"tasnim.dev/ebscrypt/internal/waiter"
)

// DefaultKMSKey is the AWS managed key for EBS.
const DefaultKMSKey = "alias/aws/ebs"

// Config holds optional defaults loaded from ~/.config/ebscrypt/config.yaml.
type Config struct {
	DefaultProfile string     `yaml:"default_profile"`
	DefaultRegion  string     `yaml:"default_region"`
	KMSKey         string     `yaml:"kms_key"`
	DiscardSource  bool       `yaml:"discard_source"`
	LogLevel       string     `yaml:"log_level"`
	LogFormat      string     `yaml:"log_format"`
	Wait           WaitConfig `yaml:"wait"`
}

// WaitConfig bounds how long the migration polls for snapshots and volumes.
type WaitConfig struct {
	IntervalSeconds int `yaml:"interval_seconds"`
	MaxAttempts     int `yaml:"max_attempts"`
	TimeoutMinutes  int `yaml:"timeout_minutes"`
}

// DefaultPath returns ~/.config/ebscrypt/config.yaml, or "" when the home
// directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "ebscrypt", "config.yaml")
}

// LoadFile reads the config file at path. Returns zero-value Config if the
// file doesn't exist.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Merge applies CLI flag overrides. Flags take precedence over config defaults.
func (c *Config) Merge(profile, region string) (string, string) {
	p := c.DefaultProfile
	if profile != "" {
		p = profile
	}
	r := c.DefaultRegion
	if region != "" {
		r = region
	}
	return p, r
}

// Key returns the flag value if set, then the configured key, then the
// AWS managed EBS key.
func (c *Config) Key(flag string) string {
	switch {
	case flag != "":
		return flag
	case c.KMSKey != "":
		return c.KMSKey
	default:
		return DefaultKMSKey
	}
}

// WaitPolicy converts the wait section into a waiter policy, filling in
// defaults for unset fields.
func (c *Config) WaitPolicy() waiter.Policy {
	p := waiter.DefaultPolicy()
	if c.Wait.IntervalSeconds > 0 {
		p.Interval = time.Duration(c.Wait.IntervalSeconds) * time.Second
	}
	if c.Wait.MaxAttempts > 0 {
		p.MaxAttempts = c.Wait.MaxAttempts
	}
	if c.Wait.TimeoutMinutes > 0 {
		p.Timeout = time.Duration(c.Wait.TimeoutMinutes) * time.Minute
	}
	return p
}
