package rules

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the thresholds of the rule battery.
type Config struct {
	MinPolicyMonths    int      `yaml:"min_policy_months"`
	MaxAge             int      `yaml:"max_age"`
	ExcludedProcedures []string `yaml:"excluded_procedures"`
	PayoutCap          float64  `yaml:"payout_cap"`
}

// DefaultConfig returns the standard policy thresholds.
func DefaultConfig() Config {
	return Config{
		MinPolicyMonths:    3,
		MaxAge:             80,
		ExcludedProcedures: []string{"cosmetic"},
		PayoutCap:          100000,
	}
}

// LoadConfig reads thresholds from a YAML file. Missing files yield the
// defaults; fields left out of the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read rules config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal rules config: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinPolicyMonths <= 0 {
		c.MinPolicyMonths = def.MinPolicyMonths
	}
	if c.MaxAge <= 0 {
		c.MaxAge = def.MaxAge
	}
	if c.ExcludedProcedures == nil {
		c.ExcludedProcedures = def.ExcludedProcedures
	}
	if c.PayoutCap <= 0 {
		c.PayoutCap = def.PayoutCap
	}
	terms := make([]string, len(c.ExcludedProcedures))
	copy(terms, c.ExcludedProcedures)
	c.ExcludedProcedures = terms
	return c
}
