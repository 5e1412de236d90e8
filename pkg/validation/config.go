package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxDepth is the default nesting limit of a field tree
	DefaultMaxDepth = 100
	// DefaultMaxSizeBytes is the default limit on raw schema content
	DefaultMaxSizeBytes = 1 << 20
)

// Config represents the validation configuration
type Config struct {
	Version           string              `yaml:"version"`
	Limits            Limits              `yaml:"limits"`
	DisabledRules     []string            `yaml:"disabled_rules,omitempty"`
	SeverityOverrides map[string]Severity `yaml:"severity_overrides,omitempty"`
	FailFast          bool                `yaml:"fail_fast"`
}

// Limits bounds the size of accepted schemas
type Limits struct {
	MaxDepth     int `yaml:"max_depth"`
	MaxSizeBytes int `yaml:"max_size_bytes"`
}

// DefaultConfig returns default validation configuration
func DefaultConfig() *Config {
	return &Config{
		Version: "v1",
		Limits: Limits{
			MaxDepth:     DefaultMaxDepth,
			MaxSizeBytes: DefaultMaxSizeBytes,
		},
		DisabledRules:     []string{},
		SeverityOverrides: map[string]Severity{},
	}
}

// LoadConfig loads configuration from a YAML file. Unset limits take their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read validation config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML configuration
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse validation config: %w", err)
	}
	if config.Limits.MaxDepth == 0 {
		config.Limits.MaxDepth = DefaultMaxDepth
	}
	if config.Limits.MaxSizeBytes == 0 {
		config.Limits.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal validation config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write validation config: %w", err)
	}
	return nil
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	if c.Limits.MaxDepth < 0 {
		return fmt.Errorf("limits.max_depth must be positive, got %d", c.Limits.MaxDepth)
	}
	if c.Limits.MaxSizeBytes < 0 {
		return fmt.Errorf("limits.max_size_bytes must be positive, got %d", c.Limits.MaxSizeBytes)
	}
	for rule, sev := range c.SeverityOverrides {
		if !sev.Valid() {
			return fmt.Errorf("severity override for %s: unknown severity %q", rule, sev)
		}
	}
	return nil
}

// IsDisabled reports whether a rule is switched off
func (c *Config) IsDisabled(rule string) bool {
	for _, name := range c.DisabledRules {
		if name == rule {
			return true
		}
	}
	return false
}

// SeverityFor returns the configured override for a rule. Naming rules are
// advisory and cannot be raised to error.
func (c *Config) SeverityFor(rule Rule) (Severity, bool) {
	if c == nil {
		return "", false
	}
	sev, ok := c.SeverityOverrides[rule.Name()]
	if !ok {
		return "", false
	}
	if rule.Category() == CategoryNaming && sev == SeverityError {
		return SeverityWarning, true
	}
	return sev, true
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	out := *c
	out.DisabledRules = append([]string(nil), c.DisabledRules...)
	out.SeverityOverrides = make(map[string]Severity, len(c.SeverityOverrides))
	for k, v := range c.SeverityOverrides {
		out.SeverityOverrides[k] = v
	}
	return &out
}
