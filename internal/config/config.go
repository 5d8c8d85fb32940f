package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models laneguard.yml. It is the explicit context passed into every
// engine operation; nothing reads ambient process state for roots or caps.
type Config struct {
	Engine struct {
		WorkRoot   string `yaml:"work_root"`
		PolicyRoot string `yaml:"policy_root"`
	} `yaml:"engine"`
	Routing struct {
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	} `yaml:"routing"`
	CI struct {
		MaxFixAttempts    int `yaml:"max_fix_attempts"`
		MaxUnchangedPolls int `yaml:"max_unchanged_polls"`
	} `yaml:"ci"`
	Approvals struct {
		AutoApprove struct {
			Enabled bool   `yaml:"enabled"`
			MaxRisk string `yaml:"max_risk"`
		} `yaml:"auto_approve"`
		DualSignoffRisk string `yaml:"dual_signoff_risk"`
	} `yaml:"approvals"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one HTTP sink for feedback events.
type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events,omitempty"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with lg init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional falls back to defaults when no config file exists.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Engine.WorkRoot == "" {
		return fmt.Errorf("config.engine.work_root is required")
	}
	if c.Engine.PolicyRoot == "" {
		return fmt.Errorf("config.engine.policy_root is required")
	}
	if c.Routing.ConfidenceThreshold < 0 || c.Routing.ConfidenceThreshold > 1 {
		return fmt.Errorf("config.routing.confidence_threshold must be in [0,1]")
	}
	if c.CI.MaxFixAttempts < 0 {
		return fmt.Errorf("config.ci.max_fix_attempts must not be negative")
	}
	if c.CI.MaxUnchangedPolls < 0 {
		return fmt.Errorf("config.ci.max_unchanged_polls must not be negative")
	}
	switch c.Approvals.AutoApprove.MaxRisk {
	case "", "low", "medium":
	case "high":
		return fmt.Errorf("config.approvals.auto_approve.max_risk must not be high")
	default:
		return fmt.Errorf("unknown auto_approve.max_risk %q", c.Approvals.AutoApprove.MaxRisk)
	}
	switch c.Approvals.DualSignoffRisk {
	case "", "high", "medium":
	default:
		return fmt.Errorf("unknown dual_signoff_risk %q", c.Approvals.DualSignoffRisk)
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "laneguard.yml")
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML for lg init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `engine:
  work_root: ./work
  policy_root: ./policy

routing:
  confidence_threshold: 0.75

ci:
  max_fix_attempts: 5
  max_unchanged_polls: 3

approvals:
  auto_approve:
    enabled: true
    max_risk: medium
  dual_signoff_risk: high
`
