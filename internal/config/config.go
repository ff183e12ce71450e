package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"permitdesk/internal/lifecycle"
)

// Config models permitdesk.yml.
type Config struct {
	Office struct {
		Name string `yaml:"name"`
	} `yaml:"office"`
	Approval struct {
		// ExpiryMonths is how long an approval stays valid. Defaults to 12;
		// the backend contract never confirmed another value.
		ExpiryMonths int `yaml:"expiry_months"`
	} `yaml:"approval"`
	PermitTypes map[string]PermitTypeConfig `yaml:"permit_types"`
	Limits      struct {
		WorkDescription int `yaml:"work_description"`
		ApprovalNotes   int `yaml:"approval_notes"`
		RejectionReason int `yaml:"rejection_reason"`
	} `yaml:"limits"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type PermitTypeConfig struct {
	Kind        string  `yaml:"kind"`
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	BaseFee     float64 `yaml:"base_fee"`
	ReviewDays  int     `yaml:"review_days"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Expiry returns the configured approval validity window.
func (c *Config) Expiry() time.Duration {
	months := c.Approval.ExpiryMonths
	if months <= 0 {
		months = 12
	}
	return time.Duration(months) * 30 * 24 * time.Hour
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Office.Name == "" {
		return fmt.Errorf("config.office.name is required")
	}
	if c.Approval.ExpiryMonths < 0 {
		return fmt.Errorf("config.approval.expiry_months must not be negative")
	}
	if len(c.PermitTypes) == 0 {
		return fmt.Errorf("config.permit_types is required")
	}
	for id, pt := range c.PermitTypes {
		if id == "" {
			return fmt.Errorf("config.permit_types contains empty id")
		}
		if pt.Kind != "building" && pt.Kind != "gas" {
			return fmt.Errorf("permit type %s has unknown kind %q", id, pt.Kind)
		}
		if pt.Name == "" {
			return fmt.Errorf("permit type %s is missing a name", id)
		}
		if pt.BaseFee < 0 {
			return fmt.Errorf("permit type %s has negative base fee", id)
		}
	}
	if c.Limits.WorkDescription < 0 || c.Limits.ApprovalNotes < 0 || c.Limits.RejectionReason < 0 {
		return fmt.Errorf("config.limits values must not be negative")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("webhook %d is missing a url", i)
		}
	}
	return nil
}

// WorkDescriptionLimit returns the configured cap, defaulting to the UI cap.
func (c *Config) WorkDescriptionLimit() int {
	if c.Limits.WorkDescription > 0 {
		return c.Limits.WorkDescription
	}
	return lifecycle.MaxWorkDescriptionLen
}

func (c *Config) ApprovalNotesLimit() int {
	if c.Limits.ApprovalNotes > 0 {
		return c.Limits.ApprovalNotes
	}
	return lifecycle.MaxApprovalNotesLen
}

func (c *Config) RejectionReasonLimit() int {
	if c.Limits.RejectionReason > 0 {
		return c.Limits.RejectionReason
	}
	return lifecycle.MaxRejectionReasonLen
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "permitdesk.yml")
}

// Load reads and validates config from workspace, falling back to defaults
// when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML for writing to disk.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `office:
  name: City Permit Office

approval:
  expiry_months: 12

permit_types:
  building.residential:
    kind: building
    name: Residential Building Permit
    description: "New construction, additions and structural alterations"
    base_fee: 150.0
    review_days: 15
  building.commercial:
    kind: building
    name: Commercial Building Permit
    description: "Commercial construction and tenant improvements"
    base_fee: 400.0
    review_days: 30
  gas.residential:
    kind: gas
    name: Residential Gas Permit
    description: "Gas line installation and appliance hookups"
    base_fee: 90.0
    review_days: 10

limits:
  work_description: 1000
  approval_notes: 500
  rejection_reason: 1000
`
