package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"seohub/internal/domain"
)

// Config models seohub.yml.
type Config struct {
	Packages struct {
		Requirements map[string]PackageRequirements `yaml:"requirements"`
	} `yaml:"packages"`
	Notifications struct {
		From      string `yaml:"from"`
		QueueName string `yaml:"queue_name"`
	} `yaml:"notifications"`
	Webhook struct {
		Vendor string `yaml:"vendor"`
	} `yaml:"webhook"`
}

// PackageRequirements is the static quota table for one package tier.
// Improvements are tracked as usage but deliberately excluded from the
// completion gate; the quota here only feeds reporting.
type PackageRequirements struct {
	Pages        int `yaml:"pages" json:"pages"`
	Blogs        int `yaml:"blogs" json:"blogs"`
	GBPPosts     int `yaml:"gbp_posts" json:"gbp_posts"`
	Improvements int `yaml:"improvements" json:"improvements"`
}

// RequirementsFor looks up the quota table for a package type,
// case-insensitively. ok is false for unknown packages.
func (c *Config) RequirementsFor(packageType string) (PackageRequirements, bool) {
	req, ok := c.Packages.Requirements[strings.ToLower(strings.TrimSpace(packageType))]
	return req, ok
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Packages.Requirements) == 0 {
		return fmt.Errorf("config.packages.requirements is required")
	}
	for tier, req := range c.Packages.Requirements {
		switch tier {
		case domain.PackageSilver, domain.PackageGold, domain.PackagePlatinum:
		default:
			return fmt.Errorf("unknown package tier %q in requirements", tier)
		}
		if req.Pages < 0 || req.Blogs < 0 || req.GBPPosts < 0 || req.Improvements < 0 {
			return fmt.Errorf("package %s has negative quota", tier)
		}
	}
	if c.Notifications.QueueName == "" {
		return fmt.Errorf("config.notifications.queue_name is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "seohub.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with seohub config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `packages:
  requirements:
    silver:
      pages: 2
      blogs: 2
      gbp_posts: 4
      improvements: 4
    gold:
      pages: 4
      blogs: 4
      gbp_posts: 8
      improvements: 8
    platinum:
      pages: 8
      blogs: 8
      gbp_posts: 16
      improvements: 16

notifications:
  from: noreply@seohub.example
  queue_name: "notify:email"

webhook:
  vendor: seoworks
`
