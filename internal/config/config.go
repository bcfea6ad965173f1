package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models stageboard.yml.
type Config struct {
	API struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"api"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Board struct {
		ShowDone bool `yaml:"show_done"`
	} `yaml:"board"`
	Policy struct {
		AllowWithoutRole bool                `yaml:"allow_without_role"`
		Roles            map[string][]string `yaml:"roles"`
	} `yaml:"policy"`
	Mock MockConfig `yaml:"mock"`
}

// MockConfig configures the local contract fake served by kb mock-server.
type MockConfig struct {
	Addr          string `yaml:"addr"`
	JWTSecret     string `yaml:"jwt_secret"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
	Seed          bool   `yaml:"seed"`
}

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true, "fatal": true, "panic": true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with kb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := Load(workspace)
	if err != nil {
		if _, statErr := os.Stat(Path(workspace)); os.IsNotExist(statErr) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("config.api.base_url is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.api.base_url must be an absolute URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("config.api.timeout must not be negative")
	}
	if c.Log.Level != "" && !logLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("config.log.level %q is not a known level", c.Log.Level)
	}
	for role, actions := range c.Policy.Roles {
		if role == "" {
			return fmt.Errorf("config.policy.roles contains empty role id")
		}
		for _, action := range actions {
			if action == "" {
				return fmt.Errorf("role %s has empty action", role)
			}
		}
	}
	if c.Mock.Addr == "" {
		return fmt.Errorf("config.mock.addr is required")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "stageboard.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
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

// Write stores the config as YAML in the workspace.
func Write(workspace string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(Path(workspace), data, 0o644)
}

const defaultTemplate = `api:
  base_url: http://127.0.0.1:8080/api
  timeout: 60s

log:
  level: info

board:
  show_done: false

policy:
  allow_without_role: true
  roles:
    owner: [create_project, edit_project, delete_project, manage_stages, manage_tasks, invite_members, manage_members]
    manager: [create_project, delete_project, manage_stages, manage_tasks, invite_members, manage_members]
    collaborator: [create_project, delete_project, manage_stages, manage_tasks, invite_members, manage_members]

mock:
  addr: 127.0.0.1:8080
  jwt_secret: stageboard-dev-secret
  admin_email: admin@example.com
  admin_password: admin123
  seed: true
`
