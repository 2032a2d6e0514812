// Package config models cseflow.yml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		TokenTTL  string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Workspace string `yaml:"workspace"`
	Queue     struct {
		ApprovalTopic string `yaml:"approval_topic"`
	} `yaml:"queue"`
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "cseflow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with csf config init", path)
		}
		return nil, err
	}
	return FromYAML(data, workspace)
}

// LoadOptional returns defaults when the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(workspace), nil
		}
		return nil, err
	}
	return FromYAML(data, workspace)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte, workspace string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults(workspace)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(workspace string) {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8787"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api/v1"
	}
	if c.Auth.TokenTTL == "" {
		c.Auth.TokenTTL = "24h"
	}
	if c.Workspace == "" {
		c.Workspace = workspace
	}
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if c.Queue.ApprovalTopic == "" {
		c.Queue.ApprovalTopic = "form-approvals"
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
		return fmt.Errorf("config.auth.token_ttl: %w", err)
	}
	return nil
}

// TokenTTL returns the parsed token lifetime.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Default returns the default Config for a workspace. The JWT secret is
// intentionally absent; Validate rejects it until one is set.
func Default(workspace string) *Config {
	var cfg Config
	cfg.applyDefaults(workspace)
	return &cfg
}

const defaultTemplate = `server:
  addr: ":8787"
  base_path: /api/v1
auth:
  jwt_secret: "change-me"
  token_ttl: 24h
workspace: .
queue:
  approval_topic: form-approvals
`

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}
