// Package model maps pipeline roles to LLM endpoints with fallback chains
// and endpoint health tracking. Each agent asks for a role; the registry
// resolves it to a healthy endpoint.
package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Role identifies which agent is asking for a model.
type Role string

// Pipeline roles.
const (
	RoleInterviewer Role = "interviewer"
	RolePlanner     Role = "planner"
	RoleWriter      Role = "writer"
	RoleReviewer    Role = "reviewer"
	RoleVerifier    Role = "verifier"
	RoleSummarizer  Role = "summarizer"
)

// ParseRole returns the Role for s, or "" if unknown.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleInterviewer, RolePlanner, RoleWriter, RoleReviewer, RoleVerifier, RoleSummarizer:
		return Role(s)
	}
	return ""
}

// EndpointConfig describes one model endpoint.
type EndpointConfig struct {
	Provider  string `yaml:"provider"` // "openai", "anthropic", "ollama"
	URL       string `yaml:"url,omitempty"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// Config is the model registry definition: named endpoints plus the
// fallback chain per role. The first healthy endpoint in a chain wins.
type Config struct {
	Endpoints map[string]EndpointConfig `yaml:"endpoints"`
	Roles     map[Role][]string         `yaml:"roles"`
}

// DefaultConfig returns a single-endpoint local setup: everything routed
// to an OpenAI-compatible server on localhost.
func DefaultConfig() *Config {
	cfg := &Config{
		Endpoints: map[string]EndpointConfig{
			"local": {Provider: "ollama", Model: "qwen3:32b"},
		},
		Roles: make(map[Role][]string),
	}
	for _, role := range []Role{RoleInterviewer, RolePlanner, RoleWriter, RoleReviewer, RoleVerifier, RoleSummarizer} {
		cfg.Roles[role] = []string{"local"}
	}
	return cfg
}

// Validate checks that every role chain references defined endpoints.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("no endpoints defined")
	}
	for name, ep := range c.Endpoints {
		if ep.Provider == "" {
			return fmt.Errorf("endpoint %s: provider is required", name)
		}
		if ep.Model == "" {
			return fmt.Errorf("endpoint %s: model is required", name)
		}
	}
	for role, chain := range c.Roles {
		if ParseRole(string(role)) == "" {
			return fmt.Errorf("unknown role %q", role)
		}
		if len(chain) == 0 {
			return fmt.Errorf("role %s has an empty endpoint chain", role)
		}
		for _, name := range chain {
			if _, ok := c.Endpoints[name]; !ok {
				return fmt.Errorf("role %s references unknown endpoint %q", role, name)
			}
		}
	}
	return nil
}

// LoadConfig reads a registry definition from a YAML file. A missing file
// returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read models config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse models config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid models config %s: %w", path, err)
	}
	return &cfg, nil
}
