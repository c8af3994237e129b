package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		Endpoints: map[string]EndpointConfig{
			"primary":  {Provider: "anthropic", Model: "claude-sonnet-4-5"},
			"fallback": {Provider: "ollama", Model: "qwen3:32b"},
		},
		Roles: map[Role][]string{
			RoleWriter:   {"primary", "fallback"},
			RoleReviewer: {"fallback"},
		},
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, testConfig().Validate())
	require.NoError(t, DefaultConfig().Validate())

	bad := testConfig()
	bad.Roles[RoleWriter] = []string{"missing"}
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Roles["narrator"] = []string{"primary"}
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Endpoints["primary"] = EndpointConfig{Provider: "anthropic"}
	assert.Error(t, bad.Validate())
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Roles[RoleWriter])
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	yaml := `
endpoints:
  big:
    provider: anthropic
    model: claude-opus-4-5
roles:
  planner: [big]
  writer: [big]
  reviewer: [big]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"big"}, cfg.Roles[RolePlanner])
	assert.Equal(t, "anthropic", cfg.Endpoints["big"].Provider)
}

func TestRegistryFallbackChainSkipsUnhealthy(t *testing.T) {
	r := NewRegistry(testConfig())

	assert.Equal(t, []string{"primary", "fallback"}, r.FallbackChain(RoleWriter))

	// Trip the primary circuit.
	for range failureThreshold {
		r.MarkEndpointFailure("primary")
	}
	assert.False(t, r.IsEndpointAvailable("primary"))
	assert.Equal(t, []string{"fallback"}, r.FallbackChain(RoleWriter))

	// Success closes the circuit.
	r.MarkEndpointSuccess("primary")
	assert.True(t, r.IsEndpointAvailable("primary"))
}

func TestRegistryReturnsFullChainWhenAllUnhealthy(t *testing.T) {
	r := NewRegistry(testConfig())
	for range failureThreshold {
		r.MarkEndpointFailure("fallback")
	}
	assert.Equal(t, []string{"fallback"}, r.FallbackChain(RoleReviewer))
}

func TestRegistryCooldownExpires(t *testing.T) {
	r := NewRegistry(testConfig())
	current := time.Now()
	r.now = func() time.Time { return current }

	for range failureThreshold {
		r.MarkEndpointFailure("primary")
	}
	assert.False(t, r.IsEndpointAvailable("primary"))

	current = current.Add(healthCooldown + time.Second)
	assert.True(t, r.IsEndpointAvailable("primary"))
}
