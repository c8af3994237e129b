package model

import (
	"sync"
	"time"
)

// Endpoint health thresholds. An endpoint trips after consecutive
// failures and is skipped until the cooldown elapses.
const (
	failureThreshold = 3
	healthCooldown   = 60 * time.Second
)

type endpointHealth struct {
	consecutiveFailures int
	unavailableUntil    time.Time
}

// Registry resolves roles to endpoints, tracking endpoint health so
// fallback chains skip endpoints that keep failing.
type Registry struct {
	cfg *Config

	mu     sync.Mutex
	health map[string]*endpointHealth
	now    func() time.Time
}

// NewRegistry creates a registry over a validated configuration.
func NewRegistry(cfg *Config) *Registry {
	return &Registry{
		cfg:    cfg,
		health: make(map[string]*endpointHealth),
		now:    time.Now,
	}
}

// GetEndpoint returns the endpoint definition, or nil if unknown.
func (r *Registry) GetEndpoint(name string) *EndpointConfig {
	ep, ok := r.cfg.Endpoints[name]
	if !ok {
		return nil
	}
	return &ep
}

// FallbackChain returns the role's endpoints with unhealthy ones filtered
// out. When every endpoint is unhealthy the full chain is returned: a
// degraded attempt beats refusing to try.
func (r *Registry) FallbackChain(role Role) []string {
	chain := r.cfg.Roles[role]
	var healthy []string
	for _, name := range chain {
		if r.IsEndpointAvailable(name) {
			healthy = append(healthy, name)
		}
	}
	if len(healthy) == 0 {
		return append([]string(nil), chain...)
	}
	return healthy
}

// IsEndpointAvailable reports whether the endpoint's circuit is closed.
func (r *Registry) IsEndpointAvailable(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[name]
	if !ok {
		return true
	}
	return !h.unavailableUntil.After(r.now())
}

// MarkEndpointSuccess resets the endpoint's failure count.
func (r *Registry) MarkEndpointSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.health, name)
}

// MarkEndpointFailure records a failure; the threshold trips the circuit
// for the cooldown period.
func (r *Registry) MarkEndpointFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[name]
	if !ok {
		h = &endpointHealth{}
		r.health[name] = h
	}
	h.consecutiveFailures++
	if h.consecutiveFailures >= failureThreshold {
		h.unavailableUntil = r.now().Add(healthCooldown)
		h.consecutiveFailures = 0
	}
}
