package features

import (
	"sync"
)

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string
	Enabled     bool
	Description string
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled. Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Disable turns a registered flag off. Unknown names are ignored.
func (m *Manager) Disable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = false
	}
}

// GetAll returns a copy of all feature flags.
func (m *Manager) GetAll() map[string]FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]FeatureFlag, len(m.flags))
	for k, v := range m.flags {
		result[k] = *v
	}
	return result
}

// Predefined feature flag names
const (
	// FeatureCouponListCache caches the admin coupon listing
	FeatureCouponListCache = "coupon_list_cache"
	// FeatureEventHooks publishes lifecycle events to subscribers
	FeatureEventHooks = "event_hooks"
	// FeatureDashboard serves the HTML admin dashboard
	FeatureDashboard = "dashboard"
)

// Defaults registers the predefined flags with the given states.
func Defaults(cacheEnabled, eventsEnabled, dashboardEnabled bool) *Manager {
	m := NewManager()
	m.Register(FeatureCouponListCache, cacheEnabled, "cache the admin coupon listing")
	m.Register(FeatureEventHooks, eventsEnabled, "publish coupon and referral lifecycle events")
	m.Register(FeatureDashboard, dashboardEnabled, "serve the HTML admin dashboard")
	return m
}
