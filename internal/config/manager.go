package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v2"
)

// TenantOverrides are the per-tenant knobs an operator may set in the
// tenants file. Zero values mean "inherit".
type TenantOverrides struct {
	Profile       string        `yaml:"profile"`
	MinConfidence float64       `yaml:"min_confidence"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

type tenantsFile struct {
	Tenants map[string]TenantOverrides `yaml:"tenants"`
}

// Manager resolves the effective configuration for a tenant: the global
// config with that tenant's overrides applied.
type Manager struct {
	global    *Config
	overrides map[string]TenantOverrides
	mu        sync.RWMutex
}

// NewManager loads the tenants file on top of an already-loaded global
// config. A missing tenants file just means no overrides.
func NewManager(global *Config, tenantsPath string) (*Manager, error) {
	m := &Manager{global: global, overrides: make(map[string]TenantOverrides)}
	if tenantsPath == "" {
		return m, nil
	}

	f, err := os.Open(tenantsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("open tenants config %s: %w", tenantsPath, err)
	}
	defer f.Close()

	var tf tenantsFile
	decoder := yaml.NewDecoder(f)
	decoder.SetStrict(true)
	if err := decoder.Decode(&tf); err != nil {
		return nil, fmt.Errorf("parse tenants config %s: %w", tenantsPath, err)
	}
	for id, ov := range tf.Tenants {
		if ov.MinConfidence < 0 || ov.MinConfidence > 1 {
			return nil, fmt.Errorf("tenants config: min_confidence for %q out of range: %v", id, ov.MinConfidence)
		}
	}
	if tf.Tenants != nil {
		m.overrides = tf.Tenants
	}
	return m, nil
}

// Global returns the shared configuration.
func (m *Manager) Global() *Config { return m.global }

// Effective resolves the tenant's settings. Returned values are the global
// defaults where the tenant sets nothing.
func (m *Manager) Effective(tenantID, profile string) (resolvedProfile string, minConfidence float64, cacheTTL time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	resolvedProfile = profile
	minConfidence = m.global.Pipeline.MinConfidence[profile]
	cacheTTL = m.global.Cache.DefaultTTL

	ov, ok := m.overrides[tenantID]
	if !ok {
		return resolvedProfile, minConfidence, cacheTTL
	}
	if ov.Profile != "" {
		resolvedProfile = ov.Profile
	}
	if ov.MinConfidence > 0 {
		minConfidence = ov.MinConfidence
	}
	if ov.CacheTTL > 0 {
		cacheTTL = ov.CacheTTL
	}
	return resolvedProfile, minConfidence, cacheTTL
}

// SetOverride installs or replaces a tenant's overrides at runtime.
func (m *Manager) SetOverride(tenantID string, ov TenantOverrides) {
	m.mu.Lock()
	m.overrides[tenantID] = ov
	m.mu.Unlock()
}
