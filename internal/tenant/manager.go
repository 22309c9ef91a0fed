package tenant

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Store is the persistence surface the manager resolves tenants through.
// The SQL implementation lives in the database package.
type Store interface {
	GetTenant(ctx context.Context, tenantID string) (*Config, error)
	UsageThisMonth(ctx context.Context, tenantID, metric string) (int, error)
	IncrementUsage(ctx context.Context, tenantID, metric string, delta int) error
}

// cachedConfig pairs a resolved config with its expiry.
type cachedConfig struct {
	cfg       *Config
	expiresAt time.Time
}

// Manager resolves tenant configurations with a process-wide TTL cache and
// enforces per-tier ceilings.
type Manager struct {
	store Store

	mu    sync.RWMutex
	cache map[string]cachedConfig

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	defaultTTL time.Duration
	logger     *log.Logger
	now        func() time.Time
}

// NewManager creates a tenant manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:      store,
		cache:      make(map[string]cachedConfig),
		limiters:   make(map[string]*rate.Limiter),
		defaultTTL: 5 * time.Minute,
		logger:     log.New(log.Writer(), "[TENANT] ", log.LstdFlags),
		now:        time.Now,
	}
}

// Resolve returns the tenant configuration, serving from cache within the
// tenant's own TTL.
func (m *Manager) Resolve(ctx context.Context, tenantID string) (*Config, error) {
	m.mu.RLock()
	entry, ok := m.cache[tenantID]
	m.mu.RUnlock()
	if ok && m.now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := m.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve tenant %s: %w", tenantID, err)
	}
	if cfg == nil {
		return nil, ErrNotFound
	}

	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	m.mu.Lock()
	m.cache[tenantID] = cachedConfig{cfg: cfg, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()

	return cfg, nil
}

// Invalidate drops a tenant from the config cache (after settings changes).
func (m *Manager) Invalidate(tenantID string) {
	m.mu.Lock()
	delete(m.cache, tenantID)
	m.mu.Unlock()
}

// Acquire resolves the tenant, checks it is usable, applies the rate limit,
// and returns a context carrying the tenant scope. This is the entry point
// every processing request goes through.
func (m *Manager) Acquire(ctx context.Context, tenantID, userID string, service ServiceKind) (context.Context, *Config, error) {
	cfg, err := m.Resolve(ctx, tenantID)
	if err != nil {
		return ctx, nil, err
	}
	if !cfg.Usable() {
		return ctx, nil, fmt.Errorf("%w: billing status %s", ErrInactive, cfg.Billing.Status)
	}

	if !m.allow(cfg) {
		return ctx, nil, &RateLimitedError{TenantID: tenantID, PerMin: cfg.Quotas.RequestsPerMinute}
	}

	scoped := WithScope(ctx, Scope{
		TenantID:       cfg.TenantID,
		OrganizationID: cfg.OrganizationID,
		UserID:         userID,
		Service:        service,
	})
	return scoped, cfg, nil
}

// allow consults the tenant's token bucket. Buckets refill at the per-minute
// rate with a burst of one second's worth (minimum 1).
func (m *Manager) allow(cfg *Config) bool {
	perMin := cfg.Quotas.RequestsPerMinute
	if perMin <= 0 {
		return true
	}

	m.limiterMu.Lock()
	limiter, ok := m.limiters[cfg.TenantID]
	if !ok {
		burst := perMin / 60
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(float64(perMin)/60.0), burst)
		m.limiters[cfg.TenantID] = limiter
	}
	m.limiterMu.Unlock()

	return limiter.Allow()
}

// QuotaCheck is the outcome of CheckInvoiceQuota: Warning is set when usage
// crossed 80% of the ceiling.
type QuotaCheck struct {
	Used    int
	Limit   int
	Warning string
}

// CheckInvoiceQuota verifies the monthly invoice ceiling before a transaction
// is processed. A hard breach returns a LimitError; crossing 80% sets a
// warning the caller surfaces in its response.
func (m *Manager) CheckInvoiceQuota(ctx context.Context, cfg *Config) (QuotaCheck, error) {
	limit := cfg.Quotas.InvoicesPerMonth
	if limit <= 0 {
		return QuotaCheck{}, nil // ceiling disabled
	}

	used, err := m.store.UsageThisMonth(ctx, cfg.TenantID, "invoices")
	if err != nil {
		return QuotaCheck{}, fmt.Errorf("quota lookup: %w", err)
	}

	check := QuotaCheck{Used: used, Limit: limit}
	if used >= limit {
		return check, &LimitError{TenantID: cfg.TenantID, Metric: "invoices_per_month", Limit: limit, Used: used}
	}
	if used*10 >= limit*8 {
		check.Warning = fmt.Sprintf("invoice quota at %d%% (%d/%d)", used*100/limit, used, limit)
	}
	return check, nil
}

// AdmitInvoice resolves the tenant and checks the monthly invoice ceiling in
// one call; this is the gate the pipeline consults per transaction.
func (m *Manager) AdmitInvoice(ctx context.Context, tenantID string) (string, error) {
	cfg, err := m.Resolve(ctx, tenantID)
	if err != nil {
		return "", err
	}
	check, err := m.CheckInvoiceQuota(ctx, cfg)
	if err != nil {
		return "", err
	}
	return check.Warning, nil
}

// RecordInvoice increments the monthly usage counter after a successful run.
func (m *Manager) RecordInvoice(ctx context.Context, tenantID string) error {
	return m.store.IncrementUsage(ctx, tenantID, "invoices", 1)
}
