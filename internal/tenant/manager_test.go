package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory tenant.Store.
type fakeStore struct {
	mu       sync.Mutex
	tenants  map[string]*Config
	usage    map[string]int // tenantID|metric
	getCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{tenants: make(map[string]*Config), usage: make(map[string]int)}
}

func (s *fakeStore) GetTenant(_ context.Context, tenantID string) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	cfg, ok := s.tenants[tenantID]
	if !ok {
		return nil, ErrNotFound
	}
	return cfg, nil
}

func (s *fakeStore) UsageThisMonth(_ context.Context, tenantID, metric string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[tenantID+"|"+metric], nil
}

func (s *fakeStore) IncrementUsage(_ context.Context, tenantID, metric string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[tenantID+"|"+metric] += delta
	return nil
}

func activeTenant(id string, tier Tier) *Config {
	return &Config{
		TenantID:       id,
		OrganizationID: id,
		Name:           "Tenant " + id,
		Tier:           tier,
		Quotas:         TierQuotas(tier),
		Services:       []ServiceKind{ServiceSI},
		Billing:        BillingState{Status: BillingActive, Tier: tier},
		IsActive:       true,
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	store := newFakeStore()
	store.tenants["org1"] = activeTenant("org1", TierStarter)

	m := NewManager(store)
	now := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.Resolve(ctx, "org1")
	require.NoError(t, err)
	_, err = m.Resolve(ctx, "org1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.getCalls)

	// Past the TTL the store is consulted again.
	now = now.Add(6 * time.Minute)
	_, err = m.Resolve(ctx, "org1")
	require.NoError(t, err)
	assert.Equal(t, 2, store.getCalls)

	// Invalidate drops the entry immediately.
	m.Invalidate("org1")
	_, err = m.Resolve(ctx, "org1")
	require.NoError(t, err)
	assert.Equal(t, 3, store.getCalls)
}

func TestResolveUnknownTenant(t *testing.T) {
	m := NewManager(newFakeStore())
	_, err := m.Resolve(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAcquireInstallsScopeWithoutMutatingParent(t *testing.T) {
	store := newFakeStore()
	store.tenants["org1"] = activeTenant("org1", TierEnterprise)
	m := NewManager(store)

	parent := context.Background()
	scoped, cfg, err := m.Acquire(parent, "org1", "user-7", ServiceSI)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	s, ok := FromContext(scoped)
	require.True(t, ok)
	assert.Equal(t, "org1", s.OrganizationID)
	assert.Equal(t, "user-7", s.UserID)
	assert.Equal(t, ServiceSI, s.Service)

	// The parent context never carries the scope.
	_, ok = FromContext(parent)
	assert.False(t, ok)
}

func TestScopeRestoredAfterNestedWork(t *testing.T) {
	outer := Scope{TenantID: "org1", OrganizationID: "org1"}
	inner := Scope{TenantID: "org2", OrganizationID: "org2"}

	ctx := WithScope(context.Background(), outer)
	err := RunScoped(ctx, inner, func(nested context.Context) error {
		s, ok := FromContext(nested)
		require.True(t, ok)
		assert.Equal(t, "org2", s.OrganizationID)
		return errors.New("boom")
	})
	require.Error(t, err)

	// The failure path left the outer scope untouched.
	s, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "org1", s.OrganizationID)
}

func TestAcquireRejectsSuspendedTenant(t *testing.T) {
	store := newFakeStore()
	suspended := activeTenant("org1", TierStarter)
	suspended.Billing.Status = BillingSuspended
	store.tenants["org1"] = suspended

	m := NewManager(store)
	_, _, err := m.Acquire(context.Background(), "org1", "", ServiceSI)
	require.ErrorIs(t, err, ErrInactive)
}

func TestAcquireOverdueStillProcesses(t *testing.T) {
	store := newFakeStore()
	overdue := activeTenant("org1", TierStarter)
	overdue.Billing.Status = BillingOverdue
	store.tenants["org1"] = overdue

	m := NewManager(store)
	_, cfg, err := m.Acquire(context.Background(), "org1", "", ServiceSI)
	require.NoError(t, err)
	assert.True(t, cfg.Usable())
}

func TestAcquireRateLimits(t *testing.T) {
	store := newFakeStore()
	limited := activeTenant("org1", TierStarter)
	limited.Quotas.RequestsPerMinute = 60 // burst of 1
	store.tenants["org1"] = limited

	m := NewManager(store)
	ctx := context.Background()

	_, _, err := m.Acquire(ctx, "org1", "", ServiceSI)
	require.NoError(t, err)

	// The burst is spent; the next request inside the same second is denied.
	_, _, err = m.Acquire(ctx, "org1", "", ServiceSI)
	var rl *RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, "org1", rl.TenantID)
	assert.Equal(t, 60, rl.PerMin)
}

func TestCheckInvoiceQuota(t *testing.T) {
	store := newFakeStore()
	cfg := activeTenant("org1", TierStarter) // 1000 invoices/month
	store.tenants["org1"] = cfg
	m := NewManager(store)
	ctx := context.Background()

	// Under 80%: no warning.
	store.usage["org1|invoices"] = 500
	check, err := m.CheckInvoiceQuota(ctx, cfg)
	require.NoError(t, err)
	assert.Empty(t, check.Warning)

	// At 80%: warning, not an error.
	store.usage["org1|invoices"] = 800
	check, err = m.CheckInvoiceQuota(ctx, cfg)
	require.NoError(t, err)
	assert.Contains(t, check.Warning, "80%")

	// At the ceiling: hard breach.
	store.usage["org1|invoices"] = 1000
	_, err = m.CheckInvoiceQuota(ctx, cfg)
	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, "invoices_per_month", limitErr.Metric)
	assert.Equal(t, 1000, limitErr.Used)
}

func TestQuotaUnlimitedForScaleTier(t *testing.T) {
	store := newFakeStore()
	cfg := activeTenant("org1", TierScale) // zero ceiling = unlimited
	store.tenants["org1"] = cfg
	m := NewManager(store)

	store.usage["org1|invoices"] = 10_000_000
	check, err := m.CheckInvoiceQuota(context.Background(), cfg)
	require.NoError(t, err)
	assert.Empty(t, check.Warning)
}

func TestAdmitAndRecordInvoice(t *testing.T) {
	store := newFakeStore()
	store.tenants["org1"] = activeTenant("org1", TierStarter)
	m := NewManager(store)
	ctx := context.Background()

	warning, err := m.AdmitInvoice(ctx, "org1")
	require.NoError(t, err)
	assert.Empty(t, warning)

	require.NoError(t, m.RecordInvoice(ctx, "org1"))
	used, err := store.UsageThisMonth(ctx, "org1", "invoices")
	require.NoError(t, err)
	assert.Equal(t, 1, used)
}
