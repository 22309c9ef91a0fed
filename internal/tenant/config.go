package tenant

import (
	"time"
)

// Tier is the subscription tier of a tenant.
type Tier string

const (
	TierStarter      Tier = "starter"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
	TierScale        Tier = "scale"
)

// BillingStatus is the tenant's billing state.
type BillingStatus string

const (
	BillingActive    BillingStatus = "active"
	BillingSuspended BillingStatus = "suspended"
	BillingOverdue   BillingStatus = "overdue"
	BillingCancelled BillingStatus = "cancelled"
)

// IsolationLevel selects how strongly a tenant's data is separated.
type IsolationLevel string

const (
	IsolationRow    IsolationLevel = "row"    // shared tables, organization_id filter
	IsolationSchema IsolationLevel = "schema" // dedicated schema per tenant
)

// MilestoneStage is the APP-class grant milestone ladder. The admissible
// transitions between stages are not asserted anywhere upstream, so the stage
// is stored verbatim and only validated against this enumeration.
type MilestoneStage string

const (
	MilestoneOnboarding   MilestoneStage = "onboarding"
	MilestoneTransmitting MilestoneStage = "transmitting"
	MilestoneScaling      MilestoneStage = "scaling"
	MilestoneSustained    MilestoneStage = "sustained"
)

// KnownMilestoneStage reports whether the stage is one of the defined values.
func KnownMilestoneStage(s MilestoneStage) bool {
	switch s {
	case MilestoneOnboarding, MilestoneTransmitting, MilestoneScaling, MilestoneSustained:
		return true
	}
	return false
}

// Quotas are the per-tier ceilings. Zero means unlimited.
type Quotas struct {
	InvoicesPerMonth  int `json:"invoices_per_month"`
	MaxUsers          int `json:"max_users"`
	RequestsPerMinute int `json:"requests_per_minute"`
}

// TierQuotas returns the default ceilings for a tier.
func TierQuotas(tier Tier) Quotas {
	switch tier {
	case TierStarter:
		return Quotas{InvoicesPerMonth: 1000, MaxUsers: 5, RequestsPerMinute: 60}
	case TierProfessional:
		return Quotas{InvoicesPerMonth: 10_000, MaxUsers: 25, RequestsPerMinute: 300}
	case TierEnterprise:
		return Quotas{InvoicesPerMonth: 100_000, MaxUsers: 100, RequestsPerMinute: 1200}
	case TierScale:
		return Quotas{InvoicesPerMonth: 0, MaxUsers: 0, RequestsPerMinute: 5000}
	}
	return Quotas{InvoicesPerMonth: 1000, MaxUsers: 5, RequestsPerMinute: 60}
}

// BillingState tracks subscription standing.
type BillingState struct {
	Status          BillingStatus `json:"status"`
	Tier            Tier          `json:"tier"`
	Quotas          Quotas        `json:"quotas"`
	NextBillingDate time.Time     `json:"next_billing_date"`
}

// GrantStatus tracks APP-class grant milestones.
type GrantStatus struct {
	Stage            MilestoneStage `json:"stage"`
	TaxpayerCount    int            `json:"taxpayer_count"`
	Sectors          []string       `json:"sectors"`
	TransmissionRate float64        `json:"transmission_rate"`
}

// Config is a resolved tenant configuration.
type Config struct {
	TenantID       string         `json:"tenant_id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	Tier           Tier           `json:"tier"`
	Isolation      IsolationLevel `json:"isolation_level"`
	Quotas         Quotas         `json:"quotas"`
	CacheTTL       time.Duration  `json:"cache_ttl"`
	Services       []ServiceKind  `json:"enabled_services"`
	DefaultCurrency string        `json:"default_currency"`
	Billing        BillingState   `json:"billing"`
	Grant          *GrantStatus   `json:"grant,omitempty"`
	IsActive       bool           `json:"is_active"`
}

// Usable reports whether the tenant may process transactions.
func (c *Config) Usable() bool {
	if !c.IsActive {
		return false
	}
	switch c.Billing.Status {
	case BillingActive, BillingOverdue: // overdue still processes, suspended does not
		return true
	}
	return false
}
