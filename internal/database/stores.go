package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/taxpoynt/platform/internal/matching"
	"github.com/taxpoynt/platform/internal/tenant"
	"github.com/taxpoynt/platform/internal/transaction"
)

// storeTimeLayout is fixed-width so text ordering matches chronological
// ordering on both engines.
const storeTimeLayout = "2006-01-02 15:04:05.000000000"

// TenantStore resolves tenants from the organizations and tenant_quotas
// tables. It satisfies tenant.Store.
type TenantStore struct {
	db  *DB
	now func() time.Time
}

func NewTenantStore(db *DB) *TenantStore {
	return &TenantStore{db: db, now: time.Now}
}

// billingDoc is the JSON shape of organizations.billing_state.
type billingDoc struct {
	Status          tenant.BillingStatus `json:"status"`
	Tier            tenant.Tier          `json:"tier"`
	Quotas          tenant.Quotas        `json:"quotas"`
	NextBillingDate time.Time            `json:"next_billing_date"`
	Grant           *tenant.GrantStatus  `json:"grant,omitempty"`
}

func (s *TenantStore) GetTenant(ctx context.Context, tenantID string) (*tenant.Config, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, tier, service_classes, billing_state, is_active
		 FROM organizations WHERE id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrNotFound)
	}
	row := rows[0]

	tier := tenant.Tier(asString(row["tier"]))
	cfg := &tenant.Config{
		TenantID:       tenantID,
		OrganizationID: tenantID,
		Name:           asString(row["name"]),
		Tier:           tier,
		Isolation:      tenant.IsolationRow,
		Quotas:         tenant.TierQuotas(tier),
		IsActive:       asBool(row["is_active"]),
	}

	var services []tenant.ServiceKind
	if raw := asString(row["service_classes"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &services); err != nil {
			return nil, fmt.Errorf("tenant %s: corrupt service_classes: %w", tenantID, err)
		}
	}
	cfg.Services = services

	if raw := asString(row["billing_state"]); raw != "" {
		var billing billingDoc
		if err := json.Unmarshal([]byte(raw), &billing); err != nil {
			return nil, fmt.Errorf("tenant %s: corrupt billing_state: %w", tenantID, err)
		}
		cfg.Billing = tenant.BillingState{
			Status:          billing.Status,
			Tier:            billing.Tier,
			Quotas:          billing.Quotas,
			NextBillingDate: billing.NextBillingDate,
		}
		cfg.Grant = billing.Grant
		if billing.Quotas != (tenant.Quotas{}) {
			cfg.Quotas = billing.Quotas
		}
	}
	return cfg, nil
}

// ListTenantIDs returns every active organization id, used at startup to
// rebuild per-tenant indexes.
func (s *TenantStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM organizations WHERE is_active = ?`, true)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, asString(row["id"]))
	}
	return ids, nil
}

// periodStart is the canonical month key for usage rows.
func (s *TenantStore) periodStart() string {
	now := s.now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

func (s *TenantStore) UsageThisMonth(ctx context.Context, tenantID, metric string) (int, error) {
	rows, err := s.db.Query(ctx,
		`SELECT used FROM tenant_quotas
		 WHERE organization_id = ? AND metric = ? AND period_start = ?`,
		tenantID, metric, s.periodStart())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return int(asInt(rows[0]["used"])), nil
}

// IncrementUsage bumps the month's counter, creating the row on first use so
// counters reset naturally at month rollover.
func (s *TenantStore) IncrementUsage(ctx context.Context, tenantID, metric string, delta int) error {
	period := s.periodStart()
	affected, err := s.db.Exec(ctx,
		`UPDATE tenant_quotas SET used = used + ?
		 WHERE organization_id = ? AND metric = ? AND period_start = ?`,
		delta, tenantID, metric, period)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO tenant_quotas (organization_id, metric, used, period_start)
		 VALUES (?, ?, ?, ?)`,
		tenantID, metric, delta, period)
	return err
}

// APIKeyStore persists tenant API keys. It satisfies tenant.KeyStore.
type APIKeyStore struct {
	db *DB
}

func NewAPIKeyStore(db *DB) *APIKeyStore { return &APIKeyStore{db: db} }

func (s *APIKeyStore) CreateAPIKey(ctx context.Context, key *tenant.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return err
	}
	var expires interface{}
	if key.ExpiresAt != nil {
		expires = key.ExpiresAt.UTC().Format(storeTimeLayout)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO api_keys (key_id, organization_id, name, key_hash, scopes_json, is_active, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.KeyID, key.TenantID, key.Name, key.KeyHash, string(scopes), key.IsActive, expires)
	return err
}

func (s *APIKeyStore) GetAPIKey(ctx context.Context, keyID string) (*tenant.APIKey, error) {
	rows, err := s.db.Query(ctx,
		`SELECT key_id, organization_id, name, key_hash, scopes_json, is_active, expires_at
		 FROM api_keys WHERE key_id = ?`, keyID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("api key %s: %w", keyID, ErrNotFound)
	}
	row := rows[0]

	key := &tenant.APIKey{
		KeyID:    asString(row["key_id"]),
		TenantID: asString(row["organization_id"]),
		Name:     asString(row["name"]),
		KeyHash:  asString(row["key_hash"]),
		IsActive: asBool(row["is_active"]),
	}
	if raw := asString(row["scopes_json"]); raw != "" {
		if err := json.Unmarshal([]byte(raw), &key.Scopes); err != nil {
			return nil, fmt.Errorf("api key %s: corrupt scopes: %w", keyID, err)
		}
	}
	if ts, ok := asTime(row["expires_at"]); ok {
		key.ExpiresAt = &ts
	}
	return key, nil
}

// IdentityStore persists customer identities for the matching engine, which
// rebuilds its in-memory indexes from it at startup. It satisfies
// matching.Store.
type IdentityStore struct {
	db *DB
}

func NewIdentityStore(db *DB) *IdentityStore { return &IdentityStore{db: db} }

func (s *IdentityStore) ListIdentities(ctx context.Context, tenantID string) ([]*matching.Identity, error) {
	rows, err := s.db.Query(ctx,
		`SELECT universal_id, organization_id, primary_name, names_json, phones_json,
		        emails_json, addresses_json, business_ids_json, sources_json,
		        verified_json, confidence, updated_at
		 FROM customer_identities WHERE organization_id = ?`, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]*matching.Identity, 0, len(rows))
	for _, row := range rows {
		identity, err := scanIdentity(row)
		if err != nil {
			return nil, err
		}
		out = append(out, identity)
	}
	return out, nil
}

// SaveIdentity writes through: update when present, insert otherwise. The
// matching engine serializes writes per tenant, so the two statements do not
// race against themselves.
func (s *IdentityStore) SaveIdentity(ctx context.Context, identity *matching.Identity) error {
	doc := map[string]interface{}{
		"names":        identity.Names,
		"phones":       identity.Phones,
		"emails":       identity.Emails,
		"addresses":    identity.Addresses,
		"business_ids": identity.BusinessIDs,
		"sources":      identity.Sources,
		"verified":     identity.Verified,
	}
	blobs := make(map[string]string, len(doc))
	for field, v := range doc {
		blob, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("identity %s: marshal %s: %w", identity.UniversalID, field, err)
		}
		blobs[field] = string(blob)
	}
	updatedAt := identity.UpdatedAt.UTC().Format(storeTimeLayout)

	affected, err := s.db.Exec(ctx,
		`UPDATE customer_identities SET primary_name = ?, names_json = ?, phones_json = ?,
		    emails_json = ?, addresses_json = ?, business_ids_json = ?, sources_json = ?,
		    verified_json = ?, confidence = ?, updated_at = ?
		 WHERE organization_id = ? AND universal_id = ?`,
		identity.PrimaryName, blobs["names"], blobs["phones"], blobs["emails"],
		blobs["addresses"], blobs["business_ids"], blobs["sources"], blobs["verified"],
		identity.Confidence, updatedAt, identity.TenantID, identity.UniversalID)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO customer_identities
		    (universal_id, organization_id, primary_name, names_json, phones_json,
		     emails_json, addresses_json, business_ids_json, sources_json,
		     verified_json, confidence, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		identity.UniversalID, identity.TenantID, identity.PrimaryName,
		blobs["names"], blobs["phones"], blobs["emails"], blobs["addresses"],
		blobs["business_ids"], blobs["sources"], blobs["verified"],
		identity.Confidence, updatedAt)
	return err
}

func scanIdentity(row map[string]interface{}) (*matching.Identity, error) {
	identity := &matching.Identity{
		UniversalID: asString(row["universal_id"]),
		TenantID:    asString(row["organization_id"]),
		PrimaryName: asString(row["primary_name"]),
		Confidence:  asFloat(row["confidence"]),
		BusinessIDs: make(map[string]string),
		Sources:     make(map[string]string),
		Verified:    make(map[string]bool),
	}
	if ts, ok := asTime(row["updated_at"]); ok {
		identity.UpdatedAt = ts
	}

	for field, dst := range map[string]interface{}{
		"names_json":        &identity.Names,
		"phones_json":       &identity.Phones,
		"emails_json":       &identity.Emails,
		"addresses_json":    &identity.Addresses,
		"business_ids_json": &identity.BusinessIDs,
		"sources_json":      &identity.Sources,
		"verified_json":     &identity.Verified,
	} {
		raw := asString(row[field])
		if raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(raw), dst); err != nil {
			return nil, fmt.Errorf("identity %s: corrupt %s: %w", identity.UniversalID, field, err)
		}
	}
	return identity, nil
}

// FingerprintIndex is the SQL-backed duplicate index: one row per committed
// transaction, probed by exact dedupe key and fuzzy fingerprint. It satisfies
// pipeline.DuplicateIndex.
type FingerprintIndex struct {
	db *DB
}

func NewFingerprintIndex(db *DB) *FingerprintIndex { return &FingerprintIndex{db: db} }

func (x *FingerprintIndex) SeenExact(ctx context.Context, tenantID, key string) (string, bool, error) {
	return x.lookup(ctx, "dedupe_key", tenantID, key)
}

func (x *FingerprintIndex) SeenFuzzy(ctx context.Context, tenantID, fingerprint string) (string, bool, error) {
	return x.lookup(ctx, "fingerprint", tenantID, fingerprint)
}

func (x *FingerprintIndex) lookup(ctx context.Context, column, tenantID, value string) (string, bool, error) {
	rows, err := x.db.Query(ctx, fmt.Sprintf(
		`SELECT transaction_id FROM transaction_fingerprints
		 WHERE organization_id = ? AND %s = ? LIMIT 1`, column),
		tenantID, value)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 {
		return "", false, nil
	}
	return asString(rows[0]["transaction_id"]), true, nil
}

func (x *FingerprintIndex) Record(ctx context.Context, tenantID, key, fingerprint, id string) error {
	_, err := x.db.Exec(ctx,
		`INSERT INTO transaction_fingerprints
		    (organization_id, dedupe_key, fingerprint, transaction_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tenantID, key, fingerprint, id, time.Now().UTC().Format(storeTimeLayout))
	return err
}

// ProcessedStore archives terminal pipeline output. Columns the backup and
// reporting paths filter on are broken out; the full record rides in
// payload_json. It satisfies pipeline.Archive.
type ProcessedStore struct {
	db  *DB
	now func() time.Time
}

func NewProcessedStore(db *DB) *ProcessedStore {
	return &ProcessedStore{db: db, now: time.Now}
}

// SaveProcessed upserts one terminal result. Reprocessing a transaction
// overwrites its archived row.
func (s *ProcessedStore) SaveProcessed(ctx context.Context, out *transaction.ProcessedTransaction) error {
	payload, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("archive %s: marshal: %w", out.ID, err)
	}
	now := s.now().UTC().Format(storeTimeLayout)

	affected, err := s.db.Exec(ctx,
		`UPDATE processed_transactions SET status = ?, confidence = ?, risk_level = ?,
		    payload_json = ?, updated_at = ?
		 WHERE organization_id = ? AND id = ?`,
		string(out.Status), out.Meta.Confidence, string(out.Meta.RiskLevel),
		string(payload), now, out.TenantID, out.ID)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO processed_transactions
		    (id, organization_id, source_system, connector_kind, status, amount,
		     currency, confidence, risk_level, payload_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, out.TenantID, out.Source.SourceSystem, string(out.Kind),
		string(out.Status), out.Amount.String(), out.Currency,
		out.Meta.Confidence, string(out.Meta.RiskLevel), string(payload), now, now)
	return err
}

// GetProcessed loads one archived result by transaction id.
func (s *ProcessedStore) GetProcessed(ctx context.Context, tenantID, id string) (*transaction.ProcessedTransaction, error) {
	rows, err := s.db.Query(ctx,
		`SELECT payload_json FROM processed_transactions
		 WHERE organization_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("processed transaction %s: %w", id, ErrNotFound)
	}
	var out transaction.ProcessedTransaction
	if err := json.Unmarshal([]byte(asString(rows[0]["payload_json"])), &out); err != nil {
		return nil, fmt.Errorf("processed transaction %s: corrupt payload: %w", id, err)
	}
	return &out, nil
}

// Row value coercion. The generic scanner hands back driver-dependent types;
// these normalize them.

func asString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func asInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	default:
		return 0
	}
}

func asBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case int64:
		return t != 0
	case string:
		return t == "true" || t == "1"
	default:
		return false
	}
}

func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{storeTimeLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}
