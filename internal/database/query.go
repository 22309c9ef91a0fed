package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/taxpoynt/platform/internal/tenant"
)

// Retry policy for transient failures: exponential backoff, base 1s, factor
// 2, three attempts.
const (
	retryAttempts = 3
	retryBase     = time.Second
)

// slowQueryPrefixLen caps how much SQL lands in the slow-query log.
const slowQueryPrefixLen = 120

// tenantScopedTables lists every table carrying organization_id. Queries
// against these get the tenant filter injected when a scope is active.
var tenantScopedTables = []string{
	"processed_transactions",
	"customer_identities",
	"tenant_quotas",
	"usage_records",
	"billing_records",
	"subscriptions",
}

// Query runs a parameterised SELECT and returns row maps. The tenant filter
// is injected when a tenant scope is active and the query targets a scoped
// table. Placeholders are ?-style; Rebind handles the engine dialect.
func (db *DB) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	query, args = db.injectTenantFilter(ctx, query, args)
	query = db.Rebind(query)

	var rows *sql.Rows
	err := db.withRetry(ctx, "query", func() error {
		var err error
		start := time.Now()
		rows, err = db.sqlDB.QueryContext(ctx, query, args...)
		db.observe(query, time.Since(start))
		if err != nil {
			return &Error{Kind: classify(err), Op: "query", Err: err}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMaps(rows)
}

// Exec runs a parameterised DML statement and returns the affected row count.
func (db *DB) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	query, args = db.injectTenantFilter(ctx, query, args)
	query = db.Rebind(query)

	var affected int64
	err := db.withRetry(ctx, "exec", func() error {
		start := time.Now()
		res, err := db.sqlDB.ExecContext(ctx, query, args...)
		db.observe(query, time.Since(start))
		if err != nil {
			return &Error{Kind: classify(err), Op: "exec", Err: err}
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	return affected, err
}

// injectTenantFilter mechanically appends organization_id = ? when a tenant
// scope is active and the statement touches a tenant-scoped table. Statements
// that already filter by organization_id are left alone.
func (db *DB) injectTenantFilter(ctx context.Context, query string, args []interface{}) (string, []interface{}) {
	org := tenant.OrgFromContext(ctx)
	if org == "" {
		return query, args
	}
	lower := strings.ToLower(query)
	if strings.Contains(lower, "organization_id") {
		return query, args
	}
	scoped := false
	for _, table := range tenantScopedTables {
		if strings.Contains(lower, table) {
			scoped = true
			break
		}
	}
	if !scoped || !strings.HasPrefix(strings.TrimSpace(lower), "select") && !strings.HasPrefix(strings.TrimSpace(lower), "update") && !strings.HasPrefix(strings.TrimSpace(lower), "delete") {
		return query, args
	}

	if strings.Contains(lower, " where ") {
		// Wrap the existing predicate so OR clauses stay scoped.
		idx := strings.Index(lower, " where ")
		head, tail := query[:idx+len(" where ")], query[idx+len(" where "):]
		return head + "organization_id = ? AND (" + tail + ")", append([]interface{}{org}, args...)
	}
	return query + " WHERE organization_id = ?", append(args, org)
}

// observe logs statements that exceed the slow-query threshold.
func (db *DB) observe(query string, elapsed time.Duration) {
	if elapsed < db.cfg.SlowQueryThreshold {
		return
	}
	prefix := query
	if len(prefix) > slowQueryPrefixLen {
		prefix = prefix[:slowQueryPrefixLen] + "..."
	}
	db.logger.Printf("slow query (%s): %s", elapsed.Round(time.Millisecond), prefix)
}

// withRetry retries transient failures with exponential backoff. Permanent
// errors propagate immediately.
func (db *DB) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	delay := retryBase
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || !transient(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		db.logger.Printf("transient %s failure (attempt %d/%d), retrying in %s: %v", op, attempt, retryAttempts, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func classify(err error) Kind {
	if transientMessage(err) {
		return KindConnection
	}
	return KindQuery
}

// scanMaps converts sql rows into generic row maps.
func scanMaps(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, &Error{Kind: KindQuery, Op: "columns", Err: err}
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &Error{Kind: KindQuery, Op: "scan", Err: err}
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
