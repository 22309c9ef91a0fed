package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taxpoynt/platform/internal/database"
	"github.com/taxpoynt/platform/internal/events"
	"github.com/taxpoynt/platform/internal/tenant"
)

// Error is a per-migration failure. It stops subsequent migrations in the
// same run; the failed record stays in schema_migrations.
type Error struct {
	MigrationID string
	Err         error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migration %s: %v", e.MigrationID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// PlanEntry is one step of a dry-run plan.
type PlanEntry struct {
	Meta      Metadata
	Direction Direction
	TenantID  string
}

// Engine applies migrations against a database. Units come from ParseDir
// plus any registered code-based units.
type Engine struct {
	db      *database.DB
	units   []Unit
	emitter events.Emitter
	logger  *log.Logger
	now     func() time.Time
}

// NewEngine creates a migration engine over the given database.
func NewEngine(db *database.DB, units []Unit, emitter events.Emitter) *Engine {
	return &Engine{
		db:      db,
		units:   units,
		emitter: emitter,
		logger:  log.New(log.Writer(), "[MIGRATE] ", log.LstdFlags),
		now:     time.Now,
	}
}

// Register adds a code-based unit.
func (e *Engine) Register(u Unit) {
	e.units = append(e.units, u)
}

const createTrackingTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	id TEXT PRIMARY KEY,
	migration_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	status TEXT NOT NULL,
	tenant_id TEXT,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	error_message TEXT,
	execution_time_seconds REAL,
	affected_rows BIGINT,
	metadata_json TEXT,
	created_at TIMESTAMP
)`

// EnsureTable creates the tracking table when absent.
func (e *Engine) EnsureTable(ctx context.Context) error {
	_, err := e.db.Exec(ctx, createTrackingTable)
	return err
}

// Applied returns the migration ids currently in completed state for the
// given scope (empty tenantID means global).
func (e *Engine) Applied(ctx context.Context, tenantID string) (map[string]bool, error) {
	query := `SELECT migration_id FROM schema_migrations
		WHERE status = ? AND direction = ? AND COALESCE(tenant_id, '') = ?`
	rows, err := e.db.Query(ctx, query, string(StatusCompleted), string(DirectionUp), tenantID)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(rows))
	for _, row := range rows {
		if id, ok := row["migration_id"].(string); ok {
			applied[id] = true
		}
	}
	// Rolled-back migrations are pending again.
	query = `SELECT migration_id FROM schema_migrations
		WHERE status = ? AND direction = ? AND COALESCE(tenant_id, '') = ?`
	rows, err = e.db.Query(ctx, query, string(StatusCompleted), string(DirectionDown), tenantID)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if id, ok := row["migration_id"].(string); ok {
			delete(applied, id)
		}
	}
	return applied, nil
}

// Pending computes known − applied for the scope and orders the result by
// dependencies.
func (e *Engine) Pending(ctx context.Context, tenantID string) ([]Unit, error) {
	applied, err := e.Applied(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	var pending []Unit
	for _, u := range e.units {
		meta := u.Meta()
		if meta.TenantSpecific != (tenantID != "") {
			continue
		}
		if !applied[meta.ID] {
			pending = append(pending, u)
		}
	}
	return sortByDependencies(pending, applied)
}

// Plan is the dry-run: validates preconditions and reports the ordered steps
// without emitting any DDL or DML.
func (e *Engine) Plan(ctx context.Context, tenantID string) ([]PlanEntry, error) {
	pending, err := e.Pending(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plan := make([]PlanEntry, 0, len(pending))
	for _, u := range pending {
		plan = append(plan, PlanEntry{Meta: u.Meta(), Direction: DirectionUp, TenantID: tenantID})
	}
	return plan, nil
}

// Up applies every pending migration for the scope, each in its own
// transaction, recording the outcome regardless. The first failure stops
// the run.
func (e *Engine) Up(ctx context.Context, tenantID string) ([]Record, error) {
	if err := e.EnsureTable(ctx); err != nil {
		return nil, err
	}
	pending, err := e.Pending(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var records []Record
	for _, u := range pending {
		rec, err := e.apply(ctx, u, DirectionUp, tenantID)
		records = append(records, rec)
		if err != nil {
			return records, &Error{MigrationID: u.Meta().ID, Err: err}
		}
	}
	return records, nil
}

// Down rolls back one applied migration. Allowed only for units flagged
// rollback-safe that are currently applied.
func (e *Engine) Down(ctx context.Context, migrationID, tenantID string) (Record, error) {
	unit := e.find(migrationID)
	if unit == nil {
		return Record{}, &Error{MigrationID: migrationID, Err: fmt.Errorf("unknown migration")}
	}
	meta := unit.Meta()
	if !meta.RollbackSafe {
		return Record{}, &Error{MigrationID: migrationID, Err: fmt.Errorf("not flagged rollback_safe")}
	}
	applied, err := e.Applied(ctx, tenantID)
	if err != nil {
		return Record{}, err
	}
	if !applied[migrationID] {
		return Record{}, &Error{MigrationID: migrationID, Err: fmt.Errorf("not currently applied")}
	}

	rec, err := e.apply(ctx, unit, DirectionDown, tenantID)
	if err != nil {
		return rec, &Error{MigrationID: migrationID, Err: err}
	}
	return rec, nil
}

// apply runs one unit in its own transaction and persists the record.
func (e *Engine) apply(ctx context.Context, u Unit, dir Direction, tenantID string) (Record, error) {
	meta := u.Meta()
	rec := Record{
		ID:          uuid.NewString(),
		MigrationID: meta.ID,
		Direction:   dir,
		Status:      StatusRunning,
		TenantID:    tenantID,
		StartedAt:   e.now(),
	}
	e.logger.Printf("%s %s (tenant=%q)", dir, meta.ID, tenantID)

	// Tenant-specific units run under a tenant scope so the database layer
	// appends the organization filter to their statements.
	runCtx := ctx
	if tenantID != "" {
		runCtx = tenant.WithScope(ctx, tenant.Scope{TenantID: tenantID, OrganizationID: tenantID})
	}

	runErr := e.db.WithSession(runCtx, func(ctx context.Context, s *database.Session) error {
		if dir == DirectionUp {
			return u.Up(ctx, s)
		}
		return u.Down(ctx, s)
	})

	rec.CompletedAt = e.now()
	rec.Duration = rec.CompletedAt.Sub(rec.StartedAt)
	if runErr != nil {
		rec.Status = StatusFailed
		rec.Error = runErr.Error()
	} else {
		rec.Status = StatusCompleted
	}

	if err := e.persist(ctx, rec, meta); err != nil {
		e.logger.Printf("record persist failed for %s: %v", meta.ID, err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr == nil && dir == DirectionUp && e.emitter != nil {
		e.emitter.Emit(events.TypeMigrationApplied, "migration", meta.ID, map[string]interface{}{
			"tenant_id": tenantID,
			"duration":  rec.Duration.Seconds(),
		})
	}
	return rec, runErr
}

func (e *Engine) persist(ctx context.Context, rec Record, meta Metadata) error {
	query := `INSERT INTO schema_migrations
		(id, migration_id, direction, status, tenant_id, started_at, completed_at,
		 error_message, execution_time_seconds, affected_rows, metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var scope interface{}
	if rec.TenantID != "" {
		scope = rec.TenantID
	}
	_, err := e.db.Exec(ctx, query,
		rec.ID, rec.MigrationID, string(rec.Direction), string(rec.Status), scope,
		rec.StartedAt, rec.CompletedAt, rec.Error, rec.Duration.Seconds(),
		rec.AffectedRows, metadataJSON(meta), e.now())
	return err
}

func (e *Engine) find(id string) Unit {
	for _, u := range e.units {
		if u.Meta().ID == id {
			return u
		}
	}
	return nil
}

// sortByDependencies topologically orders units; dependencies already
// applied count as satisfied. A cycle or an unsatisfiable dependency is an
// error.
func sortByDependencies(units []Unit, applied map[string]bool) ([]Unit, error) {
	byID := make(map[string]Unit, len(units))
	for _, u := range units {
		byID[u.Meta().ID] = u
	}

	var order []Unit
	state := make(map[string]int) // 0 unseen, 1 visiting, 2 done
	var visit func(u Unit) error
	visit = func(u Unit) error {
		id := u.Meta().ID
		switch state[id] {
		case 1:
			return fmt.Errorf("dependency cycle through %s", id)
		case 2:
			return nil
		}
		state[id] = 1
		for _, dep := range u.Meta().Dependencies {
			if applied[dep] {
				continue
			}
			depUnit, ok := byID[dep]
			if !ok {
				return fmt.Errorf("%s depends on unknown or unapplied migration %s", id, dep)
			}
			if err := visit(depUnit); err != nil {
				return err
			}
		}
		state[id] = 2
		order = append(order, u)
		return nil
	}

	// Stable input order: by id.
	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Meta().ID < sorted[j].Meta().ID })
	for _, u := range sorted {
		if err := visit(u); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// VerifyTrackedTables asserts every table in the backup tracked set carries
// an updated_at column; incremental backups depend on it. Fails hard on the
// first table missing it.
func (e *Engine) VerifyTrackedTables(ctx context.Context, tables []string) error {
	for _, table := range tables {
		ok, err := e.hasUpdatedAt(ctx, table)
		if err != nil {
			return fmt.Errorf("verify %s: %w", table, err)
		}
		if !ok {
			return fmt.Errorf("tracked table %s has no updated_at column; incremental backups would silently miss rows", table)
		}
	}
	return nil
}

func (e *Engine) hasUpdatedAt(ctx context.Context, table string) (bool, error) {
	var query string
	var args []interface{}
	switch e.db.Engine() {
	case database.EngineSQLite:
		query = fmt.Sprintf("PRAGMA table_info(%s)", table)
	default:
		query = `SELECT column_name AS name FROM information_schema.columns
			WHERE table_name = ?`
		args = append(args, table)
	}
	rows, err := e.db.Query(ctx, query, args...)
	if err != nil {
		return false, err
	}
	for _, row := range rows {
		if name, ok := row["name"].(string); ok && strings.EqualFold(name, "updated_at") {
			return true, nil
		}
	}
	return false, nil
}

func metadataJSON(meta Metadata) string {
	blob, err := json.Marshal(map[string]interface{}{
		"name":             meta.Name,
		"version":          meta.Version,
		"author":           meta.Author,
		"dependencies":     meta.Dependencies,
		"breaking_changes": meta.BreakingChanges,
		"tenant_specific":  meta.TenantSpecific,
		"rollback_safe":    meta.RollbackSafe,
		"checksum":         meta.Checksum,
	})
	if err != nil {
		return "{}"
	}
	return string(blob)
}
