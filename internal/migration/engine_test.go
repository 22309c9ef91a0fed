package migration

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxpoynt/platform/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	// A file-backed database: in-memory sqlite is per-connection and the
	// pool would hand each statement a different empty database.
	db, err := database.Open(database.DefaultConfig(database.EngineSQLite, filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func unitsFromDir(t *testing.T, dir string) []Unit {
	t.Helper()
	units, err := ParseDir(dir)
	require.NoError(t, err)
	return units
}

func TestUpAppliesInDependencyOrder(t *testing.T) {
	dir := t.TempDir()
	// Discovered out of order on purpose: 001 depends on 002.
	writeMigration(t, dir, "001_child.sql",
		"-- @name: child\n-- @dependencies: 002_parent\n-- @rollback_safe: true\nCREATE TABLE child (id TEXT, parent_id TEXT);\n-- DOWN\nDROP TABLE child;\n")
	writeMigration(t, dir, "002_parent.sql",
		"-- @name: parent\n-- @rollback_safe: true\nCREATE TABLE parent (id TEXT);\n-- DOWN\nDROP TABLE parent;\n")

	db := openTestDB(t)
	eng := NewEngine(db, unitsFromDir(t, dir), nil)

	records, err := eng.Up(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "002_parent", records[0].MigrationID)
	assert.Equal(t, "001_child", records[1].MigrationID)
	for _, rec := range records {
		assert.Equal(t, StatusCompleted, rec.Status)
	}
}

func TestUpIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_a.sql", "-- @name: a\nCREATE TABLE a (id TEXT);\n")

	db := openTestDB(t)
	eng := NewEngine(db, unitsFromDir(t, dir), nil)
	ctx := context.Background()

	first, err := eng.Up(ctx, "")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Re-running applies nothing.
	second, err := eng.Up(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestFailedMigrationStopsRunAndIsRecorded(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_ok.sql", "-- @name: ok\nCREATE TABLE ok (id TEXT);\n")
	writeMigration(t, dir, "002_broken.sql", "-- @name: broken\nCREATE BOGUS SYNTAX;\n")
	writeMigration(t, dir, "003_never.sql", "-- @name: never\nCREATE TABLE never (id TEXT);\n")

	db := openTestDB(t)
	eng := NewEngine(db, unitsFromDir(t, dir), nil)

	records, err := eng.Up(context.Background(), "")
	require.Error(t, err)
	var migErr *Error
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "002_broken", migErr.MigrationID)

	// ok completed, broken recorded as failed, never not attempted.
	require.Len(t, records, 2)
	assert.Equal(t, StatusCompleted, records[0].Status)
	assert.Equal(t, StatusFailed, records[1].Status)

	rows, qerr := db.Query(context.Background(),
		"SELECT migration_id, status FROM schema_migrations ORDER BY migration_id")
	require.NoError(t, qerr)
	assert.Len(t, rows, 2)
}

func TestDownOnlyForRollbackSafeApplied(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_safe.sql",
		"-- @name: safe\n-- @rollback_safe: true\nCREATE TABLE safe (id TEXT);\n-- DOWN\nDROP TABLE safe;\n")
	writeMigration(t, dir, "002_unsafe.sql",
		"-- @name: unsafe\nCREATE TABLE unsafe (id TEXT);\n-- DOWN\nDROP TABLE unsafe;\n")

	db := openTestDB(t)
	eng := NewEngine(db, unitsFromDir(t, dir), nil)
	ctx := context.Background()

	_, err := eng.Up(ctx, "")
	require.NoError(t, err)

	// Not rollback-safe.
	_, err = eng.Down(ctx, "002_unsafe", "")
	require.Error(t, err)

	// Rollback-safe and applied.
	rec, err := eng.Down(ctx, "001_safe", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, DirectionDown, rec.Direction)

	// Rolled back means pending again.
	pending, err := eng.Pending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "001_safe", pending[0].Meta().ID)

	// And not applied, so a second rollback is rejected.
	_, err = eng.Down(ctx, "001_safe", "")
	require.Error(t, err)
}

func TestPlanEmitsNoDDL(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_a.sql", "-- @name: a\nCREATE TABLE planned (id TEXT);\n")

	db := openTestDB(t)
	eng := NewEngine(db, unitsFromDir(t, dir), nil)
	ctx := context.Background()
	require.NoError(t, eng.EnsureTable(ctx))

	plan, err := eng.Plan(ctx, "")
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, "001_a", plan[0].Meta.ID)

	// The planned table must not exist.
	_, err = db.Query(ctx, "SELECT * FROM planned")
	require.Error(t, err)
}

func TestTenantSpecificScope(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_global.sql", "-- @name: global\nCREATE TABLE g (id TEXT);\n")
	writeMigration(t, dir, "002_tenant.sql",
		"-- @name: tenant backfill\n-- @tenant_specific: true\nCREATE TABLE IF NOT EXISTS t_backfill (id TEXT);\n")

	db := openTestDB(t)
	eng := NewEngine(db, unitsFromDir(t, dir), nil)
	ctx := context.Background()

	global, err := eng.Up(ctx, "")
	require.NoError(t, err)
	require.Len(t, global, 1)
	assert.Equal(t, "001_global", global[0].MigrationID)

	scoped, err := eng.Up(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "002_tenant", scoped[0].MigrationID)
	assert.Equal(t, "org1", scoped[0].TenantID)

	// The same tenant unit stays pending for a different tenant.
	plan, err := eng.Plan(ctx, "org2")
	require.NoError(t, err)
	require.Len(t, plan, 1)
}

func TestVerifyTrackedTables(t *testing.T) {
	dir := t.TempDir()
	writeMigration(t, dir, "001_tables.sql",
		"-- @name: tables\nCREATE TABLE with_ts (id TEXT, updated_at TIMESTAMP);\nCREATE TABLE without_ts (id TEXT);\n")

	db := openTestDB(t)
	eng := NewEngine(db, unitsFromDir(t, dir), nil)
	ctx := context.Background()
	_, err := eng.Up(ctx, "")
	require.NoError(t, err)

	assert.NoError(t, eng.VerifyTrackedTables(ctx, []string{"with_ts"}))
	err = eng.VerifyTrackedTables(ctx, []string{"with_ts", "without_ts"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without_ts")
}
