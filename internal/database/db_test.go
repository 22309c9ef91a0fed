package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxpoynt/platform/internal/tenant"
)

func TestRebind(t *testing.T) {
	pg := &DB{cfg: Config{Engine: EnginePostgres}}
	lite := &DB{cfg: Config{Engine: EngineSQLite}}

	query := "SELECT * FROM organizations WHERE id = ? AND tier = ?"
	assert.Equal(t, "SELECT * FROM organizations WHERE id = $1 AND tier = $2", pg.Rebind(query))
	assert.Equal(t, query, lite.Rebind(query))
	assert.Equal(t, "SELECT 1", pg.Rebind("SELECT 1"))
}

func TestTenantFilterInjection(t *testing.T) {
	db := &DB{cfg: Config{Engine: EngineSQLite}}
	scoped := tenant.WithScope(context.Background(), tenant.Scope{TenantID: "org1", OrganizationID: "org1"})

	t.Run("appends filter on scoped table", func(t *testing.T) {
		q, args := db.injectTenantFilter(scoped, "SELECT * FROM processed_transactions", nil)
		assert.Equal(t, "SELECT * FROM processed_transactions WHERE organization_id = ?", q)
		require.Len(t, args, 1)
		assert.Equal(t, "org1", args[0])
	})

	t.Run("wraps existing predicate", func(t *testing.T) {
		q, args := db.injectTenantFilter(scoped,
			"SELECT * FROM customer_identities WHERE confidence > ? OR primary_name = ?", []interface{}{0.5, "x"})
		assert.Equal(t,
			"SELECT * FROM customer_identities WHERE organization_id = ? AND (confidence > ? OR primary_name = ?)", q)
		require.Len(t, args, 3)
		assert.Equal(t, "org1", args[0])
	})

	t.Run("no scope means no filter", func(t *testing.T) {
		q, args := db.injectTenantFilter(context.Background(), "SELECT * FROM processed_transactions", nil)
		assert.Equal(t, "SELECT * FROM processed_transactions", q)
		assert.Empty(t, args)
	})

	t.Run("unscoped table untouched", func(t *testing.T) {
		q, _ := db.injectTenantFilter(scoped, "SELECT * FROM schema_migrations", nil)
		assert.Equal(t, "SELECT * FROM schema_migrations", q)
	})

	t.Run("explicit organization filter left alone", func(t *testing.T) {
		query := "SELECT * FROM processed_transactions WHERE organization_id = ?"
		q, args := db.injectTenantFilter(scoped, query, []interface{}{"org2"})
		assert.Equal(t, query, q)
		require.Len(t, args, 1)
	})

	t.Run("inserts untouched", func(t *testing.T) {
		query := "INSERT INTO processed_transactions (id) VALUES (?)"
		q, _ := db.injectTenantFilter(scoped, query, []interface{}{"t1"})
		assert.Equal(t, query, q)
	})
}

func TestQueryScopedEndToEnd(t *testing.T) {
	db := openStoreDB(t)
	mustExec(t, db, `CREATE TABLE processed_transactions (id TEXT, organization_id TEXT)`)
	mustExec(t, db, `INSERT INTO processed_transactions VALUES ('t1', 'org1'), ('t2', 'org2')`)

	scoped := tenant.WithScope(context.Background(), tenant.Scope{TenantID: "org1", OrganizationID: "org1"})
	rows, err := db.Query(scoped, "SELECT id FROM processed_transactions")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0]["id"])
}

func TestWithSessionCommitAndRollback(t *testing.T) {
	db := openStoreDB(t)
	mustExec(t, db, `CREATE TABLE ledger (id TEXT)`)
	ctx := context.Background()

	err := db.WithSession(ctx, func(ctx context.Context, s *Session) error {
		_, err := s.Exec(ctx, "INSERT INTO ledger VALUES ('committed')")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithSession(ctx, func(ctx context.Context, s *Session) error {
		if _, err := s.Exec(ctx, "INSERT INTO ledger VALUES ('rolled-back')"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := db.Query(ctx, "SELECT id FROM ledger")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "committed", rows[0]["id"])
}

func TestWithSessionRollsBackOnPanic(t *testing.T) {
	db := openStoreDB(t)
	mustExec(t, db, `CREATE TABLE ledger (id TEXT)`)
	ctx := context.Background()

	require.Panics(t, func() {
		db.WithSession(ctx, func(ctx context.Context, s *Session) error {
			s.Exec(ctx, "INSERT INTO ledger VALUES ('ghost')")
			panic("stage blew up")
		})
	})

	rows, err := db.Query(ctx, "SELECT id FROM ledger")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestHealth(t *testing.T) {
	db := openStoreDB(t)
	status, rtt, err := db.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", status)
	assert.Positive(t, rtt)
}

func TestErrorClassification(t *testing.T) {
	connErr := &Error{Kind: KindConnection, Op: "query", Err: errors.New("connection refused")}
	assert.True(t, transient(connErr))

	queryErr := &Error{Kind: KindQuery, Op: "query", Err: errors.New("syntax error near SELECT")}
	assert.False(t, transient(queryErr))

	assert.True(t, transient(errors.New("database is locked")))
	assert.False(t, transient(nil))
}
