package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/taxpoynt/platform/internal/database"
	"github.com/taxpoynt/platform/internal/tenant"
)

// dumpFull produces a complete copy of the database. On postgres it shells
// out to pg_dump; on sqlite it copies the database file while holding a read
// transaction so no writer can move the file underneath the copy.
func (o *Orchestrator) dumpFull(ctx context.Context, path string) error {
	switch o.db.Engine() {
	case database.EngineSQLite:
		return o.copySQLiteFile(ctx, path)
	default:
		return o.runPgDump(ctx, path)
	}
}

func (o *Orchestrator) runPgDump(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "pg_dump", "--no-owner", "--format=plain", "--file="+path, o.db.URL())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (o *Orchestrator) copySQLiteFile(ctx context.Context, path string) error {
	conn, err := o.db.Raw().Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Flush the WAL, then pin a read transaction for the duration of the
	// copy. The SELECT forces the deferred transaction to take its lock.
	if _, err := conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, "BEGIN"); err != nil {
		return err
	}
	defer conn.ExecContext(ctx, "COMMIT")
	if _, err := conn.QueryContext(ctx, "SELECT count(*) FROM sqlite_master"); err != nil {
		return err
	}

	src, err := os.Open(o.db.URL())
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// dumpIncremental writes every tracked-table row changed at or after the
// checkpoint as INSERT statements.
func (o *Orchestrator) dumpIncremental(ctx context.Context, path string, since time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "-- incremental backup since %s\n", since.UTC().Format(checkpointLayout))
	for _, table := range o.opts.TrackedTables {
		rows, err := o.db.Query(ctx,
			fmt.Sprintf("SELECT * FROM %s WHERE updated_at >= ?", table),
			since.UTC().Format(checkpointLayout))
		if err != nil {
			return fmt.Errorf("dump %s: %w", table, err)
		}
		if err := writeInserts(f, table, rows); err != nil {
			return err
		}
	}
	return f.Sync()
}

// dumpTenant writes every tracked-table row for one tenant. The query runs
// under a tenant scope, so the database layer appends the organization
// filter.
func (o *Orchestrator) dumpTenant(ctx context.Context, path, tenantID string) error {
	scoped := tenant.WithScope(ctx, tenant.Scope{TenantID: tenantID, OrganizationID: tenantID})

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "-- tenant backup for %s\n", tenantID)
	for _, table := range o.opts.TrackedTables {
		rows, err := o.db.Query(scoped, fmt.Sprintf("SELECT * FROM %s", table))
		if err != nil {
			return fmt.Errorf("dump %s: %w", table, err)
		}
		if err := writeInserts(f, table, rows); err != nil {
			return err
		}
	}
	return f.Sync()
}

// writeInserts serializes row maps as INSERT statements with a stable column
// order.
func writeInserts(w io.Writer, table string, rows []map[string]interface{}) error {
	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for col := range row {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		values := make([]string, len(cols))
		for i, col := range cols {
			values[i] = sqlLiteral(row[col])
		}
		if _, err := fmt.Fprintf(w, "INSERT INTO %s (%s) VALUES (%s);\n",
			table, strings.Join(cols, ", "), strings.Join(values, ", ")); err != nil {
			return err
		}
	}
	return nil
}

func sqlLiteral(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(t, "'", "''") + "'"
	case []byte:
		return "'" + strings.ReplaceAll(string(t), "'", "''") + "'"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case time.Time:
		return "'" + t.UTC().Format(checkpointLayout) + "'"
	default:
		return fmt.Sprintf("%v", t)
	}
}
