package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Session is a transaction-scoped handle. It is owned exclusively by the task
// that acquired it and must never be shared across goroutines.
type Session struct {
	tx    *sql.Tx
	db    *DB
	start time.Time
}

// Query runs a SELECT inside the session transaction.
func (s *Session) Query(ctx context.Context, query string, args ...interface{}) ([]map[string]interface{}, error) {
	query, args = s.db.injectTenantFilter(ctx, query, args)
	query = s.db.Rebind(query)

	start := time.Now()
	rows, err := s.tx.QueryContext(ctx, query, args...)
	s.db.observe(query, time.Since(start))
	if err != nil {
		return nil, &Error{Kind: classify(err), Op: "session query", Err: err}
	}
	defer rows.Close()
	return scanMaps(rows)
}

// Exec runs DML inside the session transaction.
func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	query, args = s.db.injectTenantFilter(ctx, query, args)
	query = s.db.Rebind(query)

	start := time.Now()
	res, err := s.tx.ExecContext(ctx, query, args...)
	s.db.observe(query, time.Since(start))
	if err != nil {
		return 0, &Error{Kind: classify(err), Op: "session exec", Err: err}
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// WithSession acquires a session, runs fn, and guarantees commit on success,
// rollback on failure, and release on every exit path including panics.
func (db *DB) WithSession(ctx context.Context, fn func(ctx context.Context, s *Session) error) (err error) {
	tx, beginErr := db.sqlDB.BeginTx(ctx, nil)
	if beginErr != nil {
		return &Error{Kind: KindConnection, Op: "begin", Err: beginErr}
	}
	session := &Session{tx: tx, db: db, start: time.Now()}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				db.logger.Printf("rollback failed: %v", rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = &Error{Kind: classify(commitErr), Op: "commit", Err: commitErr}
		}
	}()

	if err = fn(ctx, session); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}
