// Package migration discovers, orders, and applies schema migrations from
// declarative SQL files and code-based units, tracking every run in the
// schema_migrations table.
package migration

import (
	"context"
	"time"

	"github.com/taxpoynt/platform/internal/database"
)

// Direction of a migration run.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Status of a recorded migration.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRolledBck Status = "rolled_back"
)

// Metadata describes one migration unit.
type Metadata struct {
	ID                 string
	Name               string
	Description        string
	Version            string
	Author             string
	Timestamp          time.Time
	Dependencies       []string
	BreakingChanges    bool
	EstimatedDuration  time.Duration
	RequiresMaintMode  bool
	TenantSpecific     bool
	RollbackSafe       bool
	Checksum           string
}

// Unit is a runnable migration: declarative file units and code-based units
// both satisfy it.
type Unit interface {
	Meta() Metadata
	Up(ctx context.Context, s *database.Session) error
	Down(ctx context.Context, s *database.Session) error
}

// Record is one row of schema_migrations.
type Record struct {
	ID          string
	MigrationID string
	Direction   Direction
	Status      Status
	TenantID    string
	StartedAt   time.Time
	CompletedAt time.Time
	Error       string
	Duration    time.Duration
	AffectedRows int64
}
