// Package backup produces full, incremental, differential, and tenant-scoped
// database backups on a bounded worker pool, with compression, streaming
// checksums, optional object-store upload, and retention sweeps.
package backup

import (
	"fmt"
	"sync"
	"time"
)

// Type of a backup job.
type Type string

const (
	TypeFull         Type = "full"
	TypeIncremental  Type = "incremental"  // since the newest completed backup
	TypeDifferential Type = "differential" // since the newest completed full backup
	TypeTenant       Type = "tenant_specific"
	TypeTxnLog       Type = "txn_log" // no executor; neither engine driver exposes its WAL
)

// Status of a backup job. Jobs move pending → running → one of the terminal
// states and never back.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Compression applied to the finalized dump file.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionBzip2 Compression = "bzip2"
)

func (c Compression) extension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionBzip2:
		return ".bz2"
	default:
		return ""
	}
}

// Job is one backup unit of work. Fields are guarded by mu; Snapshot returns
// a consistent copy for callers outside the worker.
type Job struct {
	mu sync.RWMutex

	ID          string
	Type        Type
	TenantID    string
	Compression Compression

	status      Status
	StartedAt   time.Time
	CompletedAt time.Time
	FilePath    string
	BytesBefore int64
	BytesAfter  int64
	Checksum    string
	Err         string

	done chan struct{}
}

// Status returns the current lifecycle state.
func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Snapshot copies the job's observable fields under the lock.
func (j *Job) Snapshot() JobInfo {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobInfo{
		ID:          j.ID,
		Type:        j.Type,
		TenantID:    j.TenantID,
		Compression: j.Compression,
		Status:      j.status,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		FilePath:    j.FilePath,
		BytesBefore: j.BytesBefore,
		BytesAfter:  j.BytesAfter,
		Checksum:    j.Checksum,
		Err:         j.Err,
	}
}

// JobInfo is an immutable view of a job.
type JobInfo struct {
	ID          string
	Type        Type
	TenantID    string
	Compression Compression
	Status      Status
	StartedAt   time.Time
	CompletedAt time.Time
	FilePath    string
	BytesBefore int64
	BytesAfter  int64
	Checksum    string
	Err         string
}

// tryStart moves pending → running. False means the job was cancelled before
// a worker picked it up.
func (j *Job) tryStart(at time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusPending {
		return false
	}
	j.status = StatusRunning
	j.StartedAt = at
	return true
}

// tryCancelPending moves pending → cancelled. False means a worker already
// owns the job.
func (j *Job) tryCancelPending(at time.Time) bool {
	j.mu.Lock()
	if j.status != StatusPending {
		j.mu.Unlock()
		return false
	}
	j.status = StatusCancelled
	j.CompletedAt = at
	j.mu.Unlock()
	close(j.done)
	return true
}

// finish moves the job to a terminal state and releases waiters.
func (j *Job) finish(s Status, err error, at time.Time) {
	j.mu.Lock()
	j.status = s
	j.CompletedAt = at
	if err != nil {
		j.Err = err.Error()
	}
	j.mu.Unlock()
	close(j.done)
}

// fileName builds the canonical backup file name:
// [tenant_<id>_]<type>_<yyyymmdd_hhmmss>.sql plus the compression extension.
func fileName(t Type, tenantID string, at time.Time, c Compression) string {
	prefix := ""
	if tenantID != "" {
		prefix = fmt.Sprintf("tenant_%s_", tenantID)
	}
	return fmt.Sprintf("%s%s_%s.sql%s", prefix, t, at.UTC().Format("20060102_150405"), c.extension())
}
