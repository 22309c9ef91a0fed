package backup

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/taxpoynt/platform/internal/database"
	"github.com/taxpoynt/platform/internal/events"
)

// ErrUnsupportedType marks backup types Submit cannot schedule.
var ErrUnsupportedType = errors.New("unsupported backup type")

// Timestamp layouts. storeLayout is fixed-width so text ordering matches
// chronological ordering; checkpointLayout is the second-precision form used
// in updated_at predicates.
const (
	storeLayout      = "2006-01-02 15:04:05.000000000"
	checkpointLayout = "2006-01-02 15:04:05"
)

// Options configures the orchestrator.
type Options struct {
	// Root directory for local backup files.
	Root string
	// Workers bounds concurrent jobs. Defaults to 2.
	Workers int
	// QueueSize bounds pending jobs. Defaults to 64.
	QueueSize int
	// Compression for finalized files. Defaults to gzip.
	Compression Compression
	// RetentionDays for the sweep; zero disables it.
	RetentionDays int
	// TrackedTables feed incremental, differential, and tenant dumps. Every
	// table here must carry updated_at (see migration.VerifyTrackedTables).
	TrackedTables []string
	// Store receives finalized files when set.
	Store ObjectStore
	// Emitter publishes completion and failure events when set.
	Emitter events.Emitter
}

// Orchestrator schedules backup jobs on a bounded worker pool.
type Orchestrator struct {
	db     *database.DB
	opts   Options
	queue  chan *Job
	logger *log.Logger
	now    func() time.Time

	mu      sync.RWMutex
	jobs    map[string]*Job
	cancels map[string]context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

// NewOrchestrator creates the orchestrator and starts its worker pool.
func NewOrchestrator(db *database.DB, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Compression == "" {
		opts.Compression = CompressionGzip
	}
	o := &Orchestrator{
		db:      db,
		opts:    opts,
		queue:   make(chan *Job, opts.QueueSize),
		logger:  log.New(log.Writer(), "[BACKUP] ", log.LstdFlags),
		now:     time.Now,
		jobs:    make(map[string]*Job),
		cancels: make(map[string]context.CancelFunc),
	}
	for i := 0; i < opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

// Submit enqueues a backup job. Tenant-specific jobs require a tenant id;
// other types ignore it. Txn-log jobs are rejected with ErrUnsupportedType
// until an engine exposes its log.
func (o *Orchestrator) Submit(backupType Type, tenantID string) (*Job, error) {
	switch backupType {
	case TypeFull, TypeIncremental, TypeDifferential:
		tenantID = ""
	case TypeTenant:
		if tenantID == "" {
			return nil, fmt.Errorf("tenant-specific backup requires a tenant id")
		}
	case TypeTxnLog:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, backupType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, backupType)
	}

	job := &Job{
		ID:          uuid.NewString(),
		Type:        backupType,
		TenantID:    tenantID,
		Compression: o.opts.Compression,
		status:      StatusPending,
		done:        make(chan struct{}),
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil, fmt.Errorf("backup orchestrator is stopped")
	}
	o.jobs[job.ID] = job
	o.mu.Unlock()

	select {
	case o.queue <- job:
		return job, nil
	default:
		o.mu.Lock()
		delete(o.jobs, job.ID)
		o.mu.Unlock()
		return nil, fmt.Errorf("backup queue full")
	}
}

// Job returns a snapshot of one job.
func (o *Orchestrator) Job(id string) (JobInfo, bool) {
	o.mu.RLock()
	job, ok := o.jobs[id]
	o.mu.RUnlock()
	if !ok {
		return JobInfo{}, false
	}
	return job.Snapshot(), true
}

// Cancel stops a pending or running job. Terminal jobs are left alone.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	job, ok := o.jobs[id]
	if !ok {
		o.mu.Unlock()
		return false
	}
	cancel := o.cancels[id]
	o.mu.Unlock()

	if cancel != nil {
		cancel()
		return true
	}
	if job.tryCancelPending(o.now()) {
		return true
	}

	// The worker registered its cancel func between our map read and the
	// pending check.
	o.mu.RLock()
	cancel = o.cancels[id]
	o.mu.RUnlock()
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

// Stop accepts no new work, drains in-flight jobs, and returns.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	close(o.queue)
	o.wg.Wait()
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for job := range o.queue {
		if job.Status() == StatusCancelled {
			continue
		}
		o.run(job)
	}
}

func (o *Orchestrator) run(job *Job) {
	started := o.now()
	if !job.tryStart(started) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[job.ID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.cancels, job.ID)
		o.mu.Unlock()
	}()
	o.logger.Printf("job %s: %s backup started (tenant=%q)", job.ID, job.Type, job.TenantID)

	err := o.execute(ctx, job, started)

	completed := o.now()
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		if ctx.Err() != nil {
			status = StatusCancelled
		}
	}
	job.finish(status, err, completed)

	if perr := o.persist(job.Snapshot()); perr != nil {
		o.logger.Printf("job %s: record persist failed: %v", job.ID, perr)
	}

	info := job.Snapshot()
	switch status {
	case StatusCompleted:
		o.logger.Printf("job %s: completed, %d bytes (%d compressed), checksum %s",
			job.ID, info.BytesBefore, info.BytesAfter, info.Checksum[:12])
		o.emit(events.TypeBackupCompleted, info)
	default:
		o.logger.Printf("job %s: %s: %v", job.ID, status, err)
		o.emit(events.TypeBackupFailed, info)
	}
}

// execute produces, compresses, checksums, and uploads the backup file.
func (o *Orchestrator) execute(ctx context.Context, job *Job, started time.Time) error {
	dir := filepath.Join(o.opts.Root, string(job.Type))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	rawPath := filepath.Join(dir, fileName(job.Type, job.TenantID, started, CompressionNone))

	var err error
	switch job.Type {
	case TypeFull:
		err = o.dumpFull(ctx, rawPath)
	case TypeIncremental:
		var since time.Time
		since, err = o.lastCheckpoint(ctx, TypeFull, TypeIncremental, TypeDifferential)
		if err == nil {
			err = o.dumpIncremental(ctx, rawPath, since)
		}
	case TypeDifferential:
		// Differential scope is everything since the newest full backup,
		// regardless of incrementals taken in between.
		var since time.Time
		since, err = o.lastCheckpoint(ctx, TypeFull)
		if err == nil {
			err = o.dumpIncremental(ctx, rawPath, since)
		}
	case TypeTenant:
		err = o.dumpTenant(ctx, rawPath, job.TenantID)
	}
	if err != nil {
		os.Remove(rawPath)
		return err
	}
	if err := ctx.Err(); err != nil {
		os.Remove(rawPath)
		return err
	}

	rawInfo, err := os.Stat(rawPath)
	if err != nil {
		return err
	}
	finalPath, err := compressFile(rawPath, job.Compression)
	if err != nil {
		return err
	}
	finalInfo, err := os.Stat(finalPath)
	if err != nil {
		return err
	}
	sum, err := ChecksumFile(finalPath)
	if err != nil {
		return err
	}

	job.mu.Lock()
	job.FilePath = finalPath
	job.BytesBefore = rawInfo.Size()
	job.BytesAfter = finalInfo.Size()
	job.Checksum = sum
	job.mu.Unlock()

	if o.opts.Store != nil {
		if err := o.upload(ctx, job.Snapshot()); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
	}
	return nil
}

const createJobsTable = `
CREATE TABLE IF NOT EXISTS backup_jobs (
	job_id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	tenant_id TEXT,
	status TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT,
	file_path TEXT,
	bytes_before BIGINT,
	bytes_after BIGINT,
	checksum TEXT,
	error TEXT
)`

func (o *Orchestrator) persist(info JobInfo) error {
	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()

	if _, err := o.db.Exec(ctx, createJobsTable); err != nil {
		return err
	}
	var scope interface{}
	if info.TenantID != "" {
		scope = info.TenantID
	}
	_, err := o.db.Exec(ctx, `INSERT INTO backup_jobs
		(job_id, type, tenant_id, status, started_at, completed_at, file_path,
		 bytes_before, bytes_after, checksum, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		info.ID, string(info.Type), scope, string(info.Status),
		info.StartedAt.UTC().Format(storeLayout), info.CompletedAt.UTC().Format(storeLayout),
		info.FilePath, info.BytesBefore, info.BytesAfter, info.Checksum, info.Err)
	return err
}

// lastCheckpoint is the start time of the newest completed backup of any of
// the given types. Zero time means everything is in scope.
func (o *Orchestrator) lastCheckpoint(ctx context.Context, types ...Type) (time.Time, error) {
	if _, err := o.db.Exec(ctx, createJobsTable); err != nil {
		return time.Time{}, err
	}
	marks := make([]string, len(types))
	args := make([]interface{}, 0, len(types)+1)
	args = append(args, string(StatusCompleted))
	for i, bt := range types {
		marks[i] = "?"
		args = append(args, string(bt))
	}
	rows, err := o.db.Query(ctx, `SELECT started_at FROM backup_jobs
		WHERE status = ? AND type IN (`+strings.Join(marks, ", ")+`)
		ORDER BY started_at DESC LIMIT 1`, args...)
	if err != nil {
		return time.Time{}, err
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	raw, _ := rows[0]["started_at"].(string)
	when, err := time.Parse(storeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("corrupt checkpoint %q: %w", raw, err)
	}
	return when, nil
}

func (o *Orchestrator) emit(eventType string, info JobInfo) {
	if o.opts.Emitter == nil {
		return
	}
	o.opts.Emitter.Emit(eventType, "backup", info.ID, map[string]interface{}{
		"type":             string(info.Type),
		"tenant_id":        info.TenantID,
		"status":           string(info.Status),
		"file_path":        info.FilePath,
		"checksum":         info.Checksum,
		"duration_seconds": info.CompletedAt.Sub(info.StartedAt).Seconds(),
	})
}
