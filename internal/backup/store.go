package backup

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// remotePrefix roots every uploaded backup object.
const remotePrefix = "taxpoynt-backups"

// ObjectStore is the remote side of a backup: S3, Supabase storage, or a
// filesystem fake in tests.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, metadata map[string]string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// remoteKey mirrors the local layout under a date-partitioned prefix.
// Tenant jobs nest under tenants/<id> so per-tenant retention and export
// stay a prefix operation.
func remoteKey(info JobInfo) string {
	date := info.StartedAt.UTC().Format("2006/01/02")
	name := filepath.Base(info.FilePath)
	if info.TenantID != "" {
		return fmt.Sprintf("%s/tenants/%s/%s/%s", remotePrefix, info.TenantID, date, name)
	}
	return fmt.Sprintf("%s/%s/%s", remotePrefix, date, name)
}

// upload streams the finalized file to the object store with job metadata
// attached.
func (o *Orchestrator) upload(ctx context.Context, info JobInfo) error {
	f, err := os.Open(info.FilePath)
	if err != nil {
		return err
	}
	defer f.Close()

	return o.opts.Store.Put(ctx, remoteKey(info), f, map[string]string{
		"job_id":     info.ID,
		"type":       string(info.Type),
		"tenant_id":  info.TenantID,
		"checksum":   info.Checksum,
		"started_at": info.StartedAt.UTC().Format(time.RFC3339),
	})
}

// Sweep deletes local and remote backups older than the retention window.
// A zero retention disables the sweep.
func (o *Orchestrator) Sweep(ctx context.Context) (removed int, err error) {
	if o.opts.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := o.now().AddDate(0, 0, -o.opts.RetentionDays)

	walkErr := filepath.WalkDir(o.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return removed, walkErr
	}

	if o.opts.Store == nil {
		return removed, nil
	}
	keys, err := o.opts.Store.List(ctx, remotePrefix+"/")
	if err != nil {
		return removed, err
	}
	for _, key := range keys {
		when, ok := keyDate(key)
		if !ok || !when.Before(cutoff) {
			continue
		}
		if err := o.opts.Store.Delete(ctx, key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// keyDate recovers the yyyy/mm/dd partition from a remote key.
func keyDate(key string) (time.Time, bool) {
	parts := strings.Split(key, "/")
	for i := 0; i+2 < len(parts); i++ {
		when, err := time.Parse("2006/01/02", strings.Join(parts[i:i+3], "/"))
		if err == nil {
			return when, true
		}
	}
	return time.Time{}, false
}
