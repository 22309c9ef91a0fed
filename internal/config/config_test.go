package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/taxpoynt")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Database.PoolSize)
	assert.Equal(t, time.Second, cfg.Database.SlowQueryThreshold)
	assert.Equal(t, "gzip", cfg.Backup.Compression)
	assert.Equal(t, 30, cfg.Backup.RetentionDays)
	assert.Equal(t, "single", cfg.Cache.Mode)
}

func TestEnvOverridesDefaultsAndFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9999"
backup:
  root: /var/backups/taxpoynt
  retention_days: 7
`)
	t.Setenv("DATABASE_URL", "postgres://localhost/taxpoynt")
	t.Setenv("PORT", "3000")
	t.Setenv("DB_POOL_SIZE", "25")
	t.Setenv("DB_SLOW_QUERY_THRESHOLD", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)
	// Env beats file, file beats default.
	assert.Equal(t, "3000", cfg.Server.Port)
	assert.Equal(t, "/var/backups/taxpoynt", cfg.Backup.Root)
	assert.Equal(t, 7, cfg.Backup.RetentionDays)
	assert.Equal(t, 25, cfg.Database.PoolSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Database.SlowQueryThreshold)
}

func TestUnknownYAMLKeyRejected(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9999"
  shard_count: 4
`)
	t.Setenv("DATABASE_URL", "postgres://localhost/taxpoynt")

	_, err := Load(path)
	require.Error(t, err)
}

func TestInvalidValuesRejected(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/taxpoynt")

	t.Setenv("BACKUP_COMPRESSION", "zstd")
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("BACKUP_COMPRESSION", "gzip")
	t.Setenv("REDIS_MODE", "mesh")
	_, err = Load("")
	require.Error(t, err)
}

func TestManagerTenantOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/taxpoynt")
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Pipeline.MinConfidence["small-business"] = 0.7

	path := writeFile(t, "tenants.yaml", `
tenants:
  org1:
    profile: financial-data
    min_confidence: 0.9
`)
	m, err := NewManager(cfg, path)
	require.NoError(t, err)

	profile, minConf, ttl := m.Effective("org1", "small-business")
	assert.Equal(t, "financial-data", profile)
	assert.Equal(t, 0.9, minConf)
	assert.Equal(t, cfg.Cache.DefaultTTL, ttl)

	// Unknown tenants inherit everything.
	profile, minConf, _ = m.Effective("org2", "small-business")
	assert.Equal(t, "small-business", profile)
	assert.Equal(t, 0.7, minConf)

	m.SetOverride("org3", TenantOverrides{CacheTTL: time.Minute})
	_, _, ttl = m.Effective("org3", "small-business")
	assert.Equal(t, time.Minute, ttl)
}

func TestManagerMissingTenantsFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/taxpoynt")
	cfg, err := Load("")
	require.NoError(t, err)

	m, err := NewManager(cfg, filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	profile, _, _ := m.Effective("any", "enterprise-erp")
	assert.Equal(t, "enterprise-erp", profile)
}

func TestManagerRejectsOutOfRangeConfidence(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/taxpoynt")
	cfg, err := Load("")
	require.NoError(t, err)

	path := writeFile(t, "tenants.yaml", `
tenants:
  org1:
    min_confidence: 1.5
`)
	_, err = NewManager(cfg, path)
	require.Error(t, err)
}
