package migration

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/taxpoynt/platform/internal/database"
)

// fileUnit is a declarative SQL migration parsed from disk.
type fileUnit struct {
	meta Metadata
	up   string
	down string
}

func (u *fileUnit) Meta() Metadata { return u.meta }

func (u *fileUnit) Up(ctx context.Context, s *database.Session) error {
	return execStatements(ctx, s, u.up)
}

func (u *fileUnit) Down(ctx context.Context, s *database.Session) error {
	if strings.TrimSpace(u.down) == "" {
		return fmt.Errorf("migration %s has no DOWN section", u.meta.ID)
	}
	return execStatements(ctx, s, u.down)
}

// ParseFile reads one declarative migration. The header is `-- @key: value`
// comment lines; the body splits on the `-- DOWN` marker into UP and DOWN
// sections (an explicit `-- UP` marker before the first section is allowed).
func ParseFile(path string) (Unit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read migration %s: %w", path, err)
	}
	content := string(raw)

	meta := Metadata{
		ID:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Checksum: checksum(content),
	}
	if err := parseHeader(content, &meta); err != nil {
		return nil, fmt.Errorf("migration %s: %w", path, err)
	}

	up, down := splitSections(content)
	if strings.TrimSpace(up) == "" {
		return nil, fmt.Errorf("migration %s: empty UP section", path)
	}
	return &fileUnit{meta: meta, up: up, down: down}, nil
}

// ParseDir loads every .sql file in a directory, sorted by filename so ids
// have a stable discovery order before dependency sorting.
func ParseDir(dir string) ([]Unit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	units := make([]Unit, 0, len(names))
	for _, name := range names {
		u, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, nil
}

// parseHeader fills metadata from `-- @key: value` lines. Parsing stops at
// the first non-comment line.
func parseHeader(content string, meta *Metadata) error {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "--") {
			break
		}
		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "--"))
		if !strings.HasPrefix(rest, "@") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(rest, "@"), ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.ToLower(key))
		value = strings.TrimSpace(value)

		switch key {
		case "name":
			meta.Name = value
		case "description":
			meta.Description = value
		case "version":
			meta.Version = value
		case "author":
			meta.Author = value
		case "timestamp":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				meta.Timestamp = ts
			}
		case "dependencies":
			for _, dep := range strings.Split(value, ",") {
				if d := strings.TrimSpace(dep); d != "" {
					meta.Dependencies = append(meta.Dependencies, d)
				}
			}
		case "breaking_changes":
			meta.BreakingChanges = parseBool(value)
		case "estimated_duration_minutes":
			if mins, err := strconv.Atoi(value); err == nil {
				meta.EstimatedDuration = time.Duration(mins) * time.Minute
			}
		case "requires_maintenance_mode":
			meta.RequiresMaintMode = parseBool(value)
		case "tenant_specific":
			meta.TenantSpecific = parseBool(value)
		case "rollback_safe":
			meta.RollbackSafe = parseBool(value)
		}
	}
	return nil
}

// splitSections divides the body on the `-- DOWN` marker. A leading `-- UP`
// marker is stripped from the up section.
func splitSections(content string) (up, down string) {
	lines := strings.Split(content, "\n")
	var upLines, downLines []string
	section := &upLines
	for _, line := range lines {
		marker := strings.ToUpper(strings.TrimSpace(line))
		switch marker {
		case "-- UP", "--UP":
			section = &upLines
			continue
		case "-- DOWN", "--DOWN":
			section = &downLines
			continue
		}
		*section = append(*section, line)
	}
	return strings.Join(upLines, "\n"), strings.Join(downLines, "\n")
}

// execStatements runs a SQL section statement by statement so a failure
// reports the statement that broke.
func execStatements(ctx context.Context, s *database.Session, body string) error {
	for _, stmt := range splitStatements(body) {
		if _, err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements splits on semicolons at line ends; good enough for DDL
// files that avoid procedural bodies.
func splitStatements(body string) []string {
	var out []string
	for _, stmt := range strings.Split(body, ";") {
		cleaned := stripComments(stmt)
		if strings.TrimSpace(cleaned) != "" {
			out = append(out, strings.TrimSpace(cleaned))
		}
	}
	return out
}

func stripComments(stmt string) string {
	var kept []string
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

func parseBool(v string) bool {
	b, _ := strconv.ParseBool(strings.ToLower(v))
	return b
}

func checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
