// Command migrate runs schema migrations from the migrations directory.
//
//	migrate -plan              print pending migrations without applying
//	migrate -up                apply every pending migration
//	migrate -down <id>         roll back one rollback-safe migration
//	migrate -tenant <id>       scope the run to one tenant's migrations
//	migrate -dry-run           alias for -plan
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/taxpoynt/platform/internal/config"
	"github.com/taxpoynt/platform/internal/database"
	"github.com/taxpoynt/platform/internal/migration"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	plan := flag.Bool("plan", false, "print the pending migration plan")
	dryRun := flag.Bool("dry-run", false, "alias for -plan")
	up := flag.Bool("up", false, "apply all pending migrations")
	down := flag.String("down", "", "roll back the given migration id")
	tenantID := flag.String("tenant", "", "scope to a tenant's migrations")
	flag.Parse()

	godotenv.Load()
	logger := log.New(os.Stderr, "[MIGRATE] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	engine := database.EngineSQLite
	if strings.HasPrefix(cfg.Database.URL, "postgres://") || strings.HasPrefix(cfg.Database.URL, "postgresql://") {
		engine = database.EnginePostgres
	}
	db, err := database.Open(database.DefaultConfig(engine, cfg.Database.URL))
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	units, err := migration.ParseDir(cfg.Migrations.Path)
	if err != nil {
		logger.Fatalf("load migrations from %s: %v", cfg.Migrations.Path, err)
	}

	migrator := migration.NewEngine(db, units, nil)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Migrations.Timeout)
	defer cancel()

	if err := migrator.EnsureTable(ctx); err != nil {
		logger.Fatalf("ensure tracking table: %v", err)
	}

	switch {
	case *plan || *dryRun:
		entries, err := migrator.Plan(ctx, *tenantID)
		if err != nil {
			logger.Fatalf("plan: %v", err)
		}
		if len(entries) == 0 {
			fmt.Println("nothing pending")
			return
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %s  %s", e.Meta.ID, e.Direction, e.Meta.Name)
			if e.Meta.BreakingChanges {
				line += "  [breaking]"
			}
			if e.Meta.RequiresMaintMode {
				line += "  [maintenance-mode]"
			}
			fmt.Println(line)
		}

	case *up:
		records, err := migrator.Up(ctx, *tenantID)
		for _, rec := range records {
			fmt.Printf("%s  %s  %.2fs\n", rec.MigrationID, rec.Status, rec.Duration.Seconds())
		}
		if err != nil {
			logger.Fatalf("up: %v", err)
		}
		fmt.Printf("applied %d migrations\n", len(records))

	case *down != "":
		rec, err := migrator.Down(ctx, *down, *tenantID)
		if err != nil {
			logger.Fatalf("down %s: %v", *down, err)
		}
		fmt.Printf("%s  %s  %.2fs\n", rec.MigrationID, rec.Status, rec.Duration.Seconds())

	default:
		flag.Usage()
		os.Exit(2)
	}
}
