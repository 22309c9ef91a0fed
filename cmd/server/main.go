package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/taxpoynt/platform/internal/backup"
	"github.com/taxpoynt/platform/internal/cache"
	"github.com/taxpoynt/platform/internal/circuitbreaker"
	"github.com/taxpoynt/platform/internal/config"
	"github.com/taxpoynt/platform/internal/database"
	"github.com/taxpoynt/platform/internal/events"
	"github.com/taxpoynt/platform/internal/matching"
	"github.com/taxpoynt/platform/internal/metrics"
	"github.com/taxpoynt/platform/internal/migration"
	"github.com/taxpoynt/platform/internal/pipeline"
	"github.com/taxpoynt/platform/internal/tenant"
	"github.com/taxpoynt/platform/internal/transaction"
)

// trackedTables are the tables incremental and tenant backups dump. Every
// entry must carry updated_at; verified at startup.
var trackedTables = []string{"processed_transactions", "customer_identities"}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	godotenv.Load()

	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	db, err := database.Open(databaseConfig(cfg))
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	bus := events.NewBus()
	m := metrics.New(nil)
	relay := metrics.NewRelay(m, bus)
	defer relay.Stop()

	ctx := context.Background()
	if err := runMigrations(ctx, cfg, db, bus, logger); err != nil {
		logger.Fatalf("migrations: %v", err)
	}

	tiered, closeCache := buildCache(cfg, m, logger)
	defer closeCache()

	tenantStore := database.NewTenantStore(db)
	tenants := tenant.NewManager(tenantStore)

	matcher := matching.NewEngine(matching.StrategyBalanced, database.NewIdentityStore(db))
	matcher.Emitter = bus
	if ids, err := tenantStore.ListTenantIDs(ctx); err != nil {
		logger.Printf("list tenants for index rebuild: %v", err)
	} else {
		for _, id := range ids {
			if err := matcher.Rebuild(ctx, id); err != nil {
				logger.Printf("rebuild matching index: %v", err)
			}
		}
	}

	processor := pipeline.NewOrchestrator(pipeline.Options{
		Index:   database.NewFingerprintIndex(db),
		Matcher: matcher,
		VAT:     pipeline.DefaultVATSchedule(),
		Gate:    tenants,
		Archive: database.NewProcessedStore(db),
		Emitter: bus,
	})

	backups := backup.NewOrchestrator(db, backup.Options{
		Root:          cfg.Backup.Root,
		Workers:       cfg.Backup.Workers,
		Compression:   backup.Compression(cfg.Backup.Compression),
		RetentionDays: cfg.Backup.RetentionDays,
		TrackedTables: trackedTables,
		Emitter:       bus,
	})
	defer backups.Stop()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler(db, tiered)).Methods(http.MethodGet)

	// Internal ops surface. The public invoicing API lives in a separate
	// gateway; these endpoints exist for operators and batch jobs.
	ops := router.PathPrefix("/internal").Subrouter()
	ops.HandleFunc("/process", processHandler(cfg, tenants, processor)).Methods(http.MethodPost)
	ops.HandleFunc("/backups", submitBackupHandler(backups)).Methods(http.MethodPost)
	ops.HandleFunc("/backups/{id}", backupStatusHandler(backups)).Methods(http.MethodGet)
	ops.HandleFunc("/backups/{id}", cancelBackupHandler(backups)).Methods(http.MethodDelete)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Printf("listening on :%s (env=%s)", cfg.Server.Port, cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	logger.Println("shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
}

// databaseConfig derives the engine from the URL scheme: postgres URLs go to
// the server engine, everything else is treated as a sqlite file path.
func databaseConfig(cfg *config.Config) database.Config {
	engine := database.EngineSQLite
	if strings.HasPrefix(cfg.Database.URL, "postgres://") || strings.HasPrefix(cfg.Database.URL, "postgresql://") {
		engine = database.EnginePostgres
	}
	dbCfg := database.DefaultConfig(engine, cfg.Database.URL)
	dbCfg.PoolSize = cfg.Database.PoolSize
	dbCfg.PoolOverflow = cfg.Database.PoolOverflow
	dbCfg.PoolTimeout = cfg.Database.PoolTimeout
	dbCfg.PoolRecycle = cfg.Database.PoolRecycle
	dbCfg.StatementTimeout = cfg.Database.StatementTimeout
	dbCfg.SlowQueryThreshold = cfg.Database.SlowQueryThreshold
	return dbCfg
}

// runMigrations applies pending schema migrations and verifies the
// backup-tracked tables before the service takes traffic.
func runMigrations(ctx context.Context, cfg *config.Config, db *database.DB, bus *events.Bus, logger *log.Logger) error {
	units, err := migration.ParseDir(cfg.Migrations.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Printf("no migrations directory at %s, skipping", cfg.Migrations.Path)
			return nil
		}
		return err
	}

	engine := migration.NewEngine(db, units, bus)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Migrations.Timeout)
	defer cancel()

	records, err := engine.Up(runCtx, "")
	if err != nil {
		return err
	}
	if len(records) > 0 {
		logger.Printf("applied %d migrations", len(records))
	}

	return engine.VerifyTrackedTables(runCtx, trackedTables)
}

// buildCache constructs the tiered cache: L1 only when no Redis is
// configured, otherwise L2 behind a breaker whose state feeds the gauge.
func buildCache(cfg *config.Config, m *metrics.Metrics, logger *log.Logger) (*cache.Tiered, func()) {
	cacheCfg := cache.DefaultConfig()
	cacheCfg.CompressThreshold = cfg.Cache.CompressionThreshold
	cacheCfg.DefaultTTL = cfg.Cache.DefaultTTL
	cacheCfg.Observer = func(tier, result string) {
		m.CacheRequests.WithLabelValues(tier, result).Inc()
	}

	if cfg.Cache.URL == "" && len(cfg.Cache.Nodes) == 0 {
		logger.Println("no redis configured, running L1-only cache")
		return cache.New(cacheCfg, nil, nil), func() {}
	}

	remote, err := cache.NewRemoteClient(cache.RedisConfig{
		Mode:       cache.RedisMode(cfg.Cache.Mode),
		Addr:       cfg.Cache.URL,
		Addrs:      cfg.Cache.Nodes,
		MasterName: cfg.Cache.SentinelMaster,
	})
	if err != nil {
		// The cache is advisory; a dead Redis must not block startup.
		logger.Printf("redis unavailable, running L1-only cache: %v", err)
		return cache.New(cacheCfg, nil, nil), func() {}
	}

	breakerCfg := circuitbreaker.DefaultConfig("redis-cache")
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		m.BreakerState.WithLabelValues(name).Set(float64(to))
	}
	return cache.New(cacheCfg, remote, circuitbreaker.New(breakerCfg)), func() { remote.Close() }
}

// processRequest is the ops-surface envelope for a single transaction run.
type processRequest struct {
	TenantID    string                            `json:"tenant_id"`
	Profile     string                            `json:"profile"`
	Transaction *transaction.UniversalTransaction `json:"transaction"`
}

// processHandler runs one transaction through the pipeline under the
// tenant's scope. Batch ingestion drives the same path via connector jobs.
func processHandler(cfg *config.Config, tenants *tenant.Manager, processor *pipeline.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req processRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Transaction == nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		scoped, _, err := tenants.Acquire(r.Context(), req.TenantID, "", tenant.ServiceSI)
		if err != nil {
			writeJSONError(w, tenantErrorStatus(err), err.Error())
			return
		}

		profile, err := pipeline.ProfileByName(req.Profile)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if min, ok := cfg.Pipeline.MinConfidence[profile.Name]; ok {
			profile.MinConfidence = min
		}

		out, err := processor.Process(scoped, req.TenantID, profile, req.Transaction)
		if err != nil {
			writeJSONError(w, tenantErrorStatus(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func submitBackupHandler(backups *backup.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Type     string `json:"type"`
			TenantID string `json:"tenant_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		job, err := backups.Submit(backup.Type(req.Type), req.TenantID)
		if err != nil {
			writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, job.Snapshot())
	}
}

func backupStatusHandler(backups *backup.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, ok := backups.Job(mux.Vars(r)["id"])
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown backup job")
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func cancelBackupHandler(backups *backup.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !backups.Cancel(mux.Vars(r)["id"]) {
			writeJSONError(w, http.StatusConflict, "job is not cancellable")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// tenantErrorStatus maps the tenant error taxonomy onto HTTP codes.
func tenantErrorStatus(err error) int {
	var limit *tenant.LimitError
	var rl *tenant.RateLimitedError
	switch {
	case errors.Is(err, tenant.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenant.ErrInactive):
		return http.StatusForbidden
	case errors.As(err, &limit), errors.As(err, &rl):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// healthHandler reports database reachability and cache breaker state.
func healthHandler(db *database.DB, tiered *cache.Tiered) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, rtt, err := db.Health(r.Context())
		code := http.StatusOK
		if err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":        status,
			"database_rtt":  rtt.String(),
			"cache_breaker": tiered.BreakerState().String(),
		})
	}
}
