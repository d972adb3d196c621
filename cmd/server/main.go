// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	charmlog "github.com/charmbracelet/log"
	"gorm.io/gorm/logger"

	"github.com/tejzpr/mnemo-mcp/internal/config"
	"github.com/tejzpr/mnemo-mcp/internal/consolidation"
	"github.com/tejzpr/mnemo-mcp/internal/database"
	"github.com/tejzpr/mnemo-mcp/internal/embeddings"
	"github.com/tejzpr/mnemo-mcp/internal/index"
	"github.com/tejzpr/mnemo-mcp/internal/locking"
	"github.com/tejzpr/mnemo-mcp/internal/retrieval"
	"github.com/tejzpr/mnemo-mcp/internal/scoring"
	"github.com/tejzpr/mnemo-mcp/internal/server"
	"github.com/tejzpr/mnemo-mcp/internal/store"
	"github.com/tejzpr/mnemo-mcp/internal/tools"
	"github.com/tejzpr/mnemo-mcp/pkg/scheduler"
)

// Version is set at build time via ldflags
var Version string

func main() {
	// CRITICAL: MCP servers must only output JSON-RPC to stdout; all
	// logging goes to stderr.
	log := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Prefix:          "mnemo",
	})

	httpMode := flag.Bool("http", false, "Run in HTTP server mode (default: stdio for MCP)")
	dbType := flag.String("db-type", "", "Database type (sqlite or postgres)")
	dbPath := flag.String("db-path", "", "Database path (for sqlite)")
	dbDSN := flag.String("db-dsn", "", "Database DSN (for postgres)")
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Server port (HTTP mode only)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	embeddingURL := flag.String("embedding-url", "", "Embedding API base URL")
	embeddingModel := flag.String("embedding-model", "", "Embedding model name")
	embeddingKey := flag.String("embedding-key", "", "Embedding API key (alternative to env var)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Mnemo MCP Server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Server Mode:\n")
		fmt.Fprintf(os.Stderr, "  %s          Start MCP server (stdio)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --http   Start streamable HTTP MCP server\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DB_TYPE            Database type (sqlite or postgres)\n")
		fmt.Fprintf(os.Stderr, "  DB_PATH            SQLite database path\n")
		fmt.Fprintf(os.Stderr, "  DB_DSN             PostgreSQL connection string\n")
		fmt.Fprintf(os.Stderr, "  PORT               Server port (HTTP mode only)\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY     Embedding API key (or the key named by embeddings.api_key_env)\n")
	}
	flag.Parse()

	if lvl, err := charmlog.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}

	log.Info("starting Mnemo MCP server", "version", version())

	cfg := loadConfig(log, *configPath)
	applyEnvOverrides(log, cfg)
	applyCLIOverrides(log, cfg, *dbType, *dbPath, *dbDSN, *port)
	applyEmbeddingCLIOverrides(cfg, *embeddingURL, *embeddingModel, *embeddingKey)

	log.Info("configuration loaded", "database", cfg.Database.Type, "embedding_model", cfg.Embeddings.Model)

	// Database. GORM's own logging is silenced: in stdio mode stdout
	// belongs to JSON-RPC.
	db, err := database.Connect(&database.Config{
		Type:        cfg.Database.Type,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresDSN: cfg.Database.PostgresDSN,
		LogLevel:    logger.Silent,
	})
	if err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close(db) //nolint:errcheck

	if err := database.Migrate(db); err != nil {
		log.Fatal("failed to run migrations", "error", err)
	}
	if err := locking.MigrateLocks(db); err != nil {
		log.Fatal("failed to migrate lock table", "error", err)
	}
	log.Debug("database migrations completed")

	// Components
	params := scoring.Params{
		DecayRatePerDay:       cfg.Scoring.DecayRatePerDay,
		AccessBoost:           cfg.Scoring.AccessBoost,
		UsePriorityMultiplier: cfg.Scoring.UsePriorityMultiplier,
	}
	archive := store.NewArchiveStore(db)
	records := store.NewRecordStore(db, archive, params)
	locker := locking.NewLocker(db)

	idx := index.New(index.Options{
		M:              cfg.Index.M,
		EfConstruction: cfg.Index.EfConstruction,
		EfSearch:       cfg.Index.EfSearch,
	})

	client := embeddings.NewOpenAIClient(
		cfg.Embeddings.BaseURL,
		os.Getenv(cfg.Embeddings.APIKeyEnv),
		cfg.Embeddings.Model,
		cfg.Embeddings.Dimensions,
		time.Duration(cfg.Embeddings.TimeoutSeconds)*time.Second,
	)

	backfill := embeddings.NewService(db, client, idx, log.WithPrefix("backfill"))

	// Startup recovery: load the index from persisted embeddings, then
	// discard archive entries orphaned by an interrupted consolidation.
	startupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	indexed, err := backfill.Reindex(startupCtx)
	if err != nil {
		cancel()
		log.Fatal("failed to rebuild vector index", "error", err)
	}
	log.Info("vector index rebuilt", "records", indexed)

	discarded, err := consolidation.RecoverOrphans(startupCtx, records, archive, log.WithPrefix("recovery"))
	cancel()
	if err != nil {
		log.Fatal("failed to recover orphaned archive entries", "error", err)
	}
	if discarded > 0 {
		log.Info("recovered from interrupted consolidation", "entries_discarded", discarded)
	}

	retrievalEngine := retrieval.NewEngine(records, idx, client, retrieval.Options{
		SimilarityFloor: cfg.Retrieval.SimilarityFloor,
		OverfetchFactor: cfg.Retrieval.OverfetchFactor,
		Params:          params,
	}, log.WithPrefix("retrieval"))

	strategy, err := consolidation.StrategyFor(cfg.Consolidation.MergeStrategy)
	if err != nil {
		log.Fatal("invalid merge strategy", "error", err)
	}
	consolidator := consolidation.NewEngine(records, archive, idx, locker, client, strategy, consolidation.Options{
		SimilarityThreshold: cfg.Consolidation.SimilarityThreshold,
		Cooldown:            time.Duration(cfg.Consolidation.CooldownHours) * time.Hour,
		BatchSize:           cfg.Consolidation.BatchSize,
		NeighborLimit:       cfg.Consolidation.NeighborLimit,
	}, log.WithPrefix("consolidation"))

	// Background work: embedding fill worker and the maintenance loop
	backfill.Start()
	defer backfill.Stop()

	sched := scheduler.NewScheduler(records, backfill, idx, scheduler.Options{
		Interval:          time.Duration(cfg.Maintenance.IntervalMinutes) * time.Minute,
		BackfillBatchSize: cfg.Maintenance.BackfillBatchSize,
		ExpiryThreshold:   cfg.Maintenance.ExpiryThreshold,
	}, log.WithPrefix("maintenance"))
	sched.Start()
	defer sched.Stop()
	log.Info("maintenance scheduler started", "interval_minutes", cfg.Maintenance.IntervalMinutes)

	toolCtx := tools.NewToolContext(records, archive, idx, retrievalEngine, consolidator, backfill, cfg, log.WithPrefix("tools"))
	srv := server.NewMCPServer(cfg, toolCtx, log.WithPrefix("server"))

	if *httpMode {
		log.Info("running in HTTP server mode")
		if err := srv.ServeHTTP(); err != nil {
			log.Fatal("HTTP server error", "error", err)
		}
		return
	}

	log.Info("running in stdio mode (MCP)")
	if err := srv.ServeStdio(); err != nil {
		log.Fatal("MCP server error", "error", err)
	}
}

func version() string {
	if Version != "" {
		return Version
	}
	return "dev"
}

// loadConfig loads configuration from the given path, falling back to
// ~/.mnemo/configs/config.json and then built-in defaults
func loadConfig(log *charmlog.Logger, path string) *config.Config {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		if err != nil {
			log.Warn("failed to load config, using defaults", "path", path, "error", err)
			return config.DefaultConfig()
		}
		log.Debug("loaded configuration", "path", path)
		return cfg
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn("failed to load default config, using built-in defaults", "error", err)
		return config.DefaultConfig()
	}
	return cfg
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(log *charmlog.Logger, cfg *config.Config) {
	if dbType := getEnv("DB_TYPE", "MNEMO_DB_TYPE"); dbType != "" {
		cfg.Database.Type = dbType
		log.Debug("database type from env", "type", dbType)
	}
	if dbPath := getEnv("DB_PATH", "MNEMO_DB_PATH"); dbPath != "" {
		cfg.Database.SQLitePath = dbPath
		log.Debug("database path from env")
	}
	if dbDSN := getEnv("DB_DSN", "MNEMO_DB_DSN"); dbDSN != "" {
		cfg.Database.PostgresDSN = dbDSN
		log.Debug("database DSN from env (hidden)")
	}
	if portStr := getEnv("PORT", "MNEMO_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = port
		}
	}
}

// applyCLIOverrides applies command-line flag overrides (highest priority)
func applyCLIOverrides(log *charmlog.Logger, cfg *config.Config, dbType, dbPath, dbDSN string, port int) {
	if dbType != "" {
		cfg.Database.Type = dbType
		log.Debug("database type from CLI", "type", dbType)
	}
	if dbPath != "" {
		cfg.Database.SQLitePath = dbPath
	}
	if dbDSN != "" {
		cfg.Database.PostgresDSN = dbDSN
	}
	if port > 0 {
		cfg.Server.Port = port
	}
}

// applyEmbeddingCLIOverrides applies embedding-related CLI flag overrides
func applyEmbeddingCLIOverrides(cfg *config.Config, baseURL, model, key string) {
	if baseURL != "" {
		cfg.Embeddings.BaseURL = baseURL
	}
	if model != "" {
		cfg.Embeddings.Model = model
	}
	if key != "" {
		os.Setenv(cfg.Embeddings.APIKeyEnv, key) //nolint:errcheck
	}
}

// getEnv tries multiple environment variable names and returns the first non-empty value
func getEnv(names ...string) string {
	for _, name := range names {
		if val := os.Getenv(name); val != "" {
			return val
		}
	}
	return ""
}
