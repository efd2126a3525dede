package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/org/credvault/internal/api"
	"github.com/org/credvault/internal/audit"
	"github.com/org/credvault/internal/auth"
	"github.com/org/credvault/internal/core"
	"github.com/org/credvault/internal/database"
	"github.com/org/credvault/internal/lease"
	"github.com/org/credvault/internal/policy"
	"github.com/org/credvault/internal/rotation"
	"github.com/org/credvault/internal/secret"
	"github.com/org/credvault/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type config struct {
	ListenAddr    string `yaml:"listen_addr"`
	TLSCertFile   string `yaml:"tls_cert"`
	TLSKeyFile    string `yaml:"tls_key"`
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
	LogLevel      string `yaml:"log_level"`

	AuditLogFile  string `yaml:"audit_log_file"`
	AuditFailOpen bool   `yaml:"audit_fail_open"`
	AuditHMACKey  string `yaml:"audit_hmac_key"` // base64; generated if empty

	LeaseSweepInterval string `yaml:"lease_sweep_interval"`
}

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load config
	cfgFile := "config.yaml"
	if v := os.Getenv("VAULT_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:         ":8200",
		MigrationsDir:      "migrations",
		LogLevel:           "info",
		LeaseSweepInterval: "10s",
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("VAULT_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}
	if v := os.Getenv("VAULT_AUDIT_LOG"); v != "" {
		cfg.AuditLogFile = v
	}
	if v := os.Getenv("VAULT_AUDIT_HMAC_KEY"); v != "" {
		cfg.AuditHMACKey = v
	}
	if os.Getenv("VAULT_AUDIT_FAIL_OPEN") == "true" {
		cfg.AuditFailOpen = true
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.DBUrl == "" {
		log.Fatal().Msg("db_url must be configured (or DATABASE_URL env var)")
	}

	sweepEvery, err := time.ParseDuration(cfg.LeaseSweepInterval)
	if err != nil || sweepEvery <= 0 {
		log.Fatal().Str("value", cfg.LeaseSweepInterval).Msg("invalid lease_sweep_interval")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	store, err := storage.NewPostgresBackend(ctx, cfg.DBUrl)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer store.Close()

	// Run migrations
	if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}
	log.Info().Msg("migrations applied")

	// Audit sink. Entries are written to Postgres either way; the file is
	// the tamper-evident NDJSON trail.
	var sink io.Writer
	if cfg.AuditLogFile != "" {
		f, err := os.OpenFile(cfg.AuditLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.AuditLogFile).Msg("failed to open audit log")
		}
		defer f.Close()
		sink = f
	}

	hmacKey, err := auditKey(cfg.AuditHMACKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid audit_hmac_key")
	}

	auditor := audit.NewLogger(store, hmacKey, sink, cfg.AuditFailOpen, log.Logger)
	if cfg.AuditFailOpen {
		log.Warn().Msg("audit log is fail-open: requests proceed when auditing fails")
	}

	// Engines
	sealMgr := core.NewSealManager()
	tokenSvc := auth.NewTokenService(store)
	policyEng := policy.NewEngine(store)
	kvEng := secret.NewKVEngine(store, sealMgr, policyEng)
	leaseMgr := lease.NewManager(store, log.Logger, sweepEvery)
	dbEng := database.NewEngine(store, sealMgr, policyEng, leaseMgr, log.Logger)
	rotSched := rotation.NewScheduler(store, dbEng, log.Logger)

	srv := api.NewServer(api.Deps{
		Store:   store,
		Seal:    sealMgr,
		Tokens:  tokenSvc,
		Policy:  policyEng,
		KV:      kvEng,
		DB:      dbEng,
		Leases:  leaseMgr,
		Rotator: rotSched,
		Auditor: auditor,
		Log:     log.Logger,
	}, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
	})

	initialized, err := store.IsInitialized(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to check init state")
	}
	if !initialized {
		log.Info().Msg("vault not yet initialized - POST /v1/sys/init to initialize")
	} else {
		log.Info().Msg("vault initialized - POST /v1/sys/unseal with the root key to unseal")
		restored, err := leaseMgr.Restore(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to restore leases")
		}
		log.Info().Int("count", restored).Msg("leases restored")
	}

	// Background workers
	leaseMgr.Start(ctx)
	if err := rotSched.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start rotation scheduler")
	}
	srv.StartGaugeCollector(ctx, 15*time.Second)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	rotSched.Stop()
	cancel()
	log.Info().Msg("server stopped")
}

// auditKey decodes the configured HMAC key, or generates an ephemeral one.
// An ephemeral key still redacts tokens but digests will not correlate
// across restarts.
func auditKey(b64 string) ([]byte, error) {
	if b64 != "" {
		return base64.StdEncoding.DecodeString(b64)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	log.Warn().Msg("audit_hmac_key not set, using an ephemeral key")
	return key, nil
}
