package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/org/credvault/internal/auth"
	"github.com/org/credvault/internal/core"
	"github.com/org/credvault/internal/database"
	"github.com/org/credvault/internal/lease"
	"github.com/org/credvault/internal/policy"
	"github.com/org/credvault/internal/rotation"
	"github.com/org/credvault/internal/secret"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog"
)

// Config holds server configuration.
type Config struct {
	ListenAddr  string
	TLSCertFile string
	TLSKeyFile  string
}

// AuditRecorder is what the server needs from the audit logger.
type AuditRecorder interface {
	Record(ctx context.Context, entry *models.AuditEntry) error
	Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error)
}

// Server is the API server. All engines hang off it; handlers stay thin
// and push real work into the engines.
type Server struct {
	store     storage.StorageBackend
	seal      *core.SealManager
	tokens    *auth.TokenService
	policy    *policy.Engine
	kv        *secret.KVEngine
	db        *database.Engine
	leases    *lease.Manager
	rotator   *rotation.Scheduler
	auditor   AuditRecorder
	log       zerolog.Logger
	rootToken string
	cfg       Config
	httpSrv   *http.Server
}

// Deps carries the wired engines into NewServer. The caller builds them
// so the CLI and tests can share the wiring.
type Deps struct {
	Store   storage.StorageBackend
	Seal    *core.SealManager
	Tokens  *auth.TokenService
	Policy  *policy.Engine
	KV      *secret.KVEngine
	DB      *database.Engine
	Leases  *lease.Manager
	Rotator *rotation.Scheduler
	Auditor AuditRecorder
	Log     zerolog.Logger
}

func NewServer(deps Deps, cfg Config) *Server {
	return &Server{
		store:   deps.Store,
		seal:    deps.Seal,
		tokens:  deps.Tokens,
		policy:  deps.Policy,
		kv:      deps.KV,
		db:      deps.DB,
		leases:  deps.Leases,
		rotator: deps.Rotator,
		auditor: deps.Auditor,
		log:     deps.Log.With().Str("component", "api").Logger(),
		cfg:     cfg,
	}
}

// BuildRouter wires up all routes and returns a chi router.
func (s *Server) BuildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(metricsMiddleware)
	r.Use(newRateLimiter(100, 200).middleware)

	// Prometheus metrics (unauthenticated, unaudited)
	r.Handle("/metrics", MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(auditMiddleware(s.auditor, s.log))

		// Public routes
		r.Get("/v1/sys/health", s.HealthHandler)
		r.Get("/v1/sys/seal-status", s.SealStatusHandler)
		r.Post("/v1/sys/init", s.InitHandler)
		r.Post("/v1/sys/unseal", s.UnsealHandler)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(s.tokens))

			r.Put("/v1/sys/seal", s.SealHandler)
			r.Get("/v1/sys/audit-log", s.AuditLogHandler)

			r.Put("/v1/sys/policy/{name}", s.PolicyWriteHandler)
			r.Post("/v1/sys/policy/{name}", s.PolicyWriteHandler)
			r.Get("/v1/sys/policy/{name}", s.PolicyReadHandler)
			r.Delete("/v1/sys/policy/{name}", s.PolicyDeleteHandler)
			r.Get("/v1/sys/policy", s.PolicyListHandler)

			r.Get("/v1/sys/capabilities-self", s.CapabilitiesSelfHandler)

			r.Post("/v1/auth/token/create", s.TokenCreateHandler)
			r.Post("/v1/auth/token/revoke", s.TokenRevokeHandler)
			r.Get("/v1/auth/token/lookup-self", s.TokenLookupSelfHandler)
			r.Post("/v1/auth/token/renew-self", s.TokenRenewSelfHandler)

			r.Get("/v1/secret/data/*", s.KVGetHandler)
			r.Post("/v1/secret/data/*", s.KVPutHandler)
			r.Put("/v1/secret/data/*", s.KVPutHandler)
			r.Delete("/v1/secret/data/*", s.KVDeleteHandler)
			r.Post("/v1/secret/delete/*", s.KVDeleteVersionsHandler)
			r.Post("/v1/secret/undelete/*", s.KVUndeleteHandler)
			r.Post("/v1/secret/destroy/*", s.KVDestroyHandler)
			r.Get("/v1/secret/metadata/*", func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("list") == "true" {
					s.KVListHandler(w, r)
				} else {
					s.KVMetadataHandler(w, r)
				}
			})
			r.Post("/v1/secret/metadata/*", s.KVMetadataWriteHandler)
			r.Delete("/v1/secret/metadata/*", s.KVMetadataDeleteHandler)

			r.Post("/v1/database/config/{name}", s.DBConfigHandler)
			r.Post("/v1/database/roles/{name}", s.DBRoleWriteHandler)
			r.Get("/v1/database/creds/{role}", s.DBCredsHandler)
			r.Post("/v1/database/rotate-root/{name}", s.DBRotateRootHandler)
			r.Post("/v1/database/static-roles/{name}", s.DBStaticRoleWriteHandler)
			r.Get("/v1/database/static-creds/{name}", s.DBStaticCredsHandler)
			r.Post("/v1/database/rotate-role/{name}", s.DBRotateStaticHandler)

			r.Put("/v1/sys/leases/renew", s.LeaseRenewHandler)
			r.Put("/v1/sys/leases/revoke", s.LeaseRevokeHandler)
			r.Put("/v1/sys/leases/revoke-prefix/*", s.LeaseRevokePrefixHandler)
			r.Put("/v1/sys/leases/lookup", s.LeaseLookupHandler)
		})
	})

	return r
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.BuildRouter(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != "" {
		s.httpSrv.TLSConfig = &tls.Config{
			MinVersion:       tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{tls.CurveP256, tls.X25519},
		}
		s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTPS server")
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("starting HTTP server")
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// StartGaugeCollector refreshes storage-derived metrics until ctx ends.
func (s *Server) StartGaugeCollector(ctx context.Context, every time.Duration) {
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.collectGauges(ctx)
			}
		}
	}()
}

// InitializeRootToken creates the root token during first
// initialization. Called once from the init flow.
func (s *Server) InitializeRootToken(ctx context.Context) (string, error) {
	_, plaintext, err := s.tokens.CreateToken(ctx, "root", []string{"root"}, 0, false, nil)
	if err != nil {
		return "", fmt.Errorf("creating root token: %w", err)
	}
	s.rootToken = plaintext
	return plaintext, nil
}
