// Package database implements the dynamic secrets engine: short-lived
// database principals provisioned on demand, managed static accounts, and
// credential rotation against the backing store.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	// SQL drivers for the backing stores roles can be provisioned on.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/google/uuid"
	"github.com/org/credvault/internal/core"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/internal/lease"
	"github.com/org/credvault/internal/policy"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var (
	credsIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credvault_dynamic_credentials_issued_total",
		Help: "Dynamic credentials issued, by role.",
	}, []string{"role"})

	rotationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credvault_rotations_total",
		Help: "Credential rotations, by kind and outcome.",
	}, []string{"kind", "outcome"})
)

func init() {
	prometheus.MustRegister(credsIssued, rotationsTotal)
}

// driverMap maps connection types to database/sql driver names.
var driverMap = map[string]string{
	"postgres":   "postgres",
	"postgresql": "postgres",
	"mysql":      "mysql",
	"mariadb":    "mysql",
}

// connectTimeout bounds the ping + statement execution for one backend call.
const connectTimeout = 30 * time.Second

// Credentials is the result of one Generate call.
type Credentials struct {
	Username      string
	Password      string
	LeaseID       string
	LeaseDuration time.Duration
}

// StaticCredentials is the current state of a managed static account.
type StaticCredentials struct {
	Username       string
	Password       string
	LastRotation   *time.Time
	RotationPeriod time.Duration
	TTL            time.Duration // until next scheduled rotation
}

// Engine provisions dynamic principals and rotates managed credentials.
type Engine struct {
	store  storage.StorageBackend
	seal   *core.SealManager
	policy *policy.Engine
	leases *lease.Manager
	log    zerolog.Logger

	// open is a seam for tests; production uses sql.Open.
	open func(driverName, dsn string) (*sql.DB, error)

	// locks serializes rotations per connection/static-role.
	locks sync.Map // string → *sync.Mutex
}

// NewEngine creates the dynamic secrets engine and installs itself as the
// lease manager's revocation-callback resolver.
func NewEngine(store storage.StorageBackend, seal *core.SealManager, pol *policy.Engine, leases *lease.Manager, log zerolog.Logger) *Engine {
	e := &Engine{
		store:  store,
		seal:   seal,
		policy: pol,
		leases: leases,
		log:    log.With().Str("component", "database").Logger(),
		open:   sql.Open,
	}
	leases.SetResolver(e.resolveCallback)
	return e
}

// ConfigureConnection stores a backing-store connection. Sudo-gated.
func (e *Engine) ConfigureConnection(ctx context.Context, token *models.Token, conn *models.DatabaseConnection, password string) error {
	reqPath := "database/config/" + conn.Name
	if err := e.policy.Authorize(ctx, token.Policies, models.CapUpdate, reqPath); err != nil {
		return err
	}
	if err := e.policy.Authorize(ctx, token.Policies, models.CapSudo, reqPath); err != nil {
		return err
	}
	if _, ok := driverMap[conn.Type]; !ok {
		return vaulterr.New(vaulterr.KindInvalidRequest, "unsupported connection type %q", conn.Type)
	}

	enc, err := e.encrypt([]byte(password))
	if err != nil {
		return err
	}
	conn.EncryptedPassword = enc
	conn.CreatedAt = time.Now().UTC()
	return e.store.WriteConnection(ctx, conn)
}

// ConfigureRole stores a dynamic role definition.
func (e *Engine) ConfigureRole(ctx context.Context, token *models.Token, role *models.DatabaseRole) error {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapUpdate, "database/roles/"+role.Name); err != nil {
		return err
	}
	if role.MaxTTL > 0 && role.DefaultTTL > role.MaxTTL {
		return vaulterr.New(vaulterr.KindInvalidRequest, "default_ttl exceeds max_ttl")
	}
	if _, err := e.store.GetConnection(ctx, role.Connection); err != nil {
		if vaultNotFound(err) {
			return vaulterr.NotFound("connection not found: %s", role.Connection)
		}
		return err
	}
	role.CreatedAt = time.Now().UTC()
	return e.store.WriteDatabaseRole(ctx, role)
}

// Generate provisions a fresh principal for the role and registers a
// lease. Every call produces a unique principal; backend failures are
// surfaced, never retried, since a retry could double-provision.
func (e *Engine) Generate(ctx context.Context, token *models.Token, roleName string, ttlOverride time.Duration) (*Credentials, error) {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapRead, "database/creds/"+roleName); err != nil {
		return nil, err
	}

	role, err := e.store.GetDatabaseRole(ctx, roleName)
	if err != nil {
		if vaultNotFound(err) {
			return nil, vaulterr.NotFound("role not found: %s", roleName)
		}
		return nil, err
	}

	ttl := role.DefaultTTL
	if ttlOverride > 0 {
		if role.MaxTTL > 0 && ttlOverride > role.MaxTTL {
			return nil, vaulterr.New(vaulterr.KindTTLExceedsMax,
				"requested ttl %s exceeds role max_ttl %s", ttlOverride, role.MaxTTL)
		}
		ttl = ttlOverride
	}
	if role.MaxTTL > 0 && ttl > role.MaxTTL {
		ttl = role.MaxTTL
	}

	conn, err := e.store.GetConnection(ctx, role.Connection)
	if err != nil {
		return nil, err
	}

	username := newUsername(roleName)
	password, err := crypto.GeneratePassword(crypto.MinPasswordLength)
	if err != nil {
		return nil, err
	}
	expiration := time.Now().Add(ttl).UTC().Format("2006-01-02 15:04:05-07")

	rendered := renderStatements(role.CreationStatements, username, password, expiration)
	if err := e.execStatements(ctx, conn, rendered); err != nil {
		return nil, err
	}

	ref := models.RevocationRef{
		Engine:     "database",
		Connection: role.Connection,
		Role:       roleName,
		Username:   username,
	}
	l, err := e.leases.Register(ctx, "database/creds/"+roleName, ttl, role.MaxTTL, ref, e.revokeFunc(ref))
	if err != nil {
		return nil, err
	}

	credsIssued.WithLabelValues(roleName).Inc()
	e.log.Info().Str("role", roleName).Str("username", username).Dur("ttl", ttl).Msg("dynamic credentials issued")
	return &Credentials{
		Username:      username,
		Password:      password,
		LeaseID:       l.ID,
		LeaseDuration: ttl,
	}, nil
}

// resolveCallback rebuilds a revocation callback for a restored lease.
func (e *Engine) resolveCallback(l *models.Lease) lease.RevokeFunc {
	if l.Revocation.Engine != "database" {
		return nil
	}
	return e.revokeFunc(l.Revocation)
}

func (e *Engine) revokeFunc(ref models.RevocationRef) lease.RevokeFunc {
	return func(ctx context.Context) error {
		return e.revokePrincipal(ctx, ref)
	}
}

// revokePrincipal executes the role's revocation statements to drop the
// provisioned principal.
func (e *Engine) revokePrincipal(ctx context.Context, ref models.RevocationRef) error {
	role, err := e.store.GetDatabaseRole(ctx, ref.Role)
	if err != nil {
		return fmt.Errorf("loading role %s: %w", ref.Role, err)
	}
	conn, err := e.store.GetConnection(ctx, ref.Connection)
	if err != nil {
		return fmt.Errorf("loading connection %s: %w", ref.Connection, err)
	}
	rendered := renderStatements(role.RevocationStatements, ref.Username, "", "")
	if err := e.execStatements(ctx, conn, rendered); err != nil {
		return err
	}
	e.log.Info().Str("role", ref.Role).Str("username", ref.Username).Msg("dynamic principal revoked")
	return nil
}

// execStatements connects with the engine's admin credential and runs the
// statements in order. Connection errors map to BackendUnavailable,
// execution errors to StatementError.
func (e *Engine) execStatements(ctx context.Context, conn *models.DatabaseConnection, statements []string) error {
	db, err := e.connect(ctx, conn, "")
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	for _, stmt := range statements {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(cctx, stmt); err != nil {
			return vaulterr.Wrap(vaulterr.KindStatementError, err, "executing statement against %s", conn.Name)
		}
	}
	return nil
}

// connect opens and pings an admin connection. passwordOverride, when not
// empty, replaces the stored credential (used mid-rotation).
func (e *Engine) connect(ctx context.Context, conn *models.DatabaseConnection, passwordOverride string) (*sql.DB, error) {
	password := passwordOverride
	if password == "" {
		plain, err := e.decrypt(conn.EncryptedPassword)
		if err != nil {
			return nil, err
		}
		password = string(plain)
	}

	dsn := strings.NewReplacer(
		"{{username}}", conn.Username,
		"{{password}}", password,
	).Replace(conn.URL)

	db, err := e.open(driverMap[conn.Type], dsn)
	if err != nil {
		return nil, vaulterr.Wrap(vaulterr.KindBackendUnavailable, err, "opening connection %s", conn.Name)
	}
	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(cctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, vaulterr.Wrap(vaulterr.KindBackendUnavailable, err, "connecting to %s", conn.Name)
	}
	return db, nil
}

// renderStatements substitutes the {{name}}, {{password}} and
// {{expiration}} placeholders.
func renderStatements(statements []string, name, password, expiration string) []string {
	r := strings.NewReplacer(
		"{{name}}", name,
		"{{password}}", password,
		"{{expiration}}", expiration,
	)
	out := make([]string, len(statements))
	for i, s := range statements {
		out[i] = r.Replace(s)
	}
	return out
}

// newUsername builds a unique principal name. Kept under 63 chars for
// postgres identifier limits.
func newUsername(roleName string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	name := fmt.Sprintf("v-%s-%s", roleName, suffix)
	if len(name) > 63 {
		name = name[:63]
	}
	return name
}

func (e *Engine) lockFor(key string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Engine) encrypt(plaintext []byte) ([]byte, error) {
	kek, err := e.seal.KEK()
	if err != nil {
		return nil, err
	}
	defer zeroBytes(kek)
	return crypto.Seal(plaintext, kek)
}

func (e *Engine) decrypt(blob []byte) ([]byte, error) {
	kek, err := e.seal.KEK()
	if err != nil {
		return nil, err
	}
	defer zeroBytes(kek)
	return crypto.Open(blob, kek)
}

func vaultNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || vaulterr.Is(err, vaulterr.KindNotFound)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
