package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/credvault/pkg/models"
)

// PostgresBackend is a StorageBackend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Vault init ---

func (p *PostgresBackend) InitVault(ctx context.Context, data *models.InitData) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO vault_init (kek_context, unseal_check, initialized_at) VALUES ($1, $2, $3)`,
		data.KEKContext, data.UnsealCheck, data.InitializedAt,
	)
	return err
}

func (p *PostgresBackend) GetInitData(ctx context.Context) (*models.InitData, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT kek_context, unseal_check, initialized_at FROM vault_init ORDER BY id LIMIT 1`,
	)
	var d models.InitData
	if err := row.Scan(&d.KEKContext, &d.UnsealCheck, &d.InitializedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (p *PostgresBackend) IsInitialized(ctx context.Context) (bool, error) {
	var count int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM vault_init`).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// --- Secrets ---

func (p *PostgresBackend) WriteSecretVersion(ctx context.Context, path string, v *models.SecretVersion, cas *int) ([]int, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Lock the secret row; concurrent writes to the same path queue here.
	var secretID int64
	var maxVersions int
	var casRequired bool
	err = tx.QueryRow(ctx,
		`SELECT id, max_versions, cas_required FROM secrets WHERE path = $1 FOR UPDATE`,
		path,
	).Scan(&secretID, &maxVersions, &casRequired)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if cas != nil && *cas != 0 {
			return nil, ErrCASMismatch
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO secrets (path) VALUES ($1) RETURNING id`,
			path,
		).Scan(&secretID)
		if err != nil {
			return nil, fmt.Errorf("creating secret path: %w", err)
		}
	case err != nil:
		return nil, err
	}

	var maxVer int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM secret_versions WHERE secret_id = $1`,
		secretID,
	).Scan(&maxVer)
	if err != nil {
		return nil, fmt.Errorf("fetching max version: %w", err)
	}

	if casRequired && cas == nil {
		return nil, ErrCASMismatch
	}
	if cas != nil && *cas != maxVer {
		return nil, ErrCASMismatch
	}

	v.Version = maxVer + 1
	v.SecretID = secretID
	_, err = tx.Exec(ctx,
		`INSERT INTO secret_versions (secret_id, version, encrypted_dek, ciphertext, nonce, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		secretID, v.Version, v.EncryptedDEK, v.Ciphertext, v.Nonce, v.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting secret version: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE secrets SET updated_at = NOW() WHERE id = $1`, secretID); err != nil {
		return nil, err
	}

	// Prune oldest non-destroyed versions past max_versions. The slot stays
	// for numbering continuity; only the payload is cleared.
	var pruned []int
	if maxVersions > 0 {
		rows, err := tx.Query(ctx,
			`SELECT version FROM secret_versions WHERE secret_id = $1 AND destroyed = FALSE ORDER BY version`,
			secretID,
		)
		if err != nil {
			return nil, err
		}
		var live []int
		for rows.Next() {
			var ver int
			if err := rows.Scan(&ver); err != nil {
				rows.Close()
				return nil, err
			}
			live = append(live, ver)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
		if excess := len(live) - maxVersions; excess > 0 {
			pruned = live[:excess]
			_, err = tx.Exec(ctx,
				`UPDATE secret_versions
				 SET encrypted_dek = NULL, ciphertext = NULL, nonce = NULL, destroyed = TRUE, deleted_at = NOW()
				 WHERE secret_id = $1 AND version = ANY($2::int[])`,
				secretID, pruned,
			)
			if err != nil {
				return nil, fmt.Errorf("pruning versions: %w", err)
			}
		}
	}

	return pruned, tx.Commit(ctx)
}

func (p *PostgresBackend) ReadSecretVersion(ctx context.Context, path string, version int) (*models.SecretVersion, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT sv.id, sv.secret_id, sv.version, sv.encrypted_dek, sv.ciphertext, sv.nonce,
		        sv.created_at, sv.deleted_at, sv.destroyed
		 FROM secret_versions sv
		 JOIN secrets s ON s.id = sv.secret_id
		 WHERE s.path = $1 AND sv.version = $2`,
		path, version,
	)
	return scanSecretVersion(row)
}

func (p *PostgresBackend) ReadLatestSecretVersion(ctx context.Context, path string) (*models.SecretVersion, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT sv.id, sv.secret_id, sv.version, sv.encrypted_dek, sv.ciphertext, sv.nonce,
		        sv.created_at, sv.deleted_at, sv.destroyed
		 FROM secret_versions sv
		 JOIN secrets s ON s.id = sv.secret_id
		 WHERE s.path = $1
		 ORDER BY sv.version DESC
		 LIMIT 1`,
		path,
	)
	return scanSecretVersion(row)
}

func scanSecretVersion(row pgx.Row) (*models.SecretVersion, error) {
	var v models.SecretVersion
	err := row.Scan(&v.ID, &v.SecretID, &v.Version, &v.EncryptedDEK, &v.Ciphertext, &v.Nonce,
		&v.CreatedAt, &v.DeletedAt, &v.Destroyed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}

func (p *PostgresBackend) ListSecretPaths(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT path FROM secrets WHERE path LIKE $1 ORDER BY path`,
		prefix+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (p *PostgresBackend) DeleteSecretVersions(ctx context.Context, path string, versions []int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE secret_versions sv
		 SET deleted_at = NOW()
		 FROM secrets s
		 WHERE s.id = sv.secret_id AND s.path = $1
		   AND sv.version = ANY($2::int[])
		   AND sv.destroyed = FALSE`,
		path, versions,
	)
	return err
}

func (p *PostgresBackend) UndeleteSecretVersions(ctx context.Context, path string, versions []int) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var destroyedCount int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM secret_versions sv
		 JOIN secrets s ON s.id = sv.secret_id
		 WHERE s.path = $1 AND sv.version = ANY($2::int[]) AND sv.destroyed = TRUE`,
		path, versions,
	).Scan(&destroyedCount)
	if err != nil {
		return err
	}
	if destroyedCount > 0 {
		return ErrVersionDestroyed
	}

	_, err = tx.Exec(ctx,
		`UPDATE secret_versions sv
		 SET deleted_at = NULL
		 FROM secrets s
		 WHERE s.id = sv.secret_id AND s.path = $1
		   AND sv.version = ANY($2::int[])`,
		path, versions,
	)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) DestroySecretVersions(ctx context.Context, path string, versions []int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE secret_versions sv
		 SET encrypted_dek = NULL, ciphertext = NULL, nonce = NULL, destroyed = TRUE, deleted_at = NOW()
		 FROM secrets s
		 WHERE s.id = sv.secret_id AND s.path = $1
		   AND sv.version = ANY($2::int[])`,
		path, versions,
	)
	return err
}

func (p *PostgresBackend) GetSecretMetadata(ctx context.Context, path string) (*models.SecretMetadata, error) {
	var secretID int64
	var meta models.SecretMetadata
	var dvaSec int64
	err := p.pool.QueryRow(ctx,
		`SELECT id, max_versions, cas_required, delete_version_after_s, created_at, updated_at
		 FROM secrets WHERE path = $1`,
		path,
	).Scan(&secretID, &meta.MaxVersions, &meta.CASRequired, &dvaSec, &meta.CreatedAt, &meta.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta.Path = path
	meta.DeleteVersionAfter = time.Duration(dvaSec) * time.Second

	rows, err := p.pool.Query(ctx,
		`SELECT version, created_at, deleted_at, destroyed
		 FROM secret_versions WHERE secret_id = $1 ORDER BY version`,
		secretID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var vi models.VersionInfo
		if err := rows.Scan(&vi.Version, &vi.CreatedAt, &vi.DeletedAt, &vi.Destroyed); err != nil {
			return nil, err
		}
		meta.Versions = append(meta.Versions, vi)
		if vi.Version > meta.CurrentVersion {
			meta.CurrentVersion = vi.Version
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (p *PostgresBackend) UpdateSecretMetadata(ctx context.Context, path string, update models.MetadataUpdate) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var secretID int64
	err = tx.QueryRow(ctx, `SELECT id FROM secrets WHERE path = $1 FOR UPDATE`, path).Scan(&secretID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Metadata may be configured before the first write.
		err = tx.QueryRow(ctx, `INSERT INTO secrets (path) VALUES ($1) RETURNING id`, path).Scan(&secretID)
	}
	if err != nil {
		return err
	}

	if update.MaxVersions != nil {
		if _, err := tx.Exec(ctx, `UPDATE secrets SET max_versions = $1 WHERE id = $2`, *update.MaxVersions, secretID); err != nil {
			return err
		}
	}
	if update.CASRequired != nil {
		if _, err := tx.Exec(ctx, `UPDATE secrets SET cas_required = $1 WHERE id = $2`, *update.CASRequired, secretID); err != nil {
			return err
		}
	}
	if update.DeleteVersionAfter != nil {
		if _, err := tx.Exec(ctx, `UPDATE secrets SET delete_version_after_s = $1 WHERE id = $2`,
			int64(update.DeleteVersionAfter.Seconds()), secretID); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `UPDATE secrets SET updated_at = NOW() WHERE id = $1`, secretID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (p *PostgresBackend) DeleteSecretMetadata(ctx context.Context, path string) error {
	// Versions go with it (ON DELETE CASCADE).
	_, err := p.pool.Exec(ctx, `DELETE FROM secrets WHERE path = $1`, path)
	return err
}

// --- Tokens ---

func (p *PostgresBackend) WriteToken(ctx context.Context, token *models.Token, tokenHash string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tokens (id, token_hash, display_name, policies, ttl_seconds, renewable, created_at, expires_at, parent_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		token.ID, tokenHash, token.DisplayName, token.Policies,
		int64(token.TTL.Seconds()), token.Renewable, token.CreatedAt,
		nullableTime(token.ExpiresAt), token.ParentID,
	)
	return err
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (p *PostgresBackend) GetToken(ctx context.Context, tokenHash string) (*models.Token, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, display_name, policies, ttl_seconds, renewable, created_at, expires_at, revoked_at, parent_id
		 FROM tokens WHERE token_hash = $1`,
		tokenHash,
	)
	var t models.Token
	var ttlSec int64
	var expiresAt *time.Time
	err := row.Scan(&t.ID, &t.DisplayName, &t.Policies, &ttlSec, &t.Renewable,
		&t.CreatedAt, &expiresAt, &t.RevokedAt, &t.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	t.TTL = time.Duration(ttlSec) * time.Second
	if expiresAt != nil {
		t.ExpiresAt = *expiresAt
	}
	return &t, nil
}

func (p *PostgresBackend) RevokeToken(ctx context.Context, tokenID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE tokens SET revoked_at = NOW() WHERE id = $1`, tokenID)
	return err
}

func (p *PostgresBackend) RevokeTokenChildren(ctx context.Context, parentID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE tokens SET revoked_at = NOW() WHERE parent_id = $1 AND revoked_at IS NULL`,
		parentID,
	)
	return err
}

func (p *PostgresBackend) RenewToken(ctx context.Context, tokenID string, newExpiresAt time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE tokens SET expires_at = $1 WHERE id = $2`, newExpiresAt, tokenID)
	return err
}

// --- Policies ---

func (p *PostgresBackend) WritePolicy(ctx context.Context, policy *models.Policy) error {
	rulesJSON, err := json.Marshal(policy.Rules)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO policies (name, rules, created_at, updated_at)
		 VALUES ($1, $2, NOW(), NOW())
		 ON CONFLICT (name) DO UPDATE SET rules = EXCLUDED.rules, updated_at = NOW()`,
		policy.Name, rulesJSON,
	)
	return err
}

func (p *PostgresBackend) GetPolicy(ctx context.Context, name string) (*models.Policy, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT name, rules, created_at, updated_at FROM policies WHERE name = $1`,
		name,
	)
	var pol models.Policy
	var rulesJSON []byte
	err := row.Scan(&pol.Name, &rulesJSON, &pol.CreatedAt, &pol.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(rulesJSON, &pol.Rules); err != nil {
		return nil, err
	}
	return &pol, nil
}

func (p *PostgresBackend) DeletePolicy(ctx context.Context, name string) error {
	if name == "root" || name == "default" {
		return errors.New("cannot delete built-in policy")
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM policies WHERE name = $1`, name)
	return err
}

func (p *PostgresBackend) ListPolicies(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT name FROM policies ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- Leases ---

func (p *PostgresBackend) PutLease(ctx context.Context, lease *models.Lease) error {
	revJSON, err := json.Marshal(lease.Revocation)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO leases (id, path, issue_time, expires_at, ttl_s, max_ttl_s, renewable, state, revocation)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE
		 SET expires_at = EXCLUDED.expires_at,
		     ttl_s = EXCLUDED.ttl_s,
		     state = EXCLUDED.state`,
		lease.ID, lease.Path, lease.IssueTime, lease.ExpiresAt,
		int64(lease.TTL.Seconds()), int64(lease.MaxTTL.Seconds()),
		lease.Renewable, lease.State, revJSON,
	)
	return err
}

func (p *PostgresBackend) GetLease(ctx context.Context, id string) (*models.Lease, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, path, issue_time, expires_at, ttl_s, max_ttl_s, renewable, state, revocation
		 FROM leases WHERE id = $1`,
		id,
	)
	return scanLease(row)
}

func scanLease(row pgx.Row) (*models.Lease, error) {
	var l models.Lease
	var ttlSec, maxTTLSec int64
	var revJSON []byte
	err := row.Scan(&l.ID, &l.Path, &l.IssueTime, &l.ExpiresAt, &ttlSec, &maxTTLSec,
		&l.Renewable, &l.State, &revJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.TTL = time.Duration(ttlSec) * time.Second
	l.MaxTTL = time.Duration(maxTTLSec) * time.Second
	if err := json.Unmarshal(revJSON, &l.Revocation); err != nil {
		return nil, err
	}
	return &l, nil
}

func (p *PostgresBackend) ListActiveLeases(ctx context.Context) ([]*models.Lease, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, path, issue_time, expires_at, ttl_s, max_ttl_s, renewable, state, revocation
		 FROM leases WHERE state = 'active' ORDER BY issue_time`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leases []*models.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

// --- Dynamic secrets engine config ---

func (p *PostgresBackend) WriteConnection(ctx context.Context, conn *models.DatabaseConnection) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO db_connections (name, type, url, username, encrypted_password, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (name) DO UPDATE
		 SET type = EXCLUDED.type,
		     url = EXCLUDED.url,
		     username = EXCLUDED.username,
		     encrypted_password = EXCLUDED.encrypted_password`,
		conn.Name, conn.Type, conn.URL, conn.Username, conn.EncryptedPassword, conn.CreatedAt,
	)
	return err
}

func (p *PostgresBackend) GetConnection(ctx context.Context, name string) (*models.DatabaseConnection, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT name, type, url, username, encrypted_password, created_at, rotated_at
		 FROM db_connections WHERE name = $1`,
		name,
	)
	var c models.DatabaseConnection
	err := row.Scan(&c.Name, &c.Type, &c.URL, &c.Username, &c.EncryptedPassword, &c.CreatedAt, &c.RotatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (p *PostgresBackend) UpdateConnectionPassword(ctx context.Context, name string, encryptedPassword []byte, rotatedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE db_connections SET encrypted_password = $1, rotated_at = $2 WHERE name = $3`,
		encryptedPassword, rotatedAt, name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) WriteDatabaseRole(ctx context.Context, role *models.DatabaseRole) error {
	createJSON, err := json.Marshal(role.CreationStatements)
	if err != nil {
		return err
	}
	revokeJSON, err := json.Marshal(role.RevocationStatements)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO db_roles (name, connection, creation_statements, revocation_statements, default_ttl_s, max_ttl_s, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (name) DO UPDATE
		 SET connection = EXCLUDED.connection,
		     creation_statements = EXCLUDED.creation_statements,
		     revocation_statements = EXCLUDED.revocation_statements,
		     default_ttl_s = EXCLUDED.default_ttl_s,
		     max_ttl_s = EXCLUDED.max_ttl_s`,
		role.Name, role.Connection, createJSON, revokeJSON,
		int64(role.DefaultTTL.Seconds()), int64(role.MaxTTL.Seconds()), role.CreatedAt,
	)
	return err
}

func (p *PostgresBackend) GetDatabaseRole(ctx context.Context, name string) (*models.DatabaseRole, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT name, connection, creation_statements, revocation_statements, default_ttl_s, max_ttl_s, created_at
		 FROM db_roles WHERE name = $1`,
		name,
	)
	var r models.DatabaseRole
	var createJSON, revokeJSON []byte
	var defTTL, maxTTL int64
	err := row.Scan(&r.Name, &r.Connection, &createJSON, &revokeJSON, &defTTL, &maxTTL, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(createJSON, &r.CreationStatements); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(revokeJSON, &r.RevocationStatements); err != nil {
		return nil, err
	}
	r.DefaultTTL = time.Duration(defTTL) * time.Second
	r.MaxTTL = time.Duration(maxTTL) * time.Second
	return &r, nil
}

func (p *PostgresBackend) WriteStaticRole(ctx context.Context, role *models.StaticRole) error {
	stmtsJSON, err := json.Marshal(role.RotationStatements)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO static_roles (name, connection, username, encrypted_password, rotation_statements, rotation_period_s, last_rotation, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (name) DO UPDATE
		 SET connection = EXCLUDED.connection,
		     username = EXCLUDED.username,
		     rotation_statements = EXCLUDED.rotation_statements,
		     rotation_period_s = EXCLUDED.rotation_period_s`,
		role.Name, role.Connection, role.Username, role.EncryptedPassword,
		stmtsJSON, int64(role.RotationPeriod.Seconds()), role.LastRotation, role.CreatedAt,
	)
	return err
}

func (p *PostgresBackend) GetStaticRole(ctx context.Context, name string) (*models.StaticRole, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT name, connection, username, encrypted_password, rotation_statements, rotation_period_s, last_rotation, created_at
		 FROM static_roles WHERE name = $1`,
		name,
	)
	return scanStaticRole(row)
}

func scanStaticRole(row pgx.Row) (*models.StaticRole, error) {
	var r models.StaticRole
	var stmtsJSON []byte
	var periodSec int64
	err := row.Scan(&r.Name, &r.Connection, &r.Username, &r.EncryptedPassword,
		&stmtsJSON, &periodSec, &r.LastRotation, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(stmtsJSON, &r.RotationStatements); err != nil {
		return nil, err
	}
	r.RotationPeriod = time.Duration(periodSec) * time.Second
	return &r, nil
}

func (p *PostgresBackend) ListStaticRoles(ctx context.Context) ([]*models.StaticRole, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT name, connection, username, encrypted_password, rotation_statements, rotation_period_s, last_rotation, created_at
		 FROM static_roles ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []*models.StaticRole
	for rows.Next() {
		r, err := scanStaticRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (p *PostgresBackend) UpdateStaticRolePassword(ctx context.Context, name string, encryptedPassword []byte, rotatedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE static_roles SET encrypted_password = $1, last_rotation = $2 WHERE name = $3`,
		encryptedPassword, rotatedAt, name,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	metaJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, stage, display_name, token_hmac, operation, path, status, response_code, response_time_ms, client_ip, error, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.RequestID, entry.Timestamp, entry.Stage, entry.DisplayName, entry.TokenHMAC,
		entry.Operation, entry.Path, entry.Status, entry.ResponseCode, entry.ResponseTimeMs,
		entry.ClientIP, entry.Error, metaJSON,
	)
	return err
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, stage, display_name, token_hmac, operation, path, status, response_code, response_time_ms, client_ip, error, metadata FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.Path != "" {
		fmt.Fprintf(&query, ` AND path LIKE $%d`, n)
		args = append(args, filter.Path+"%")
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Timestamp, &e.Stage, &e.DisplayName, &e.TokenHMAC,
			&e.Operation, &e.Path, &e.Status, &e.ResponseCode, &e.ResponseTimeMs,
			&e.ClientIP, &e.Error, &metaJSON); err != nil {
			return nil, err
		}
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// --- Metrics ---

func (p *PostgresBackend) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM secrets`).Scan(&count)
	return count, err
}

func (p *PostgresBackend) CountActiveLeases(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM leases WHERE state = 'active'`).Scan(&count)
	return count, err
}
