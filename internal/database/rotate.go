package database

import (
	"context"
	"time"

	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
)

// rootRotationStatements are the per-driver templates used to change the
// engine's own admin password.
var rootRotationStatements = map[string]string{
	"postgres": `ALTER USER "{{name}}" WITH PASSWORD '{{password}}'`,
	"mysql":    `ALTER USER '{{name}}'@'%' IDENTIFIED BY '{{password}}'`,
}

// RotateRoot rotates the admin credential of the named connection. The
// new password is persisted only after the backend confirms the change;
// a backend rejection leaves the stored credential intact
// (RotationFailed), while a store-write failure after backend acceptance
// is surfaced as PartialRotation: the stored and live credentials have
// diverged and an operator must reconcile them.
//
// Rotations against the same connection serialize; a second caller waits
// for the first's outcome instead of racing to write a different password.
func (e *Engine) RotateRoot(ctx context.Context, token *models.Token, connName string) error {
	reqPath := "database/rotate-root/" + connName
	if err := e.policy.Authorize(ctx, token.Policies, models.CapUpdate, reqPath); err != nil {
		return err
	}
	if err := e.policy.Authorize(ctx, token.Policies, models.CapSudo, reqPath); err != nil {
		return err
	}

	mu := e.lockFor("connection/" + connName)
	mu.Lock()
	defer mu.Unlock()

	conn, err := e.store.GetConnection(ctx, connName)
	if err != nil {
		if vaultNotFound(err) {
			return vaulterr.NotFound("connection not found: %s", connName)
		}
		return err
	}

	stmtTemplate, ok := rootRotationStatements[driverMap[conn.Type]]
	if !ok {
		return vaulterr.New(vaulterr.KindInvalidRequest, "no root rotation statement for type %q", conn.Type)
	}

	newPassword, err := crypto.GeneratePassword(crypto.MinPasswordLength)
	if err != nil {
		return err
	}

	// Execute with the *current* credential. Never persist first: if the
	// backend rejects the change, the stored credential must still match
	// the live one.
	rendered := renderStatements([]string{stmtTemplate}, conn.Username, newPassword, "")
	if err := e.execStatements(ctx, conn, rendered); err != nil {
		rotationsTotal.WithLabelValues("root", "failed").Inc()
		if vaulterr.Is(err, vaulterr.KindBackendUnavailable) {
			return err
		}
		return vaulterr.Wrap(vaulterr.KindRotationFailed, err, "backend rejected root rotation for %s", connName)
	}

	enc, err := e.encrypt([]byte(newPassword))
	if err == nil {
		err = e.store.UpdateConnectionPassword(ctx, connName, enc, time.Now().UTC())
	}
	if err != nil {
		// The backend accepted the new password but we failed to record it.
		rotationsTotal.WithLabelValues("root", "partial").Inc()
		e.log.Error().Err(err).Str("connection", connName).
			Msg("PARTIAL ROTATION: backend accepted new credential but persisting it failed; stored credential is stale and requires operator intervention")
		return vaulterr.Wrap(vaulterr.KindPartialRotation, err,
			"root rotation for %s persisted to backend but not to storage", connName)
	}

	rotationsTotal.WithLabelValues("root", "success").Inc()
	e.log.Info().Str("connection", connName).Msg("root credential rotated")
	return nil
}

// ConfigureStaticRole stores a managed static account. The initial
// password is taken as given (the pre-existing account password) and
// encrypted at rest; rotation replaces it in place.
func (e *Engine) ConfigureStaticRole(ctx context.Context, token *models.Token, role *models.StaticRole, password string) error {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapUpdate, "database/static-roles/"+role.Name); err != nil {
		return err
	}
	if role.RotationPeriod <= 0 {
		return vaulterr.New(vaulterr.KindInvalidRequest, "rotation_period must be positive")
	}
	if _, err := e.store.GetConnection(ctx, role.Connection); err != nil {
		if vaultNotFound(err) {
			return vaulterr.NotFound("connection not found: %s", role.Connection)
		}
		return err
	}

	enc, err := e.encrypt([]byte(password))
	if err != nil {
		return err
	}
	role.EncryptedPassword = enc
	role.CreatedAt = time.Now().UTC()
	return e.store.WriteStaticRole(ctx, role)
}

// RotateStatic rotates the named static role's password in place. Called
// on demand (after a policy check in the API layer) and by the rotation
// scheduler. Same persist-after-confirm contract as RotateRoot.
func (e *Engine) RotateStatic(ctx context.Context, roleName string) error {
	mu := e.lockFor("static/" + roleName)
	mu.Lock()
	defer mu.Unlock()

	role, err := e.store.GetStaticRole(ctx, roleName)
	if err != nil {
		if vaultNotFound(err) {
			return vaulterr.NotFound("static role not found: %s", roleName)
		}
		return err
	}
	conn, err := e.store.GetConnection(ctx, role.Connection)
	if err != nil {
		return err
	}

	newPassword, err := crypto.GeneratePassword(crypto.MinPasswordLength)
	if err != nil {
		return err
	}

	statements := role.RotationStatements
	if len(statements) == 0 {
		stmtTemplate, ok := rootRotationStatements[driverMap[conn.Type]]
		if !ok {
			return vaulterr.New(vaulterr.KindInvalidRequest, "no rotation statement for type %q", conn.Type)
		}
		statements = []string{stmtTemplate}
	}
	rendered := renderStatements(statements, role.Username, newPassword, "")
	if err := e.execStatements(ctx, conn, rendered); err != nil {
		rotationsTotal.WithLabelValues("static", "failed").Inc()
		if vaulterr.Is(err, vaulterr.KindBackendUnavailable) {
			return err
		}
		return vaulterr.Wrap(vaulterr.KindRotationFailed, err, "backend rejected rotation for static role %s", roleName)
	}

	enc, err := e.encrypt([]byte(newPassword))
	if err == nil {
		err = e.store.UpdateStaticRolePassword(ctx, roleName, enc, time.Now().UTC())
	}
	if err != nil {
		rotationsTotal.WithLabelValues("static", "partial").Inc()
		e.log.Error().Err(err).Str("static_role", roleName).
			Msg("PARTIAL ROTATION: backend accepted new credential but persisting it failed; stored credential is stale and requires operator intervention")
		return vaulterr.Wrap(vaulterr.KindPartialRotation, err,
			"rotation for static role %s persisted to backend but not to storage", roleName)
	}

	rotationsTotal.WithLabelValues("static", "success").Inc()
	e.log.Info().Str("static_role", roleName).Msg("static credential rotated")
	return nil
}

// StaticCreds returns the current credential for a managed static account.
func (e *Engine) StaticCreds(ctx context.Context, token *models.Token, roleName string) (*StaticCredentials, error) {
	if err := e.policy.Authorize(ctx, token.Policies, models.CapRead, "database/static-creds/"+roleName); err != nil {
		return nil, err
	}

	role, err := e.store.GetStaticRole(ctx, roleName)
	if err != nil {
		if vaultNotFound(err) {
			return nil, vaulterr.NotFound("static role not found: %s", roleName)
		}
		return nil, err
	}

	plain, err := e.decrypt(role.EncryptedPassword)
	if err != nil {
		return nil, err
	}

	creds := &StaticCredentials{
		Username:       role.Username,
		Password:       string(plain),
		LastRotation:   role.LastRotation,
		RotationPeriod: role.RotationPeriod,
	}
	if role.LastRotation != nil {
		if remaining := time.Until(role.LastRotation.Add(role.RotationPeriod)); remaining > 0 {
			creds.TTL = remaining
		}
	}
	return creds, nil
}
