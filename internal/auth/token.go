// Package auth issues and validates the opaque bearer tokens every
// request carries. Plaintext tokens are shown once at creation; only a
// SHA-256 hash is stored, so the token table is useless to an attacker
// who reads it.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/org/credvault/pkg/vaulterr"
)

const tokenPrefix = "cvt_"

// TokenService handles token creation, validation, revocation and renewal.
type TokenService struct {
	store storage.StorageBackend
}

func NewTokenService(store storage.StorageBackend) *TokenService {
	return &TokenService{store: store}
}

// CreateToken mints a new opaque token and persists its hash. The
// returned plaintext is shown once and never stored.
func (s *TokenService) CreateToken(ctx context.Context, displayName string, policies []string, ttl time.Duration, renewable bool, parentID *string) (*models.Token, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", fmt.Errorf("generating token: %w", err)
	}
	plaintext := tokenPrefix + base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now().UTC()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}
	t := &models.Token{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		Policies:    policies,
		TTL:         ttl,
		Renewable:   renewable,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		ParentID:    parentID,
	}
	if err := s.store.WriteToken(ctx, t, HashToken(plaintext)); err != nil {
		return nil, "", fmt.Errorf("persisting token: %w", err)
	}
	return t, plaintext, nil
}

// ValidateToken resolves a plaintext token to its record. Unknown,
// revoked and expired tokens all come back as the same PermissionDenied
// so a probe learns nothing about which case it hit.
func (s *TokenService) ValidateToken(ctx context.Context, plaintext string) (*models.Token, error) {
	token, err := s.store.GetToken(ctx, HashToken(plaintext))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, vaulterr.PermissionDenied("invalid token")
		}
		return nil, err
	}
	if token.IsRevoked() || token.IsExpired() {
		return nil, vaulterr.PermissionDenied("invalid token")
	}
	return token, nil
}

// RevokeToken revokes a token and cascades to its children.
func (s *TokenService) RevokeToken(ctx context.Context, tokenID string) error {
	if err := s.store.RevokeToken(ctx, tokenID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return vaulterr.NotFound("token not found")
		}
		return err
	}
	return s.store.RevokeTokenChildren(ctx, tokenID)
}

// RenewToken extends a renewable token by its original TTL.
func (s *TokenService) RenewToken(ctx context.Context, token *models.Token) (time.Time, error) {
	if !token.Renewable {
		return time.Time{}, vaulterr.New(vaulterr.KindInvalidRequest, "token is not renewable")
	}
	if token.TTL <= 0 {
		return time.Time{}, vaulterr.New(vaulterr.KindInvalidRequest, "token has no ttl to renew")
	}
	newExpiry := time.Now().Add(token.TTL).UTC()
	if err := s.store.RenewToken(ctx, token.ID, newExpiry); err != nil {
		return time.Time{}, err
	}
	return newExpiry, nil
}

// HashToken returns the SHA-256 hex digest stored in place of a
// plaintext token.
func HashToken(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}
