package api

import (
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/org/credvault/internal/core"
	"github.com/org/credvault/internal/crypto"
	"github.com/org/credvault/pkg/models"
)

// InitHandler handles POST /v1/sys/init. Generates the root key, stores
// the unseal check, unseals, and mints the root token. The root key and
// root token are returned once and never stored.
func (s *Server) InitHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	initialized, err := s.store.IsInitialized(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if initialized {
		writeError(w, http.StatusBadRequest, "vault is already initialized")
		return
	}

	rootKey, err := crypto.GenerateRootKey()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate root key")
		return
	}
	check, err := core.NewUnsealCheck(rootKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to derive unseal check")
		return
	}

	initData := &models.InitData{
		KEKContext:    core.KEKContext,
		UnsealCheck:   check,
		InitializedAt: time.Now().UTC(),
	}
	if err := s.store.InitVault(ctx, initData); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist init data")
		return
	}

	if err := s.seal.UnsealWithRootKey(rootKey); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to unseal after init")
		return
	}

	// The root policy must exist before any authorization check can pass.
	if err := s.store.WritePolicy(ctx, &models.Policy{
		Name: "root",
		Rules: map[string]models.PathRule{
			"*": {Capabilities: []string{
				models.CapCreate, models.CapRead, models.CapUpdate,
				models.CapDelete, models.CapList, models.CapSudo,
			}},
		},
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to write root policy")
		return
	}

	rootToken, err := s.InitializeRootToken(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	keyB64 := base64.StdEncoding.EncodeToString(rootKey)
	for i := range rootKey {
		rootKey[i] = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"root_key":    keyB64,
		"root_token":  rootToken,
		"initialized": true,
	})
}

// UnsealHandler handles POST /v1/sys/unseal.
func (s *Server) UnsealHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key   string `json:"key"`
		Reset bool   `json:"reset"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Reset {
		s.seal.Seal()
		writeJSON(w, http.StatusOK, map[string]any{"sealed": true})
		return
	}

	rootKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(req.Key))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key encoding (must be base64)")
		return
	}

	initData, err := s.store.GetInitData(r.Context())
	if err != nil {
		writeError(w, http.StatusBadRequest, "vault is not initialized")
		return
	}
	if err := s.seal.Unseal(rootKey, initData.UnsealCheck); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for i := range rootKey {
		rootKey[i] = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{"sealed": false})
}

// SealHandler handles PUT /v1/sys/seal. Sudo-gated.
func (s *Server) SealHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapSudo, "sys/seal"); err != nil {
		writeEngineError(w, err)
		return
	}
	s.seal.Seal()
	writeJSON(w, http.StatusOK, map[string]any{"sealed": true})
}

// SealStatusHandler handles GET /v1/sys/seal-status.
func (s *Server) SealStatusHandler(w http.ResponseWriter, r *http.Request) {
	initialized, _ := s.store.IsInitialized(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"initialized": initialized,
		"sealed":      s.seal.IsSealed(),
	})
}

// HealthHandler handles GET /v1/sys/health.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	code := http.StatusOK
	if s.seal.IsSealed() {
		code = http.StatusServiceUnavailable
	}
	initialized, _ := s.store.IsInitialized(r.Context())
	writeJSON(w, code, map[string]any{
		"initialized": initialized,
		"sealed":      s.seal.IsSealed(),
	})
}

// CapabilitiesSelfHandler handles GET /v1/sys/capabilities-self?path=...
func (s *Server) CapabilitiesSelfHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}
	caps := s.policy.GetEffectiveCapabilities(r.Context(), token.Policies, path)
	writeJSON(w, http.StatusOK, map[string]any{"capabilities": caps})
}
