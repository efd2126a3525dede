package api

import (
	"net/http"
	"time"
)

// TokenCreateHandler handles POST /v1/auth/token/create. The new token
// becomes a child of the caller and dies with it.
func (s *Server) TokenCreateHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	var req struct {
		DisplayName string   `json:"display_name"`
		Policies    []string `json:"policies"`
		TTL         string   `json:"ttl"`
		Renewable   bool     `json:"renewable"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		var err error
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ttl format")
			return
		}
	}
	if len(req.Policies) == 0 {
		req.Policies = []string{"default"}
	}

	// A token may only grant policies its creator holds, unless the
	// creator has sudo on token creation.
	if !s.policy.IsAllowed(r.Context(), token.Policies, "sudo", "auth/token/create") {
		held := map[string]bool{}
		for _, p := range token.Policies {
			held[p] = true
		}
		for _, p := range req.Policies {
			if !held[p] {
				writeError(w, http.StatusForbidden, "cannot grant policy not held by caller: "+p)
				return
			}
		}
	}

	newToken, plaintext, err := s.tokens.CreateToken(r.Context(), req.DisplayName, req.Policies, ttl, req.Renewable, &token.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"client_token":   plaintext,
			"policies":       newToken.Policies,
			"lease_duration": int(newToken.TTL.Seconds()),
			"renewable":      newToken.Renewable,
		},
	})
}

// TokenRevokeHandler handles POST /v1/auth/token/revoke. Revokes the
// given token and its children.
func (s *Server) TokenRevokeHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}

	tok, err := s.tokens.ValidateToken(r.Context(), req.Token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.tokens.RevokeToken(r.Context(), tok.ID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TokenLookupSelfHandler handles GET /v1/auth/token/lookup-self
func (s *Server) TokenLookupSelfHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":            token.ID,
			"display_name":  token.DisplayName,
			"policies":      token.Policies,
			"ttl":           int(token.TTL.Seconds()),
			"renewable":     token.Renewable,
			"creation_time": token.CreatedAt.Unix(),
		},
	})
}

// TokenRenewSelfHandler handles POST /v1/auth/token/renew-self
func (s *Server) TokenRenewSelfHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	newExpiry, err := s.tokens.RenewToken(r.Context(), token)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"auth": map[string]any{
			"lease_duration": int(time.Until(newExpiry).Seconds()),
			"renewable":      true,
		},
	})
}
