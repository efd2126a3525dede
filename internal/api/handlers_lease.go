package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/credvault/pkg/models"
)

// LeaseRenewHandler handles PUT /v1/sys/leases/renew
func (s *Server) LeaseRenewHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	var req struct {
		LeaseID   string `json:"lease_id"`
		Increment string `json:"increment"`
	}
	if err := decodeJSON(r, &req); err != nil || req.LeaseID == "" {
		writeError(w, http.StatusBadRequest, "lease_id required")
		return
	}

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapUpdate, "sys/leases/renew"); err != nil {
		writeEngineError(w, err)
		return
	}

	var increment time.Duration
	if req.Increment != "" {
		var err error
		increment, err = time.ParseDuration(req.Increment)
		if err != nil || increment <= 0 {
			writeError(w, http.StatusBadRequest, "invalid increment")
			return
		}
	}

	l, err := s.leases.Renew(r.Context(), req.LeaseID, increment)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lease_id":       l.ID,
		"renewable":      l.Renewable,
		"lease_duration": int(time.Until(l.ExpiresAt).Seconds()),
		"expire_time":    l.ExpiresAt,
	})
}

// LeaseRevokeHandler handles PUT /v1/sys/leases/revoke
func (s *Server) LeaseRevokeHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	var req struct {
		LeaseID string `json:"lease_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.LeaseID == "" {
		writeError(w, http.StatusBadRequest, "lease_id required")
		return
	}

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapUpdate, "sys/leases/revoke"); err != nil {
		writeEngineError(w, err)
		return
	}

	if err := s.leases.Revoke(r.Context(), req.LeaseID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LeaseRevokePrefixHandler handles PUT /v1/sys/leases/revoke-prefix/*.
// Sudo-gated: revoking everything under a prefix is an operator action.
func (s *Server) LeaseRevokePrefixHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	prefix := chi.URLParam(r, "*")

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapSudo, "sys/leases/revoke-prefix/"+prefix); err != nil {
		writeEngineError(w, err)
		return
	}

	revoked, err := s.leases.RevokePrefix(r.Context(), prefix)
	if err != nil {
		// Some leases may have been revoked before the failure; report both.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"revoked": revoked,
			"errors":  []string{err.Error()},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"revoked": revoked})
}

// LeaseLookupHandler handles PUT /v1/sys/leases/lookup
func (s *Server) LeaseLookupHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	var req struct {
		LeaseID string `json:"lease_id"`
	}
	if err := decodeJSON(r, &req); err != nil || req.LeaseID == "" {
		writeError(w, http.StatusBadRequest, "lease_id required")
		return
	}

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapRead, "sys/leases/lookup"); err != nil {
		writeEngineError(w, err)
		return
	}

	l, err := s.leases.Lookup(r.Context(), req.LeaseID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":          l.ID,
			"path":        l.Path,
			"issue_time":  l.IssueTime,
			"expire_time": l.ExpiresAt,
			"renewable":   l.Renewable,
			"state":       l.State,
		},
	})
}
