package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
)

// PolicyWriteHandler handles PUT /v1/sys/policy/{name}. Sudo-gated:
// writing policy is how privileges escalate.
func (s *Server) PolicyWriteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapSudo, "sys/policy/"+name); err != nil {
		writeEngineError(w, err)
		return
	}

	var req struct {
		Rules map[string]models.PathRule `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Rules) == 0 {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.store.WritePolicy(r.Context(), &models.Policy{Name: name, Rules: req.Rules}); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PolicyReadHandler handles GET /v1/sys/policy/{name}
func (s *Server) PolicyReadHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapRead, "sys/policy/"+name); err != nil {
		writeEngineError(w, err)
		return
	}

	pol, err := s.store.GetPolicy(r.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "policy not found")
			return
		}
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": pol.Name, "path": pol.Rules})
}

// PolicyDeleteHandler handles DELETE /v1/sys/policy/{name}. Sudo-gated.
func (s *Server) PolicyDeleteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapSudo, "sys/policy/"+name); err != nil {
		writeEngineError(w, err)
		return
	}
	if name == "root" {
		writeError(w, http.StatusBadRequest, "cannot delete the root policy")
		return
	}

	if err := s.store.DeletePolicy(r.Context(), name); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PolicyListHandler handles GET /v1/sys/policy
func (s *Server) PolicyListHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapList, "sys/policy"); err != nil {
		writeEngineError(w, err)
		return
	}

	names, err := s.store.ListPolicies(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"policies": names})
}
