package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/credvault/pkg/models"
)

// DBConfigHandler handles POST /v1/database/config/{name}
func (s *Server) DBConfigHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	var req struct {
		Type     string `json:"type"`
		URL      string `json:"connection_url"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URL == "" || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "connection_url, username and password are required")
		return
	}

	conn := &models.DatabaseConnection{
		Name:     name,
		Type:     req.Type,
		URL:      req.URL,
		Username: req.Username,
	}
	if err := s.db.ConfigureConnection(r.Context(), token, conn, req.Password); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DBRoleWriteHandler handles POST /v1/database/roles/{name}
func (s *Server) DBRoleWriteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	var req struct {
		Connection           string   `json:"db_name"`
		CreationStatements   []string `json:"creation_statements"`
		RevocationStatements []string `json:"revocation_statements"`
		DefaultTTL           string   `json:"default_ttl"`
		MaxTTL               string   `json:"max_ttl"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.CreationStatements) == 0 {
		writeError(w, http.StatusBadRequest, "creation_statements required")
		return
	}

	defaultTTL, maxTTL, err := parseTTLPair(req.DefaultTTL, req.MaxTTL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := &models.DatabaseRole{
		Name:                 name,
		Connection:           req.Connection,
		CreationStatements:   req.CreationStatements,
		RevocationStatements: req.RevocationStatements,
		DefaultTTL:           defaultTTL,
		MaxTTL:               maxTTL,
	}
	if err := s.db.ConfigureRole(r.Context(), token, role); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DBCredsHandler handles GET /v1/database/creds/{role}[?ttl=30m]
func (s *Server) DBCredsHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	role := chi.URLParam(r, "role")

	var ttl time.Duration
	if v := r.URL.Query().Get("ttl"); v != "" {
		var err error
		ttl, err = time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid ttl")
			return
		}
	}

	creds, err := s.db.Generate(r.Context(), token, role, ttl)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"lease_id":       creds.LeaseID,
		"lease_duration": int(creds.LeaseDuration.Seconds()),
		"renewable":      true,
		"data": map[string]any{
			"username": creds.Username,
			"password": creds.Password,
		},
	})
}

// DBRotateRootHandler handles POST /v1/database/rotate-root/{name}
func (s *Server) DBRotateRootHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.db.RotateRoot(r.Context(), token, name); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DBStaticRoleWriteHandler handles POST /v1/database/static-roles/{name}
func (s *Server) DBStaticRoleWriteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	var req struct {
		Connection         string   `json:"db_name"`
		Username           string   `json:"username"`
		Password           string   `json:"password"`
		RotationStatements []string `json:"rotation_statements"`
		RotationPeriod     string   `json:"rotation_period"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	period, err := time.ParseDuration(req.RotationPeriod)
	if err != nil || period <= 0 {
		writeError(w, http.StatusBadRequest, "invalid rotation_period")
		return
	}

	role := &models.StaticRole{
		Name:               name,
		Connection:         req.Connection,
		Username:           req.Username,
		RotationStatements: req.RotationStatements,
		RotationPeriod:     period,
	}
	if err := s.db.ConfigureStaticRole(r.Context(), token, role, req.Password); err != nil {
		writeEngineError(w, err)
		return
	}
	if s.rotator != nil {
		s.rotator.Track(role)
	}
	w.WriteHeader(http.StatusNoContent)
}

// DBStaticCredsHandler handles GET /v1/database/static-creds/{name}
func (s *Server) DBStaticCredsHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	creds, err := s.db.StaticCreds(r.Context(), token, name)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"username":            creds.Username,
			"password":            creds.Password,
			"last_vault_rotation": creds.LastRotation,
			"rotation_period":     int(creds.RotationPeriod.Seconds()),
			"ttl":                 int(creds.TTL.Seconds()),
		},
	})
}

// DBRotateStaticHandler handles POST /v1/database/rotate-role/{name}.
// On-demand rotation outside the schedule. Sudo-gated.
func (s *Server) DBRotateStaticHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	name := chi.URLParam(r, "name")

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapSudo, "database/rotate-role/"+name); err != nil {
		writeEngineError(w, err)
		return
	}
	if err := s.db.RotateStatic(r.Context(), name); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseTTLPair(defaultTTL, maxTTL string) (time.Duration, time.Duration, error) {
	var d, m time.Duration
	var err error
	if defaultTTL != "" {
		if d, err = time.ParseDuration(defaultTTL); err != nil {
			return 0, 0, err
		}
	}
	if maxTTL != "" {
		if m, err = time.ParseDuration(maxTTL); err != nil {
			return 0, 0, err
		}
	}
	return d, m, nil
}
