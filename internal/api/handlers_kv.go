package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/org/credvault/pkg/models"
)

// KVGetHandler handles GET /v1/secret/data/*path[?version=n]
func (s *Server) KVGetHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		var err error
		version, err = strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid version")
			return
		}
	}

	data, info, _, err := s.kv.Read(r.Context(), token, path, version)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	deletionTime := ""
	if info.DeletedAt != nil {
		deletionTime = info.DeletedAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"data": data,
			"metadata": map[string]any{
				"version":       info.Version,
				"created_time":  info.CreatedAt,
				"deletion_time": deletionTime,
				"destroyed":     info.Destroyed,
			},
		},
	})
}

// KVPutHandler handles POST/PUT /v1/secret/data/*path
func (s *Server) KVPutHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	var req struct {
		Data    map[string]string `json:"data"`
		Options struct {
			CAS *int `json:"cas"`
		} `json:"options"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	version, err := s.kv.Write(r.Context(), token, path, req.Data, req.Options.CAS)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"version":      version,
			"created_time": time.Now().UTC(),
		},
	})
}

// KVDeleteHandler handles DELETE /v1/secret/data/*path. Soft-deletes the
// latest version.
func (s *Server) KVDeleteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	if err := s.kv.SoftDelete(r.Context(), token, path, nil); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KVDeleteVersionsHandler handles POST /v1/secret/delete/*path with an
// explicit version list.
func (s *Server) KVDeleteVersionsHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	var req struct {
		Versions []int `json:"versions"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Versions) == 0 {
		writeError(w, http.StatusBadRequest, "versions required")
		return
	}

	if err := s.kv.SoftDelete(r.Context(), token, path, req.Versions); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KVUndeleteHandler handles POST /v1/secret/undelete/*path
func (s *Server) KVUndeleteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	var req struct {
		Versions []int `json:"versions"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Versions) == 0 {
		writeError(w, http.StatusBadRequest, "versions required")
		return
	}

	if err := s.kv.Undelete(r.Context(), token, path, req.Versions); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KVDestroyHandler handles POST /v1/secret/destroy/*path
func (s *Server) KVDestroyHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	var req struct {
		Versions []int `json:"versions"`
	}
	if err := decodeJSON(r, &req); err != nil || len(req.Versions) == 0 {
		writeError(w, http.StatusBadRequest, "versions required")
		return
	}

	if err := s.kv.Destroy(r.Context(), token, path, req.Versions); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KVListHandler handles GET /v1/secret/metadata/*path?list=true
func (s *Server) KVListHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	prefix := chi.URLParam(r, "*")

	keys, err := s.kv.List(r.Context(), token, prefix)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"keys": keys},
	})
}

// KVMetadataHandler handles GET /v1/secret/metadata/*path
func (s *Server) KVMetadataHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	meta, err := s.kv.GetMetadata(r.Context(), token, path)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": meta})
}

// KVMetadataWriteHandler handles POST /v1/secret/metadata/*path
func (s *Server) KVMetadataWriteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	var req struct {
		MaxVersions        *int    `json:"max_versions"`
		CASRequired        *bool   `json:"cas_required"`
		DeleteVersionAfter *string `json:"delete_version_after"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	update := models.MetadataUpdate{
		MaxVersions: req.MaxVersions,
		CASRequired: req.CASRequired,
	}
	if req.DeleteVersionAfter != nil {
		d, err := time.ParseDuration(*req.DeleteVersionAfter)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "invalid delete_version_after")
			return
		}
		update.DeleteVersionAfter = &d
	}

	if err := s.kv.SetMetadata(r.Context(), token, path, update); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// KVMetadataDeleteHandler handles DELETE /v1/secret/metadata/*path.
// Removes the path and every version.
func (s *Server) KVMetadataDeleteHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())
	path := chi.URLParam(r, "*")

	if err := s.kv.DeleteMetadata(r.Context(), token, path); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
