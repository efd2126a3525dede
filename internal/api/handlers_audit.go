package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
)

// AuditLogHandler handles GET /v1/sys/audit-log. Sudo-gated.
func (s *Server) AuditLogHandler(w http.ResponseWriter, r *http.Request) {
	token := tokenFromCtx(r.Context())

	if err := s.policy.Authorize(r.Context(), token.Policies, models.CapSudo, "sys/audit-log"); err != nil {
		writeEngineError(w, err)
		return
	}

	q := r.URL.Query()
	filter := storage.AuditFilter{
		Path:  q.Get("path"),
		Limit: 100,
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}

	entries, err := s.auditor.Query(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries})
}
