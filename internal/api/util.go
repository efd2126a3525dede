package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/org/credvault/pkg/vaulterr"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"errors": []string{msg}})
}

// statusFor maps an engine error to its HTTP status. All handlers route
// errors through here so the same failure always gets the same code.
func statusFor(err error) int {
	var ve *vaulterr.Error
	if !errors.As(err, &ve) {
		return http.StatusInternalServerError
	}
	switch ve.Kind {
	case vaulterr.KindNotFound, vaulterr.KindDeleted, vaulterr.KindDestroyed:
		return http.StatusNotFound
	case vaulterr.KindAlreadyDestroyed, vaulterr.KindCASMismatch,
		vaulterr.KindTTLExceedsMax, vaulterr.KindRenewalExceedsMax,
		vaulterr.KindLeaseTerminal, vaulterr.KindInvalidRequest:
		return http.StatusBadRequest
	case vaulterr.KindPermissionDenied:
		return http.StatusForbidden
	case vaulterr.KindBackendUnavailable, vaulterr.KindStatementError,
		vaulterr.KindRotationFailed:
		return http.StatusBadGateway
	case vaulterr.KindSealed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}
