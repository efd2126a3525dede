package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/credvault/internal/auth"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), id)))
	})
}

// authMiddleware validates the X-Vault-Token header and attaches the
// token to context. Public routes (sys/health, sys/init, sys/unseal)
// are registered outside this middleware.
func authMiddleware(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plaintext := r.Header.Get("X-Vault-Token")
			if plaintext == "" {
				writeError(w, http.StatusUnauthorized, "missing X-Vault-Token header")
				return
			}
			token, err := tokens.ValidateToken(r.Context(), plaintext)
			if err != nil {
				writeError(w, http.StatusForbidden, err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(withToken(r.Context(), token)))
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// auditMiddleware writes a request entry before the handler runs and an
// outcome entry after it. The request entry is the fail-closed gate: if
// it cannot be written the request is rejected, so nothing the engine
// does goes unrecorded. The outcome entry cannot abort an already-sent
// response; a failure there is logged.
func auditMiddleware(auditor AuditRecorder, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := requestIDFromCtx(r.Context())
			rawToken := r.Header.Get("X-Vault-Token")

			entry := &models.AuditEntry{
				RequestID: requestID,
				Stage:     "request",
				TokenHMAC: rawToken,
				Operation: r.Method,
				Path:      r.URL.Path,
				ClientIP:  clientIP(r),
			}
			if err := auditor.Record(r.Context(), entry); err != nil {
				log.Error().Err(err).Str("path", r.URL.Path).Msg("refusing request: audit log unavailable")
				writeError(w, http.StatusInternalServerError, "audit log unavailable")
				return
			}

			rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rr, r)

			outcome := &models.AuditEntry{
				RequestID:      requestID,
				Stage:          "response",
				TokenHMAC:      rawToken,
				Operation:      r.Method,
				Path:           r.URL.Path,
				Status:         http.StatusText(rr.statusCode),
				ResponseCode:   rr.statusCode,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				ClientIP:       clientIP(r),
			}
			if token := tokenFromCtx(r.Context()); token != nil {
				outcome.DisplayName = token.DisplayName
			}
			if err := auditor.Record(r.Context(), outcome); err != nil {
				log.Error().Err(err).Str("request_id", requestID).Msg("audit outcome entry failed")
			}
		})
	}
}

// rateLimiter is a per-IP token bucket.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int
	burst   int
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

func newRateLimiter(rps, burst int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rps,
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastCheck: time.Now()}
		rl.buckets[ip] = b
	}
	now := time.Now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * float64(rl.rate)
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientIP(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
