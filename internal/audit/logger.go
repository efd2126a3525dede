// Package audit writes tamper-evident request records. Tokens and other
// sensitive values are replaced with keyed HMAC-SHA256 digests so a
// leaked audit log cannot be replayed, while the same secret still
// hashes to the same digest for correlation.
package audit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog"
)

// sensitiveKeys are metadata keys whose values get HMACed before the
// entry reaches any sink.
var sensitiveKeys = map[string]bool{
	"password":  true,
	"token":     true,
	"secret":    true,
	"key":       true,
	"data":      true,
	"plaintext": true,
}

// Logger records audit entries to the storage backend and, optionally,
// to an NDJSON sink (one JSON object per line). Recording is fail-closed
// unless failOpen is set: a request whose audit entry cannot be written
// must not proceed.
type Logger struct {
	store    storage.StorageBackend
	hmacKey  []byte
	failOpen bool
	log      zerolog.Logger

	mu   sync.Mutex
	sink io.Writer
}

func NewLogger(store storage.StorageBackend, hmacKey []byte, sink io.Writer, failOpen bool, log zerolog.Logger) *Logger {
	return &Logger{
		store:    store,
		hmacKey:  hmacKey,
		failOpen: failOpen,
		log:      log.With().Str("component", "audit").Logger(),
		sink:     sink,
	}
}

// HMACToken returns the audit digest for a raw client token.
func (l *Logger) HMACToken(token string) string {
	return l.digest(token)
}

func (l *Logger) digest(value string) string {
	mac := hmac.New(sha256.New, l.hmacKey)
	mac.Write([]byte(value))
	return "hmac-sha256:" + hex.EncodeToString(mac.Sum(nil))
}

// Record redacts and persists one entry. With failOpen unset, any sink
// or storage failure is returned to the caller, which must abort the
// request it was auditing.
func (l *Logger) Record(ctx context.Context, entry *models.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	l.redact(entry)

	storeErr := l.store.WriteAuditEntry(ctx, entry)
	sinkErr := l.writeSink(entry)

	if storeErr == nil && sinkErr == nil {
		return nil
	}
	err := storeErr
	if err == nil {
		err = sinkErr
	}
	if l.failOpen {
		l.log.Error().Err(err).Str("request_id", entry.RequestID).Msg("audit write failed (fail-open)")
		return nil
	}
	return fmt.Errorf("audit write failed: %w", err)
}

// Query returns stored entries matching the filter, newest first.
func (l *Logger) Query(ctx context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	return l.store.QueryAuditLog(ctx, filter)
}

func (l *Logger) writeSink(entry *models.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = l.sink.Write(line)
	return err
}

// redact replaces sensitive values in place. TokenHMAC is assumed to
// arrive raw from the middleware and leaves here as a digest.
func (l *Logger) redact(entry *models.AuditEntry) {
	if entry.TokenHMAC != "" && !strings.HasPrefix(entry.TokenHMAC, "hmac-sha256:") {
		entry.TokenHMAC = l.digest(entry.TokenHMAC)
	}
	for k, v := range entry.Metadata {
		if !sensitiveKeys[k] {
			continue
		}
		if s, ok := v.(string); ok {
			entry.Metadata[k] = l.digest(s)
		} else {
			raw, err := json.Marshal(v)
			if err != nil {
				entry.Metadata[k] = "hmac-sha256:unserializable"
				continue
			}
			entry.Metadata[k] = l.digest(string(raw))
		}
	}
}
