package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/org/credvault/internal/storage"
	"github.com/org/credvault/pkg/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type auditStore struct {
	storage.StorageBackend
	mu      sync.Mutex
	entries []*models.AuditEntry
	fail    bool
}

func (s *auditStore) WriteAuditEntry(_ context.Context, e *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("audit storage unavailable")
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *auditStore) QueryAuditLog(_ context.Context, filter storage.AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range s.entries {
		if filter.Path != "" && !strings.HasPrefix(e.Path, filter.Path) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func newTestLogger(store *auditStore, sink io.Writer, failOpen bool) *Logger {
	return NewLogger(store, []byte("audit-hmac-key"), sink, failOpen, zerolog.Nop())
}

func TestRecordRedactsToken(t *testing.T) {
	store := &auditStore{}
	var sink bytes.Buffer
	l := newTestLogger(store, &sink, false)

	entry := &models.AuditEntry{
		RequestID: "req-1",
		Stage:     "request",
		Operation: "read",
		Path:      "secret/data/app",
		TokenHMAC: "cvt_plaintext-token",
	}
	require.NoError(t, l.Record(context.Background(), entry))

	require.Len(t, store.entries, 1)
	got := store.entries[0].TokenHMAC
	assert.True(t, strings.HasPrefix(got, "hmac-sha256:"))
	assert.NotContains(t, got, "plaintext")
	assert.Equal(t, l.HMACToken("cvt_plaintext-token"), got,
		"same token must produce the same digest for correlation")
	assert.NotContains(t, sink.String(), "plaintext")
}

func TestRecordRedactsSensitiveMetadata(t *testing.T) {
	store := &auditStore{}
	l := newTestLogger(store, nil, false)

	entry := &models.AuditEntry{
		RequestID: "req-2",
		Stage:     "request",
		Operation: "create",
		Path:      "secret/data/app",
		Metadata: map[string]any{
			"password": "hunter2",
			"version":  3,
		},
	}
	require.NoError(t, l.Record(context.Background(), entry))

	got := store.entries[0].Metadata
	assert.True(t, strings.HasPrefix(got["password"].(string), "hmac-sha256:"))
	assert.Equal(t, 3, got["version"], "non-sensitive metadata stays readable")
}

func TestRecordFailClosed(t *testing.T) {
	store := &auditStore{fail: true}
	l := newTestLogger(store, nil, false)

	err := l.Record(context.Background(), &models.AuditEntry{
		RequestID: "req-3",
		Stage:     "request",
		Operation: "read",
		Path:      "secret/data/app",
	})
	require.Error(t, err, "a request whose audit entry cannot be written must not proceed")
}

func TestRecordFailOpen(t *testing.T) {
	store := &auditStore{fail: true}
	l := newTestLogger(store, nil, true)

	err := l.Record(context.Background(), &models.AuditEntry{
		RequestID: "req-4",
		Stage:     "request",
		Operation: "read",
		Path:      "secret/data/app",
	})
	assert.NoError(t, err)
}

func TestSinkWritesNDJSON(t *testing.T) {
	store := &auditStore{}
	var sink bytes.Buffer
	l := newTestLogger(store, &sink, false)

	for i, stage := range []string{"request", "response"} {
		require.NoError(t, l.Record(context.Background(), &models.AuditEntry{
			RequestID:    "req-5",
			Stage:        stage,
			Operation:    "read",
			Path:         "secret/data/app",
			ResponseCode: 200 * i,
			Timestamp:    time.Now().UTC(),
		}))
	}

	scanner := bufio.NewScanner(&sink)
	var lines int
	for scanner.Scan() {
		var decoded models.AuditEntry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &decoded))
		assert.Equal(t, "req-5", decoded.RequestID)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestQueryFiltersByPath(t *testing.T) {
	store := &auditStore{}
	l := newTestLogger(store, nil, false)

	for _, path := range []string{"secret/data/app", "secret/data/app", "database/creds/readonly"} {
		require.NoError(t, l.Record(context.Background(), &models.AuditEntry{
			RequestID: "req-6",
			Stage:     "request",
			Operation: "read",
			Path:      path,
		}))
	}

	entries, err := l.Query(context.Background(), storage.AuditFilter{Path: "secret/"})
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
