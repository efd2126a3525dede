package models

import "time"

// AuditEntry records a single request event. Sensitive fields are never
// stored raw: the audit logger replaces them with keyed HMAC digests
// before the entry reaches any sink.
type AuditEntry struct {
	ID             int64          `json:"-"`
	RequestID      string         `json:"request_id"`
	Timestamp      time.Time      `json:"time"`
	Stage          string         `json:"stage"` // "request" or "response"
	DisplayName    string         `json:"display_name,omitempty"`
	TokenHMAC      string         `json:"token,omitempty"`
	Operation      string         `json:"operation"`
	Path           string         `json:"path"`
	Status         string         `json:"status,omitempty"`
	ResponseCode   int            `json:"response_code,omitempty"`
	ResponseTimeMs int64          `json:"response_time_ms,omitempty"`
	ClientIP       string         `json:"client_ip,omitempty"`
	Error          string         `json:"error,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
