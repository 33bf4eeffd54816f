package ingress

import (
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the normalized form of a human approval response, regardless of
// which platform it arrived on.
type Event struct {
	// Identity
	ID     string `json:"id"`
	Source string `json:"source"` // "slack", "telegram", "cli"

	// Payload
	RecordID  string `json:"record_id"` // decision record the response targets
	Response  string `json:"response"`  // "approved" or "rejected"
	Responder string `json:"responder"`

	// Context
	Metadata  map[string]string `json:"metadata"` // e.g. "ts": "1724..."
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent creates a normalized response event with a fresh ULID.
func NewEvent(source, recordID, response, responder string, metadata map[string]string) Event {
	return Event{
		ID:        ulid.Make().String(),
		Source:    source,
		RecordID:  recordID,
		Response:  response,
		Responder: responder,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
}

// ExternalID returns the platform-native message identifier, falling back to
// the event's own ULID when the platform supplied none. Used for idempotency
// so a redelivered webhook does not resolve a workflow twice.
func (e *Event) ExternalID() string {
	if ts, ok := e.Metadata["ts"]; ok && ts != "" {
		return ts
	}
	if id, ok := e.Metadata["msg_id"]; ok && id != "" {
		return id
	}
	return e.ID
}

// GenerateIdempotencyKey creates a deterministic key for the event.
func GenerateIdempotencyKey(source, externalID string) string {
	return fmt.Sprintf("%s:%s", source, externalID)
}

// HashKey returns a SHA256 hash of the idempotency key for storage efficiency/safety.
func HashKey(key string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(key)))
}
