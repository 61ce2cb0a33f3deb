package models

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent records a provider webhook event that has already been
// applied. The unique index on event_id is the idempotency backstop: the
// provider delivers at least once, so duplicates are expected and must be
// acknowledged without reapplying.
type ProcessedEvent struct {
	EventID     string     `json:"event_id" db:"event_id"`
	EventType   string     `json:"event_type" db:"event_type"`
	TenantID    *uuid.UUID `json:"tenant_id,omitempty" db:"tenant_id"`
	ProcessedAt time.Time  `json:"processed_at" db:"processed_at"`
}
