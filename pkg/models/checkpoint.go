package models

import "time"

// Checkpoint is a snapshot tag returned by EventLog.Checkpoint, anchored to
// the last event id it covers. ReplayController rebuilds kernel state by
// starting from the nearest checkpoint at or before the requested event and
// replaying forward.
type Checkpoint struct {
	LastEventID uint64    `json:"last_event_id"`
	CreatedAt   time.Time `json:"created_at"`

	// Signature is the opaque handle handed back to callers (a signed JWT
	// in the default implementation). It is never parsed by EventLog
	// itself outside of verification.
	Signature string `json:"signature"`
}
