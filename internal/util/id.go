package util

import (
	"github.com/google/uuid"
)

// NewID returns a UUIDv7 string. The embedded millisecond timestamp keeps
// identifiers time-ordered, which the ledger relies on for event_id and the
// managers rely on for session_id/group_id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the random source does; fall back to v4
		// rather than propagate an error through every constructor.
		return uuid.NewString()
	}
	return id.String()
}
