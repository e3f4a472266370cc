package model

import (
	"time"
)

type Session struct {
	SessionID          string       `db:"session_id" json:"sessionId"`
	State              SessionState `db:"state" json:"state"`
	InitiatorID        string       `db:"initiator_id" json:"initiatorId"`
	ResponderID        string       `db:"responder_id" json:"responderId"`
	RatchetStateBlob   string       `db:"ratchet_state_blob" json:"ratchetStateBlob"`
	RatchetStateDigest string       `db:"ratchet_state_digest" json:"ratchetStateDigest"`
	ExpiresAt          *time.Time   `db:"expires_at" json:"expiresAt,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updatedAt"`
}

// IsParticipant reports whether principalID is the initiator or responder.
func (s *Session) IsParticipant(principalID string) bool {
	return principalID == s.InitiatorID || principalID == s.ResponderID
}

// IsExpired reports whether the session's expiry has passed at the given
// instant. Sessions without an expiry never expire.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && s.ExpiresAt.Before(now)
}

type CreateSessionParams struct {
	SessionID          string
	InitiatorID        string
	ResponderID        string
	RatchetStateBlob   string
	RatchetStateDigest string
	ExpiresAt          *time.Time
}

type UpdateRatchetParams struct {
	SessionID          string
	State              SessionState
	RatchetStateBlob   string
	RatchetStateDigest string
}
