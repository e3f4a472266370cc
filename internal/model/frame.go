package model

import (
	"time"
)

const (
	FrameSchemaID      = "talos.a2a.encrypted_frame"
	FrameSchemaVersion = "v1"
)

// Frame is an encrypted message addressed to a session. Frames are
// immutable and append-only; (session_id, sender_id, sender_seq) is
// globally unique and a duplicate insert is the replay signal.
type Frame struct {
	SessionID      string    `db:"session_id" json:"sessionId"`
	SenderID       string    `db:"sender_id" json:"senderId"`
	SenderSeq      int64     `db:"sender_seq" json:"senderSeq"`
	RecipientID    string    `db:"recipient_id" json:"recipientId"`
	FrameDigest    string    `db:"frame_digest" json:"frameDigest"`
	CiphertextHash string    `db:"ciphertext_hash" json:"ciphertextHash"`
	HeaderB64U     string    `db:"header_b64u" json:"headerB64u"`
	CiphertextB64U string    `db:"ciphertext_b64u" json:"ciphertextB64u"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// DigestPreimage returns the canonical preimage over which frame_digest is
// computed. The ciphertext itself is covered indirectly via ciphertext_hash.
func (f *Frame) DigestPreimage() map[string]any {
	return map[string]any{
		"schema_id":       FrameSchemaID,
		"schema_version":  FrameSchemaVersion,
		"session_id":      f.SessionID,
		"sender_id":       f.SenderID,
		"sender_seq":      f.SenderSeq,
		"header_b64u":     f.HeaderB64U,
		"ciphertext_hash": f.CiphertextHash,
	}
}
