package repository

import (
	"context"
	"time"

	"github.com/talosprotocol/a2a-relay-go/internal/database"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
)

type FrameRepository interface {
	Find(ctx context.Context, sessionID, senderID string, senderSeq int64) (*model.Frame, error)
	MaxSenderSeq(ctx context.Context, sessionID, senderID string) (int64, error)
	Insert(ctx context.Context, frame *model.Frame) (*model.Frame, error)
	ListByRecipient(ctx context.Context, params ListFramesQuery) ([]model.Frame, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ListFramesQuery filters frames for one recipient within a session,
// optionally resuming after a keyset position.
type ListFramesQuery struct {
	SessionID   string
	RecipientID string
	Limit       int

	// After* define the exclusive keyset cursor position; used only when
	// HasCursor is true.
	HasCursor      bool
	AfterCreatedAt time.Time
	AfterSenderID  string
	AfterSenderSeq int64
}

type frameRepo struct {
	q database.DBTX
}

func NewFrameRepository(q database.DBTX) FrameRepository {
	return &frameRepo{q: q}
}

func (r *frameRepo) Find(ctx context.Context, sessionID, senderID string, senderSeq int64) (*model.Frame, error) {
	var frame model.Frame
	err := r.q.GetContext(ctx, &frame, `
		SELECT * FROM frames
		WHERE session_id = $1 AND sender_id = $2 AND sender_seq = $3
	`, sessionID, senderID, senderSeq)
	return HandleNotFound(&frame, err)
}

// MaxSenderSeq returns the highest sender_seq stored for the sender in the
// session, or -1 when the sender has no frames yet.
func (r *frameRepo) MaxSenderSeq(ctx context.Context, sessionID, senderID string) (int64, error) {
	var maxSeq int64
	err := r.q.GetContext(ctx, &maxSeq, `
		SELECT COALESCE(MAX(sender_seq), -1) FROM frames
		WHERE session_id = $1 AND sender_id = $2
	`, sessionID, senderID)
	return maxSeq, err
}

func (r *frameRepo) Insert(ctx context.Context, frame *model.Frame) (*model.Frame, error) {
	var stored model.Frame
	err := r.q.GetContext(ctx, &stored, `
		INSERT INTO frames
			(session_id, sender_id, sender_seq, recipient_id,
			 frame_digest, ciphertext_hash, header_b64u, ciphertext_b64u)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, frame.SessionID, frame.SenderID, frame.SenderSeq, frame.RecipientID,
		frame.FrameDigest, frame.CiphertextHash, frame.HeaderB64U, frame.CiphertextB64U)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

func (r *frameRepo) ListByRecipient(ctx context.Context, params ListFramesQuery) ([]model.Frame, error) {
	var frames []model.Frame
	if params.HasCursor {
		err := r.q.SelectContext(ctx, &frames, `
			SELECT * FROM frames
			WHERE session_id = $1 AND recipient_id = $2
			AND (created_at, sender_id, sender_seq) > ($3, $4, $5)
			ORDER BY created_at ASC, sender_id ASC, sender_seq ASC
			LIMIT $6
		`, params.SessionID, params.RecipientID,
			params.AfterCreatedAt, params.AfterSenderID, params.AfterSenderSeq,
			params.Limit)
		return frames, err
	}
	err := r.q.SelectContext(ctx, &frames, `
		SELECT * FROM frames
		WHERE session_id = $1 AND recipient_id = $2
		ORDER BY created_at ASC, sender_id ASC, sender_seq ASC
		LIMIT $3
	`, params.SessionID, params.RecipientID, params.Limit)
	return frames, err
}

// DeleteOlderThan removes frames created before the cutoff whose session is
// closed. Used only by the retention job; the frame store itself never
// deletes.
func (r *frameRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.q.ExecContext(ctx, `
		DELETE FROM frames
		WHERE created_at < $1
		AND session_id IN (SELECT session_id FROM sessions WHERE state = 'closed')
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
