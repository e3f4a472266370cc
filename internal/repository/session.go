package repository

import (
	"context"

	"github.com/talosprotocol/a2a-relay-go/internal/database"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	UpdateRatchet(ctx context.Context, params model.UpdateRatchetParams) (*model.Session, error)
	SetState(ctx context.Context, id string, state model.SessionState) (*model.Session, error)
}

type sessionRepo struct {
	q database.DBTX
}

// NewSessionRepository returns a repository bound to q, which may be a
// connection pool or an open transaction.
func NewSessionRepository(q database.DBTX) SessionRepository {
	return &sessionRepo{q: q}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.q.GetContext(ctx, &session, `SELECT * FROM sessions WHERE session_id = $1`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.q.GetContext(ctx, &session, `
		INSERT INTO sessions
			(session_id, state, initiator_id, responder_id,
			 ratchet_state_blob, ratchet_state_digest, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.SessionID, model.SessionStatePending, params.InitiatorID, params.ResponderID,
		params.RatchetStateBlob, params.RatchetStateDigest, params.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateRatchet(ctx context.Context, params model.UpdateRatchetParams) (*model.Session, error) {
	var session model.Session
	err := r.q.GetContext(ctx, &session, `
		UPDATE sessions SET
			state = $2,
			ratchet_state_blob = $3,
			ratchet_state_digest = $4,
			updated_at = NOW()
		WHERE session_id = $1
		RETURNING *
	`, params.SessionID, params.State, params.RatchetStateBlob, params.RatchetStateDigest)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) SetState(ctx context.Context, id string, state model.SessionState) (*model.Session, error) {
	var session model.Session
	err := r.q.GetContext(ctx, &session, `
		UPDATE sessions SET
			state = $2,
			updated_at = NOW()
		WHERE session_id = $1
		RETURNING *
	`, id, state)
	if err != nil {
		return nil, err
	}
	return &session, nil
}
