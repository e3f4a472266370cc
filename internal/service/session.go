package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/talosprotocol/a2a-relay-go/internal/canonical"
	"github.com/talosprotocol/a2a-relay-go/internal/database"
	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
	"github.com/talosprotocol/a2a-relay-go/internal/ledger"
	"github.com/talosprotocol/a2a-relay-go/internal/lock"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
	"github.com/talosprotocol/a2a-relay-go/internal/repository"
	"github.com/talosprotocol/a2a-relay-go/internal/util"
)

type CreateSessionParams struct {
	InitiatorID        string
	ResponderID        string
	RatchetStateBlob   string
	RatchetStateDigest string
	ExpiresAt          *time.Time
}

// SessionService owns the session state machine and its ratchet-state
// projection. Every mutation runs in one transaction: entity lock, load,
// validate, mutate, append ledger event; a failure in any step rolls back
// all of it.
type SessionService struct {
	db         *database.DB
	ledger     *ledger.Ledger
	defaultTTL time.Duration

	now   func() time.Time
	newID func() string
}

func NewSessionService(db *database.DB, sessionLedger *ledger.Ledger, defaultTTL time.Duration) *SessionService {
	return &SessionService{
		db:         db,
		ledger:     sessionLedger,
		defaultTTL: defaultTTL,
		now:        time.Now,
		newID:      util.NewID,
	}
}

func (s *SessionService) CreateSession(ctx context.Context, params CreateSessionParams) (*model.Session, error) {
	if params.InitiatorID == "" || params.ResponderID == "" {
		return nil, apperrors.ValidationError("initiator and responder are required")
	}
	if err := validateRatchet(params.RatchetStateBlob, params.RatchetStateDigest); err != nil {
		return nil, err
	}

	sessionID := s.newID()
	expiresAt := params.ExpiresAt
	if expiresAt == nil {
		t := s.now().Add(s.defaultTTL)
		expiresAt = &t
	}

	var session *model.Session
	// No entity lock: the id is fresh, no concurrent writer can exist yet.
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		session, err = repository.NewSessionRepository(tx).Create(ctx, model.CreateSessionParams{
			SessionID:          sessionID,
			InitiatorID:        params.InitiatorID,
			ResponderID:        params.ResponderID,
			RatchetStateBlob:   params.RatchetStateBlob,
			RatchetStateDigest: params.RatchetStateDigest,
			ExpiresAt:          expiresAt,
		})
		if err != nil {
			return apperrors.Database(err)
		}

		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  sessionID,
			EventType: string(model.EventSessionOpened),
			ActorID:   params.InitiatorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", session.SessionID).
		Str("initiatorId", session.InitiatorID).
		Str("responderId", session.ResponderID).
		Msg("session created")

	return session, nil
}

func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	session, err := repository.NewSessionRepository(s.db.DB).FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	return session, nil
}

func (s *SessionService) AcceptSession(ctx context.Context, sessionID, callerID, ratchetBlob, ratchetDigest string) (*model.Session, error) {
	if err := validateRatchet(ratchetBlob, ratchetDigest); err != nil {
		return nil, err
	}

	var updated *model.Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		session, err := s.loadLocked(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		if callerID != session.ResponderID {
			return apperrors.PermissionDenied("Not the designated responder")
		}
		if session.State != model.SessionStatePending {
			return apperrors.SessionStateInvalid(string(session.State), "active")
		}
		if session.IsExpired(s.now()) {
			return apperrors.SessionExpired(sessionID)
		}

		updated, err = repository.NewSessionRepository(tx).UpdateRatchet(ctx, model.UpdateRatchetParams{
			SessionID:          sessionID,
			State:              model.SessionStateActive,
			RatchetStateBlob:   ratchetBlob,
			RatchetStateDigest: ratchetDigest,
		})
		if err != nil {
			return apperrors.Database(err)
		}

		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  sessionID,
			EventType: string(model.EventSessionAccepted),
			ActorID:   callerID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("sessionId", sessionID).Str("responderId", callerID).Msg("session accepted")
	return updated, nil
}

func (s *SessionService) RotateSession(ctx context.Context, sessionID, callerID, ratchetBlob, ratchetDigest string) (*model.Session, error) {
	if err := validateRatchet(ratchetBlob, ratchetDigest); err != nil {
		return nil, err
	}

	var updated *model.Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		session, err := s.loadLocked(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		if !session.IsParticipant(callerID) {
			return apperrors.PermissionDenied("Not a session participant")
		}
		if session.State != model.SessionStateActive {
			return apperrors.SessionStateInvalid(string(session.State), "rotate")
		}
		if session.IsExpired(s.now()) {
			return apperrors.SessionExpired(sessionID)
		}

		updated, err = repository.NewSessionRepository(tx).UpdateRatchet(ctx, model.UpdateRatchetParams{
			SessionID:          sessionID,
			State:              model.SessionStateActive,
			RatchetStateBlob:   ratchetBlob,
			RatchetStateDigest: ratchetDigest,
		})
		if err != nil {
			return apperrors.Database(err)
		}

		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  sessionID,
			EventType: string(model.EventSessionRotated),
			ActorID:   callerID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("sessionId", sessionID).Str("actorId", callerID).Msg("session ratchet rotated")
	return updated, nil
}

func (s *SessionService) CloseSession(ctx context.Context, sessionID, callerID string) (*model.Session, error) {
	var updated *model.Session
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		session, err := s.loadLocked(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		// Closing a closed session is a no-op, not an error.
		if session.State == model.SessionStateClosed {
			updated = session
			return nil
		}

		if !session.IsParticipant(callerID) {
			return apperrors.PermissionDenied("Not a session participant")
		}

		updated, err = repository.NewSessionRepository(tx).SetState(ctx, sessionID, model.SessionStateClosed)
		if err != nil {
			return apperrors.Database(err)
		}

		_, err = s.ledger.Append(ctx, tx, ledger.AppendParams{
			EntityID:  sessionID,
			EventType: string(model.EventSessionClosed),
			ActorID:   callerID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("sessionId", sessionID).Str("actorId", callerID).Msg("session closed")
	return updated, nil
}

// ListSessionEvents returns the session's full event chain in seq order.
func (s *SessionService) ListSessionEvents(ctx context.Context, sessionID string) ([]model.ChainEvent, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	events, err := s.ledger.List(ctx, s.db.DB, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return events, nil
}

// VerifySessionChain replays the session's event chain and checks digests,
// linkage and sequence contiguity. Intended for operator diagnostics; a
// failure means a bug or tampering and is surfaced as CHAIN_INTEGRITY.
func (s *SessionService) VerifySessionChain(ctx context.Context, sessionID string) error {
	events, err := s.ListSessionEvents(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.ledger.Verify(events)
}

func (s *SessionService) loadLocked(ctx context.Context, tx *sqlx.Tx, sessionID string) (*model.Session, error) {
	if err := lock.TryAcquire(ctx, tx, lock.NamespaceSession, sessionID); err != nil {
		return nil, err
	}
	session, err := repository.NewSessionRepository(tx).FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if session == nil {
		return nil, apperrors.SessionNotFound(sessionID)
	}
	return session, nil
}

func validateRatchet(blob, digest string) error {
	if !util.IsBase64URL(blob) {
		return apperrors.InvalidEncoding("ratchet_state_blob")
	}
	if !canonical.IsHexDigest(digest) {
		return apperrors.ValidationError("ratchet_state_digest must be 64 lowercase hex chars")
	}
	return nil
}
