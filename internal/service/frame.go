package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/talosprotocol/a2a-relay-go/internal/canonical"
	"github.com/talosprotocol/a2a-relay-go/internal/database"
	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
	"github.com/talosprotocol/a2a-relay-go/internal/notify"
	"github.com/talosprotocol/a2a-relay-go/internal/repository"
	"github.com/talosprotocol/a2a-relay-go/internal/util"
)

const (
	DefaultMaxFrameBytes = 1 << 20 // ciphertext, decoded
	DefaultMaxSeqJump    = 1024
	DefaultListLimit     = 100
	MaxListLimit         = 1000
)

type StoreFrameParams struct {
	SessionID      string
	SenderID       string
	SenderSeq      int64
	RecipientID    string
	FrameDigest    string
	CiphertextHash string
	HeaderB64U     string
	CiphertextB64U string
}

type ListFramesParams struct {
	SessionID   string
	RecipientID string
	Limit       int
	Cursor      string
	Consistency model.Consistency
}

type ListFramesResult struct {
	Frames     []model.Frame
	NextCursor string
}

// FrameService stores and serves encrypted frames. It never inspects
// plaintext: validation covers encoding, size, and the two digests that
// bind ciphertext to the frame metadata.
type FrameService struct {
	writeDB *database.DB
	readDB  *database.DB
	broker  *notify.Broker

	maxFrameBytes int
	maxSeqJump    int64
}

// NewFrameService wires the service. readDB may equal writeDB when no
// replica is configured; broker may be nil.
func NewFrameService(writeDB, readDB *database.DB, broker *notify.Broker) *FrameService {
	return &FrameService{
		writeDB:       writeDB,
		readDB:        readDB,
		broker:        broker,
		maxFrameBytes: DefaultMaxFrameBytes,
		maxSeqJump:    DefaultMaxSeqJump,
	}
}

func (s *FrameService) WithLimits(maxFrameBytes int, maxSeqJump int64) *FrameService {
	s.maxFrameBytes = maxFrameBytes
	s.maxSeqJump = maxSeqJump
	return s
}

func (s *FrameService) StoreFrame(ctx context.Context, params StoreFrameParams) (*model.Frame, error) {
	frame := &model.Frame{
		SessionID:      params.SessionID,
		SenderID:       params.SenderID,
		SenderSeq:      params.SenderSeq,
		RecipientID:    params.RecipientID,
		FrameDigest:    params.FrameDigest,
		CiphertextHash: params.CiphertextHash,
		HeaderB64U:     params.HeaderB64U,
		CiphertextB64U: params.CiphertextB64U,
	}
	if err := s.verifyFrame(frame); err != nil {
		return nil, err
	}

	// No entity lock here: frame writes must not contend with session
	// mutations, and the primary key already serializes duplicates.
	var stored *model.Frame
	err := s.writeDB.WithTx(ctx, func(tx *sqlx.Tx) error {
		session, err := repository.NewSessionRepository(tx).FindByID(ctx, frame.SessionID)
		if err != nil {
			return apperrors.Database(err)
		}
		if session == nil {
			return apperrors.SessionNotFound(frame.SessionID)
		}
		// Pending sessions accept frames: the initiator may send before
		// the responder accepts. Closed sessions never do.
		if session.State == model.SessionStateClosed {
			return apperrors.SessionStateInvalid(string(session.State), "store_frame")
		}
		if !session.IsParticipant(frame.SenderID) || !session.IsParticipant(frame.RecipientID) {
			return apperrors.PermissionDenied("Sender and recipient must be session participants")
		}

		frames := repository.NewFrameRepository(tx)

		existing, err := frames.Find(ctx, frame.SessionID, frame.SenderID, frame.SenderSeq)
		if err != nil {
			return apperrors.Database(err)
		}
		if existing != nil {
			return apperrors.FrameReplayDetected()
		}

		lastSeq, err := frames.MaxSenderSeq(ctx, frame.SessionID, frame.SenderID)
		if err != nil {
			return apperrors.Database(err)
		}
		if frame.SenderSeq > lastSeq+s.maxSeqJump {
			return apperrors.FrameSequenceTooFar(frame.SenderSeq, lastSeq)
		}

		stored, err = frames.Insert(ctx, frame)
		if err != nil {
			// The primary key is the final arbiter: two concurrent
			// inserts of the same (session, sender, seq) race past the
			// pre-check and one loses here.
			if repository.IsUniqueViolation(err) {
				return apperrors.FrameReplayDetected()
			}
			return apperrors.Database(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Notify only after commit so subscribers never see a frame that
	// rolled back.
	if s.broker != nil {
		if err := s.broker.PublishFrameStored(ctx, stored.RecipientID, notify.FrameStored{
			SessionID: stored.SessionID,
			SenderID:  stored.SenderID,
			SenderSeq: stored.SenderSeq,
		}); err != nil {
			log.Warn().Err(err).
				Str("sessionId", stored.SessionID).
				Str("recipientId", stored.RecipientID).
				Msg("failed to publish frame notification")
		}
	}

	log.Debug().
		Str("sessionId", stored.SessionID).
		Str("senderId", stored.SenderID).
		Int64("senderSeq", stored.SenderSeq).
		Msg("frame stored")

	return stored, nil
}

func (s *FrameService) ListFrames(ctx context.Context, params ListFramesParams) (*ListFramesResult, error) {
	if params.SessionID == "" || params.RecipientID == "" {
		return nil, apperrors.ValidationError("session_id and recipient_id are required")
	}

	limit := params.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	db := s.writeDB
	if params.Consistency == model.ConsistencyEventual && s.readDB != nil {
		db = s.readDB
	}

	query := repository.ListFramesQuery{
		SessionID:   params.SessionID,
		RecipientID: params.RecipientID,
		Limit:       limit,
	}
	// An unparseable cursor restarts from the beginning rather than
	// failing the read.
	if cur, ok := decodeCursor(params.Cursor); ok {
		query.HasCursor = true
		query.AfterCreatedAt = cur.createdAt
		query.AfterSenderID = cur.senderID
		query.AfterSenderSeq = cur.senderSeq
	}

	frames, err := repository.NewFrameRepository(db.DB).ListByRecipient(ctx, query)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	result := &ListFramesResult{Frames: frames}
	if len(frames) == limit {
		last := frames[len(frames)-1]
		result.NextCursor = encodeCursor(last.CreatedAt, last.SenderID, last.SenderSeq)
	}
	return result, nil
}

// verifyFrame checks everything that can be checked without the database.
func (s *FrameService) verifyFrame(f *model.Frame) error {
	if f.SessionID == "" || f.SenderID == "" || f.RecipientID == "" {
		return apperrors.ValidationError("session_id, sender_id and recipient_id are required")
	}
	if f.SenderSeq < 0 {
		return apperrors.ValidationError("sender_seq must be non-negative")
	}
	if !canonical.IsHexDigest(f.FrameDigest) {
		return apperrors.ValidationError("frame_digest must be 64 lowercase hex chars")
	}
	if !canonical.IsHexDigest(f.CiphertextHash) {
		return apperrors.ValidationError("ciphertext_hash must be 64 lowercase hex chars")
	}
	if !util.IsBase64URL(f.HeaderB64U) {
		return apperrors.InvalidEncoding("header_b64u")
	}

	ciphertext, err := util.DecodeBase64URL(f.CiphertextB64U)
	if err != nil {
		return apperrors.InvalidEncoding("ciphertext_b64u")
	}
	if len(ciphertext) > s.maxFrameBytes {
		return apperrors.FrameTooLarge(len(ciphertext), s.maxFrameBytes)
	}
	if canonical.DigestBytes(ciphertext) != f.CiphertextHash {
		return apperrors.FrameCiphertextHashMismatch()
	}

	digest, err := canonical.Digest(f.DigestPreimage())
	if err != nil {
		return apperrors.Internal("failed to canonicalize frame preimage").WithCause(err)
	}
	if digest != f.FrameDigest {
		return apperrors.FrameDigestMismatch()
	}
	return nil
}

type frameCursor struct {
	createdAt time.Time
	senderID  string
	senderSeq int64
}

func encodeCursor(createdAt time.Time, senderID string, senderSeq int64) string {
	raw := fmt.Sprintf("%s|%s|%d", createdAt.UTC().Format(time.RFC3339Nano), senderID, senderSeq)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (frameCursor, bool) {
	if cursor == "" {
		return frameCursor{}, false
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return frameCursor{}, false
	}
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return frameCursor{}, false
	}
	createdAt, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return frameCursor{}, false
	}
	senderSeq, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || parts[1] == "" {
		return frameCursor{}, false
	}
	return frameCursor{createdAt: createdAt, senderID: parts[1], senderSeq: senderSeq}, true
}
