package service

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talosprotocol/a2a-relay-go/internal/canonical"
	"github.com/talosprotocol/a2a-relay-go/internal/database"
	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
	"github.com/talosprotocol/a2a-relay-go/internal/ledger"
	"github.com/talosprotocol/a2a-relay-go/internal/lock"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
	"github.com/talosprotocol/a2a-relay-go/internal/util"
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := database.Connect(url)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(context.Background(), db))
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServices(t *testing.T) (*SessionService, *FrameService, *GroupService) {
	t.Helper()
	db := setupTestDB(t)
	sessions := NewSessionService(db, ledger.NewSessionLedger(), 24*time.Hour)
	frames := NewFrameService(db, db, nil)
	groups := NewGroupService(db, ledger.NewGroupLedger())
	return sessions, frames, groups
}

func testRatchet(content string) (blob, digest string) {
	return util.EncodeBase64URL([]byte(content)), canonical.DigestBytes([]byte(content))
}

func TestSessionLifecycle(t *testing.T) {
	sessions, _, _ := newTestServices(t)
	ctx := context.Background()

	blob, digest := testRatchet("initiator ratchet")
	session, err := sessions.CreateSession(ctx, CreateSessionParams{
		InitiatorID:        "alice",
		ResponderID:        "bob",
		RatchetStateBlob:   blob,
		RatchetStateDigest: digest,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatePending, session.State)
	require.NotNil(t, session.ExpiresAt)

	// Only the designated responder may accept.
	blob2, digest2 := testRatchet("responder ratchet")
	_, err = sessions.AcceptSession(ctx, session.SessionID, "alice", blob2, digest2)
	assert.Equal(t, apperrors.ErrCodePermissionDenied, apperrors.GetCode(err))

	accepted, err := sessions.AcceptSession(ctx, session.SessionID, "bob", blob2, digest2)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateActive, accepted.State)
	assert.Equal(t, digest2, accepted.RatchetStateDigest)

	// Accepting twice is a state error, not idempotent.
	_, err = sessions.AcceptSession(ctx, session.SessionID, "bob", blob2, digest2)
	assert.Equal(t, apperrors.ErrCodeSessionStateInvalid, apperrors.GetCode(err))

	blob3, digest3 := testRatchet("rotated ratchet")
	rotated, err := sessions.RotateSession(ctx, session.SessionID, "alice", blob3, digest3)
	require.NoError(t, err)
	assert.Equal(t, digest3, rotated.RatchetStateDigest)

	_, err = sessions.RotateSession(ctx, session.SessionID, "mallory", blob3, digest3)
	assert.Equal(t, apperrors.ErrCodePermissionDenied, apperrors.GetCode(err))

	closed, err := sessions.CloseSession(ctx, session.SessionID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateClosed, closed.State)

	// Close is idempotent.
	again, err := sessions.CloseSession(ctx, session.SessionID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateClosed, again.State)

	events, err := sessions.ListSessionEvents(ctx, session.SessionID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, int64(0), events[0].Seq)
	assert.Nil(t, events[0].PrevDigest)
	assert.NoError(t, sessions.VerifySessionChain(ctx, session.SessionID))
}

func TestSessionNotFound(t *testing.T) {
	sessions, _, _ := newTestServices(t)
	ctx := context.Background()

	_, err := sessions.GetSession(ctx, "nope")
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))

	_, err = sessions.CloseSession(ctx, "nope", "alice")
	assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))
}

func storeTestFrame(t *testing.T, frames *FrameService, sessionID, sender, recipient string, seq int64, content string) (*model.Frame, error) {
	t.Helper()

	ciphertext := []byte(content)
	frame := &model.Frame{
		SessionID:      sessionID,
		SenderID:       sender,
		SenderSeq:      seq,
		RecipientID:    recipient,
		HeaderB64U:     util.EncodeBase64URL([]byte(`{"msg_num":0}`)),
		CiphertextB64U: util.EncodeBase64URL(ciphertext),
		CiphertextHash: canonical.DigestBytes(ciphertext),
	}
	digest, err := canonical.Digest(frame.DigestPreimage())
	require.NoError(t, err)

	return frames.StoreFrame(context.Background(), StoreFrameParams{
		SessionID:      frame.SessionID,
		SenderID:       frame.SenderID,
		SenderSeq:      frame.SenderSeq,
		RecipientID:    frame.RecipientID,
		FrameDigest:    digest,
		CiphertextHash: frame.CiphertextHash,
		HeaderB64U:     frame.HeaderB64U,
		CiphertextB64U: frame.CiphertextB64U,
	})
}

func TestStoreFrame_ReplayAndWindow(t *testing.T) {
	sessions, frames, _ := newTestServices(t)
	ctx := context.Background()

	blob, digest := testRatchet("r")
	session, err := sessions.CreateSession(ctx, CreateSessionParams{
		InitiatorID: "alice", ResponderID: "bob",
		RatchetStateBlob: blob, RatchetStateDigest: digest,
	})
	require.NoError(t, err)

	// Pending sessions accept frames.
	stored, err := storeTestFrame(t, frames, session.SessionID, "alice", "bob", 0, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stored.SenderSeq)

	// Same (sender, seq) again is a replay even with different ciphertext.
	_, err = storeTestFrame(t, frames, session.SessionID, "alice", "bob", 0, "different")
	assert.Equal(t, apperrors.ErrCodeFrameReplayDetected, apperrors.GetCode(err))

	// A jump past the window is rejected.
	_, err = storeTestFrame(t, frames, session.SessionID, "alice", "bob", 0+DefaultMaxSeqJump+1, "far")
	assert.Equal(t, apperrors.ErrCodeFrameSequenceTooFar, apperrors.GetCode(err))

	// Non-participants cannot send or receive.
	_, err = storeTestFrame(t, frames, session.SessionID, "mallory", "bob", 1, "x")
	assert.Equal(t, apperrors.ErrCodePermissionDenied, apperrors.GetCode(err))

	_, err = sessions.CloseSession(ctx, session.SessionID, "alice")
	require.NoError(t, err)

	_, err = storeTestFrame(t, frames, session.SessionID, "alice", "bob", 1, "late")
	assert.Equal(t, apperrors.ErrCodeSessionStateInvalid, apperrors.GetCode(err))
}

func TestListFrames_Pagination(t *testing.T) {
	sessions, frames, _ := newTestServices(t)
	ctx := context.Background()

	blob, digest := testRatchet("r")
	session, err := sessions.CreateSession(ctx, CreateSessionParams{
		InitiatorID: "alice", ResponderID: "bob",
		RatchetStateBlob: blob, RatchetStateDigest: digest,
	})
	require.NoError(t, err)

	for seq := int64(0); seq < 5; seq++ {
		_, err := storeTestFrame(t, frames, session.SessionID, "alice", "bob", seq, "payload")
		require.NoError(t, err)
	}

	page1, err := frames.ListFrames(ctx, ListFramesParams{
		SessionID: session.SessionID, RecipientID: "bob", Limit: 3,
	})
	require.NoError(t, err)
	require.Len(t, page1.Frames, 3)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := frames.ListFrames(ctx, ListFramesParams{
		SessionID: session.SessionID, RecipientID: "bob", Limit: 3, Cursor: page1.NextCursor,
	})
	require.NoError(t, err)
	require.Len(t, page2.Frames, 2)

	seen := make(map[int64]bool)
	for _, f := range append(page1.Frames, page2.Frames...) {
		seen[f.SenderSeq] = true
	}
	assert.Len(t, seen, 5)

	// A garbage cursor falls back to the start of the stream.
	fallback, err := frames.ListFrames(ctx, ListFramesParams{
		SessionID: session.SessionID, RecipientID: "bob", Limit: 3, Cursor: "garbage",
	})
	require.NoError(t, err)
	assert.Equal(t, page1.Frames[0].SenderSeq, fallback.Frames[0].SenderSeq)
}

func TestAcceptSession_LockContention(t *testing.T) {
	sessions, _, _ := newTestServices(t)
	db := sessions.db
	ctx := context.Background()

	blob, digest := testRatchet("initiator ratchet")
	session, err := sessions.CreateSession(ctx, CreateSessionParams{
		InitiatorID: "alice", ResponderID: "bob",
		RatchetStateBlob: blob, RatchetStateDigest: digest,
	})
	require.NoError(t, err)

	blob2, digest2 := testRatchet("responder ratchet")

	// Hold the session's advisory lock in an open transaction, standing in
	// for a racing writer mid-operation.
	holder, err := db.BeginTxx(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, lock.TryAcquire(ctx, holder, lock.NamespaceSession, session.SessionID))

	_, err = sessions.AcceptSession(ctx, session.SessionID, "bob", blob2, digest2)
	assert.Equal(t, apperrors.ErrCodeLockContention, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))

	// The loser committed nothing: no session_accepted event, still pending.
	current, err := sessions.GetSession(ctx, session.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatePending, current.State)

	require.NoError(t, holder.Rollback())

	// After the lock is released the retried accept succeeds, and the chain
	// carries exactly one session_accepted.
	_, err = sessions.AcceptSession(ctx, session.SessionID, "bob", blob2, digest2)
	require.NoError(t, err)

	_, err = sessions.AcceptSession(ctx, session.SessionID, "bob", blob2, digest2)
	assert.Equal(t, apperrors.ErrCodeSessionStateInvalid, apperrors.GetCode(err))

	events, err := sessions.ListSessionEvents(ctx, session.SessionID)
	require.NoError(t, err)
	accepted := 0
	for _, ev := range events {
		var payload struct {
			EventType string `json:"event_type"`
		}
		require.NoError(t, json.Unmarshal(ev.EventJSON, &payload))
		if payload.EventType == string(model.EventSessionAccepted) {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.NoError(t, sessions.VerifySessionChain(ctx, session.SessionID))
}

func TestGroupLifecycle(t *testing.T) {
	_, _, groups := newTestServices(t)
	ctx := context.Background()

	group, err := groups.CreateGroup(ctx, "owner", "ops team")
	require.NoError(t, err)
	assert.Equal(t, model.GroupStateActive, group.State)

	// Creation yields two chained events and the owner as sole member.
	events, err := groups.ListGroupEvents(ctx, group.GroupID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	members, err := groups.ListMembers(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, members)

	// Only the owner adds members.
	err = groups.AddMember(ctx, group.GroupID, "stranger", "alice")
	assert.Equal(t, apperrors.ErrCodeMemberNotAllowed, apperrors.GetCode(err))

	require.NoError(t, groups.AddMember(ctx, group.GroupID, "owner", "alice"))
	require.NoError(t, groups.AddMember(ctx, group.GroupID, "owner", "bob"))

	// Re-adding an existing member is a no-op: no new event appended.
	before, err := groups.ListGroupEvents(ctx, group.GroupID)
	require.NoError(t, err)
	require.NoError(t, groups.AddMember(ctx, group.GroupID, "owner", "alice"))
	after, err := groups.ListGroupEvents(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Len(t, after, len(before))

	members, err = groups.ListMembers(ctx, group.GroupID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "owner"}, members)

	// A member may remove themselves; a stranger may not remove others.
	err = groups.RemoveMember(ctx, group.GroupID, "bob", "alice")
	assert.Equal(t, apperrors.ErrCodeMemberNotAllowed, apperrors.GetCode(err))

	require.NoError(t, groups.RemoveMember(ctx, group.GroupID, "bob", "bob"))

	// The owner is never removable.
	err = groups.RemoveMember(ctx, group.GroupID, "owner", "owner")
	assert.Equal(t, apperrors.ErrCodeMemberNotAllowed, apperrors.GetCode(err))

	// Removing a non-member fails.
	err = groups.RemoveMember(ctx, group.GroupID, "owner", "carol")
	assert.Equal(t, apperrors.ErrCodeMemberNotAllowed, apperrors.GetCode(err))

	closed, err := groups.CloseGroup(ctx, group.GroupID, "owner")
	require.NoError(t, err)
	assert.Equal(t, model.GroupStateClosed, closed.State)

	// Close is idempotent; mutations after close fail.
	_, err = groups.CloseGroup(ctx, group.GroupID, "owner")
	require.NoError(t, err)

	err = groups.AddMember(ctx, group.GroupID, "owner", "dave")
	assert.Equal(t, apperrors.ErrCodeGroupStateInvalid, apperrors.GetCode(err))

	// State is checked before permission: a stranger acting on a closed
	// group sees the state error, not the membership one.
	err = groups.AddMember(ctx, group.GroupID, "stranger", "dave")
	assert.Equal(t, apperrors.ErrCodeGroupStateInvalid, apperrors.GetCode(err))

	err = groups.RemoveMember(ctx, group.GroupID, "stranger", "alice")
	assert.Equal(t, apperrors.ErrCodeGroupStateInvalid, apperrors.GetCode(err))

	assert.NoError(t, groups.VerifyGroupChain(ctx, group.GroupID))
}
