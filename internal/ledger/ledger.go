// Package ledger implements the generic append-only hash-chain event log.
// One Ledger is instantiated per entity kind (sessions, groups); both share
// the genesis rule, sequence contiguity, and prev-digest linking.
package ledger

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/talosprotocol/a2a-relay-go/internal/canonical"
	"github.com/talosprotocol/a2a-relay-go/internal/database"
	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
	"github.com/talosprotocol/a2a-relay-go/internal/model"
	"github.com/talosprotocol/a2a-relay-go/internal/util"
)

const schemaVersion = "v1"

type Ledger struct {
	table    string
	idColumn string
	schemaID string

	now   func() time.Time
	newID func() string
}

// NewSessionLedger returns the ledger over session_events.
func NewSessionLedger() *Ledger {
	return newLedger("session_events", "session_id", "talos.a2a.session_event")
}

// NewGroupLedger returns the ledger over group_events.
func NewGroupLedger() *Ledger {
	return newLedger("group_events", "group_id", "talos.a2a.group_event")
}

func newLedger(table, idColumn, schemaID string) *Ledger {
	return &Ledger{
		table:    table,
		idColumn: idColumn,
		schemaID: schemaID,
		now:      time.Now,
		newID:    util.NewID,
	}
}

// WithClock overrides the time source. Intended for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithIDGenerator overrides the event_id source. Intended for tests.
func (l *Ledger) WithIDGenerator(newID func() string) *Ledger {
	l.newID = newID
	return l
}

type AppendParams struct {
	EntityID  string
	EventType string
	ActorID   string
	TargetID  *string

	// ExpectedPrevDigest, when set, must equal the current chain head
	// (canonical.ZeroDigest for an empty chain) or the append fails with
	// CHAIN_CAS_CONFLICT. The entity lock already serializes writers; this
	// is a second line of defense.
	ExpectedPrevDigest *string
}

// Append writes the next event of the entity's chain inside the caller's
// transaction. Genesis events get seq 0 and a NULL stored prev_digest; every
// later event links to its predecessor's digest. Append never updates or
// deletes; it is purely additive.
func (l *Ledger) Append(ctx context.Context, q database.DBTX, p AppendParams) (*model.ChainEvent, error) {
	last, err := l.Last(ctx, q, p.EntityID)
	if err != nil {
		return nil, err
	}

	var seq int64
	var prevDigest *string
	lastDigest := canonical.ZeroDigest
	if last != nil {
		seq = last.Seq + 1
		prevDigest = &last.Digest
		lastDigest = last.Digest
	}

	if p.ExpectedPrevDigest != nil && *p.ExpectedPrevDigest != lastDigest {
		return nil, apperrors.ChainCASConflict()
	}

	ts := l.now().UTC()
	payload := map[string]any{
		"schema_id":      l.schemaID,
		"schema_version": schemaVersion,
		"event_id":       l.newID(),
		l.idColumn:       p.EntityID,
		"actor_id":       p.ActorID,
		"event_type":     p.EventType,
		"ts":             ts.Format(time.RFC3339Nano),
	}
	if p.TargetID != nil {
		payload["target_id"] = *p.TargetID
	}
	if prevDigest != nil {
		payload["previous_digest"] = *prevDigest
	}

	digest, err := canonical.Digest(payload)
	if err != nil {
		return nil, fmt.Errorf("digest event payload: %w", err)
	}
	payload["event_digest"] = digest

	eventJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	var event model.ChainEvent
	query := fmt.Sprintf(`
		INSERT INTO %s (%s, seq, prev_digest, digest, event_json, ts, actor_id, target_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING %s AS entity_id, seq, prev_digest, digest, event_json, ts, actor_id, target_id
	`, l.table, l.idColumn, l.idColumn)
	err = q.GetContext(ctx, &event, query,
		p.EntityID, seq, prevDigest, digest, eventJSON, ts, p.ActorID, p.TargetID)
	if err != nil {
		return nil, fmt.Errorf("insert %s event: %w", l.idColumn, err)
	}
	return &event, nil
}

// Last returns the event with the highest seq for the entity, or nil when
// the chain is empty.
func (l *Ledger) Last(ctx context.Context, q database.DBTX, entityID string) (*model.ChainEvent, error) {
	var event model.ChainEvent
	query := fmt.Sprintf(`
		SELECT %s AS entity_id, seq, prev_digest, digest, event_json, ts, actor_id, target_id
		FROM %s
		WHERE %s = $1
		ORDER BY seq DESC
		LIMIT 1
	`, l.idColumn, l.table, l.idColumn)
	err := q.GetContext(ctx, &event, query, entityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// List returns the entity's full chain ordered by seq.
func (l *Ledger) List(ctx context.Context, q database.DBTX, entityID string) ([]model.ChainEvent, error) {
	var events []model.ChainEvent
	query := fmt.Sprintf(`
		SELECT %s AS entity_id, seq, prev_digest, digest, event_json, ts, actor_id, target_id
		FROM %s
		WHERE %s = $1
		ORDER BY seq ASC
	`, l.idColumn, l.table, l.idColumn)
	err := q.SelectContext(ctx, &events, query, entityID)
	return events, err
}

// Verify replays a chain and checks every invariant: contiguous seq from 0,
// prev-digest linkage (zero-digest at genesis), and each stored digest
// matching the recomputed canonical digest of its payload. Any violation is
// CHAIN_INTEGRITY: a bug or tampering, never silently repaired.
func (l *Ledger) Verify(events []model.ChainEvent) error {
	for i, event := range events {
		if event.Seq != int64(i) {
			return apperrors.ChainIntegrity(
				fmt.Sprintf("sequence gap: expected seq %d, found %d", i, event.Seq))
		}

		if i == 0 {
			if event.PrevDigest != nil && *event.PrevDigest != canonical.ZeroDigest {
				return apperrors.ChainIntegrity("genesis event has non-zero prev_digest")
			}
		} else {
			if event.PrevDigest == nil || *event.PrevDigest != events[i-1].Digest {
				return apperrors.ChainIntegrity(
					fmt.Sprintf("broken link at seq %d: prev_digest does not match predecessor", event.Seq))
			}
		}

		recomputed, err := RecomputeDigest(event.EventJSON)
		if err != nil {
			return apperrors.ChainIntegrity(
				fmt.Sprintf("undigestable payload at seq %d", event.Seq)).WithCause(err)
		}
		if recomputed != event.Digest {
			return apperrors.ChainIntegrity(
				fmt.Sprintf("digest mismatch at seq %d", event.Seq))
		}
	}
	return nil
}

// RecomputeDigest parses a stored event_json and recomputes the canonical
// digest over the payload excluding its embedded event_digest field.
func RecomputeDigest(eventJSON []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(eventJSON))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("decode event_json: %w", err)
	}
	delete(payload, "event_digest")
	return canonical.Digest(payload)
}
