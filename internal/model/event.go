package model

import (
	"encoding/json"
	"time"
)

// ChainEvent is one record of an entity's hash-chained, append-only event
// log. The same shape backs session_events and group_events; EntityID is
// the session_id or group_id depending on which ledger produced it.
type ChainEvent struct {
	EntityID   string          `db:"entity_id" json:"entityId"`
	Seq        int64           `db:"seq" json:"seq"`
	PrevDigest *string         `db:"prev_digest" json:"prevDigest,omitempty"`
	Digest     string          `db:"digest" json:"digest"`
	EventJSON  json.RawMessage `db:"event_json" json:"eventJson"`
	Ts         time.Time       `db:"ts" json:"ts"`
	ActorID    string          `db:"actor_id" json:"actorId"`
	TargetID   *string         `db:"target_id" json:"targetId,omitempty"`
}
