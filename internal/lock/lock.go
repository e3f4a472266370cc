// Package lock provides transaction-scoped, non-blocking mutual exclusion
// keyed by entity identity. The key derivation, not the Postgres primitive,
// is the contract: first 60 bits of SHA-256 over "<namespace>:<id>",
// interpreted as a signed 64-bit integer.
package lock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/talosprotocol/a2a-relay-go/internal/database"
	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
)

// Namespaces keep the session and group ledgers from colliding on lock keys
// even when a session and a group share an id.
const (
	NamespaceSession = "session"
	NamespaceGroup   = "group"
)

// Key derives the deterministic advisory-lock key for an entity.
func Key(namespace, id string) int64 {
	sum := sha256.Sum256([]byte(namespace + ":" + id))
	// 15 hex chars = 60 bits, always within int64 range.
	key, _ := strconv.ParseInt(hex.EncodeToString(sum[:])[:15], 16, 64)
	return key
}

// TryAcquire attempts to take the advisory lock for the entity inside the
// given transaction. It never waits: if another transaction holds the lock
// the caller gets LOCK_CONTENTION immediately and decides whether to retry.
// The lock is released when the transaction commits or rolls back.
func TryAcquire(ctx context.Context, tx database.DBTX, namespace, id string) error {
	var acquired bool
	err := tx.GetContext(ctx, &acquired, `SELECT pg_try_advisory_xact_lock($1)`, Key(namespace, id))
	if err != nil {
		return fmt.Errorf("acquire entity lock: %w", err)
	}
	if !acquired {
		return apperrors.LockContention(namespace, id)
	}
	return nil
}
