package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey_Deterministic(t *testing.T) {
	assert.Equal(t, Key(NamespaceSession, "abc"), Key(NamespaceSession, "abc"))
}

func TestKey_NamespacesDiverge(t *testing.T) {
	// A session and a group with the same id must never share a lock key.
	assert.NotEqual(t, Key(NamespaceSession, "abc"), Key(NamespaceGroup, "abc"))
}

func TestKey_IDsDiverge(t *testing.T) {
	assert.NotEqual(t, Key(NamespaceSession, "a"), Key(NamespaceSession, "b"))
}

func TestKey_NonNegative(t *testing.T) {
	// 60-bit keys always fit in a positive int64.
	for _, id := range []string{"", "x", "session-1", "ffffffff"} {
		assert.GreaterOrEqual(t, Key(NamespaceSession, id), int64(0))
	}
}
