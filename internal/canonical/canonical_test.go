package canonical

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize_SortsKeys(t *testing.T) {
	a, err := Canonicalize(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	b, err := Canonicalize(map[string]any{"c": 3, "a": 2, "b": 1})
	require.NoError(t, err)

	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(a))
	assert.Equal(t, a, b)
}

func TestCanonicalize_NoWhitespace(t *testing.T) {
	out, err := Canonicalize(map[string]any{
		"list": []any{1, "two", true, nil},
		"obj":  map[string]any{"x": "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":[1,"two",true,null],"obj":{"x":"y"}}`, string(out))
}

func TestCanonicalize_WholeFloatsAsIntegers(t *testing.T) {
	out, err := Canonicalize(map[string]any{"n": float64(42), "f": 1.5})
	require.NoError(t, err)
	assert.Equal(t, `{"f":1.5,"n":42}`, string(out))
}

func TestCanonicalize_NoASCIIEscaping(t *testing.T) {
	out, err := Canonicalize(map[string]any{"msg": "héllo <&> 한국"})
	require.NoError(t, err)
	assert.Equal(t, `{"msg":"héllo <&> 한국"}`, string(out))
}

func TestCanonicalize_ControlCharEscapes(t *testing.T) {
	out, err := Canonicalize("line1\nline2\ttab\x01")
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\ttab\u0001"`, string(out))
}

func TestCanonicalize_Struct(t *testing.T) {
	type payload struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	out, err := Canonicalize(payload{B: "x", A: 7})
	require.NoError(t, err)
	assert.Equal(t, `{"a":7,"b":"x"}`, string(out))
}

func TestCanonicalize_NonFiniteRejected(t *testing.T) {
	_, err := Canonicalize(map[string]any{"bad": math.Inf(1)})
	assert.Error(t, err)
}

func TestDigest_Deterministic(t *testing.T) {
	d1, err := Digest(map[string]any{"a": 1, "b": "two"})
	require.NoError(t, err)
	d2, err := Digest(map[string]any{"b": "two", "a": 1})
	require.NoError(t, err)

	assert.Equal(t, d1, d2)
	assert.True(t, IsHexDigest(d1))
}

func TestDigest_ContentSensitive(t *testing.T) {
	d1, err := Digest(map[string]any{"a": 1})
	require.NoError(t, err)
	d2, err := Digest(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestDigestBytes_KnownVector(t *testing.T) {
	// SHA-256 of the empty string
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		DigestBytes(nil))
}

func TestIsHexDigest(t *testing.T) {
	assert.True(t, IsHexDigest(ZeroDigest))
	assert.False(t, IsHexDigest("ABC"))
	assert.False(t, IsHexDigest(ZeroDigest+"0"))
	assert.False(t, IsHexDigest("G"+ZeroDigest[1:]))
}
