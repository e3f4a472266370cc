package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase64URL_RoundTrip(t *testing.T) {
	data := []byte{0xfb, 0xff, 0x00, 0x01, 'a', 'b'}
	encoded := EncodeBase64URL(data)

	assert.NotContains(t, encoded, "=")
	assert.NotContains(t, encoded, "+")
	assert.NotContains(t, encoded, "/")

	decoded, err := DecodeBase64URL(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}

func TestDecodeBase64URL_ToleratesPadding(t *testing.T) {
	decoded, err := DecodeBase64URL("aGk=")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), decoded)
}

func TestDecodeBase64URL_RejectsStandardAlphabet(t *testing.T) {
	_, err := DecodeBase64URL("a+b/")
	assert.Error(t, err)
}

func TestIsBase64URL(t *testing.T) {
	assert.True(t, IsBase64URL("abc_DEF-123"))
	assert.False(t, IsBase64URL(""))
	assert.False(t, IsBase64URL("abc="))
	assert.False(t, IsBase64URL("a b"))
	assert.False(t, IsBase64URL("a+b"))
}

func TestNewID_Format(t *testing.T) {
	a, b := NewID(), NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
