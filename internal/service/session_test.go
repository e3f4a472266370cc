package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talosprotocol/a2a-relay-go/internal/canonical"
	apperrors "github.com/talosprotocol/a2a-relay-go/internal/errors"
	"github.com/talosprotocol/a2a-relay-go/internal/util"
)

func TestValidateRatchet(t *testing.T) {
	blob := util.EncodeBase64URL([]byte("opaque ratchet state"))
	digest := canonical.DigestBytes([]byte("opaque ratchet state"))

	assert.NoError(t, validateRatchet(blob, digest))
}

func TestValidateRatchet_BadBlob(t *testing.T) {
	digest := canonical.DigestBytes([]byte("x"))

	err := validateRatchet("not base64url!", digest)
	assert.Equal(t, apperrors.ErrCodeInvalidEncoding, apperrors.GetCode(err))
}

func TestValidateRatchet_BadDigest(t *testing.T) {
	blob := util.EncodeBase64URL([]byte("x"))

	for _, digest := range []string{"", "abc", "ZZ" + canonical.ZeroDigest[2:]} {
		err := validateRatchet(blob, digest)
		assert.Equal(t, apperrors.ErrCodeValidation, apperrors.GetCode(err), "digest %q", digest)
	}
}
