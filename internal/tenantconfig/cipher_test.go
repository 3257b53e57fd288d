package tenantconfig

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *ChaChaCipher {
	t.Helper()
	c, err := NewChaChaCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)
	return c
}

func TestChaChaCipher_RoundTrip(t *testing.T) {
	c := testCipher(t)

	enc, err := c.Encrypt("ghp_secret")
	require.NoError(t, err)
	assert.NotContains(t, enc, "ghp_secret")

	again, err := c.Encrypt("ghp_secret")
	require.NoError(t, err)
	assert.NotEqual(t, enc, again, "nonces must differ")

	dec, err := c.Decrypt(enc)
	require.NoError(t, err)
	assert.Equal(t, "ghp_secret", dec)
}

func TestChaChaCipher_RejectsTampering(t *testing.T) {
	c := testCipher(t)
	enc, err := c.Encrypt("token")
	require.NoError(t, err)

	raw, _ := base64.StdEncoding.DecodeString(enc)
	raw[len(raw)-1] ^= 0xff
	_, err = c.Decrypt(base64.StdEncoding.EncodeToString(raw))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestChaChaCipher_WrongKey(t *testing.T) {
	enc, err := testCipher(t).Encrypt("token")
	require.NoError(t, err)

	other, err := NewChaChaCipher(bytes.Repeat([]byte{9}, 32))
	require.NoError(t, err)
	_, err = other.Decrypt(enc)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNewChaChaCipher_KeyLength(t *testing.T) {
	_, err := NewChaChaCipher([]byte("short"))
	assert.Error(t, err)

	key, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewChaChaCipherFromBase64(key)
	require.NoError(t, err)
	assert.NotNil(t, c)

	_, err = NewChaChaCipherFromBase64("%%%")
	assert.Error(t, err)
}
