package secrets

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	blob, err := c.Seal("gotify://push.example.com/AbCdEf123")
	require.NoError(t, err)

	got, err := c.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, "gotify://push.example.com/AbCdEf123", got)
}

func TestSealProducesFreshNonce(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	a, err := c.Seal("same")
	require.NoError(t, err)
	b, err := c.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenRejectsTamperedBlob(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	blob, err := c.Seal("ntfy://topic")
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xff

	_, err = c.Open(blob)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestOpenRejectsTruncatedBlob(t *testing.T) {
	c, err := NewCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)

	_, err = c.Open([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestNewCipherRejectsBadKey(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	require.Error(t, err)
}
