package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	c, err := NewCodec([]byte("test-secret"))
	require.NoError(t, err)

	positions := [][]byte{
		[]byte("idea#01HXYZ"),
		[]byte(""),
		[]byte(`{"last_key":"comment#42","filter":"yes"}`),
	}
	for _, pos := range positions {
		token, err := c.Encode("scope-a", pos)
		require.NoError(t, err)

		got, err := c.Decode("scope-a", token)
		require.NoError(t, err)
		assert.Equal(t, pos, got)
	}
}

func TestCodec_Opaque(t *testing.T) {
	c, err := NewCodec([]byte("test-secret"))
	require.NoError(t, err)

	token, err := c.Encode("scope-a", []byte("idea#01HXYZ"))
	require.NoError(t, err)
	assert.NotContains(t, token, "idea")

	// Same position encodes to a different token each time (random nonce).
	token2, err := c.Encode("scope-a", []byte("idea#01HXYZ"))
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)
}

func TestCodec_RejectsWrongSecret(t *testing.T) {
	a, err := NewCodec([]byte("secret-a"))
	require.NoError(t, err)
	b, err := NewCodec([]byte("secret-b"))
	require.NoError(t, err)

	token, err := a.Encode("scope-a", []byte("pos"))
	require.NoError(t, err)

	_, err = b.Decode("scope-a", token)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCodec_RejectsWrongScope(t *testing.T) {
	c, err := NewCodec([]byte("test-secret"))
	require.NoError(t, err)

	token, err := c.Encode("scope-a", []byte("pos"))
	require.NoError(t, err)

	_, err = c.Decode("scope-b", token)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCodec_RejectsTampering(t *testing.T) {
	c, err := NewCodec([]byte("test-secret"))
	require.NoError(t, err)

	token, err := c.Encode("scope-a", []byte("pos"))
	require.NoError(t, err)

	tampered := []byte(token)
	tampered[len(tampered)-1] ^= 'x'
	_, err = c.Decode("scope-a", string(tampered))
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestCodec_RejectsMalformed(t *testing.T) {
	c, err := NewCodec([]byte("test-secret"))
	require.NoError(t, err)

	for _, token := range []string{"", "!!!not-base64!!!", "c2hvcnQ"} {
		_, err := c.Decode("scope-a", token)
		assert.ErrorIs(t, err, ErrInvalidCursor, "token %q", token)
	}
}

func TestNewCodec_EmptySecret(t *testing.T) {
	_, err := NewCodec(nil)
	assert.Error(t, err)
}
