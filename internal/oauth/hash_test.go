package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasherRoundTrip(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)

	res, err := h.Verify("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = h.Verify("wrong", hash)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}

func TestBcryptHasherSalted(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}

	h1, err := h.Hash("s3cret")
	require.NoError(t, err)
	h2, err := h.Hash("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestBcryptHasherNeedsRehash(t *testing.T) {
	weak := BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := weak.Hash("s3cret")
	require.NoError(t, err)

	strong := BcryptHasher{Cost: bcrypt.MinCost + 2}
	res, err := strong.Verify("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.True(t, res.NeedsRehash)

	res, err = weak.Verify("s3cret", hash)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.False(t, res.NeedsRehash)
}

func TestSHA256HasherDeterministic(t *testing.T) {
	h := SHA256Hasher{}

	h1, err := h.Hash("refresh-token-value")
	require.NoError(t, err)
	h2, err := h.Hash("refresh-token-value")
	require.NoError(t, err)

	// Determinism is the property that makes lookup-by-hash work.
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	res, err := h.Verify("refresh-token-value", h1)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	res, err = h.Verify("other", h1)
	require.NoError(t, err)
	assert.False(t, res.Valid)
}
