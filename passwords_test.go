package authcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHasher(t *testing.T) {
	h := &BcryptHasher{Cost: bcrypt.MinCost}
	hash, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, h.Verify("correct horse", hash))
	assert.False(t, h.Verify("wrong horse", hash))
	assert.False(t, h.Verify("correct horse", ""))

	again, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again, "every hash is salted")
}

func TestBcryptHasher_DefaultCost(t *testing.T) {
	var h *BcryptHasher
	assert.Equal(t, DefaultBcryptCost, h.cost())
	assert.Equal(t, DefaultBcryptCost, (&BcryptHasher{}).cost())
}

func TestBcryptHasher_TooLong(t *testing.T) {
	h := &BcryptHasher{Cost: bcrypt.MinCost}
	_, err := h.Hash(strings.Repeat("x", 73))
	assert.Equal(t, KindInvalidInput, KindOf(err))
}
