package hash

import (
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestBcryptHashAndCompare(t *testing.T) {
	h, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	hashed, err := h.Hash("s3cret")
	require.NoError(t, err)

	assert.NoError(t, h.Compare(hashed, "s3cret"))
	assert.ErrorIs(t, h.Compare(hashed, "wrong"), ErrPasswordMismatch)
	assert.False(t, h.NeedsRehash(hashed))
}

func TestBcryptRejectsInvalidCost(t *testing.T) {
	_, err := NewBcryptHasher(99)
	assert.Error(t, err)
}

func TestLegacyAwareVerifiesArgon2id(t *testing.T) {
	primary, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	h := NewLegacyAwareHasher(primary)

	legacy, err := argon2id.CreateHash("old-password", argon2id.DefaultParams)
	require.NoError(t, err)

	assert.NoError(t, h.Compare(legacy, "old-password"))
	assert.ErrorIs(t, h.Compare(legacy, "nope"), ErrPasswordMismatch)
	assert.True(t, h.NeedsRehash(legacy))

	fresh, err := h.Hash("new-password")
	require.NoError(t, err)
	assert.NoError(t, h.Compare(fresh, "new-password"))
	assert.False(t, h.NeedsRehash(fresh))
}

func TestBcryptCostChangeAndLongInput(t *testing.T) {
	low, err := NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	higher, err := NewBcryptHasher(bcrypt.MinCost + 1)
	require.NoError(t, err)

	hashed, err := low.Hash("s3cret")
	require.NoError(t, err)
	assert.True(t, higher.NeedsRehash(hashed))
	assert.True(t, low.NeedsRehash("not-a-hash"))

	_, err = low.Hash(string(make([]byte, 73)))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
