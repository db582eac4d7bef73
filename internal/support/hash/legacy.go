package hash

import (
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

const argon2idPrefix = "$argon2id$"

// LegacyAwareHasher hashes new passwords with bcrypt and still verifies
// argon2id hashes imported from the previous deployment.
type LegacyAwareHasher struct {
	primary *BcryptHasher
}

// NewLegacyAwareHasher wraps a bcrypt hasher.
func NewLegacyAwareHasher(primary *BcryptHasher) *LegacyAwareHasher {
	return &LegacyAwareHasher{primary: primary}
}

func (h *LegacyAwareHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h *LegacyAwareHasher) Compare(hashed, password string) error {
	if !strings.HasPrefix(hashed, argon2idPrefix) {
		return h.primary.Compare(hashed, password)
	}
	match, err := argon2id.ComparePasswordAndHash(password, hashed)
	if err != nil {
		return fmt.Errorf("hash: argon2id compare: %w", err)
	}
	if !match {
		return ErrPasswordMismatch
	}
	return nil
}

// NeedsRehash reports true for every argon2id hash so logins migrate them to bcrypt.
func (h *LegacyAwareHasher) NeedsRehash(hashed string) bool {
	if strings.HasPrefix(hashed, argon2idPrefix) {
		return true
	}
	return h.primary.NeedsRehash(hashed)
}
