package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

// Scheme identifies the format of a stored password hash.
type Scheme string

const (
	// SchemeBcrypt is the current scheme.
	SchemeBcrypt Scheme = "bcrypt"

	// SchemePBKDF2 is the previous generation: hex(salt)$hex(key) using
	// PBKDF2-HMAC-SHA256.
	SchemePBKDF2 Scheme = "pbkdf2-sha256"

	// SchemeSHA256 is the oldest generation: unsalted hex SHA-256.
	SchemeSHA256 Scheme = "sha256"

	// SchemeUnknown is any string none of the above recognise.
	SchemeUnknown Scheme = "unknown"
)

// Parameters of the PBKDF2 generation. They must never change, or existing
// hashes stop verifying.
const (
	pbkdf2Iterations = 100_000
	pbkdf2KeyLength  = 32
	pbkdf2SaltLength = 32
)

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// Hasher hashes and verifies passwords.
type Hasher struct {
	cost int
}

// NewHasher returns a Hasher that produces bcrypt hashes with the given cost.
// A cost outside bcrypt's range falls back to bcrypt.DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Cost returns the bcrypt cost used for new hashes.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash hashes a password with the current scheme.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// Verify reports whether password matches the stored hash, whatever
// generation the hash belongs to.
func (h *Hasher) Verify(password, stored string) bool {
	switch Identify(stored) {
	case SchemeBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	case SchemePBKDF2:
		return verifyPBKDF2(password, stored)
	case SchemeSHA256:
		sum := sha256.Sum256([]byte(password))
		computed := hex.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(strings.ToLower(stored))) == 1
	default:
		return false
	}
}

// NeedsRehash reports whether stored should be replaced by a fresh hash
// after a successful verification.
func (h *Hasher) NeedsRehash(stored string) bool {
	if Identify(stored) != SchemeBcrypt {
		return true
	}
	cost, err := bcrypt.Cost([]byte(stored))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// Identify returns the scheme of a stored hash.
func Identify(stored string) Scheme {
	switch {
	case strings.HasPrefix(stored, "$2a$"), strings.HasPrefix(stored, "$2b$"), strings.HasPrefix(stored, "$2y$"):
		return SchemeBcrypt
	case strings.Count(stored, "$") == 1:
		return SchemePBKDF2
	case len(stored) == sha256.Size*2 && isHex(stored):
		return SchemeSHA256
	default:
		return SchemeUnknown
	}
}

// LegacyPBKDF2 produces a hash in the PBKDF2 generation format. It exists so
// stores populated by older releases can be reproduced in tests and imports.
func LegacyPBKDF2(password string, salt []byte) string {
	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, pbkdf2KeyLength, sha256.New)
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(key)
}

// LegacySHA256 produces a hash in the oldest, unsalted format.
func LegacySHA256(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func verifyPBKDF2(password, stored string) bool {
	saltHex, keyHex, ok := strings.Cut(stored, "$")
	if !ok {
		return false
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(keyHex)
	if err != nil || len(want) == 0 {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}
