package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"

	"github.com/ghtak/stardust/internal/errorx"
)

// VerifyResult reports the outcome of a hash comparison. NeedsRehash lets a
// hasher signal that the stored hash was made under a weaker policy and
// should be regenerated on next write.
type VerifyResult struct {
	Valid       bool
	NeedsRehash bool
}

// SecretHasher is the one-way hash strategy for client secrets and refresh
// tokens. Hash failures indicate misconfiguration, not bad input, and are
// surfaced as internal errors by the services.
type SecretHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, hash string) (VerifyResult, error)
}

// BcryptHasher hashes with bcrypt. Hashes are salted, so values hashed with
// it cannot be looked up by hash equality; use it for client secrets only.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) cost() int {
	if h.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return h.Cost
}

func (h BcryptHasher) Hash(secret string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost())
	if err != nil {
		return "", errorx.Internal("bcrypt hash failed", err)
	}
	return string(out), nil
}

func (h BcryptHasher) Verify(secret, hash string) (VerifyResult, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
	case err == bcrypt.ErrMismatchedHashAndPassword:
		return VerifyResult{}, nil
	default:
		return VerifyResult{}, errorx.Internal("bcrypt verify failed", err)
	}

	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return VerifyResult{Valid: true}, nil
	}
	return VerifyResult{Valid: true, NeedsRehash: cost < h.cost()}, nil
}

// SHA256Hasher is a deterministic digest: equal inputs produce equal hashes,
// which is what makes refresh-token lookup by stored hash possible. Output is
// hex encoded.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(secret string) (string, error) {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:]), nil
}

func (h SHA256Hasher) Verify(secret, hash string) (VerifyResult, error) {
	computed, _ := h.Hash(secret)
	valid := subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1
	return VerifyResult{Valid: valid}, nil
}
