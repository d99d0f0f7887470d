package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"

	"github.com/google/uuid"
)

// Token entropy in bytes before encoding.
const (
	accessTokenBytes  = 32
	refreshTokenBytes = 48
)

// NewUID returns a 32-character hex uid (a dashless UUIDv4), used for
// authorization codes.
func NewUID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// RandomToken returns a base64url-encoded string of n random bytes.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func newAccessToken() (string, error) {
	return RandomToken(accessTokenBytes)
}

func newRefreshToken() (string, error) {
	return RandomToken(refreshTokenBytes)
}
