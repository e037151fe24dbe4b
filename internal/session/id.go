package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// tokenSource is swapped in tests to force collisions.
var tokenSource io.Reader = rand.Reader

// GenerateToken returns an opaque bearer credential.
// 32 bytes = 256 bits of entropy.
func GenerateToken() (string, error) {

	const size = 32 // 256 bits

	b := make([]byte, size)
	if _, err := io.ReadFull(tokenSource, b); err != nil {
		return "", fmt.Errorf("session: failed to generate token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(b), nil

}

// GenerateTokenPair issues a session token and a refresh token.
func GenerateTokenPair() (sessionToken, refreshToken string, err error) {
	if sessionToken, err = GenerateToken(); err != nil {
		return "", "", err
	}
	if refreshToken, err = GenerateToken(); err != nil {
		return "", "", err
	}
	if sessionToken == refreshToken {
		return "", "", ErrTokenCollision
	}
	return sessionToken, refreshToken, nil
}
