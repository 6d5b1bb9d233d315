// Package tokens provides the random, digest and MAC primitives used by the
// device session engine
package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// DeviceIDBytes is the entropy of a device identifier
	DeviceIDBytes = 20

	// PendingTokenBytes is the entropy of a pending token
	PendingTokenBytes = 24

	// SessionTokenLength is the length in hex characters of a derived session token
	SessionTokenLength = 96

	sessionPrefix      = "broker-session:v1:"
	sessionExtraPrefix = "broker-session:v1:extra:"
)

// ErrMissingCredential indicates a session token cannot be derived because
// the upstream credential is incomplete
var ErrMissingCredential = errors.New("upstream credential missing")

// Random returns n cryptographically secure random bytes, hex encoded
func Random(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of value
func SHA256Hex(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA-256 of message keyed by key
func HMACSHA256Hex(key, message string) string {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// DeriveSessionToken deterministically derives the bearer session token for a
// finalize call. The same device, pending token and upstream credential
// always produce the same token, so a replayed finalize can reproduce it from
// the stored digest alone.
func DeriveSessionToken(deviceID, pendingToken, accessToken, accessSecret string) (string, error) {
	if accessToken == "" || accessSecret == "" {
		return "", ErrMissingCredential
	}

	message := deviceID + ":" + pendingToken + ":" + accessToken
	partA := HMACSHA256Hex(accessSecret, sessionPrefix+message)
	partB := HMACSHA256Hex(accessSecret, sessionExtraPrefix+message)

	return partA + partB[:32], nil
}

// EqualDigest compares two hex digests in constant time
func EqualDigest(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
