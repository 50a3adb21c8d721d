// Package agentcrypto holds the Ed25519 primitives shared by the gate and
// the agent client: keypair generation, message signing, signature
// verification, and timestamp-drift checking. Every identifier and key on
// the wire is URL-safe base64, so this package standardizes on
// base64.URLEncoding everywhere it encodes or decodes bytes.
package agentcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// ErrInvalidKey is returned when a base64-decoded key does not match the
// expected Ed25519 length.
var ErrInvalidKey = errors.New("agentcrypto: invalid key encoding")

// GenerateKeypair creates a fresh Ed25519 keypair and returns both halves
// URL-safe base64 encoded.
func GenerateKeypair() (publicB64, secretB64 string, err error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return "", "", err
	}
	return base64.URLEncoding.EncodeToString(pub), base64.URLEncoding.EncodeToString(priv), nil
}

// DecodePublicKey decodes a base64 public key and validates its length.
func DecodePublicKey(publicB64 string) (ed25519.PublicKey, error) {
	raw, err := base64.URLEncoding.DecodeString(publicB64)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.PublicKey(raw), nil
}

// DecodeSecretKey decodes a base64 secret key and validates its length.
func DecodeSecretKey(secretB64 string) (ed25519.PrivateKey, error) {
	raw, err := base64.URLEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, ErrInvalidKey
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	return ed25519.PrivateKey(raw), nil
}

// Sign signs the UTF-8 bytes of message with the given base64 secret key,
// returning a base64-encoded signature.
func Sign(message string, secretB64 string) (string, error) {
	sk, err := DecodeSecretKey(secretB64)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(sk, []byte(message))
	return base64.URLEncoding.EncodeToString(sig), nil
}

// Verify reports whether signatureB64 is a valid Ed25519 signature of
// message under publicB64. It never panics: any decoding or length
// mismatch is treated as a failed verification.
func Verify(message, signatureB64, publicB64 string) bool {
	pk, err := DecodePublicKey(publicB64)
	if err != nil {
		return false
	}
	sig, err := base64.URLEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk, []byte(message), sig)
}

// IsTimestampValid reports whether s parses as an integer number of Unix
// seconds within maxDrift of now. Non-integer input is always invalid.
func IsTimestampValid(s string, maxDrift int64, now time.Time) bool {
	parsed, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return false
	}
	delta := now.Unix() - parsed
	if delta < 0 {
		delta = -delta
	}
	return delta <= maxDrift
}

// RandomToken returns n bytes of CSPRNG entropy, URL-safe base64 encoded,
// optionally prefixed. Used for registration_id, challenge, agent_id,
// api_key, and bearer token generation.
func RandomToken(prefix string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(buf), nil
}
