package gateway

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// MaxAuthAttempts closes a connection after this many bad signatures.
const MaxAuthAttempts = 3

const challengeBytes = 32

// Auth failure reasons sent back to the UI.
const (
	reasonNoChallenge = "No challenge found"
	reasonBadSig      = "Invalid signature"
	reasonLockedOut   = "Too many failed attempts"
)

// SecretAuth checks that a UI holds the daemon's shared secret. The daemon
// sends a random challenge on connect and the UI answers with its HMAC.
type SecretAuth struct {
	secret []byte
}

func NewSecretAuth(secret string) *SecretAuth {
	return &SecretAuth{secret: []byte(secret)}
}

// Sign computes the hex HMAC-SHA256 of challenge under secret. UIs answer
// the auth.challenge event with this value.
func Sign(secret, challenge string) string {
	return sign([]byte(secret), challenge)
}

func sign(secret []byte, challenge string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(challenge))
	return hex.EncodeToString(mac.Sum(nil))
}

// Challenge returns a fresh hex-encoded nonce.
func (a *SecretAuth) Challenge() (string, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Valid reports whether signature answers challenge.
func (a *SecretAuth) Valid(challenge, signature string) bool {
	want := sign(a.secret, challenge)
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

// Answer settles client's pending challenge. The challenge is single-use:
// it is cleared on success, and a client stays authenticated afterwards.
// The caller must hold the registry lock for client.
func (a *SecretAuth) Answer(client *Client, signature string) AuthResult {
	switch {
	case client.Authenticated:
		return authSuccess()
	case client.Challenge == "":
		return authFailure(reasonNoChallenge)
	case !a.Valid(client.Challenge, signature):
		client.AuthAttempts++
		if client.AuthAttempts >= MaxAuthAttempts {
			return authFailure(reasonLockedOut)
		}
		return authFailure(reasonBadSig)
	}

	client.Authenticated = true
	client.State = StateAuthenticated
	client.AuthAttempts = 0
	client.Challenge = ""
	return authSuccess()
}

func authSuccess() AuthResult {
	return AuthResult{Event: "auth.success", Success: true}
}

func authFailure(reason string) AuthResult {
	return AuthResult{Event: "auth.failure", Message: reason}
}
