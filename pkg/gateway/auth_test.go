package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretAuth_Challenge(t *testing.T) {
	auth := NewSecretAuth("test-secret")

	t.Run("should hex-encode a 32-byte nonce", func(t *testing.T) {
		challenge, err := auth.Challenge()
		require.NoError(t, err)
		assert.Len(t, challenge, 64)
	})

	t.Run("should not repeat challenges", func(t *testing.T) {
		first, err := auth.Challenge()
		require.NoError(t, err)
		second, err := auth.Challenge()
		require.NoError(t, err)
		assert.NotEqual(t, first, second)
	})
}

func TestSecretAuth_Valid(t *testing.T) {
	auth := NewSecretAuth("test-secret")
	challenge, err := auth.Challenge()
	require.NoError(t, err)

	tests := []struct {
		name      string
		signature string
		want      bool
	}{
		{"should accept the shared secret's signature", Sign("test-secret", challenge), true},
		{"should reject garbage", "invalid-signature", false},
		{"should reject another secret's signature", Sign("wrong-secret", challenge), false},
		{"should reject a signature for another challenge", Sign("test-secret", "other"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.Valid(challenge, tt.signature))
		})
	}
}

func TestSecretAuth_Answer(t *testing.T) {
	auth := NewSecretAuth("test-secret")

	t.Run("should authenticate and clear the challenge", func(t *testing.T) {
		client := &Client{ID: "ui", Challenge: "nonce", AuthAttempts: 1}

		result := auth.Answer(client, Sign("test-secret", "nonce"))

		assert.Equal(t, authSuccess(), result)
		assert.True(t, client.Authenticated)
		assert.Equal(t, StateAuthenticated, client.State)
		assert.Zero(t, client.AuthAttempts)
		assert.Empty(t, client.Challenge)
	})

	t.Run("should count a bad signature", func(t *testing.T) {
		client := &Client{ID: "ui", Challenge: "nonce"}

		result := auth.Answer(client, "invalid-signature")

		assert.Equal(t, authFailure(reasonBadSig), result)
		assert.False(t, client.Authenticated)
		assert.Equal(t, 1, client.AuthAttempts)
	})

	t.Run("should lock out after the last allowed attempt", func(t *testing.T) {
		client := &Client{ID: "ui", Challenge: "nonce", AuthAttempts: MaxAuthAttempts - 1}

		result := auth.Answer(client, "invalid-signature")

		assert.Equal(t, authFailure(reasonLockedOut), result)
		assert.Equal(t, MaxAuthAttempts, client.AuthAttempts)
	})

	t.Run("should fail without a pending challenge", func(t *testing.T) {
		client := &Client{ID: "ui"}

		result := auth.Answer(client, Sign("test-secret", ""))

		assert.Equal(t, authFailure(reasonNoChallenge), result)
		assert.False(t, client.Authenticated)
	})

	t.Run("should not accept a used challenge twice", func(t *testing.T) {
		client := &Client{ID: "ui", Challenge: "nonce"}
		require.True(t, auth.Answer(client, Sign("test-secret", "nonce")).Success)

		client.Authenticated = false
		assert.False(t, auth.Answer(client, Sign("test-secret", "nonce")).Success)
	})

	t.Run("should keep an authenticated client authenticated", func(t *testing.T) {
		client := &Client{ID: "ui", Authenticated: true}

		result := auth.Answer(client, "anything")

		assert.True(t, result.Success)
		assert.Zero(t, client.AuthAttempts)
	})
}

func TestSign(t *testing.T) {
	t.Run("should match a known HMAC-SHA256 vector", func(t *testing.T) {
		// RFC 4231 test case 2.
		assert.Equal(t,
			"5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
			Sign("Jefe", "what do ya want for nothing?"))
	})
}
