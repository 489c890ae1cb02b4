package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTManager_GenerateAndValidate(t *testing.T) {
	mgr := NewJWTManager("session-secret-32-chars-long!!!!", 24*time.Hour)

	t.Run("generate and validate session token", func(t *testing.T) {
		tok, err := mgr.GenerateSessionToken("user-123", "0xabc")
		require.NoError(t, err)
		assert.NotEmpty(t, tok.Token)
		assert.NotEmpty(t, tok.tokenID)
		assert.Equal(t, int64(86400), tok.ExpiresIn)

		claims, err := mgr.ValidateSessionToken(tok.Token)
		require.NoError(t, err)
		assert.Equal(t, "user-123", claims.UserID)
		assert.Equal(t, "0xabc", claims.Wallet)
		assert.Equal(t, tok.tokenID, claims.ID)
	})

	t.Run("invalid token fails validation", func(t *testing.T) {
		_, err := mgr.ValidateSessionToken("invalid-token")
		assert.Error(t, err)
	})

	t.Run("token signed with another secret fails", func(t *testing.T) {
		other := NewJWTManager("another-secret-32-chars-long!!!!", time.Hour)
		tok, err := other.GenerateSessionToken("user-1", "0xabc")
		require.NoError(t, err)

		_, err = mgr.ValidateSessionToken(tok.Token)
		assert.Error(t, err)
	})

	t.Run("expired token fails", func(t *testing.T) {
		shortMgr := NewJWTManager("session-secret-32-chars-long!!!!", -1*time.Second)
		tok, err := shortMgr.GenerateSessionToken("user-exp", "0xabc")
		require.NoError(t, err)

		_, err = shortMgr.ValidateSessionToken(tok.Token)
		assert.Error(t, err)
	})
}
