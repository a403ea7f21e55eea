package apistub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenManager(t *testing.T) {
	u := &User{ID: 7, Username: "ana", Role: "TI"}

	t.Run("secret key required", func(t *testing.T) {
		_, err := NewTokenManager(TokenConfig{})

		require.Error(t, err)
	})

	t.Run("generate and parse", func(t *testing.T) {
		tm, err := NewTokenManager(TokenConfig{SecretKey: "secret"})
		require.NoError(t, err)

		access, refresh, err := tm.GeneratePair(u)
		require.NoError(t, err)
		require.Len(t, refresh, 32, "16 random bytes in hex")

		userID, err := tm.ParseAccess(access)
		require.NoError(t, err)
		require.EqualValues(t, 7, userID)

		userID, err = tm.UseRefresh(refresh)
		require.NoError(t, err)
		require.EqualValues(t, 7, userID)
	})

	t.Run("foreign signature", func(t *testing.T) {
		tm, err := NewTokenManager(TokenConfig{SecretKey: "secret"})
		require.NoError(t, err)
		other, err := NewTokenManager(TokenConfig{SecretKey: "other"})
		require.NoError(t, err)

		access, err := other.GenerateAccess(u)
		require.NoError(t, err)

		_, err = tm.ParseAccess(access)
		require.Error(t, err)
	})

	t.Run("expired access", func(t *testing.T) {
		tm, err := NewTokenManager(TokenConfig{SecretKey: "secret", AccessTTL: -time.Minute})
		require.NoError(t, err)

		access, err := tm.GenerateAccess(u)
		require.NoError(t, err)

		_, err = tm.ParseAccess(access)
		require.Error(t, err)
	})

	t.Run("revoke access", func(t *testing.T) {
		tm, err := NewTokenManager(TokenConfig{SecretKey: "secret"})
		require.NoError(t, err)
		old, err := tm.GenerateAccess(u)
		require.NoError(t, err)

		tm.RevokeAccess()

		_, err = tm.ParseAccess(old)
		require.ErrorIs(t, err, errTokenRevoked)
		fresh, err := tm.GenerateAccess(u)
		require.NoError(t, err)
		_, err = tm.ParseAccess(fresh)
		require.NoError(t, err)
	})

	t.Run("blacklisted refresh", func(t *testing.T) {
		tm, err := NewTokenManager(TokenConfig{SecretKey: "secret"})
		require.NoError(t, err)
		_, refresh, err := tm.GeneratePair(u)
		require.NoError(t, err)

		tm.RevokeRefresh(refresh)

		_, err = tm.UseRefresh(refresh)
		require.ErrorIs(t, err, errTokenRevoked)
		_, err = tm.UseRefresh("unknown")
		require.ErrorIs(t, err, errTokenInvalid)
	})
}

func TestBcryptHasher(t *testing.T) {
	h := BcryptHasher{}

	hash, err := h.Hash("pwd")
	require.NoError(t, err)

	require.NotEqual(t, "pwd", hash)
	require.NoError(t, h.Compare(hash, "pwd"))
	require.Error(t, h.Compare(hash, "wrong"))
}
