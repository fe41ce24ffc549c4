// ABOUTME: Tests for JWT token verification and operator credential checks
// ABOUTME: Covers round-trip, expiry, wrong secret, and inactive operators

package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openhelm/relaydesk/internal/store"
)

func TestTokenRoundTrip(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("op-1", time.Hour)
	require.NoError(t, err)

	sub, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "op-1", sub)
}

func TestExpiredToken(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))

	token, err := v.Generate("op-1", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestWrongSecret(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))
	other := NewJWTVerifier([]byte("other-secret"))

	token, err := v.Generate("op-1", time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyGarbage(t *testing.T) {
	v := NewJWTVerifier([]byte("test-secret"))
	_, err := v.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	op := &store.Operator{
		ID:           uuid.New().String(),
		Username:     "maria",
		Email:        "maria@example.com",
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.CreateOperator(ctx, op))

	got, err := Authenticate(ctx, s, "maria", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)

	_, err = Authenticate(ctx, s, "maria", "wrong")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = Authenticate(ctx, s, "nobody", "hunter2")
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestAuthenticateInactiveOperator(t *testing.T) {
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	require.NoError(t, s.CreateOperator(ctx, &store.Operator{
		ID:           uuid.New().String(),
		Username:     "sam",
		Email:        "sam@example.com",
		PasswordHash: hash,
		Active:       false,
		CreatedAt:    time.Now(),
	}))

	_, err = Authenticate(ctx, s, "sam", "hunter2")
	assert.ErrorIs(t, err, ErrBadCredentials)
}
