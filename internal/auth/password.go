// ABOUTME: Operator credential verification with bcrypt
// ABOUTME: Unknown usernames still pay the bcrypt cost so timing never leaks them

package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/openhelm/relaydesk/internal/store"
)

// ErrBadCredentials is returned for any username/password failure. The
// cause is deliberately not distinguished.
var ErrBadCredentials = errors.New("invalid username or password")

// dummyHash keeps comparison timing constant when the username doesn't
// exist.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashPassword creates a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Authenticate verifies operator credentials against the store and
// returns the operator on success.
func Authenticate(ctx context.Context, s store.Store, username, password string) (*store.Operator, error) {
	op, err := s.GetOperatorByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if !op.Active {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrBadCredentials
	}
	return op, nil
}
