// Package auth verifies credentials and provisions accounts on top of
// store.UserStore.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/onechat-server/internal/store"
)

// ErrInvalidCredentials is returned when the username/password pair does not
// match an active account. Unknown users, inactive accounts and wrong
// passwords are indistinguishable to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service provides authentication operations.
type Service struct {
	store store.UserStore
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore) *Service {
	return &Service{store: userStore}
}

// Authenticate validates credentials against the stored hash. The username
// is trimmed before lookup.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*store.User, error) {
	username = strings.TrimSpace(username)

	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredentials
	}
	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// CreateUser validates, hashes and stores a new account, returning its id.
// Field violations and duplicate usernames come back as store.ValidationError.
func (s *Service) CreateUser(ctx context.Context, username, password string, isAdmin bool) (int64, error) {
	username = strings.TrimSpace(username)
	if err := store.ValidateUsername(username); err != nil {
		return 0, err
	}
	if err := store.ValidatePassword(password); err != nil {
		return 0, err
	}

	// Pre-check for a friendlier path; the unique index still backstops races.
	if _, err := s.store.GetUserByUsername(ctx, username); err == nil {
		return 0, store.NewValidationError("Username already exists")
	} else if !errors.Is(err, store.ErrUserNotFound) {
		return 0, fmt.Errorf("look up user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.store.CreateUser(ctx, username, hash, isAdmin)
	if err != nil {
		return 0, err
	}

	return id, nil
}
