// Package store defines the persistence contract consumed by the chat core:
// credential records, message durability, and history retrieval. Concrete
// backends live in the sqlite and postgres subpackages.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"
)

// Kind discriminates message payloads.
type Kind string

const (
	KindText    Kind = "text"
	KindSticker Kind = "sticker"
)

// History limits. The configured per-login limit is clamped into this range
// before it reaches the database.
const (
	HistoryLimitMin = 1
	HistoryLimitMax = 200
)

// MaxContentLen bounds the text content of a single message, in characters.
const MaxContentLen = 2000

// ErrUserNotFound is returned by lookups for usernames that do not exist.
var ErrUserNotFound = errors.New("user not found")

// User is a stored account record.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time
}

// Message is a persisted chat message. Username is joined in from the users
// table on every read; it is never stored on the message row.
type Message struct {
	ID        int64
	UserID    int64
	Username  string
	Kind      Kind
	Content   string
	Sticker   string
	ReplyTo   *int64
	CreatedAt time.Time
}

// ValidationError reports a rejected field value. Its message is surfaced to
// the client verbatim.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NewValidationError builds a ValidationError with the given client-facing
// reason.
func NewValidationError(reason string) *ValidationError {
	return &ValidationError{Reason: reason}
}

// UserStore handles account persistence. Password hashing happens in the
// auth layer; only hashes cross this boundary.
type UserStore interface {
	// CreateUser inserts an active account and returns its id. A duplicate
	// username yields a ValidationError.
	CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (int64, error)

	// GetUserByUsername retrieves an account by exact username.
	// Returns ErrUserNotFound when no such account exists.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// MessageStore handles message persistence for the single shared room.
type MessageStore interface {
	// InsertMessage normalizes and validates the payload, assigns the id and
	// creation time, and returns the full row. Invalid payloads yield a
	// ValidationError. The reply-to id is stored without checking that it
	// refers to an existing message.
	InsertMessage(ctx context.Context, userID int64, content, kind, sticker string, replyTo *int64) (*Message, error)

	// FetchHistory returns the newest messages reordered oldest first, with
	// usernames joined in. The limit is clamped to 1..200. The result is
	// never nil.
	FetchHistory(ctx context.Context, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close releases the underlying database connection.
	Close() error
}

// ClampHistoryLimit forces a requested history size into the supported range.
func ClampHistoryLimit(limit int) int {
	if limit < HistoryLimitMin {
		return HistoryLimitMin
	}
	if limit > HistoryLimitMax {
		return HistoryLimitMax
	}
	return limit
}

// NormalizeMessage applies the canonical message rules shared by every
// backend: kind is lowercased and defaults to text, text content must be
// non-empty and within bounds, stickers must carry a token and store no
// content.
func NormalizeMessage(content, kind, sticker string) (Kind, string, string, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(kind)))
	if k != KindText && k != KindSticker {
		k = KindText
	}

	content = strings.TrimSpace(content)
	if k == KindText && content == "" {
		return "", "", "", NewValidationError("Empty message")
	}
	if len([]rune(content)) > MaxContentLen {
		return "", "", "", NewValidationError("Message is too long (max 2000 chars)")
	}

	if k == KindSticker {
		sticker = strings.TrimSpace(sticker)
		if sticker == "" {
			return "", "", "", NewValidationError("Sticker is empty")
		}
		content = ""
	} else {
		sticker = ""
	}

	return k, content, sticker, nil
}

// ValidateUsername enforces the account naming rules: 3..32 characters with
// no whitespace. The input is expected to be pre-trimmed.
func ValidateUsername(username string) error {
	runes := []rune(username)
	if len(runes) < 3 || len(runes) > 32 {
		return NewValidationError("Username must be 3..32 chars, no spaces")
	}
	for _, r := range runes {
		if unicode.IsSpace(r) {
			return NewValidationError("Username must be 3..32 chars, no spaces")
		}
	}
	return nil
}

// ValidatePassword enforces the minimum password length.
func ValidatePassword(password string) error {
	if len(password) < 4 {
		return NewValidationError("Password must be at least 4 chars")
	}
	return nil
}
