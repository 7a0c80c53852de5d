// Package sqlite implements store.Store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/vovakirdan/onechat-server/internal/store"
	"github.com/vovakirdan/onechat-server/internal/store/sqlite/migrations"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and applies pending migrations.
func New(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// NewWithSetup opens the SQLite database and runs a setup function instead of
// migrations. Useful for tests to apply schema directly.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts an active user and returns its id.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (int64, error) {
	query := `
		INSERT INTO users (username, password_hash, is_admin, is_active)
		VALUES (?, ?, ?, 1)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, boolToInt(isAdmin))
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, store.NewValidationError("Username already exists")
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	return id, nil
}

// GetUserByUsername retrieves a user by exact username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_admin, is_active, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.IsAdmin,
		&user.IsActive,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

// ==== MessageStore implementation ====

// InsertMessage validates, persists and returns the stored message with the
// author's username joined in.
func (s *SQLiteStore) InsertMessage(ctx context.Context, userID int64, content, kind, sticker string, replyTo *int64) (*store.Message, error) {
	k, content, sticker, err := store.NormalizeMessage(content, kind, sticker)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (user_id, kind, content, sticker, reply_to)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, userID, string(k), content, sticker, replyTo)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.getMessageByID(ctx, id)
}

func (s *SQLiteStore) getMessageByID(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT m.id, m.user_id, u.username, m.kind, m.content, m.sticker, m.reply_to, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.id = ?
	`
	var msg store.Message
	var kind string
	var replyTo sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.UserID,
		&msg.Username,
		&kind,
		&msg.Content,
		&msg.Sticker,
		&replyTo,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("query message: %w", err)
	}

	msg.Kind = store.Kind(kind)
	if replyTo.Valid {
		msg.ReplyTo = &replyTo.Int64
	}

	return &msg, nil
}

// FetchHistory returns the newest messages in chronological order.
func (s *SQLiteStore) FetchHistory(ctx context.Context, limit int) ([]*store.Message, error) {
	limit = store.ClampHistoryLimit(limit)

	query := `
		SELECT m.id, m.user_id, u.username, m.kind, m.content, m.sticker, m.reply_to, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		ORDER BY m.id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0, limit)
	for rows.Next() {
		var msg store.Message
		var kind string
		var replyTo sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.Username, &kind, &msg.Content, &msg.Sticker, &replyTo, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Kind = store.Kind(kind)
		if replyTo.Valid {
			msg.ReplyTo = &replyTo.Int64
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	// Reverse to get chronological order
	for i := 0; i < len(messages)/2; i++ {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements store.Store
var _ store.Store = (*SQLiteStore)(nil)
