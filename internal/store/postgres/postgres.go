// Package postgres implements store.Store on PostgreSQL via the pgx stdlib
// driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/vovakirdan/onechat-server/internal/store"
	"github.com/vovakirdan/onechat-server/internal/store/postgres/migrations"
)

// uniqueViolation is the SQLSTATE for unique constraint failures.
const uniqueViolation = "23505"

// PostgresStore implements store.Store for PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// New connects to PostgreSQL using the given DSN and applies pending
// migrations.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an existing connection without running migrations. Useful
// for tests with a mocked database.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser inserts an active user and returns its id.
func (s *PostgresStore) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (int64, error) {
	query := `
		INSERT INTO users (username, password_hash, is_admin, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id
	`
	var id int64
	err := s.db.QueryRowContext(ctx, query, username, passwordHash, isAdmin).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return 0, store.NewValidationError("Username already exists")
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}

	return id, nil
}

// GetUserByUsername retrieves a user by exact username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_admin, is_active, created_at
		FROM users
		WHERE username = $1
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
func (s *PostgresStore) InsertMessage(ctx context.Context, userID int64, content, kind, sticker string, replyTo *int64) (*store.Message, error) {
	k, content, sticker, err := store.NormalizeMessage(content, kind, sticker)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO messages (user_id, kind, content, sticker, reply_to)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	var id int64
	if err := s.db.QueryRowContext(ctx, query, userID, string(k), content, sticker, replyTo).Scan(&id); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	return s.getMessageByID(ctx, id)
}

func (s *PostgresStore) getMessageByID(ctx context.Context, id int64) (*store.Message, error) {
	query := `
		SELECT m.id, m.user_id, u.username, m.kind, m.content, m.sticker, m.reply_to, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		WHERE m.id = $1
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
func (s *PostgresStore) FetchHistory(ctx context.Context, limit int) ([]*store.Message, error) {
	limit = store.ClampHistoryLimit(limit)

	query := `
		SELECT m.id, m.user_id, u.username, m.kind, m.content, m.sticker, m.reply_to, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.user_id
		ORDER BY m.id DESC
		LIMIT $1
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

// Ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)
