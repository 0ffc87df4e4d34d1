package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// User maps an external messaging-platform identity to an internal id.
type User struct {
	ID         string
	TelegramID string
	CreatedAt  time.Time
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository stores users in the relational database.
type Repository struct {
	db rowQueryer
}

// NewRepository initializes a repo backed by pgxpool.
func NewRepository(db rowQueryer) *Repository {
	if db == nil {
		panic("users: db required")
	}
	return &Repository{db: db}
}

// GetOrCreate resolves the user for a Telegram identity, creating it on first
// contact. Concurrent first contacts are settled by the unique index on
// telegram_id.
func (r *Repository) GetOrCreate(ctx context.Context, telegramID string) (*User, error) {
	if telegramID == "" {
		return nil, errors.New("users: telegram id required")
	}

	var u User
	err := r.db.QueryRow(ctx,
		`SELECT id, telegram_id, created_at FROM users WHERE telegram_id = $1`,
		telegramID,
	).Scan(&u.ID, &u.TelegramID, &u.CreatedAt)
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("users: select failed: %w", err)
	}

	id := uuid.New()
	err = r.db.QueryRow(ctx, `
		INSERT INTO users (id, telegram_id)
		VALUES ($1, $2)
		ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id
		RETURNING id, telegram_id, created_at
	`, id, telegramID).Scan(&u.ID, &u.TelegramID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("users: insert failed: %w", err)
	}
	return &u, nil
}
