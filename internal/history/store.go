package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// ChatTurn is one durable (objection, user reply, bot reply) record. The most
// recent turn seeds the next dialog call's rolling history.
type ChatTurn struct {
	ID            string
	UserID        string
	ObjectionText string
	UserText      string
	BotText       string
	CreatedAt     time.Time
}

type execQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store persists chat turns append-only.
type Store struct {
	db     execQueryer
	tracer trace.Tracer
}

// NewStore initializes a store backed by pgxpool.
func NewStore(db execQueryer) *Store {
	if db == nil {
		panic("history: db required")
	}
	return &Store{
		db:     db,
		tracer: otel.Tracer("trainer.internal.history"),
	}
}

// Append writes one completed exchange.
func (s *Store) Append(ctx context.Context, userID, objectionText, userText, botText string) error {
	if userID == "" {
		return errors.New("history: user id required")
	}
	ctx, span := s.tracer.Start(ctx, "history.append")
	defer span.End()

	_, err := s.db.Exec(ctx, `
		INSERT INTO chat_turns (id, user_id, objection_text, user_text, bot_text)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), userID, objectionText, userText, botText)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("history: insert turn failed: %w", err)
	}
	return nil
}

// Latest returns the most recent turn for a user, or nil when the user has no
// history yet.
func (s *Store) Latest(ctx context.Context, userID string) (*ChatTurn, error) {
	ctx, span := s.tracer.Start(ctx, "history.latest")
	defer span.End()

	var turn ChatTurn
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, objection_text, user_text, bot_text, created_at
		FROM chat_turns
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID).Scan(&turn.ID, &turn.UserID, &turn.ObjectionText, &turn.UserText, &turn.BotText, &turn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		span.RecordError(err)
		return nil, fmt.Errorf("history: select latest turn failed: %w", err)
	}
	return &turn, nil
}
