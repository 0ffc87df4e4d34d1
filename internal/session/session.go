package session

import "context"

// Phase tracks where a user is in the training exercise.
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingTopic    Phase = "awaiting_topic"
	PhaseAwaitingResponse Phase = "awaiting_response"
)

// Objection is the pushback the user is currently answering. Generated
// objections carry no catalog ID.
type Objection struct {
	ID         string `json:"id,omitempty"`
	Text       string `json:"text"`
	CategoryID string `json:"category_id,omitempty"`
}

// Session is the per-user mutable exercise state between inbound events. It is
// keyed by the external Telegram identity and never persisted durably.
type Session struct {
	UserID             string     `json:"user_id"`
	TelegramID         string     `json:"telegram_id"`
	ChatID             int64      `json:"chat_id"`
	Phase              Phase      `json:"phase"`
	CurrentObjection   *Objection `json:"current_objection,omitempty"`
	HasAnsweredCurrent bool       `json:"has_answered_current"`
	LastTranscript     string     `json:"last_transcript,omitempty"`
}

// Store keeps sessions keyed by external identity. Implementations must make
// GetOrCreate idempotent and Update atomic per key.
type Store interface {
	GetOrCreate(ctx context.Context, key string) (*Session, error)
	Update(ctx context.Context, key string, mutate func(*Session)) (*Session, error)
	Reset(ctx context.Context, key string) error
}

func newDefaultSession(key string) *Session {
	return &Session{
		TelegramID: key,
		Phase:      PhaseIdle,
	}
}
