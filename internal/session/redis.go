package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultSessionTTL = 12 * time.Hour

// RedisStore keeps sessions in Redis so they survive process restarts and are
// shared across replicas. Keys expire after the configured idle TTL, which is
// refreshed on every write.
type RedisStore struct {
	redis  *redis.Client
	ttl    time.Duration
	tracer trace.Tracer
}

// NewRedisStore wires a session store over the supplied client.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{
		redis:  client,
		ttl:    ttl,
		tracer: otel.Tracer("trainer.internal.session"),
	}
}

// GetOrCreate loads the session for key, creating a default Idle session when
// none is stored.
func (s *RedisStore) GetOrCreate(ctx context.Context, key string) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.get_or_create")
	defer span.End()

	sess, err := s.load(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	sess = newDefaultSession(key)
	if err := s.save(ctx, key, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return sess, nil
}

// Update loads, mutates, and writes back the session for key. Callers
// serialize per key through a KeyLocks, so the read-modify-write is not torn.
func (s *RedisStore) Update(ctx context.Context, key string, mutate func(*Session)) (*Session, error) {
	ctx, span := s.tracer.Start(ctx, "session.update")
	defer span.End()

	sess, err := s.load(ctx, key)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if sess == nil {
		sess = newDefaultSession(key)
	}
	mutate(sess)
	if err := s.save(ctx, key, sess); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return sess, nil
}

// Reset deletes the stored session.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, sessionKey(key)).Err(); err != nil {
		return fmt.Errorf("session: failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisStore) load(ctx context.Context, key string) (*Session, error) {
	data, err := s.redis.Get(ctx, sessionKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("session: failed to load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) save(ctx context.Context, key string, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: failed to marshal session: %w", err)
	}
	if err := s.redis.Set(ctx, sessionKey(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: failed to persist session: %w", err)
	}
	return nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}
