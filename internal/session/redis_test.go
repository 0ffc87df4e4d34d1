package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, time.Hour)
}

func TestRedisGetOrCreateDefaults(t *testing.T) {
	store := newRedisStore(t)

	sess, err := store.GetOrCreate(context.Background(), "tg-5")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if sess.Phase != PhaseIdle || sess.TelegramID != "tg-5" {
		t.Fatalf("unexpected default session: %#v", sess)
	}

	again, err := store.GetOrCreate(context.Background(), "tg-5")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if *again != *sess {
		t.Fatalf("expected idempotent read, got %#v vs %#v", again, sess)
	}
}

func TestRedisUpdateRoundTrip(t *testing.T) {
	store := newRedisStore(t)

	_, err := store.Update(context.Background(), "tg-5", func(s *Session) {
		s.UserID = "user-5"
		s.Phase = PhaseAwaitingResponse
		s.CurrentObjection = &Objection{ID: "obj-1", Text: "Это дорого", CategoryID: "cat-price"}
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	sess, err := store.GetOrCreate(context.Background(), "tg-5")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if sess.Phase != PhaseAwaitingResponse || sess.CurrentObjection == nil || sess.CurrentObjection.ID != "obj-1" {
		t.Fatalf("round trip lost state: %#v", sess)
	}
}

func TestRedisReset(t *testing.T) {
	store := newRedisStore(t)

	store.Update(context.Background(), "tg-5", func(s *Session) { s.HasAnsweredCurrent = true })
	if err := store.Reset(context.Background(), "tg-5"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	sess, err := store.GetOrCreate(context.Background(), "tg-5")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if sess.HasAnsweredCurrent {
		t.Fatalf("expected fresh session after reset: %#v", sess)
	}
}
