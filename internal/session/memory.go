package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in a process-local map with an idle-timeout
// sweep, so abandoned conversations do not accumulate for the process
// lifetime.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry

	ttl    time.Duration
	done   chan struct{}
	closed sync.Once
}

type memoryEntry struct {
	session  *Session
	lastSeen time.Time
}

const defaultSweepInterval = time.Minute

// NewMemoryStore creates a store that evicts sessions idle longer than ttl.
// A non-positive ttl disables eviction.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		ttl:      ttl,
		done:     make(chan struct{}),
	}
	if ttl > 0 {
		go s.sweep()
	}
	return s
}

// GetOrCreate returns the session for key, creating a default Idle session on
// first contact.
func (s *MemoryStore) GetOrCreate(_ context.Context, key string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok {
		entry = &memoryEntry{session: newDefaultSession(key)}
		s.sessions[key] = entry
	}
	entry.lastSeen = time.Now()
	copied := *entry.session
	return &copied, nil
}

// Update applies mutate to the stored session under the store lock and
// returns the resulting state.
func (s *MemoryStore) Update(_ context.Context, key string, mutate func(*Session)) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[key]
	if !ok {
		entry = &memoryEntry{session: newDefaultSession(key)}
		s.sessions[key] = entry
	}
	mutate(entry.session)
	entry.lastSeen = time.Now()
	copied := *entry.session
	return &copied, nil
}

// Reset discards any state held for key.
func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, key)
	return nil
}

// Close stops the sweep goroutine.
func (s *MemoryStore) Close() {
	s.closed.Do(func() { close(s.done) })
}

// Len reports the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.evictIdle(now)
		}
	}
}

func (s *MemoryStore) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.sessions {
		if now.Sub(entry.lastSeen) > s.ttl {
			delete(s.sessions, key)
		}
	}
}
