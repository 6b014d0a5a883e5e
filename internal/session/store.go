package session

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Store keeps sessions by id. Sessions idle for longer than the configured
// timeout are evicted and closed; a zero timeout keeps them until deleted.
type Store struct {
	items  *cache.Cache
	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger

	// mu orders creation, deletion and expiry refresh so a refresh can
	// never resurrect a deleted session.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store with the given idle timeout.
func NewStore(idle time.Duration, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	expiration, cleanup := cache.NoExpiration, time.Duration(0)
	if idle > 0 {
		expiration = idle
		cleanup = max(idle/2, time.Second)
	}

	s := &Store{
		items:  cache.New(expiration, cleanup),
		idle:   idle,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.items.OnEvicted(func(id string, v interface{}) {
		if sess, ok := v.(*Session); ok && sess.close() {
			s.logger.Info("session closed", "session", id)
		}
	})
	return s
}

// IdleTimeout returns the configured idle timeout; zero means unbounded.
func (s *Store) IdleTimeout() time.Duration { return s.idle }

// Create starts a new session. An empty id gets a generated one.
func (s *Store) Create(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == "" {
		id = uuid.NewString()
	}
	if _, ok := s.items.Get(id); ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	return s.create(id), nil
}

// GetOrCreate returns the live session with id, creating it when absent.
func (s *Store) GetOrCreate(id string) (*Session, error) {
	if id == "" {
		return s.Create("")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items.Get(id); ok {
		sess := v.(*Session)
		s.items.Set(id, sess, cache.DefaultExpiration)
		return sess, nil
	}
	return s.create(id), nil
}

// create must be called with mu held and id absent or expired.
func (s *Store) create(id string) *Session {
	// An expired entry the janitor has not collected yet is closed here.
	s.items.Delete(id)
	sess := newSession(id, s.now, s.touch)
	s.items.Set(id, sess, cache.DefaultExpiration)
	s.logger.Info("session created", "session", id)
	return sess
}

// Get returns the live session with id and resets its idle timer.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sess := v.(*Session)
	s.items.Set(id, sess, cache.DefaultExpiration)
	return sess, nil
}

// Delete closes and removes the session with id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items.Get(id); !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.items.Delete(id)
	return nil
}

// List returns snapshots of the live sessions, most recently active first.
func (s *Store) List() []Snapshot {
	items := s.items.Items()
	out := make([]Snapshot, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(*Session).Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].LastActiveAt.After(out[j].LastActiveAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	return len(s.items.Items())
}

// EvictExpired closes and removes every session past its idle timeout. The
// background janitor does the same periodically.
func (s *Store) EvictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.DeleteExpired()
}

// Close closes every session.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.items.Items() {
		s.items.Delete(id)
	}
	s.items.DeleteExpired()
}

// touch resets the idle timer of a session that is still the one stored
// under its id.
func (s *Store) touch(sess *Session) {
	if s.idle <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items.Get(sess.id); ok && v.(*Session) == sess {
		s.items.Set(sess.id, sess, cache.DefaultExpiration)
	}
}
