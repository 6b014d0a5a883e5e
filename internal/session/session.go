// Package session holds per-learner conversation state: an ordered turn
// history, ingestion counters and an Active/Closed lifecycle.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrSessionClosed is returned when a closed session is modified.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionNotFound is returned for unknown or evicted session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists is returned by Create for an id already in use.
	ErrSessionExists = errors.New("session already exists")
	// ErrInvalidTurn is returned for turns without a known role or content.
	ErrInvalidTurn = errors.New("invalid turn")
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleTutor Role = "tutor"
)

// Turn is one message in a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the lifecycle state of a session. Closed is terminal.
type State int

const (
	StateActive State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "active"
}

// Snapshot is a point-in-time copy of a session's bookkeeping.
type Snapshot struct {
	ID           string    `json:"id"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	Turns        int       `json:"turns"`
	Documents    int       `json:"documents_ingested"`
	Chunks       int       `json:"chunks_ingested"`
}

// Session owns its turns. All methods are safe for concurrent use; writers
// are serialized so turns keep submission order.
type Session struct {
	id        string
	createdAt time.Time
	now       func() time.Time
	touch     func(*Session)

	mu           sync.Mutex
	state        State
	lastActiveAt time.Time
	turns        []Turn
	documents    int
	chunks       int
}

func newSession(id string, now func() time.Time, touch func(*Session)) *Session {
	t := now()
	return &Session{id: id, createdAt: t, lastActiveAt: t, now: now, touch: touch}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Append adds turns as one unit: either all of them are recorded, in order,
// or none are.
func (s *Session) Append(turns ...Turn) error {
	for i, t := range turns {
		if t.Role != RoleUser && t.Role != RoleTutor {
			return fmt.Errorf("%w: turn %d has role %q", ErrInvalidTurn, i, t.Role)
		}
		if t.Content == "" {
			return fmt.Errorf("%w: turn %d is empty", ErrInvalidTurn, i)
		}
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}
	now := s.now()
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			t.Timestamp = now
		}
		s.turns = append(s.turns, t)
	}
	s.lastActiveAt = now
	s.mu.Unlock()

	s.refresh()
	return nil
}

// History returns a copy of the most recent limit turns, oldest first.
// A limit of zero or less returns every turn.
func (s *Session) History(limit int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := 0
	if limit > 0 && len(s.turns) > limit {
		start = len(s.turns) - limit
	}
	out := make([]Turn, len(s.turns)-start)
	copy(out, s.turns[start:])
	return out
}

// Clear drops the turn history but keeps the session and its counters.
func (s *Session) Clear() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}
	s.turns = nil
	s.lastActiveAt = s.now()
	s.mu.Unlock()

	s.refresh()
	return nil
}

// RecordIngestion adds to the session's ingestion counters.
func (s *Session) RecordIngestion(documents, chunks int) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionClosed, s.id)
	}
	s.documents += documents
	s.chunks += chunks
	s.lastActiveAt = s.now()
	s.mu.Unlock()

	s.refresh()
	return nil
}

// Snapshot returns the session's bookkeeping.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.id,
		State:        s.state.String(),
		CreatedAt:    s.createdAt,
		LastActiveAt: s.lastActiveAt,
		Turns:        len(s.turns),
		Documents:    s.documents,
		Chunks:       s.chunks,
	}
}

// close moves the session to Closed. It reports whether this call closed it.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return false
	}
	s.state = StateClosed
	return true
}

func (s *Session) refresh() {
	if s.touch != nil {
		s.touch(s)
	}
}
