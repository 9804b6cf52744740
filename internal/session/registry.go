package session

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Option configures a [Registry].
type Option func(*Registry)

// WithClock overrides the time source used for session timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.clock = now
		}
	}
}

// Registry is the in-memory store of interview sessions, keyed by id.
//
// The registry is process-scoped and non-durable: sessions are never written
// to disk and are lost on restart. All methods are safe for concurrent use.
type Registry struct {
	clock func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		clock:    time.Now,
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// NewID returns a fresh 8-character session id taken from a random UUID.
func NewID() string {
	return uuid.NewString()[:8]
}

// Create registers a new active session under id. Returns [ErrInvalidID] for
// an empty id and [ErrDuplicateID] if id is already registered.
func (r *Registry) Create(id string) (*Session, error) {
	if id == "" {
		return nil, fmt.Errorf("session: create: %w", ErrInvalidID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("session: create %q: %w", id, ErrDuplicateID)
	}
	s := newSession(id, r.clock)
	r.sessions[id] = s
	return s, nil
}

// Get returns the session registered under id, or [ErrNotFound].
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session: get %q: %w", id, ErrNotFound)
	}
	return s, nil
}

// End marks the session as ended and returns it. The first call sets the end
// time; later calls return the session unchanged and without error.
func (r *Registry) End(id string) (*Session, error) {
	s, _, err := r.EndOnce(id)
	return s, err
}

// EndOnce is like [Registry.End] but also reports whether this call was the
// one that ended the session.
func (r *Registry) EndOnce(id string) (s *Session, first bool, err error) {
	s, err = r.Get(id)
	if err != nil {
		return nil, false, err
	}
	return s, s.end(), nil
}

// List returns all sessions ordered by start time, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Session) int {
		if c := a.startTime.Compare(b.startTime); c != 0 {
			return c
		}
		return strings.Compare(a.id, b.id)
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Active returns the number of sessions that have not been ended.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, s := range r.sessions {
		if !s.Ended() {
			n++
		}
	}
	return n
}
