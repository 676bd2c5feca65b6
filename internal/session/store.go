package session

import (
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the exchange count bound used when none is given.
	DefaultMaxSize = 10
	// DefaultMaxAge is the conversation age bound used when none is given.
	DefaultMaxAge = 180 * time.Minute
)

// Exchange is one user message paired with the assistant reply.
type Exchange struct {
	User      string
	Reply     string
	CreatedAt time.Time
}

// Stats is a point-in-time view of the store.
type Stats struct {
	Sessions  int
	Exchanges int
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store keeps a bounded, ordered history of exchanges per chat.
//
// A session never holds more than maxSize exchanges; the oldest are dropped
// first. Once the oldest retained exchange is older than maxAge the whole
// session is discarded.
type Store struct {
	mu       sync.Mutex
	sessions map[int64][]Exchange
	maxSize  int
	maxAge   time.Duration
	now      func() time.Time
	locks    keyedMutex
}

// New creates an empty store. Non-positive bounds fall back to the defaults.
func New(maxSize int, maxAge time.Duration, opts ...Option) *Store {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	s := &Store{
		sessions: make(map[int64][]Exchange),
		maxSize:  maxSize,
		maxAge:   maxAge,
		now:      time.Now,
		locks:    keyedMutex{locks: make(map[int64]*refLock)},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxSize returns the exchange count bound.
func (s *Store) MaxSize() int { return s.maxSize }

// MaxAge returns the conversation age bound.
func (s *Store) MaxAge() time.Duration { return s.maxAge }

// Append records a new exchange for chatID, creating the session if needed.
// An expired session is dropped before the new exchange is added.
func (s *Store) Append(chatID int64, user, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	history := s.sessions[chatID]
	if s.expired(history, now) {
		history = nil
	}
	history = append(history, Exchange{User: user, Reply: reply, CreatedAt: now})
	if len(history) > s.maxSize {
		history = append([]Exchange(nil), history[len(history)-s.maxSize:]...)
	}
	s.sessions[chatID] = history
}

// History returns the exchanges for chatID, oldest first. The result is a
// copy and is empty for unknown or expired sessions.
func (s *Store) History(chatID int64) []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.sessions[chatID]
	if !ok {
		return []Exchange{}
	}
	if s.expired(history, s.now()) {
		delete(s.sessions, chatID)
		return []Exchange{}
	}
	out := make([]Exchange, len(history))
	copy(out, history)
	return out
}

// Reset deletes the session for chatID. It is a no-op for unknown ids.
func (s *Store) Reset(chatID int64) {
	s.mu.Lock()
	delete(s.sessions, chatID)
	s.mu.Unlock()
}

// EvictExpired drops every expired session and returns how many were removed.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for chatID, history := range s.sessions {
		if s.expired(history, now) {
			delete(s.sessions, chatID)
			removed++
		}
	}
	return removed
}

// Stats returns the number of live sessions and stored exchanges.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Sessions: len(s.sessions)}
	for _, history := range s.sessions {
		st.Exchanges += len(history)
	}
	return st
}

// Lock serialises work on a single chat. The returned func releases it.
// Different chats never block each other.
func (s *Store) Lock(chatID int64) (unlock func()) {
	return s.locks.lock(chatID)
}

func (s *Store) expired(history []Exchange, now time.Time) bool {
	if len(history) == 0 {
		return false
	}
	return now.Sub(history[0].CreatedAt) > s.maxAge
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per chat id and forgets it once nobody
// holds or waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refLock
}

func (k *keyedMutex) lock(key int64) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Unlock()
			k.mu.Lock()
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
			k.mu.Unlock()
		})
	}
}
