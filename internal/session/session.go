// Package session tracks upload batch progress in memory and fans it out to
// SSE subscribers. Sessions are ephemeral; a restart loses them while photos
// and ledger entries survive in the database.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/racepix/racepix/internal/constants"
)

// Event is one progress update pushed to SSE subscribers.
type Event struct {
	Type    string   `json:"type"` // "progress" or "complete"
	Session Snapshot `json:"session"`
}

// Snapshot is the externally visible state of an upload session.
type Snapshot struct {
	ID              string    `json:"id"`
	EventID         string    `json:"event_id"`
	UserID          string    `json:"user_id"`
	Total           int       `json:"total"`
	Processed       int       `json:"processed"`
	Percent         int       `json:"percent"`
	CurrentStep     string    `json:"current_step"`
	CreditsRefunded int       `json:"credits_refunded"`
	Complete        bool      `json:"complete"`
	CreatedAt       time.Time `json:"created_at"`
}

// Session is one upload batch being processed.
type Session struct {
	mu        sync.RWMutex
	id        string
	eventID   string
	userID    string
	total     int
	processed int
	step      string
	refunded  int
	complete  bool
	createdAt time.Time
	doneAt    time.Time

	listeners []chan Event
}

func (s *Session) ID() string { return s.id }

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	percent := 0
	if s.total > 0 {
		percent = s.processed * 100 / s.total
	}
	return Snapshot{
		ID:              s.id,
		EventID:         s.eventID,
		UserID:          s.userID,
		Total:           s.total,
		Processed:       s.processed,
		Percent:         percent,
		CurrentStep:     s.step,
		CreditsRefunded: s.refunded,
		Complete:        s.complete,
		CreatedAt:       s.createdAt,
	}
}

// SetStep records the stage currently running for a photo.
func (s *Session) SetStep(step string) {
	s.mu.Lock()
	s.step = step
	event := Event{Type: "progress", Session: s.snapshotLocked()}
	s.mu.Unlock()
	s.send(event)
}

// PhotoDone increments the processed counter. The counter never exceeds the
// total; the session completes when the last photo lands.
func (s *Session) PhotoDone() (last bool) {
	s.mu.Lock()
	if s.processed < s.total {
		s.processed++
	}
	last = s.processed == s.total
	if last {
		s.step = ""
	}
	event := Event{Type: "progress", Session: s.snapshotLocked()}
	s.mu.Unlock()
	s.send(event)
	return last
}

// AddRefund records credits returned for unlinked photos of this session.
func (s *Session) AddRefund(credits int) {
	s.mu.Lock()
	s.refunded += credits
	event := Event{Type: "progress", Session: s.snapshotLocked()}
	s.mu.Unlock()
	s.send(event)
}

// Finish marks the session complete and notifies all subscribers.
func (s *Session) Finish() {
	s.mu.Lock()
	if s.complete {
		s.mu.Unlock()
		return
	}
	s.complete = true
	s.doneAt = time.Now()
	event := Event{Type: "complete", Session: s.snapshotLocked()}
	s.mu.Unlock()
	s.send(event)
}

// AddListener subscribes to progress events.
func (s *Session) AddListener() chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan Event, constants.EventChannelBuffer)
	s.listeners = append(s.listeners, ch)
	return ch
}

// RemoveListener unsubscribes and closes the channel.
func (s *Session) RemoveListener(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, listener := range s.listeners {
		if listener == ch {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (s *Session) send(event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, listener := range s.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// expired reports whether a completed session has passed its retention.
func (s *Session) expired(retention time.Duration, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.complete && now.Sub(s.doneAt) > retention
}

// Store holds active upload sessions.
type Store struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	retention time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewStore creates a session store. A zero retention falls back to the
// default; completed sessions are dropped after it elapses.
func NewStore(retention time.Duration) *Store {
	if retention <= 0 {
		retention = constants.SessionRetentionMinutes * time.Minute
	}
	s := &Store{
		sessions:  make(map[string]*Session),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Create registers a new session for an upload batch.
func (s *Store) Create(eventID, userID string, total int) *Session {
	sess := &Session{
		id:        uuid.NewString(),
		eventID:   eventID,
		userID:    userID,
		total:     total,
		createdAt: time.Now(),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

// Get returns a session by ID.
func (s *Store) Get(sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return sess, nil
}

// Close stops the janitor goroutine.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Store) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sess := range s.sessions {
		if sess.expired(s.retention, now) {
			delete(s.sessions, id)
		}
	}
}
