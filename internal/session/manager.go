// Package session implements the Session Store (C8): a concurrent map from
// session id to Session, each owning the ConversationState history and
// PlaybookRuntime a reconnect must restore untouched, plus a background
// sweeper that expires sessions idle past their TTL. Shape grounded on
// `_examples/ent0n29-samantha/internal/session/manager.go`'s lock-and-map
// Manager, extended with the history/runtime storage and get-if-live
// semantics the teacher version never needed (it had no resumable turns).
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turnframe/gateway/internal/convo"
	"github.com/turnframe/gateway/internal/playbook"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var ErrNotFound = errors.New("session not found")

// Session is a connection's durable state: identity, conversation history,
// and (in playbook mode) the stage-machine runtime. Only the Supervisor and
// the Turn Runner mutate History/Playbook, and only while holding the
// session's turn lock; Manager itself only guards the bookkeeping fields.
type Session struct {
	ID                string
	UserID            string
	Status            Status
	PersonaID         string
	VoiceID           string
	PlaybookID        string
	ActiveTurnID      string
	InterruptionCount int
	StartedAt         time.Time
	LastActivityAt    time.Time

	History  *convo.State
	Playbook *playbook.Runtime
}

// Manager is the in-memory, process-local Session Store. A pluggable
// sessionstore.Store (Postgres-backed) can sit behind it for durability
// across restarts; Manager itself never needs to know that exists.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByUser     map[string]string
	inactivityTimeout time.Duration
	endedRetention    time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 30 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByUser:     make(map[string]string),
		inactivityTimeout: inactivityTimeout,
		endedRetention:    5 * time.Minute,
	}
}

// SetEndedRetention controls how long an Ended session is kept around
// before the sweeper drops it from the map entirely. Zero disables
// pruning: ended sessions are kept forever.
func (m *Manager) SetEndedRetention(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endedRetention = d
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create starts a new Session with a fresh ConversationState, outside
// playbook mode.
func (m *Manager) Create(userID, personaID, voiceID string) *Session {
	return m.CreateWithPlaybook(userID, personaID, voiceID, nil, "")
}

// CreateWithPlaybook starts a new Session; if def is non-nil the session
// runs in playbook mode with a matching Runtime seeded at def.InitialStage.
func (m *Manager) CreateWithPlaybook(userID, personaID, voiceID string, def *playbook.Definition, systemPrompt string) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		PersonaID:      personaID,
		VoiceID:        voiceID,
		Status:         StatusActive,
		StartedAt:      now,
		LastActivityAt: now,
		History:        convo.NewState(systemPrompt),
	}
	if def != nil {
		s.PlaybookID = def.ID
		s.Playbook = playbook.NewRuntime(def, now.UnixMilli())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if userID != "" {
		m.sessionByUser[userID] = s.ID
	}
	return s
}

// Get returns the live Session object (not a copy): callers that need to
// read or mutate History/Playbook under the turn lock use this. Returns
// ErrNotFound for unknown or already-pruned ids, regardless of status.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// GetIfLive is the Reconnect primitive: returns the Session (history and
// playbook runtime intact) only if it is Active and within TTL, and bumps
// last_activity_at on success. Returns ErrNotFound otherwise, including for
// an Ended or TTL-expired session — the caller creates a new Session when
// this happens (§4.8 reconnect semantics).
func (m *Manager) GetIfLive(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != StatusActive {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	if now.Sub(s.LastActivityAt) > m.inactivityTimeout {
		return nil, ErrNotFound
	}
	s.LastActivityAt = now
	return s, nil
}

// HasLive reports whether sessionID names an Active, unexpired Session,
// without touching its last-activity timestamp.
func (m *Manager) HasLive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok || s.Status != StatusActive {
		return false
	}
	return time.Since(s.LastActivityAt) <= m.inactivityTimeout
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) StartTurn(sessionID, turnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.ActiveTurnID = turnID
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) Interrupt(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.InterruptionCount++
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.ActiveTurnID = ""
	s.LastActivityAt = time.Now().UTC()
	if s.UserID != "" {
		delete(m.sessionByUser, s.UserID)
	}
	return s, nil
}

// Remove drops sessionID from the store immediately, bypassing ended
// retention. Used by the Supervisor on an explicit client-initiated end.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	delete(m.sessions, sessionID)
	if s.UserID != "" && m.sessionByUser[s.UserID] == sessionID {
		delete(m.sessionByUser, s.UserID)
	}
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

// expireInactive is the sweeper body (§4.8): Active sessions idle past TTL
// move to Ended; Ended sessions idle past endedRetention are pruned from
// the map entirely. Two separate checks because an explicit End() and a
// TTL expiry both land a session in Ended, but only the sweeper needs to
// eventually reclaim the map entry — Remove() is the immediate-drop path
// for an explicit client-initiated end instead.
func (m *Manager) expireInactive() {
	now := time.Now().UTC()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Status == StatusActive {
			if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
				continue
			}
			s.Status = StatusEnded
			s.ActiveTurnID = ""
			s.LastActivityAt = now
			expired = append(expired, s)
			if s.UserID != "" {
				delete(m.sessionByUser, s.UserID)
			}
			continue
		}
		if s.Status == StatusEnded && m.endedRetention > 0 && now.Sub(s.LastActivityAt) >= m.endedRetention {
			delete(m.sessions, id)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

// Destroy drops every entry. For process shutdown or tests needing a clean
// slate without waiting out retention; StartJanitor's own ctx cancellation
// is what actually stops the sweeper goroutine.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
	m.sessionByUser = make(map[string]string)
}
