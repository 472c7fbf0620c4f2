package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/turnframe/gateway/internal/convo"
	"github.com/turnframe/gateway/internal/playbook"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm", "")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.PersonaID != "warm" || got.Status != StatusActive {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
}

func TestManagerInterruptClearsTurn(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm", "")
	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.Interrupt(s.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty", got.ActiveTurnID)
	}
	if got.InterruptionCount != 1 {
		t.Fatalf("InterruptionCount = %d, want 1", got.InterruptionCount)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", "warm", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}

func TestManagerPrunesEndedSessionsAfterRetention(t *testing.T) {
	m := NewManager(time.Minute)
	m.SetEndedRetention(50 * time.Millisecond)
	s := m.Create("u1", "warm", "")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	m.mu.Lock()
	m.sessions[s.ID].LastActivityAt = time.Now().Add(-time.Second)
	m.mu.Unlock()
	m.expireInactive()

	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want %v", err, ErrNotFound)
	}
}

func TestManagerRetentionZeroDisablesEndedPruning(t *testing.T) {
	m := NewManager(time.Minute)
	m.SetEndedRetention(0)
	s := m.Create("u1", "warm", "")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	m.mu.Lock()
	m.sessions[s.ID].LastActivityAt = time.Now().Add(-24 * time.Hour)
	m.mu.Unlock()
	m.expireInactive()

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusEnded {
		t.Fatalf("Status = %q, want %q", got.Status, StatusEnded)
	}
}

func TestManagerGetIfLiveReturnsHistoryIntact(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm", "")
	s.History.Append(convo.Message{Role: convo.RoleUser, Text: "hello"})
	s.History.Append(convo.Message{Role: convo.RoleAssistant, Text: "hi there"})
	wantLen := s.History.Len()

	got, err := m.GetIfLive(s.ID)
	if err != nil {
		t.Fatalf("GetIfLive() error = %v", err)
	}
	if got.History.Len() != wantLen {
		t.Fatalf("History.Len() = %d, want %d", got.History.Len(), wantLen)
	}
	if got != s {
		t.Fatalf("GetIfLive() should return the same Session, not a copy")
	}
}

func TestManagerGetIfLiveFailsAfterTTL(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", "warm", "")

	m.mu.Lock()
	m.sessions[s.ID].LastActivityAt = time.Now().Add(-time.Hour)
	m.mu.Unlock()

	if _, err := m.GetIfLive(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetIfLive() error = %v, want %v", err, ErrNotFound)
	}
}

func TestManagerGetIfLiveFailsForEndedSession(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm", "")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if _, err := m.GetIfLive(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetIfLive() error = %v, want %v", err, ErrNotFound)
	}
}

func TestManagerHasLive(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm", "")
	if !m.HasLive(s.ID) {
		t.Fatalf("expected HasLive true for fresh session")
	}
	if m.HasLive("nonexistent") {
		t.Fatalf("expected HasLive false for unknown id")
	}
	m.End(s.ID)
	if m.HasLive(s.ID) {
		t.Fatalf("expected HasLive false after End")
	}
}

func TestManagerRemoveDropsImmediately(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm", "")
	m.Remove(s.ID)
	if _, err := m.Get(s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want %v", err, ErrNotFound)
	}
}

func TestManagerDestroyClearsAllSessions(t *testing.T) {
	m := NewManager(time.Minute)
	m.Create("u1", "warm", "")
	m.Create("u2", "warm", "")
	m.Destroy()
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0 after Destroy", m.ActiveCount())
	}
}

func TestManagerCreateWithPlaybookSeedsRuntime(t *testing.T) {
	def := &playbook.Definition{
		ID:           "greeter",
		InitialStage: "greet",
		Stages:       []playbook.Stage{{ID: "greet", Name: "Greet"}},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	m := NewManager(time.Minute)
	s := m.CreateWithPlaybook("u1", "warm", "", def, "be nice")
	if s.Playbook == nil {
		t.Fatalf("expected a seeded Playbook runtime")
	}
	if s.Playbook.CurrentStage != "greet" {
		t.Fatalf("CurrentStage = %q, want %q", s.Playbook.CurrentStage, "greet")
	}
	if s.PlaybookID != "greeter" {
		t.Fatalf("PlaybookID = %q, want %q", s.PlaybookID, "greeter")
	}
}

func TestManagerReconnectPreservesHistory(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "warm", "")
	s.History.Append(convo.Message{Role: convo.RoleUser, Text: "what's my order status"})
	s.History.Append(convo.Message{Role: convo.RoleAssistant, Text: "let me check"})
	before := make([]convo.Message, len(s.History.Messages()))
	copy(before, s.History.Messages())

	// Simulates a disconnect/reconnect: the connection drops but the
	// session stays live in the store, so GetIfLive must hand back the
	// exact same history the Turn Runner left it in.
	resumed, err := m.GetIfLive(s.ID)
	if err != nil {
		t.Fatalf("GetIfLive() error = %v", err)
	}
	after := resumed.History.Messages()
	if len(after) != len(before) {
		t.Fatalf("history length = %d, want %d", len(after), len(before))
	}
	for i := range before {
		if after[i].Role != before[i].Role || after[i].Text != before[i].Text {
			t.Fatalf("history[%d] = %+v, want %+v", i, after[i], before[i])
		}
	}
}
