package convo

import "testing"

func TestWindowKeepsSystemAndLastN(t *testing.T) {
	s := NewState("you are helpful")
	for i := 0; i < 20; i++ {
		s.Append(Message{Role: RoleUser, Text: "hi"})
	}
	win := s.Window(8)
	if win[0].Role != RoleSystem {
		t.Fatalf("window[0] = %v, want system", win[0].Role)
	}
	if len(win) != 9 {
		t.Fatalf("len(window) = %d, want 9 (system + 8)", len(win))
	}
}

func TestTrimNeverRemovesSystem(t *testing.T) {
	s := NewState("sys")
	for i := 0; i < 50; i++ {
		s.Append(Message{Role: RoleUser, Text: "msg"})
	}
	s.TrimTo(8)
	msgs := s.Messages()
	if msgs[0].Role != RoleSystem {
		t.Fatalf("system message lost after trim")
	}
	if len(msgs) > 11 {
		t.Fatalf("len(msgs) = %d, want <= limit+2+1(system)", len(msgs))
	}
}

func TestTrimNeverSplitsToolGroup(t *testing.T) {
	s := NewState("sys")
	for i := 0; i < 6; i++ {
		s.Append(Message{Role: RoleUser, Text: "q"})
		s.Append(Message{Role: RoleAssistant, Text: "", ToolCalls: []ToolCall{{ID: "c1", Name: "f"}}})
		s.Append(Message{Role: RoleTool, ToolCallID: "c1", ToolName: "f", Text: "{}"})
		s.Append(Message{Role: RoleAssistant, Text: "answer"})
	}
	s.TrimTo(4)
	msgs := s.Messages()
	for i, m := range msgs {
		if m.Role == RoleTool {
			if i == 0 {
				t.Fatalf("trimmed history starts with an orphaned tool message")
			}
			if !msgs[i-1].HasToolCalls() && msgs[i-1].Role != RoleTool {
				t.Fatalf("tool message at %d not preceded by assistant-with-tool_calls or another tool msg", i)
			}
		}
	}
}

func TestAppendAndLast(t *testing.T) {
	s := NewState("")
	if _, ok := s.Last(); ok {
		t.Fatalf("Last() on empty state returned ok=true")
	}
	s.Append(Message{Role: RoleUser, Text: "hi"})
	last, ok := s.Last()
	if !ok || last.Text != "hi" {
		t.Fatalf("Last() = %+v, %v", last, ok)
	}
}
