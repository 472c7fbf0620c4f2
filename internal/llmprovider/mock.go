package llmprovider

import (
	"context"
	"strings"
)

// Mock is a scripted Provider used by tests and the fallback/demo wiring
// when no live credentials are configured. Responses are consumed in order;
// the last response repeats once exhausted.
type Mock struct {
	NameValue    string
	Streaming    bool
	Responses    []Response
	StreamChunks [][]string // per-call list of delta strings; falls back to splitting Responses[i].Text on spaces
	Err          error
	ErrOnCall    int // 1-indexed call number that should fail, 0 = never

	calls int
}

func (m *Mock) Name() string      { return m.NameValue }
func (m *Mock) Streamable() bool  { return m.Streaming }

func (m *Mock) responseAt(idx int) Response {
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	if idx < 0 {
		return Response{StopReason: StopEndTurn}
	}
	return m.Responses[idx]
}

func (m *Mock) Complete(ctx context.Context, req Request) (Response, error) {
	idx := m.calls
	m.calls++
	if m.Err != nil && (m.ErrOnCall == 0 || m.ErrOnCall == m.calls) {
		return Response{}, m.Err
	}
	return m.responseAt(idx), nil
}

func (m *Mock) Stream(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	idx := m.calls
	m.calls++
	if m.Err != nil && (m.ErrOnCall == 0 || m.ErrOnCall == m.calls) {
		return Response{}, m.Err
	}
	resp := m.responseAt(idx)

	var chunks []string
	if idx >= 0 && idx < len(m.StreamChunks) {
		chunks = m.StreamChunks[idx]
	} else {
		chunks = splitWords(resp.Text)
	}

	for _, c := range chunks {
		select {
		case <-ctx.Done():
			return Response{}, ctx.Err()
		default:
		}
		if err := onDelta(Delta{Content: c}); err != nil {
			return Response{}, err
		}
	}
	if err := onDelta(Delta{Done: true, ToolCalls: resp.ToolCalls, StopReason: resp.StopReason}); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func splitWords(text string) []string {
	if text == "" {
		return nil
	}
	words := strings.SplitAfter(text, " ")
	out := make([]string, 0, len(words))
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
