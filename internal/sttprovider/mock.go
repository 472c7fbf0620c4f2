package sttprovider

import "context"

// Mock returns its fixed Text as the transcript (empty when none is
// configured), or Err when set. Used by tests and by the demo wiring when
// no live STT credentials are present.
type Mock struct {
	NameValue string
	Text      string
	Err       error
}

func (m *Mock) Name() string { return m.NameValue }

func (m *Mock) Transcribe(ctx context.Context, wav []byte) (Result, error) {
	if m.Err != nil {
		return Result{}, m.Err
	}
	return Result{Text: m.Text, Confidence: 1.0}, nil
}
