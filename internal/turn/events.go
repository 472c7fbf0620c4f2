// Package turn implements the simple Turn Pipeline (C4): utterance
// assembly from VAD output, the STT -> streaming LLM -> sentence-boundary
// streaming TTS loop, and the typed TurnEvent stream both it and the
// playbook-aware runner (internal/runner) emit.
package turn

import (
	"time"

	"github.com/turnframe/gateway/internal/apperrors"
	"github.com/turnframe/gateway/internal/convo"
)

// EventType tags a TurnEvent variant.
type EventType string

const (
	EventTranscript    EventType = "transcript"
	EventLLMDelta      EventType = "llm_delta"
	EventLLMFinal      EventType = "llm_final"
	EventTTSStart      EventType = "tts_start"
	EventTTSChunk      EventType = "tts_chunk"
	EventTTSComplete   EventType = "tts_complete"
	EventTTSCancelled  EventType = "tts_cancelled"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallEnd   EventType = "tool_call_end"
	EventStageChange   EventType = "stage_change"
	EventError         EventType = "error"
)

// Event is the tagged-variant TurnEvent from the data model (§3). Only the
// fields relevant to Type are populated.
type Event struct {
	Type EventType

	// Transcript
	Text    string
	IsFinal bool

	// LLMDelta / LLMFinal
	Content string
	Done    bool
	Full    string

	// TTSChunk
	PCM        []byte
	SampleRate int
	Sentence   string

	// ToolCallStart / ToolCallEnd
	ToolName   string
	CallID     string
	Arguments  string
	Result     any
	ToolErr    string
	DurationMs int64

	// StageChange
	From, To, Reason string

	// Error
	Err *apperrors.Error
}

func Transcript(text string, isFinal bool) Event {
	return Event{Type: EventTranscript, Text: text, IsFinal: isFinal}
}

func LLMDelta(content string, done bool) Event {
	return Event{Type: EventLLMDelta, Content: content, Done: done}
}

func LLMFinal(full string) Event {
	return Event{Type: EventLLMFinal, Full: full}
}

func TTSStart() Event { return Event{Type: EventTTSStart} }

func TTSChunk(pcm []byte, sampleRate int, sentence string) Event {
	return Event{Type: EventTTSChunk, PCM: pcm, SampleRate: sampleRate, Sentence: sentence}
}

func TTSComplete() Event   { return Event{Type: EventTTSComplete} }
func TTSCancelled() Event  { return Event{Type: EventTTSCancelled} }

func ToolCallStart(name, callID, args string) Event {
	return Event{Type: EventToolCallStart, ToolName: name, CallID: callID, Arguments: args}
}

func ToolCallEnd(callID string, result any, toolErr string, duration time.Duration) Event {
	return Event{Type: EventToolCallEnd, CallID: callID, Result: result, ToolErr: toolErr, DurationMs: duration.Milliseconds()}
}

func StageChange(from, to, reason string) Event {
	return Event{Type: EventStageChange, From: from, To: to, Reason: reason}
}

func ErrorEvent(err *apperrors.Error) Event {
	return Event{Type: EventError, Err: err}
}

// Sink is where a Turn Pipeline (and the Playbook Turn Runner) emits its
// event stream. The Supervisor implements this to mirror events onto the
// wire protocol; tests implement it to collect events for assertions.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// CollectingSink accumulates events in order, for tests (including the
// barge-in controller's invariant tests).
type CollectingSink struct {
	Events []Event
}

func (c *CollectingSink) Emit(e Event) { c.Events = append(c.Events, e) }

// Attachment mirrors convo.VisionAttachment for package-boundary clarity at
// the turn-pipeline API (an Utterance carries these, not a full Message).
type Attachment = convo.VisionAttachment
