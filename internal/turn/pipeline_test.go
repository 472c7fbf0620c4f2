package turn

import (
	"context"
	"testing"

	"github.com/turnframe/gateway/internal/convo"
	"github.com/turnframe/gateway/internal/llmprovider"
	"github.com/turnframe/gateway/internal/ttsprovider"
)

func sttAlways(text string, err error) func(context.Context, []byte) (string, error) {
	return func(ctx context.Context, wav []byte) (string, error) { return text, err }
}

// Scenario 1: simple turn, two sentences.
func TestRunTurnSimpleTwoSentences(t *testing.T) {
	sink := &CollectingSink{}
	history := convo.NewState("")
	llm := &llmprovider.Mock{
		Streaming: true,
		Responses: []llmprovider.Response{{Text: "Hello there! How can I help you?"}},
		StreamChunks: [][]string{{"Hello ", "there! ", "How ", "can ", "I ", "help ", "you?"}},
	}
	tts := &ttsprovider.Mock{Streaming: true, BytesPerChar: 2}

	RunTurn(context.Background(), DefaultConfig(), history, []byte("wav"), nil,
		sttAlways("Hello there! How can I help you?", nil),
		llm, nil, llmprovider.ModelConfig{}, tts, ttsprovider.Settings{}, sink)

	if sink.Events[0].Type != EventTranscript {
		t.Fatalf("first event = %v, want transcript", sink.Events[0].Type)
	}
	var sawStart, sawFinal, sawComplete bool
	var chunkSentences []string
	for _, e := range sink.Events {
		switch e.Type {
		case EventTTSStart:
			sawStart = true
		case EventLLMFinal:
			sawFinal = true
		case EventTTSComplete:
			sawComplete = true
		case EventTTSChunk:
			chunkSentences = append(chunkSentences, e.Sentence)
		}
	}
	if !sawStart || !sawFinal || !sawComplete {
		t.Fatalf("missing expected lifecycle events: start=%v final=%v complete=%v", sawStart, sawFinal, sawComplete)
	}
	if len(chunkSentences) < 2 {
		t.Fatalf("expected TTSChunk events for at least 2 sentences, got %v", chunkSentences)
	}

	msgs := history.Messages()
	if msgs[len(msgs)-1].Role != convo.RoleAssistant {
		t.Fatalf("history does not end with assistant reply")
	}
}

// Scenario 2: empty transcript short-circuits to TTSComplete with no LLM/TTS calls.
func TestRunTurnEmptyTranscript(t *testing.T) {
	sink := &CollectingSink{}
	history := convo.NewState("")
	llm := &llmprovider.Mock{Streaming: true}
	tts := &ttsprovider.Mock{Streaming: true}

	RunTurn(context.Background(), DefaultConfig(), history, []byte("wav"), nil,
		sttAlways("", nil), llm, nil, llmprovider.ModelConfig{}, tts, ttsprovider.Settings{}, sink)

	if len(sink.Events) != 2 {
		t.Fatalf("events = %v, want exactly [transcript, tts_complete]", sink.Events)
	}
	if sink.Events[0].Type != EventTranscript || sink.Events[0].Text != "" {
		t.Fatalf("unexpected first event: %+v", sink.Events[0])
	}
	if sink.Events[1].Type != EventTTSComplete {
		t.Fatalf("unexpected second event: %+v", sink.Events[1])
	}
	if history.Len() != 0 {
		t.Fatalf("history should be untouched on empty transcript, got %d messages", history.Len())
	}
}

func TestRunTurnSTTError(t *testing.T) {
	sink := &CollectingSink{}
	history := convo.NewState("")
	RunTurn(context.Background(), DefaultConfig(), history, []byte("wav"), nil,
		sttAlways("", errBoom), &llmprovider.Mock{}, nil, llmprovider.ModelConfig{}, &ttsprovider.Mock{}, ttsprovider.Settings{}, sink)

	if len(sink.Events) != 1 || sink.Events[0].Type != EventError {
		t.Fatalf("events = %v, want single error event", sink.Events)
	}
	if sink.Events[0].Err.Code != "STT_ERROR" {
		t.Fatalf("error code = %v, want STT_ERROR", sink.Events[0].Err.Code)
	}
}

func TestRunTurnTTSFallbackOnStreamError(t *testing.T) {
	sink := &CollectingSink{}
	history := convo.NewState("")
	llm := &llmprovider.Mock{
		Streaming:    true,
		Responses:    []llmprovider.Response{{Text: "Hi."}},
		StreamChunks: [][]string{{"Hi."}},
	}
	tts := &ttsprovider.Mock{Streaming: true, ErrOnStream: true, BytesPerChar: 2}

	RunTurn(context.Background(), DefaultConfig(), history, []byte("wav"), nil,
		sttAlways("hi", nil), llm, nil, llmprovider.ModelConfig{}, tts, ttsprovider.Settings{}, sink)

	var sawChunk bool
	for _, e := range sink.Events {
		if e.Type == EventTTSChunk {
			sawChunk = true
		}
	}
	if !sawChunk {
		t.Fatalf("expected a TTSChunk from the non-streaming fallback path")
	}
}

type boomErr struct{}

func (boomErr) Error() string { return "boom" }

var errBoom = boomErr{}
