package bargein

import (
	"context"
	"testing"

	"github.com/turnframe/gateway/internal/turn"
)

func TestOnSpeechStartCancelsWhenTTSActive(t *testing.T) {
	sink := &turn.CollectingSink{}
	c := NewController(sink)
	ctx, _, turnSink := c.Begin(context.Background())

	turnSink.Emit(turn.TTSStart())
	if ctx.Err() != nil {
		t.Fatalf("context cancelled before speech-start")
	}

	if !c.OnSpeechStart() {
		t.Fatalf("expected OnSpeechStart to report a barge-in occurred")
	}
	if ctx.Err() == nil {
		t.Fatalf("expected turn context to be cancelled")
	}

	var cancelledCount int
	for _, e := range sink.Events {
		if e.Type == turn.EventTTSCancelled {
			cancelledCount++
		}
	}
	if cancelledCount != 1 {
		t.Fatalf("expected exactly 1 TTSCancelled event, got %d", cancelledCount)
	}
}

func TestOnSpeechStartNoopWhenTTSNotActive(t *testing.T) {
	sink := &turn.CollectingSink{}
	c := NewController(sink)
	c.Begin(context.Background())

	if c.OnSpeechStart() {
		t.Fatalf("expected no-op when TTS is not active")
	}
	for _, e := range sink.Events {
		if e.Type == turn.EventTTSCancelled {
			t.Fatalf("unexpected TTSCancelled with no active TTS")
		}
	}
}

func TestNoChunkOrCompleteAfterCancelled(t *testing.T) {
	sink := &turn.CollectingSink{}
	c := NewController(sink)
	_, _, turnSink := c.Begin(context.Background())

	turnSink.Emit(turn.TTSStart())
	c.OnSpeechStart()
	before := len(sink.Events)

	// Simulate the turn pipeline racing a bit further before it notices
	// cancellation: these must be dropped.
	turnSink.Emit(turn.TTSChunk([]byte{1, 2, 3}, 24000, "stale"))
	turnSink.Emit(turn.TTSComplete())

	if len(sink.Events) != before {
		t.Fatalf("expected stale TTSChunk/TTSComplete to be dropped, sink grew from %d to %d events: %+v", before, len(sink.Events), sink.Events)
	}
}

func TestTerminalEventEmittedOnlyOnce(t *testing.T) {
	sink := &turn.CollectingSink{}
	c := NewController(sink)
	_, _, turnSink := c.Begin(context.Background())

	turnSink.Emit(turn.TTSStart())
	c.OnSpeechStart()
	c.OnSpeechStart() // second barge-in signal on an already-cancelled generation: must not double-emit

	var count int
	for _, e := range sink.Events {
		if e.Type == turn.EventTTSCancelled {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 TTSCancelled across repeated signals, got %d", count)
	}
}

func TestBeginCancelsPriorGeneration(t *testing.T) {
	sink := &turn.CollectingSink{}
	c := NewController(sink)
	ctx1, _, _ := c.Begin(context.Background())
	ctx2, _, _ := c.Begin(context.Background())

	if ctx1.Err() == nil {
		t.Fatalf("expected prior generation's context to be cancelled by the next Begin")
	}
	if ctx2.Err() != nil {
		t.Fatalf("new generation's context should not be cancelled")
	}
}
