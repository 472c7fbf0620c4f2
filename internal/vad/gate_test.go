package vad

import "testing"

type fixedScorer struct{ scores []float64 }

func (f *fixedScorer) Score(_ []float32) float64 {
	if len(f.scores) == 0 {
		return 0
	}
	s := f.scores[0]
	f.scores = f.scores[1:]
	return s
}

func frame() []float32 { return make([]float32, 480) }

func TestGateConfirmsSpeechStartAfterMinFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 3
	scorer := &fixedScorer{scores: []float64{0.9, 0.9, 0.9}}
	g := NewGate(cfg, scorer)

	var got Event
	for i := 0; i < 3; i++ {
		got = g.Process(frame())
	}
	if got.Type != EventSpeechStart {
		t.Fatalf("Type = %v, want EventSpeechStart on the 3rd confirming frame", got.Type)
	}
}

func TestGateDoesNotStartOnSingleSpike(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 5
	scorer := &fixedScorer{scores: []float64{0.9, 0.1, 0.9, 0.9, 0.9, 0.9}}
	g := NewGate(cfg, scorer)
	for i := 0; i < 2; i++ {
		if ev := g.Process(frame()); ev.Type != EventNone {
			t.Fatalf("unexpected event at frame %d: %v", i, ev.Type)
		}
	}
	// confirming counter reset by the dip; needs 5 more consecutive frames.
	var saw bool
	for i := 0; i < 4; i++ {
		if g.Process(frame()).Type == EventSpeechStart {
			saw = true
		}
	}
	if saw {
		t.Fatalf("speech start fired before 5 consecutive confirming frames after reset")
	}
}

func TestGateStrictAlternation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 2
	cfg.RedemptionFrames = 2
	scores := []float64{0.9, 0.9, 0.1, 0.1, 0.9, 0.9, 0.1, 0.1}
	scorer := &fixedScorer{scores: scores}
	g := NewGate(cfg, scorer)

	var events []EventType
	for range scores {
		ev := g.Process(frame())
		if ev.Type != EventNone {
			events = append(events, ev.Type)
		}
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %v", len(events), events)
	}
	want := []EventType{EventSpeechStart, EventSpeechEnd, EventSpeechStart, EventSpeechEnd}
	for i, w := range want {
		if events[i] != w {
			t.Fatalf("event[%d] = %v, want %v", i, events[i], w)
		}
	}
}

func TestGateFlushForcesEndWhenSpeaking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechFrames = 1
	g := NewGate(cfg, &fixedScorer{scores: []float64{0.9}})
	if ev := g.Process(frame()); ev.Type != EventSpeechStart {
		t.Fatalf("expected speech start")
	}
	ev := g.Flush()
	if ev.Type != EventSpeechEnd {
		t.Fatalf("Flush() = %v, want EventSpeechEnd", ev.Type)
	}
}

func TestGateFlushNoopWhenIdle(t *testing.T) {
	g := NewGate(DefaultConfig(), &fixedScorer{})
	if ev := g.Flush(); ev.Type != EventNone {
		t.Fatalf("Flush() on idle gate = %v, want EventNone", ev.Type)
	}
}

func TestInt16Float32RoundTrip(t *testing.T) {
	in := []int16{0, 32767, -32768, 1000, -1000}
	f := Int16ToFloat32(in)
	back := Float32ToInt16(f)
	for i := range in {
		diff := int(in[i]) - int(back[i])
		if diff < -1 || diff > 1 {
			t.Fatalf("round trip sample %d: got %d, want ~%d", i, back[i], in[i])
		}
	}
}
