// Package vad implements the VAD Gate (C2): a stateful wrapper around a
// speech-activity signal that turns a stream of 48kHz float32 frames into
// speech-start/speech-end events, with hysteresis tuned per the gateway's
// fixed defaults (positive/negative threshold, confirm count, redemption
// window, pre-speech padding).
//
// The energy-based scoring here is a concrete reference implementation; the
// VAD "model" itself is a pluggable capability (see Scorer) the same way the
// spec treats it as an external black box.
package vad

import "math"

// EventType tags a Gate emission.
type EventType int

const (
	EventNone EventType = iota
	EventSpeechStart
	EventSpeechEnd
)

// Event is emitted by Process/Flush. Audio is populated only on
// EventSpeechEnd, as 16kHz mono float32 samples including pre-speech padding.
type Event struct {
	Type  EventType
	Audio []float32
}

// Scorer turns one 48kHz frame of normalized float32 samples into a speech
// probability/confidence score in [0,1]. A concrete energy-based Scorer is
// provided as EnergyScorer; production deployments plug in a real model here.
type Scorer interface {
	Score(frame []float32) float64
}

// Config holds the Gate's tunables; DefaultConfig() matches the spec's fixed
// defaults exactly.
type Config struct {
	InputSampleRate   int     // Hz, frames arrive at this rate (48000)
	PositiveThreshold float64 // score above this counts toward confirming speech
	NegativeThreshold float64 // score below this counts toward confirming silence
	MinSpeechFrames   int     // consecutive frames above PositiveThreshold to confirm start
	RedemptionFrames  int     // consecutive frames below NegativeThreshold to confirm end
	PreSpeechPad      int     // frames of pre-roll retained before a confirmed start
}

// DefaultConfig returns the spec's fixed tuning defaults.
func DefaultConfig() Config {
	return Config{
		InputSampleRate:   48000,
		PositiveThreshold: 0.5,
		NegativeThreshold: 0.35,
		MinSpeechFrames:   5,
		RedemptionFrames:  50,
		PreSpeechPad:      10,
	}
}

// Gate is the stateful VAD wrapper. Not safe for concurrent use by multiple
// goroutines without external synchronization (it is owned by a single
// per-connection inbound pump).
type Gate struct {
	cfg    Config
	scorer Scorer

	speaking       bool
	confirming     int // consecutive above-threshold frames while not yet speaking
	silenceRun     int // consecutive below-threshold frames while speaking
	ring           [][]float32
	ringCap        int
	collected      [][]float32 // frames collected since confirmed speech start
	pendingPreRoll bool        // not set or read by any Gate method
}

// NewGate builds a Gate with the given config and scoring model.
func NewGate(cfg Config, scorer Scorer) *Gate {
	if cfg.MinSpeechFrames <= 0 {
		cfg.MinSpeechFrames = 1
	}
	if cfg.PreSpeechPad < 0 {
		cfg.PreSpeechPad = 0
	}
	return &Gate{
		cfg:     cfg,
		scorer:  scorer,
		ringCap: cfg.PreSpeechPad,
	}
}

// Process consumes one 48kHz float32 frame (normalized to [-1,1]) and
// returns an Event. EventNone means no transition occurred this frame.
// Emits at most one EventSpeechStart before its matching EventSpeechEnd; the
// pair strictly alternates.
func (g *Gate) Process(frame []float32) Event {
	score := g.scorer.Score(frame)

	if g.speaking {
		g.appendCollected(frame)
		if score < g.cfg.NegativeThreshold {
			g.silenceRun++
			if g.silenceRun >= g.cfg.RedemptionFrames {
				return g.endSpeech()
			}
		} else {
			g.silenceRun = 0
		}
		return Event{Type: EventNone}
	}

	// Not currently speaking: maintain the pre-roll ring and confirm counter.
	g.pushRing(frame)
	if score >= g.cfg.PositiveThreshold {
		g.confirming++
		if g.confirming >= g.cfg.MinSpeechFrames {
			return g.startSpeech()
		}
		return Event{Type: EventNone}
	}
	g.confirming = 0
	return Event{Type: EventNone}
}

// Flush forces a speech-end if speech is in progress; otherwise no-op.
func (g *Gate) Flush() Event {
	if !g.speaking {
		return Event{Type: EventNone}
	}
	return g.endSpeech()
}

func (g *Gate) startSpeech() Event {
	g.speaking = true
	g.silenceRun = 0
	g.confirming = 0
	// Seed the collected buffer with the pre-roll ring (oldest-first), which
	// includes the frames that confirmed speech.
	g.collected = append(g.collected[:0], g.ring...)
	g.ring = nil
	return Event{Type: EventSpeechStart}
}

func (g *Gate) endSpeech() Event {
	frames := g.collected
	g.collected = nil
	g.speaking = false
	g.silenceRun = 0
	g.confirming = 0
	g.ring = nil

	audio := downsampleTo16k(frames, g.cfg.InputSampleRate)
	return Event{Type: EventSpeechEnd, Audio: audio}
}

func (g *Gate) appendCollected(frame []float32) {
	cp := append([]float32{}, frame...)
	g.collected = append(g.collected, cp)
}

func (g *Gate) pushRing(frame []float32) {
	if g.ringCap <= 0 {
		return
	}
	cp := append([]float32{}, frame...)
	g.ring = append(g.ring, cp)
	if len(g.ring) > g.ringCap {
		g.ring = g.ring[len(g.ring)-g.ringCap:]
	}
}

// downsampleTo16k flattens frames (at inputRate) into a single 16kHz mono
// float32 slice using nearest-neighbor decimation.
func downsampleTo16k(frames [][]float32, inputRate int) []float32 {
	total := 0
	for _, f := range frames {
		total += len(f)
	}
	if total == 0 {
		return nil
	}
	flat := make([]float32, 0, total)
	for _, f := range frames {
		flat = append(flat, f...)
	}
	if inputRate == 16000 {
		return flat
	}
	ratio := float64(inputRate) / 16000.0
	outLen := int(float64(len(flat)) / ratio)
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		src := int(float64(i) * ratio)
		if src >= len(flat) {
			src = len(flat) - 1
		}
		out[i] = flat[src]
	}
	return out
}

// Int16ToFloat32 converts int16 PCM samples to normalized float32.
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToInt16 converts normalized float32 samples (clipped to [-1,1]) to
// int16 PCM, rounding to nearest.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		c := math.Max(-1, math.Min(1, float64(s)))
		out[i] = int16(math.Round(c * 32767))
	}
	return out
}

// EnergyScorer is a concrete reference Scorer computing normalized RMS
// energy of the frame, matching the lightweight no-dependency VAD shape.
type EnergyScorer struct{}

func (EnergyScorer) Score(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	// Scale so that typical speech energy lands near/above 0.5; this is a
	// calibration knob for the reference scorer only.
	return math.Min(1.0, rms*4)
}
