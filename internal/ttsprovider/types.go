// Package ttsprovider defines the pluggable text-to-speech capability
// (§9: "TTS {name, speak, speakStream?}").
package ttsprovider

import "context"

// Settings carries voice-shaping knobs; providers interpret what they can
// and ignore the rest.
type Settings struct {
	VoiceID string
	ModelID string
	Speed   float64
}

// Chunk is one streamed PCM payload from Stream.
type Chunk struct {
	PCM        []byte
	SampleRate int
}

// ChunkHandler receives streamed PCM chunks; returning an error aborts the
// stream.
type ChunkHandler func(Chunk) error

// Provider synthesizes speech for a sentence. Stream is optional: a
// provider that cannot stream leaves Streamable false and callers fall
// back to Speak for that sentence (§4.4 Step C).
type Provider interface {
	Name() string
	Streamable() bool
	Speak(ctx context.Context, text string, settings Settings) (Chunk, error)
	Stream(ctx context.Context, text string, settings Settings, onChunk ChunkHandler) error
}
