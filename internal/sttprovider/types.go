// Package sttprovider defines the pluggable speech-to-text capability
// (§9: "STT {name, transcribe}").
package sttprovider

import "context"

// Result is a completed transcription.
type Result struct {
	Text       string
	Confidence float64
}

// Provider transcribes WAV-wrapped PCM16LE audio. Non-LLM providers never
// retry at the reliability layer (§7); a Provider call either succeeds or
// returns a terminal error.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, wav []byte) (Result, error)
}
