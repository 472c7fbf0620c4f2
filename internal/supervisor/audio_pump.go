package supervisor

import (
	"context"
	"time"

	"github.com/turnframe/gateway/internal/apperrors"
	"github.com/turnframe/gateway/internal/peermedia"
	"github.com/turnframe/gateway/internal/turn"
	"github.com/turnframe/gateway/internal/vad"
)

// pumpPeerAudio implements §4.9's "on incoming audio track, initialize C2
// and wire C2→C3→TurnRunner. Bind C7 to speech-start.": it reads frames off
// the peer adaptor's inbound audio track, runs them through the VAD gate,
// and on a completed speech segment assembles and dispatches an utterance.
// Runs for the lifetime of the connection; closes done on exit.
func (c *conn) pumpPeerAudio(ctx context.Context, done chan struct{}) {
	defer close(done)

	in := c.adaptor.AudioInput()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			c.processPeerAudioFrame(ctx, frame)
		}
	}
}

func (c *conn) processPeerAudioFrame(ctx context.Context, frame peermedia.AudioFrame) {
	samples := bytesToInt16LE(frame.PCM)
	event := c.gate.Process(vad.Int16ToFloat32(samples))

	switch event.Type {
	case vad.EventSpeechStart:
		c.mu.Lock()
		c.speechStart = time.Now()
		c.mu.Unlock()
		c.bargein.OnSpeechStart()
	case vad.EventSpeechEnd:
		sess := c.boundSession()
		if sess == nil {
			return
		}
		c.mu.Lock()
		start := c.speechStart
		c.mu.Unlock()
		u, err := turn.AssembleUtterance(event.Audio, start, time.Now(), &c.pending)
		if err != nil {
			c.emitError(apperrors.New(apperrors.CodeAudioProcessingError, apperrors.ComponentTransport, err.Error()))
			return
		}
		go c.runTurn(ctx, sess, u)
	}
}

// bytesToInt16LE reinterprets little-endian PCM16 bytes as samples.
func bytesToInt16LE(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return out
}
