package supervisor

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/turnframe/gateway/internal/audio"
	"github.com/turnframe/gateway/internal/peermedia"
	"github.com/turnframe/gateway/internal/protocol"
	"github.com/turnframe/gateway/internal/turn"
)

// reframerSink adapts a peermedia.Adaptor's outbound audio call to
// audio.Sink, so a Reframer can pace TTS PCM onto the peer audio track
// (§4.9: "feed into C1 ... do not send chunk bytes over the control
// channel").
type reframerSink struct {
	adaptor peermedia.Adaptor
}

func (r reframerSink) SendFrame(frame []byte) error {
	return r.adaptor.SendAudio(peermedia.AudioFrame{PCM: frame, SampleRate: audio.OutputSampleRate, Channels: 1})
}

// mirror is the Supervisor's wire-protocol Sink (§4.9: "On every TurnEvent
// forward the corresponding wire message to both the control connection and
// the peer data channel"). The barge-in controller wraps it, so it only
// ever observes events already filtered for staleness/exactly-once-terminal.
func (c *conn) mirror(e turn.Event) {
	switch e.Type {
	case turn.EventTranscript:
		c.send(protocol.Transcript{Type: protocol.TypeTranscript, Text: e.Text, IsFinal: e.IsFinal})
	case turn.EventLLMDelta:
		c.send(protocol.LLMChunk{Type: protocol.TypeLLMChunk, Content: e.Content, Done: e.Done})
	case turn.EventLLMFinal:
		c.send(protocol.LLMFinalMessage{Type: protocol.TypeLLM, Text: e.Full})
	case turn.EventTTSStart:
		c.send(protocol.TTSStartMessage{Type: protocol.TypeTTSStart})
	case turn.EventTTSChunk:
		c.deliverTTSChunk(e)
	case turn.EventTTSComplete:
		c.flushOutboundAudio()
		c.send(protocol.TTSCompleteMessage{Type: protocol.TypeTTSComplete})
	case turn.EventTTSCancelled:
		c.flushOutboundAudio()
		c.send(protocol.TTSCancelledMessage{Type: protocol.TypeTTSCancelled})
	case turn.EventToolCallStart:
		var args map[string]any
		_ = json.Unmarshal([]byte(e.Arguments), &args)
		c.send(protocol.ToolCallStartMessage{Type: protocol.TypeToolCallStart, Name: e.ToolName, CallID: e.CallID, Arguments: args})
	case turn.EventToolCallEnd:
		c.send(protocol.ToolCallEndMessage{Type: protocol.TypeToolCallEnd, CallID: e.CallID, Result: e.Result, Error: e.ToolErr, DurationMs: e.DurationMs})
	case turn.EventStageChange:
		c.send(protocol.StageChangeMessage{Type: protocol.TypeStageChange, From: e.From, To: e.To, Reason: e.Reason})
	case turn.EventError:
		c.emitError(e.Err)
	}
}

// deliverTTSChunk routes PCM through the paced outbound audio track when a
// peer connection has been negotiated; otherwise it falls back to sending
// the raw chunk over the control channel (§4.9).
func (c *conn) deliverTTSChunk(e turn.Event) {
	if !c.peerAudioReady() {
		c.send(protocol.TTSChunkMessage{
			Type:       protocol.TypeTTSChunk,
			Format:     "pcm",
			SampleRate: e.SampleRate,
			Data:       base64.StdEncoding.EncodeToString(e.PCM),
		})
		return
	}
	reframer := c.outboundReframer()
	if _, err := reframer.FeedChunk(c.activeTurnContext(), e.PCM, e.SampleRate); err != nil {
		// Cancellation is expected on barge-in; anything else degrades to
		// the control-channel fallback for this chunk so the client still
		// hears something.
		if c.activeTurnContext().Err() == nil {
			c.send(protocol.TTSChunkMessage{
				Type:       protocol.TypeTTSChunk,
				Format:     "pcm",
				SampleRate: e.SampleRate,
				Data:       base64.StdEncoding.EncodeToString(e.PCM),
			})
		}
	}
}

func (c *conn) flushOutboundAudio() {
	if !c.peerAudioReady() {
		return
	}
	_, _ = c.outboundReframer().Flush(c.activeTurnContext())
}

func (c *conn) peerAudioReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiated
}

func (c *conn) outboundReframer() *audio.Reframer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reframer == nil {
		c.reframer = audio.NewReframer(reframerSink{adaptor: c.adaptor})
	}
	return c.reframer
}

func (c *conn) activeTurnContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.turnCtx != nil {
		return c.turnCtx
	}
	return context.Background()
}
