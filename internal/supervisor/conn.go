package supervisor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turnframe/gateway/internal/apperrors"
	"github.com/turnframe/gateway/internal/audio"
	"github.com/turnframe/gateway/internal/bargein"
	"github.com/turnframe/gateway/internal/convo"
	"github.com/turnframe/gateway/internal/llmprovider"
	"github.com/turnframe/gateway/internal/peermedia"
	"github.com/turnframe/gateway/internal/playbook"
	"github.com/turnframe/gateway/internal/protocol"
	"github.com/turnframe/gateway/internal/runner"
	"github.com/turnframe/gateway/internal/session"
	"github.com/turnframe/gateway/internal/ttsprovider"
	"github.com/turnframe/gateway/internal/turn"
	"github.com/turnframe/gateway/internal/vad"
)

// state is the connection's position in the C9 lifecycle: Connecting →
// Ready → (optionally) PeerNegotiated → Active ↔ TurnInFlight → Closing →
// Closed.
type state int

const (
	stateConnecting state = iota
	stateReady
	statePeerNegotiated
	stateActive
	stateTurnInFlight
	stateClosing
	stateClosed
)

// conn holds one inbound control connection's mutable state. Not safe for
// concurrent use except via the fields explicitly guarded by mu; the inbound
// pump (handle) and the peer-audio pump (pumpPeerAudio) are the only two
// goroutines that touch it.
type conn struct {
	sup *Supervisor
	id  string

	outbound chan<- any
	adaptor  peermedia.Adaptor
	gate     *vad.Gate
	bargein  *bargein.Controller
	pending  turn.PendingAttachments

	mu          sync.Mutex
	st          state
	sess        *session.Session
	speechStart time.Time
	turnSeq     int
	negotiated  bool
	reframer    *audio.Reframer
	turnCtx     context.Context
}

func newConn(sup *Supervisor, id string, outbound chan<- any) *conn {
	c := &conn{
		sup:      sup,
		id:       id,
		outbound: outbound,
		adaptor:  peermedia.NewLoopback(),
		st:       stateConnecting,
	}
	cfg := vad.DefaultConfig()
	if sup.deps.Config.VADPositiveThreshold > 0 {
		cfg.PositiveThreshold = sup.deps.Config.VADPositiveThreshold
	}
	if sup.deps.Config.VADNegativeThreshold > 0 {
		cfg.NegativeThreshold = sup.deps.Config.VADNegativeThreshold
	}
	if sup.deps.Config.VADMinSpeechFrames > 0 {
		cfg.MinSpeechFrames = sup.deps.Config.VADMinSpeechFrames
	}
	if sup.deps.Config.VADRedemptionFrames > 0 {
		cfg.RedemptionFrames = sup.deps.Config.VADRedemptionFrames
	}
	if sup.deps.Config.VADPreSpeechPad > 0 {
		cfg.PreSpeechPad = sup.deps.Config.VADPreSpeechPad
	}
	c.gate = vad.NewGate(cfg, vad.EnergyScorer{})
	c.bargein = bargein.NewController(turn.SinkFunc(c.mirror))
	return c
}

func (c *conn) send(v any) {
	select {
	case c.outbound <- v:
		if t, ok := protocol.MessageTypeOf(v); ok {
			c.sup.deps.Metrics.ObserveOutboundMessage(string(t), "queued")
		}
	default:
		if t, ok := protocol.MessageTypeOf(v); ok {
			c.sup.deps.Metrics.ObserveOutboundMessage(string(t), "drop_full")
		}
	}
}

func (c *conn) sendReady() {
	c.setState(stateReady)
	c.send(protocol.Ready{Type: protocol.TypeReady, ID: c.id, ProtocolVersion: 1})
}

func (c *conn) setState(s state) {
	c.mu.Lock()
	c.st = s
	c.mu.Unlock()
}

func (c *conn) boundSession() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// handle dispatches one parsed inbound message. Unsupported/malformed
// messages never reach here: protocol.ParseClientMessage already rejected
// them upstream of the inbound channel.
func (c *conn) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case protocol.Ping:
		c.send(protocol.Pong{Type: protocol.TypePong, Timestamp: m.Timestamp})
	case protocol.Reconnect:
		c.handleReconnect(ctx, m)
	case protocol.Offer:
		c.handleOffer(ctx, m)
	case protocol.Signal:
		c.handleSignal(m)
	case protocol.Audio:
		c.handleAudio(ctx, m)
	case protocol.Attachments:
		c.handleAttachments(m)
	}
}

// handleReconnect implements §4.8's reconnect semantics: rebind to a live
// session if one exists, otherwise create a fresh one with the
// anonymous/warm defaults (defaultUserID/defaultPersonaID).
func (c *conn) handleReconnect(ctx context.Context, m protocol.Reconnect) {
	if c.sup.deps.Auth != nil {
		authorized, err := c.sup.deps.Auth.Authenticate(ctx, defaultUserID, m.SessionID)
		if err != nil || !authorized {
			c.send(protocol.ReconnectAck{Type: protocol.TypeReconnectAck, Success: false, SessionID: m.SessionID})
			return
		}
	}
	if m.SessionID != "" {
		if sess, err := c.sup.deps.Sessions.GetIfLive(m.SessionID); err == nil {
			c.bindSession(sess)
			c.sup.deps.Metrics.SessionEvents.WithLabelValues("reconnected").Inc()
			c.send(protocol.ReconnectAck{
				Type:             protocol.TypeReconnectAck,
				Success:          true,
				SessionID:        sess.ID,
				HistoryRecovered: true,
			})
			return
		}
	}

	var def *playbook.Definition
	if c.sup.deps.Config.PlaybookEnabled && c.sup.deps.Playbooks != nil {
		def, _ = c.sup.deps.Playbooks.Get("default")
	}
	sess := c.sup.deps.Sessions.CreateWithPlaybook(defaultUserID, defaultPersonaID, c.sup.defaultVoiceID(), def, "")
	c.bindSession(sess)
	c.sup.deps.Metrics.ActiveSessions.Set(float64(c.sup.deps.Sessions.ActiveCount()))
	c.sup.deps.Metrics.SessionEvents.WithLabelValues("created").Inc()
	c.send(protocol.ReconnectAck{
		Type:             protocol.TypeReconnectAck,
		Success:          true,
		SessionID:        sess.ID,
		HistoryRecovered: false,
	})
}

func (c *conn) bindSession(sess *session.Session) {
	c.mu.Lock()
	c.sess = sess
	if c.st == stateReady || c.st == stateConnecting {
		c.st = stateActive
	}
	c.mu.Unlock()
}

func (c *conn) handleOffer(ctx context.Context, m protocol.Offer) {
	answer, err := c.adaptor.AcceptOffer(ctx, string(m.Signal))
	if err != nil {
		c.emitError(apperrors.New(apperrors.CodeWebRTCUnavailable, apperrors.ComponentTransport, err.Error()))
		return
	}
	c.mu.Lock()
	c.st = statePeerNegotiated
	c.negotiated = true
	c.mu.Unlock()
	encoded, _ := json.Marshal(answer)
	c.send(protocol.Signal{Type: protocol.TypeSignal, Signal: encoded})
}

func (c *conn) handleSignal(m protocol.Signal) {
	if err := c.adaptor.AddICECandidate(string(m.Signal)); err != nil {
		c.emitError(apperrors.New(apperrors.CodeWebRTCUnavailable, apperrors.ComponentTransport, err.Error()))
	}
}

// handleAudio implements the `audio` fallback path (§4.9): the base64
// payload is treated as a ready utterance and dispatched straight to the
// Turn Runner, bypassing the VAD gate entirely.
func (c *conn) handleAudio(ctx context.Context, m protocol.Audio) {
	sess := c.boundSession()
	if sess == nil {
		c.emitError(errNoSessionBound)
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		c.emitError(apperrors.InvalidMessage("audio: invalid base64 data"))
		return
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		c.emitError(apperrors.New(apperrors.CodeAudioProcessingError, apperrors.ComponentTransport, err.Error()))
		return
	}
	var attachments []convo.VisionAttachment
	for _, a := range m.Attachments {
		attachments = append(attachments, toVisionAttachment(a))
	}
	if len(attachments) == 0 {
		attachments = c.pending.Drain()
	}
	u := turn.Utterance{WAV: wav, SpeechStartTime: time.Now(), SpeechEndTime: time.Now(), Attachments: attachments}
	go c.runTurn(ctx, sess, u)
}

func (c *conn) handleAttachments(m protocol.Attachments) {
	for _, a := range m.Attachments {
		c.pending.Enqueue(toVisionAttachment(a))
	}
}

func toVisionAttachment(a protocol.Attachment) convo.VisionAttachment {
	data, _ := base64.StdEncoding.DecodeString(a.DataBase64)
	return convo.VisionAttachment{MIMEType: a.MediaType, Data: data}
}

func (c *conn) emitError(err *apperrors.Error) {
	c.sup.deps.Metrics.ProviderErrors.WithLabelValues(string(err.Component), string(err.Code)).Inc()
	c.send(protocol.ErrorMessage{Type: protocol.TypeError, Code: string(err.Code), Message: err.Message})
}

func (c *conn) nextTurnID() string {
	c.mu.Lock()
	c.turnSeq++
	c.mu.Unlock()
	return c.id + "-" + uuid.NewString()
}

func (c *conn) teardown() {
	c.setState(stateClosing)
	_ = c.adaptor.Close()
	c.setState(stateClosed)
}

// runTurn drives one Turn Pipeline or Playbook Turn Runner invocation under
// the session's serialization lock (§4.6 "Turn serialization"), mirroring
// every TurnEvent onto the wire via the barge-in controller.
func (c *conn) runTurn(ctx context.Context, sess *session.Session, u turn.Utterance) {
	defer func() {
		if r := recover(); r != nil {
			c.emitError(apperrors.Internal(fmt.Errorf("panic: %v", r)))
		}
	}()

	if c.sup.deps.RateLimiter != nil {
		if allowed, err := c.sup.deps.RateLimiter.Allow(ctx, sess.ID); err != nil || !allowed {
			c.sup.deps.Metrics.SessionEvents.WithLabelValues("rate_limited").Inc()
			return
		}
	}

	lock := c.sup.locks.forSession(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	c.setState(stateTurnInFlight)
	defer c.setState(stateActive)

	turnCtx, _, sink := c.bargein.Begin(ctx)
	c.mu.Lock()
	c.turnCtx = turnCtx
	c.mu.Unlock()
	turnID := c.nextTurnID()

	start := time.Now()
	defer func() { c.sup.deps.Metrics.ObserveTurnStage("turn_total", time.Since(start)) }()

	settings := ttsprovider.Settings{VoiceID: sess.VoiceID}

	if sess.Playbook != nil {
		deps := runner.Deps{
			LLM:         c.sup.deps.LLM,
			TTS:         c.sup.deps.TTS,
			TTSSettings: settings,
			ToolDefs:    c.sup.deps.ToolDefs,
			Executor:    c.sup.deps.Executor,
		}
		runner.RunTurn(turnCtx, c.sup.runnerCfg, sess.ID, turnID, sess.History, sess.Playbook.Def, sess.Playbook, u.WAV, u.Attachments, c.sup.sttFn(), deps, sink)
		return
	}

	turn.RunTurn(turnCtx, c.sup.turnCfg, sess.History, u.WAV, u.Attachments, c.sup.sttFn(), c.sup.deps.LLM, toolDefSlice(c.sup.deps.ToolDefs), llmprovider.ModelConfig{}, c.sup.deps.TTS, settings, sink)
}

// toolDefSlice flattens the registered tool definitions into the slice
// llmprovider.Request expects; the simple Turn Pipeline always offers every
// registered tool (only the Playbook Turn Runner restricts tools per stage).
func toolDefSlice(defs map[string]llmprovider.ToolDefinition) []llmprovider.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	out := make([]llmprovider.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		out = append(out, d)
	}
	return out
}
