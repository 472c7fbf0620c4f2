// Package supervisor implements the Per-Connection Supervisor (C9): the
// state machine owning one inbound control connection's lifetime, wiring
// together the VAD gate (C2), utterance assembly (C3), the Turn Pipeline or
// Playbook Turn Runner (C4/C6), the Barge-in Controller (C7), the Session
// Store (C8), the wire protocol codec (C11), and a peer-media Adaptor.
// Shape grounded on `_examples/ent0n29-samantha/internal/httpapi/server.go`'s
// handleSessionWS (inbound/outbound channel pump, heartbeat via
// read-deadline, graceful teardown) and `internal/voice/orchestrator.go`'s
// RunConnection, generalized from a single fixed session-id-per-connection
// model to the reconnect-bind-at-runtime model §4.8/§4.9 require.
package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turnframe/gateway/internal/apperrors"
	"github.com/turnframe/gateway/internal/config"
	"github.com/turnframe/gateway/internal/llmprovider"
	"github.com/turnframe/gateway/internal/observability"
	"github.com/turnframe/gateway/internal/playbook"
	"github.com/turnframe/gateway/internal/runner"
	"github.com/turnframe/gateway/internal/session"
	"github.com/turnframe/gateway/internal/sttprovider"
	"github.com/turnframe/gateway/internal/toolcall"
	"github.com/turnframe/gateway/internal/ttsprovider"
	"github.com/turnframe/gateway/internal/turn"
)

// Deps bundles the process-wide, concurrency-safe collaborators a
// Supervisor drives connections against (§5 "Shared resources": provider
// clients are shared process-wide and must be safe under concurrent calls).
type Deps struct {
	Config    config.Config
	Sessions  *session.Manager
	LLM       llmprovider.Provider
	TTS       ttsprovider.Provider
	STT       sttprovider.Provider
	ToolDefs  map[string]llmprovider.ToolDefinition
	Executor  *toolcall.Executor
	Playbooks *playbook.Set
	Metrics   *observability.Metrics

	// Auth and RateLimiter are optional hooks invoked at fixed points in a
	// connection's lifecycle (§5 "Shared resources" hook pattern); nil means
	// every reconnect is authorized and no turn is throttled.
	Auth        observability.AuthHook
	RateLimiter observability.RateLimiter
}

// Supervisor is the process-wide factory for per-connection state; it holds
// no per-connection mutable state itself.
type Supervisor struct {
	deps      Deps
	turnCfg   turn.Config
	runnerCfg runner.Config
	locks     *runnerLocks
}

// New builds a Supervisor from deps and the turn-pipeline/runner tunables
// derived from cfg.
func New(deps Deps) *Supervisor {
	turnCfg := turn.DefaultConfig()
	turnCfg.HistoryWindow = 8

	runnerCfg := runner.DefaultConfig()
	runnerCfg.Turn = turnCfg
	if deps.Config.Phase1MaxToolCalls > 0 {
		runnerCfg.MaxToolCallsPerTurn = deps.Config.Phase1MaxToolCalls
	}
	if deps.Config.Phase1TimeoutMs > 0 {
		runnerCfg.Phase1TimeoutMs = deps.Config.Phase1TimeoutMs
	}
	if deps.Config.LLMRetries >= 0 {
		runnerCfg.LLMRetries = deps.Config.LLMRetries
	}

	return &Supervisor{deps: deps, turnCfg: turnCfg, runnerCfg: runnerCfg, locks: newRunnerLocks()}
}

// RunConnection drives one inbound control connection end to end: it
// allocates a connection id, greets the peer with `ready`, then services
// inbound messages and peer audio until ctx is cancelled, the heartbeat
// times out, or inbound is closed. Transport-agnostic: the caller owns the
// websocket (or other transport) and is responsible for turning wire bytes
// into the `any` values inbound carries (via protocol.ParseClientMessage)
// and writing whatever this method sends on outbound back onto the wire.
func (s *Supervisor) RunConnection(ctx context.Context, inbound <-chan any, outbound chan<- any) (err error) {
	c := newConn(s, uuid.NewString(), outbound)
	defer c.teardown()

	// A panic while handling this connection (malformed provider response,
	// a bug in a playbook's Custom condition, ...) must not take the whole
	// process down with it. This covers the inbound loop; turn goroutines
	// recover the same way in runTurn.
	defer func() {
		if r := recover(); r != nil {
			c.emitError(apperrors.Internal(fmt.Errorf("panic: %v", r)))
			err = apperrors.Internal(fmt.Errorf("panic: %v", r))
		}
	}()

	// pumpAudioCtx is independent of the caller's ctx lifetime: heartbeat
	// timeout and inbound-channel closure are exit paths that don't cancel
	// ctx themselves, but the audio pump still must stop before this method
	// returns and teardown() closes the adaptor out from under it.
	pumpAudioCtx, stopAudioPump := context.WithCancel(ctx)
	defer stopAudioPump()

	c.sendReady()

	audioDone := make(chan struct{})
	go c.pumpPeerAudio(pumpAudioCtx, audioDone)

	timeout := s.deps.Config.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	heartbeat := time.NewTimer(timeout)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			stopAudioPump()
			<-audioDone
			return ctx.Err()
		case <-heartbeat.C:
			stopAudioPump()
			<-audioDone
			return nil
		case msg, ok := <-inbound:
			if !ok {
				stopAudioPump()
				<-audioDone
				return nil
			}
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(timeout)
			c.handle(ctx, msg)
		}
	}
}

// defaultUserID/defaultPersonaID are the anonymous/warm defaults for
// sessions that originate purely from a WS `reconnect` with no prior live
// session (the gateway has no REST session-create endpoint).
const (
	defaultUserID    = "anonymous"
	defaultPersonaID = "warm"
)

func (s *Supervisor) defaultVoiceID() string {
	if strings.EqualFold(strings.TrimSpace(s.deps.Config.VoiceProvider), "local") {
		if v := strings.TrimSpace(s.deps.Config.LocalKokoroVoice); v != "" {
			return v
		}
		return "af_heart"
	}
	return s.deps.Config.ElevenLabsTTSVoice
}

func (s *Supervisor) sttFn() func(ctx context.Context, wav []byte) (string, error) {
	return func(ctx context.Context, wav []byte) (string, error) {
		res, err := s.deps.STT.Transcribe(ctx, wav)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
}

// runnerLocks serializes run_turn calls per session id (§4.6 "Turn
// serialization"), independent of which connection currently owns the
// session (a reconnect must still wait out an in-flight turn rather than
// race it).
type runnerLocks struct {
	mu    sync.Mutex
	locks map[string]*runner.Lock
}

func newRunnerLocks() *runnerLocks {
	return &runnerLocks{locks: make(map[string]*runner.Lock)}
}

func (r *runnerLocks) forSession(sessionID string) *runner.Lock {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[sessionID]
	if !ok {
		l = &runner.Lock{}
		r.locks[sessionID] = l
	}
	return l
}

// errNoSessionBound is emitted when a peer/audio message arrives before any
// session has been bound to the connection via `reconnect`.
var errNoSessionBound = apperrors.SessionNotFound("")
