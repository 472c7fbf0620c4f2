// Package bargein implements the Barge-in Controller (C7): aborting an
// in-flight turn's TTS the instant C2 reports speech-start, and guaranteeing
// the turn's event stream still terminates exactly once. The
// cancel-everything-outside-the-lock, generation-counter-staleness shape is
// grounded on the teacher's ManagedStream.internalInterrupt.
package bargein

import (
	"context"
	"sync"

	"github.com/turnframe/gateway/internal/turn"
)

// Controller owns one session's turn-cancellation state: the active
// generation number, its cancel func, and whether TTS is currently
// believed to be playing. Generations let stale callbacks from an
// already-cancelled turn recognize themselves as stale instead of
// corrupting the next turn's state.
type Controller struct {
	mu         sync.Mutex
	inner      turn.Sink
	cancel     context.CancelFunc
	generation int
	ttsActive  bool

	cancelled map[int]bool
	terminal  map[int]bool
}

// NewController wraps inner, the sink TurnEvents are ultimately delivered to
// (the wire protocol mirror, or a test's CollectingSink).
func NewController(inner turn.Sink) *Controller {
	return &Controller{
		inner:     inner,
		cancelled: make(map[int]bool),
		terminal:  make(map[int]bool),
	}
}

// Begin starts a new turn generation: it cancels whatever generation was
// previously active (defensive; turns are normally serialized by the
// session lock so this is usually a no-op) and returns a context scoped to
// the new generation plus a Sink that tags every emitted event with it.
func (c *Controller) Begin(parent context.Context) (ctx context.Context, generation int, sink turn.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.generation++
	generation = c.generation
	c.ttsActive = false
	ctx, c.cancel = context.WithCancel(parent)
	return ctx, generation, genSink{c: c, gen: generation}
}

// OnSpeechStart is invoked by the Supervisor when C2 reports speech-start.
// If TTS is playing for the active generation it aborts that turn and
// returns true; otherwise it is a no-op (no barge-in to perform) and
// returns false.
func (c *Controller) OnSpeechStart() bool {
	c.mu.Lock()
	if !c.ttsActive {
		c.mu.Unlock()
		return false
	}
	cancel := c.cancel
	gen := c.generation
	c.ttsActive = false
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.emitCancelled(gen)
	return true
}

func (c *Controller) setActive(gen int, active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.ttsActive = active
}

// emitCancelled marks gen cancelled (suppressing any TTSChunk/TTSComplete
// still in flight for it) and emits exactly one TTSCancelled for it.
func (c *Controller) emitCancelled(gen int) {
	c.mu.Lock()
	if c.cancelled[gen] {
		c.mu.Unlock()
		return
	}
	c.cancelled[gen] = true
	c.mu.Unlock()
	c.deliver(gen, turn.TTSCancelled())
}

// deliver applies the post-cancellation invariant (no TTSChunk/TTSComplete
// after TTSCancelled) and the exactly-once terminal-event guarantee
// (TTSCancelled, TTSComplete, and Error are each delivered at most once per
// generation) before forwarding to inner.
func (c *Controller) deliver(gen int, e turn.Event) {
	c.mu.Lock()
	if c.cancelled[gen] {
		switch e.Type {
		case turn.EventTTSChunk, turn.EventTTSComplete:
			c.mu.Unlock()
			return
		}
	}
	if isTerminal(e.Type) {
		if c.terminal[gen] {
			c.mu.Unlock()
			return
		}
		c.terminal[gen] = true
	}
	c.mu.Unlock()
	c.inner.Emit(e)
}

func isTerminal(t turn.EventType) bool {
	switch t {
	case turn.EventTTSCancelled, turn.EventTTSComplete, turn.EventError:
		return true
	default:
		return false
	}
}

// genSink tags each Emit with the generation it was created for and routes
// TTSStart/TTSComplete/TTSCancelled through the controller's active-TTS
// bookkeeping so OnSpeechStart knows whether there's anything to abort.
type genSink struct {
	c   *Controller
	gen int
}

func (s genSink) Emit(e turn.Event) {
	switch e.Type {
	case turn.EventTTSStart:
		s.c.setActive(s.gen, true)
	case turn.EventTTSComplete, turn.EventTTSCancelled:
		s.c.setActive(s.gen, false)
	}
	s.c.deliver(s.gen, e)
}
