package toolcall

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// Context is the per-call execution context handlers receive: session/turn
// identity, a combined abort signal, and arbitrary metadata.
type Context struct {
	SessionID string
	TurnID    string
	Metadata  map[string]any
	Ctx       context.Context
}

// Call is one requested invocation.
type Call struct {
	CallID    string
	Name      string
	Arguments string
}

// Result is the outcome of one Call, in call order within its scheduling
// group (sequential calls preserve input order; parallel call results are
// returned in input order too, even though execution interleaves).
type Result struct {
	CallID     string
	ToolName   string
	Success    bool
	Value      any
	Err        string
	DurationMs int64
}

// ExecutorConfig holds the executor's tunables.
type ExecutorConfig struct {
	MaxParallel    int           // default 10
	PerCallTimeout time.Duration // default 30s
	ValidateArgs   bool
}

func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{MaxParallel: 10, PerCallTimeout: 30 * time.Second, ValidateArgs: true}
}

// Executor runs a batch of Calls against a Registry per §4.6.1's policy:
// all sequential calls run first in input order, then parallel calls run
// with bounded concurrency via a worker pool that refills as tasks
// complete.
type Executor struct {
	registry *Registry
	cfg      ExecutorConfig
}

func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 10
	}
	if cfg.PerCallTimeout <= 0 {
		cfg.PerCallTimeout = 30 * time.Second
	}
	return &Executor{registry: registry, cfg: cfg}
}

// StartEndHook lets the caller observe ToolCallStart/ToolCallEnd for wire
// forwarding without the executor depending on the turn event package.
type StartEndHook struct {
	OnStart func(call Call)
	OnEnd   func(result Result)
}

// Execute runs calls under parentCtx (the external abort signal combined
// with each call's own timeout) and returns results in input order.
func (e *Executor) Execute(parentCtx context.Context, sessionID, turnID string, calls []Call, hook StartEndHook) []Result {
	results := make([]Result, len(calls))

	var sequential, parallel []int
	for i, c := range calls {
		if pol, ok := e.policyOf(c.Name); ok && pol == Sequential {
			sequential = append(sequential, i)
		} else {
			parallel = append(parallel, i)
		}
	}

	for _, idx := range sequential {
		results[idx] = e.runOne(parentCtx, sessionID, turnID, calls[idx], hook)
	}

	if len(parallel) > 0 {
		g, _ := errgroup.WithContext(parentCtx)
		sem := make(chan struct{}, e.cfg.MaxParallel)
		for _, idx := range parallel {
			idx := idx
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				results[idx] = e.runOne(parentCtx, sessionID, turnID, calls[idx], hook)
				return nil
			})
		}
		_ = g.Wait()
	}

	return results
}

func (e *Executor) policyOf(name string) (Policy, bool) {
	ent, ok := e.registry.lookup(name)
	if !ok {
		return Parallel, false
	}
	return ent.policy, true
}

func (e *Executor) runOne(parentCtx context.Context, sessionID, turnID string, call Call, hook StartEndHook) Result {
	if hook.OnStart != nil {
		hook.OnStart(call)
	}

	start := time.Now()
	result := e.invoke(parentCtx, sessionID, turnID, call)
	result.DurationMs = time.Since(start).Milliseconds()

	if hook.OnEnd != nil {
		hook.OnEnd(result)
	}
	return result
}

func (e *Executor) invoke(parentCtx context.Context, sessionID, turnID string, call Call) Result {
	ent, ok := e.registry.lookup(call.Name)
	if !ok {
		return Result{CallID: call.CallID, ToolName: call.Name, Success: false, Err: "unknown tool: " + call.Name}
	}

	if e.cfg.ValidateArgs {
		if err := Validate(ent.schema, call.Arguments); err != nil {
			return Result{CallID: call.CallID, ToolName: call.Name, Success: false, Err: err.Error()}
		}
	}

	ctx, cancel := context.WithTimeout(parentCtx, e.cfg.PerCallTimeout)
	defer cancel()

	value, err := ent.handler(Context{SessionID: sessionID, TurnID: turnID, Ctx: ctx}, call.Arguments)
	if err != nil {
		return Result{CallID: call.CallID, ToolName: call.Name, Success: false, Err: err.Error()}
	}
	return Result{CallID: call.CallID, ToolName: call.Name, Success: true, Value: value}
}
