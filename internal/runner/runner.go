// Package runner implements the Playbook Turn Runner (C6): a two-phase
// tool-calling control loop wrapping the simple Turn Pipeline (internal/turn)
// with playbook-aware prompts/tools/model config, smart LLM retry, and
// stage-transition evaluation. It is grounded on the same event-stream and
// history shapes internal/turn uses, extended with ToolCallStart/End and
// StageChange events.
package runner

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/turnframe/gateway/internal/apperrors"
	"github.com/turnframe/gateway/internal/convo"
	"github.com/turnframe/gateway/internal/llmprovider"
	"github.com/turnframe/gateway/internal/playbook"
	"github.com/turnframe/gateway/internal/reliability"
	"github.com/turnframe/gateway/internal/toolcall"
	"github.com/turnframe/gateway/internal/ttsprovider"
	"github.com/turnframe/gateway/internal/turn"
)

// Config holds the runner's tunables (§4.6, §5 timeouts).
type Config struct {
	Turn                turn.Config
	MaxToolCallsPerTurn int   // default 10
	Phase1TimeoutMs     int64 // default 60000
	LLMRetries          int   // default 3
}

func DefaultConfig() Config {
	return Config{
		Turn:                turn.DefaultConfig(),
		MaxToolCallsPerTurn: 10,
		Phase1TimeoutMs:     60000,
		LLMRetries:          3,
	}
}

// Deps bundles the providers and tool machinery a playbook turn needs.
type Deps struct {
	LLM         llmprovider.Provider
	TTS         ttsprovider.Provider
	TTSSettings ttsprovider.Settings
	ToolDefs    map[string]llmprovider.ToolDefinition
	Executor    *toolcall.Executor
}

// Lock is a per-session mutex serializing run_turn calls; a second call
// awaits the first rather than dropping the utterance (§4.6 "Turn
// serialization").
type Lock struct {
	mu sync.Mutex
}

func (l *Lock) Lock()   { l.mu.Lock() }
func (l *Lock) Unlock() { l.mu.Unlock() }

// RunTurn drives STT, the Phase 1 tool loop, stage-transition evaluation,
// and Phase 2's final streamed response. Callers are expected to hold the
// session's Lock for the duration of this call.
func RunTurn(
	ctx context.Context,
	cfg Config,
	sessionID, turnID string,
	history *convo.State,
	def *playbook.Definition,
	rt *playbook.Runtime,
	utteranceWAV []byte,
	attachments []convo.VisionAttachment,
	sttFn func(ctx context.Context, wav []byte) (string, error),
	deps Deps,
	sink turn.Sink,
) {
	text, err := sttFn(ctx, utteranceWAV)
	if err != nil {
		sink.Emit(turn.ErrorEvent(apperrors.STT(err)))
		return
	}
	sink.Emit(turn.Transcript(text, true))

	if strings.TrimSpace(text) == "" {
		sink.Emit(turn.TTSComplete())
		return
	}

	history.Append(convo.Message{Role: convo.RoleUser, Text: text, Attachments: attachments})

	phase1 := runPhase1(ctx, cfg, sessionID, turnID, history, def, rt, deps, sink)
	if phase1.llmFailed {
		return
	}

	if phase1.pendingTransition != nil {
		applyTransition(def, rt, phase1.pendingTransition, sink)
	} else {
		ec := evalContext(rt, "", phase1.lastToolCalls)
		if tr := playbook.EvaluateTransitions(def, rt, ec); tr != nil {
			applyTransition(def, rt, tr, sink)
		}
	}

	assembled, ttsStarted := runPhase2(ctx, cfg, history, def, rt, deps, phase1, sink)

	rt.TurnCountInStage++
	history.TrimTo(cfg.Turn.HistoryWindow)

	ec2 := evalContext(rt, assembled, nil)
	if tr := playbook.EvaluateTransitions(def, rt, ec2); tr != nil {
		applyTransition(def, rt, tr, sink)
	}

	if ttsStarted {
		sink.Emit(turn.TTSComplete())
	}
}

func applyTransition(def *playbook.Definition, rt *playbook.Runtime, tr *playbook.Transition, sink turn.Sink) {
	from := rt.CurrentStage
	playbook.Execute(def, rt, tr, nowMs())
	reason := tr.Reason
	if reason == "" {
		reason = string(tr.Condition.Kind)
	}
	sink.Emit(turn.StageChange(from, tr.To, reason))
}

func evalContext(rt *playbook.Runtime, lastAssistantText string, lastToolCalls []string) playbook.EvalContext {
	return playbook.EvalContext{
		LastAssistantText: lastAssistantText,
		LastToolCalls:     lastToolCalls,
		TurnCountInStage:  rt.TurnCountInStage,
		StageEnteredAt:    rt.StageEnteredAtMs,
		NowMs:             nowMs(),
		Context:           rt.Context,
	}
}

func nowMs() int64 { return time.Now().UnixMilli() }

type phase1Result struct {
	finalText         string
	hasFinalText      bool
	lastToolCalls     []string
	pendingTransition *playbook.Transition
	llmFailed         bool
}

// runPhase1 implements §4.6 Phase 1: a bounded tool-calling loop with smart
// retry on each LLM call.
func runPhase1(
	ctx context.Context,
	cfg Config,
	sessionID, turnID string,
	history *convo.State,
	def *playbook.Definition,
	rt *playbook.Runtime,
	deps Deps,
	sink turn.Sink,
) phase1Result {
	deadline := time.Now().Add(time.Duration(cfg.Phase1TimeoutMs) * time.Millisecond)
	totalToolCalls := 0
	var lastNames []string

	for {
		if time.Now().After(deadline) {
			return phase1Result{lastToolCalls: lastNames}
		}

		history.SetSystem(playbook.EffectivePrompt(def, rt))
		req := llmprovider.Request{
			Messages: turn.ToLLMMessages(history.Window(cfg.Turn.HistoryWindow)),
			Tools:    playbook.EffectiveTools(def, rt, deps.ToolDefs),
			Config:   playbook.EffectiveModelConfig(def, rt),
		}

		resp, err := retryComplete(ctx, deps.LLM, req, cfg.LLMRetries)
		if err != nil {
			sink.Emit(turn.ErrorEvent(apperrors.LLM(err, reliability.IsRetryableLLMError(err))))
			return phase1Result{lastToolCalls: lastNames, llmFailed: true}
		}

		if resp.StopReason != llmprovider.StopToolUse || len(resp.ToolCalls) == 0 {
			return phase1Result{finalText: resp.Text, hasFinalText: true, lastToolCalls: lastNames}
		}

		history.Append(convo.Message{Role: convo.RoleAssistant, Text: resp.Text, ToolCalls: turn.ToConvoToolCalls(resp.ToolCalls)})

		names := make([]string, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			names = append(names, tc.Name)
		}
		lastNames = names

		transitionIdx := -1
		for i, tc := range resp.ToolCalls {
			if tc.Name == playbook.TransitionTool {
				transitionIdx = i
				break
			}
		}

		toExecute := resp.ToolCalls
		if transitionIdx >= 0 {
			toExecute = resp.ToolCalls[:transitionIdx]
		}

		if len(toExecute) > 0 {
			calls := make([]toolcall.Call, len(toExecute))
			for i, tc := range toExecute {
				calls[i] = toolcall.Call{CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
			}
			hook := toolcall.StartEndHook{
				OnStart: func(c toolcall.Call) { sink.Emit(turn.ToolCallStart(c.Name, c.CallID, c.Arguments)) },
				OnEnd: func(r toolcall.Result) {
					sink.Emit(turn.ToolCallEnd(r.CallID, r.Value, r.Err, time.Duration(r.DurationMs)*time.Millisecond))
				},
			}
			results := deps.Executor.Execute(ctx, sessionID, turnID, calls, hook)
			totalToolCalls += len(results)
			for _, r := range results {
				history.Append(convo.Message{Role: convo.RoleTool, ToolCallID: r.CallID, ToolName: r.ToolName, Text: toolResultText(r)})
			}
		}

		if transitionIdx >= 0 {
			tc := resp.ToolCalls[transitionIdx]
			sink.Emit(turn.ToolCallStart(tc.Name, tc.ID, tc.Arguments))
			target, perr := parseTransitionTarget(tc.Arguments)
			if perr == nil {
				if tr, rerr := playbook.ResolveExplicitTransition(def, rt, target); rerr == nil {
					history.Append(convo.Message{Role: convo.RoleTool, ToolCallID: tc.ID, ToolName: tc.Name, Text: `{"success":true}`})
					sink.Emit(turn.ToolCallEnd(tc.ID, map[string]any{"success": true}, "", 0))
					return phase1Result{lastToolCalls: names, pendingTransition: tr}
				} else {
					perr = rerr
				}
			}
			history.Append(convo.Message{Role: convo.RoleTool, ToolCallID: tc.ID, ToolName: tc.Name, Text: `{"success":false,"error":"` + perr.Error() + `"}`})
			sink.Emit(turn.ToolCallEnd(tc.ID, nil, perr.Error(), 0))
		}

		if totalToolCalls >= cfg.MaxToolCallsPerTurn {
			return phase1Result{lastToolCalls: names}
		}
	}
}

func parseTransitionTarget(args string) (string, error) {
	var decoded struct {
		TargetStage string `json:"target_stage"`
	}
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		return "", err
	}
	return decoded.TargetStage, nil
}

func toolResultText(r toolcall.Result) string {
	if !r.Success {
		b, _ := json.Marshal(map[string]any{"success": false, "error": r.Err})
		return string(b)
	}
	b, err := json.Marshal(map[string]any{"success": true, "result": r.Value})
	if err != nil {
		return `{"success":true}`
	}
	return string(b)
}

// runPhase2 implements §4.6 Phase 2: speak Phase 1's final text directly, or
// (when Phase 1 ended without one: a pending transition, the tool-call
// bound, or the deadline) make one more non-tool, retry-wrapped LLM call
// and stream it.
func runPhase2(
	ctx context.Context,
	cfg Config,
	history *convo.State,
	def *playbook.Definition,
	rt *playbook.Runtime,
	deps Deps,
	phase1 phase1Result,
	sink turn.Sink,
) (assembled string, ttsStarted bool) {
	if phase1.hasFinalText {
		sink.Emit(turn.LLMDelta(phase1.finalText, false))
		sink.Emit(turn.LLMDelta("", true))
		ttsStarted = turn.SpeakText(ctx, phase1.finalText, cfg.Turn, deps.TTS, deps.TTSSettings, sink)
		return phase1.finalText, ttsStarted
	}

	history.SetSystem(playbook.EffectivePrompt(def, rt))
	modelConfig := playbook.EffectiveModelConfig(def, rt)
	return turn.RunLLMAndTTS(ctx, cfg.Turn, history, retryingLLM{inner: deps.LLM, retries: cfg.LLMRetries}, nil, modelConfig, deps.TTS, deps.TTSSettings, sink)
}

// retryingLLM wraps a Provider's Complete call with smart retry; Stream is
// passed through unwrapped, matching the spec's non-retried "stream its
// deltas" wording for the already-in-flight streaming call.
type retryingLLM struct {
	inner   llmprovider.Provider
	retries int
}

func (r retryingLLM) Name() string     { return r.inner.Name() }
func (r retryingLLM) Streamable() bool { return r.inner.Streamable() }

func (r retryingLLM) Complete(ctx context.Context, req llmprovider.Request) (llmprovider.Response, error) {
	return retryComplete(ctx, r.inner, req, r.retries)
}

func (r retryingLLM) Stream(ctx context.Context, req llmprovider.Request, onDelta llmprovider.DeltaHandler) (llmprovider.Response, error) {
	return r.inner.Stream(ctx, req, onDelta)
}

// retryComplete implements the smart-retry policy (§7): up to maxRetries
// additional attempts with exponential backoff (1s, 2s, 4s), retried only
// for error classes reliability.IsRetryableLLMError accepts.
func retryComplete(ctx context.Context, llm llmprovider.Provider, req llmprovider.Request, maxRetries int) (llmprovider.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := llm.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == maxRetries || !reliability.IsRetryableLLMError(err) {
			break
		}
		delay := reliability.ExponentialBackoff(attempt, time.Second, 4*time.Second)
		select {
		case <-ctx.Done():
			return llmprovider.Response{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return llmprovider.Response{}, lastErr
}
