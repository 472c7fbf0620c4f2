// Package playbook implements the Playbook Engine (C5): a read-only stage
// graph definition, its per-connection runtime, and transition evaluation.
// The stage/transition vocabulary is grounded on the node/edge plan-graph
// shape the teacher uses for task planning, generalized here from a linear
// step sequence to a graph with conditional transitions.
package playbook

import "fmt"

// ConditionKind selects how a Transition's condition is evaluated.
type ConditionKind string

const (
	ConditionToolCall    ConditionKind = "tool_call"
	ConditionIntent      ConditionKind = "intent"
	ConditionKeyword     ConditionKind = "keyword"
	ConditionLLMDecision ConditionKind = "llm_decision"
	ConditionMaxTurns    ConditionKind = "max_turns"
	ConditionTimeout     ConditionKind = "timeout"
	ConditionCustom      ConditionKind = "custom"
)

// Condition is a tagged-variant transition predicate; only the fields
// relevant to Kind are populated.
type Condition struct {
	Kind ConditionKind

	ToolName string // ConditionToolCall

	Intent   string  // ConditionIntent
	MinConf  float64 // ConditionIntent

	Keywords []string // ConditionKeyword

	MaxTurns int // ConditionMaxTurns

	TimeoutMs int64 // ConditionTimeout

	// Custom is invoked with the post-LLM EvalContext for ConditionCustom.
	Custom func(EvalContext) bool
}

// Transition moves the runtime from one stage to another when its
// Condition matches. From == "*" matches any current stage.
type Transition struct {
	ID         string
	From       string
	To         string
	Condition  Condition
	Priority   int // higher runs first; default 0
	ClearCtx   bool
	Data       map[string]any
	Label      string // shown in the llm_decision prompt appendix
	Reason     string
}

// Stage is one node of the playbook graph.
type Stage struct {
	ID              string
	Name            string
	SystemPrompt    string
	Tools           []string // names, resolved against a tool registry by the caller
	ToolChoice      string   // provider-specific hint; "" = default
	ModelOverride   ModelOverride
	MaxTurns        int   // 0 = unbounded
	TimeoutMs       int64 // 0 = unbounded
	OnEnter, OnExit func(ctx *Runtime)
}

// ModelOverride carries per-stage model tunables; zero fields defer to the
// playbook-level default (§4.5 "default ⊕ stage_overrides").
type ModelOverride struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Definition is the read-only playbook: stages, transitions, and the
// playbook-wide defaults that stage values override.
type Definition struct {
	ID            string
	InitialStage  string
	Stages        []Stage
	Transitions   []Transition
	GlobalPrompt  string
	GlobalTools   []string
	DefaultModel  ModelOverride

	stageByID      map[string]*Stage
	transitionsOut map[string][]*Transition // keyed by From, including "*"
}

// Validate checks the invariants from §3: initial stage exists, every
// transition's source and target resolve, and ids are unique. It also
// builds the lookup indexes EvaluateTransitions and the other engine
// functions rely on.
func (d *Definition) Validate() error {
	d.stageByID = make(map[string]*Stage, len(d.Stages))
	for i := range d.Stages {
		s := &d.Stages[i]
		if s.ID == "" {
			return fmt.Errorf("playbook %q: stage at index %d has empty id", d.ID, i)
		}
		if _, dup := d.stageByID[s.ID]; dup {
			return fmt.Errorf("playbook %q: duplicate stage id %q", d.ID, s.ID)
		}
		d.stageByID[s.ID] = s
	}
	if _, ok := d.stageByID[d.InitialStage]; !ok {
		return fmt.Errorf("playbook %q: initial stage %q does not exist", d.ID, d.InitialStage)
	}

	seenTransition := make(map[string]bool, len(d.Transitions))
	d.transitionsOut = make(map[string][]*Transition)
	for i := range d.Transitions {
		t := &d.Transitions[i]
		if t.ID == "" {
			return fmt.Errorf("playbook %q: transition at index %d has empty id", d.ID, i)
		}
		if seenTransition[t.ID] {
			return fmt.Errorf("playbook %q: duplicate transition id %q", d.ID, t.ID)
		}
		seenTransition[t.ID] = true
		if t.From != "*" {
			if _, ok := d.stageByID[t.From]; !ok {
				return fmt.Errorf("playbook %q: transition %q source stage %q does not exist", d.ID, t.ID, t.From)
			}
		}
		if _, ok := d.stageByID[t.To]; !ok {
			return fmt.Errorf("playbook %q: transition %q target stage %q does not exist", d.ID, t.ID, t.To)
		}
		d.transitionsOut[t.From] = append(d.transitionsOut[t.From], t)
	}
	return nil
}

// Stage looks up a stage by id.
func (d *Definition) Stage(id string) (*Stage, bool) {
	s, ok := d.stageByID[id]
	return s, ok
}

// EvalContext is the post-LLM context transition conditions evaluate
// against (§4.5).
type EvalContext struct {
	LastAssistantText string
	LastToolCalls      []string // tool names called in the last turn
	TurnCountInStage   int
	StageEnteredAt     int64 // unix millis; compared against NowMs
	NowMs              int64
	DetectedIntent     string
	IntentConfidence   float64
	Context            map[string]any
}

// Runtime is the mutable per-session playbook state (§3 "PlaybookRuntime").
type Runtime struct {
	Def              *Definition
	CurrentStage     string
	TurnCountInStage int
	StageEnteredAtMs int64
	Context          map[string]any
	History          []TransitionRecord
}

// TransitionRecord is one executed transition, kept for observability. The
// `llm_decision` prompt appendix does not consult it.
type TransitionRecord struct {
	TransitionID string
	From, To     string
	AtMs         int64
}

// NewRuntime creates a Runtime positioned at def's initial stage. def must
// already have passed Validate.
func NewRuntime(def *Definition, nowMs int64) *Runtime {
	return &Runtime{
		Def:              def,
		CurrentStage:     def.InitialStage,
		StageEnteredAtMs: nowMs,
		Context:          make(map[string]any),
	}
}
