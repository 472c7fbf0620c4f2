package playbook

import (
	"testing"

	"github.com/turnframe/gateway/internal/llmprovider"
)

func sampleDef(t *testing.T) *Definition {
	t.Helper()
	def := &Definition{
		ID:           "support",
		InitialStage: "greet",
		GlobalPrompt: "You are a helpful assistant.",
		Stages: []Stage{
			{ID: "greet", Name: "Greet", SystemPrompt: "Greet the caller."},
			{ID: "triage", Name: "Triage", SystemPrompt: "Diagnose the issue.", Tools: []string{"lookup_order"}},
			{ID: "close", Name: "Close", SystemPrompt: "Wrap up."},
		},
		Transitions: []Transition{
			{ID: "t1", From: "greet", To: "triage", Condition: Condition{Kind: ConditionKeyword, Keywords: []string{"order"}}},
			{ID: "t2", From: "triage", To: "close", Condition: Condition{Kind: ConditionLLMDecision}, Label: "close the ticket"},
			{ID: "t3", From: "*", To: "close", Condition: Condition{Kind: ConditionMaxTurns, MaxTurns: 5}, Priority: 10},
		},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return def
}

func TestValidateRejectsUnknownInitialStage(t *testing.T) {
	def := &Definition{ID: "bad", InitialStage: "nope", Stages: []Stage{{ID: "a"}}}
	if err := def.Validate(); err == nil {
		t.Fatalf("expected error for unknown initial stage")
	}
}

func TestValidateRejectsDanglingTransitionTarget(t *testing.T) {
	def := &Definition{
		ID:           "bad",
		InitialStage: "a",
		Stages:       []Stage{{ID: "a"}},
		Transitions:  []Transition{{ID: "t1", From: "a", To: "ghost"}},
	}
	if err := def.Validate(); err == nil {
		t.Fatalf("expected error for dangling transition target")
	}
}

func TestValidateRejectsDuplicateStageID(t *testing.T) {
	def := &Definition{
		ID:           "bad",
		InitialStage: "a",
		Stages:       []Stage{{ID: "a"}, {ID: "a"}},
	}
	if err := def.Validate(); err == nil {
		t.Fatalf("expected error for duplicate stage id")
	}
}

func TestEffectivePromptJoinsGlobalAndStage(t *testing.T) {
	def := sampleDef(t)
	rt := NewRuntime(def, 0)
	prompt := EffectivePrompt(def, rt)
	if prompt != "You are a helpful assistant.\n\nGreet the caller." {
		t.Fatalf("unexpected prompt: %q", prompt)
	}
}

func TestEffectivePromptAddsDecisionAppendixWhenLLMDecisionReachable(t *testing.T) {
	def := sampleDef(t)
	rt := NewRuntime(def, 0)
	rt.CurrentStage = "triage"
	prompt := EffectivePrompt(def, rt)
	if !contains(prompt, TransitionTool) {
		t.Fatalf("expected decision appendix mentioning %s, got %q", TransitionTool, prompt)
	}
}

func TestEffectiveToolsUnionsGlobalAndStage(t *testing.T) {
	def := &Definition{
		ID:           "x",
		InitialStage: "a",
		GlobalTools:  []string{"ping"},
		Stages:       []Stage{{ID: "a", Tools: []string{"lookup_order"}}},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	rt := NewRuntime(def, 0)
	toolDefs := map[string]llmprovider.ToolDefinition{
		"ping":         {Name: "ping"},
		"lookup_order": {Name: "lookup_order"},
	}
	tools := EffectiveTools(def, rt, toolDefs)
	if len(tools) != 2 {
		t.Fatalf("expected 2 effective tools, got %d: %+v", len(tools), tools)
	}
}

func TestEvaluateTransitionsRespectsPriority(t *testing.T) {
	def := sampleDef(t)
	rt := NewRuntime(def, 0)
	rt.TurnCountInStage = 5
	tr := EvaluateTransitions(def, rt, EvalContext{TurnCountInStage: 5})
	if tr == nil || tr.ID != "t3" {
		t.Fatalf("expected high-priority wildcard max_turns transition to win, got %+v", tr)
	}
}

func TestEvaluateTransitionsKeyword(t *testing.T) {
	def := sampleDef(t)
	rt := NewRuntime(def, 0)
	tr := EvaluateTransitions(def, rt, EvalContext{LastAssistantText: "Let's look at your order."})
	if tr == nil || tr.ID != "t1" {
		t.Fatalf("expected keyword transition t1, got %+v", tr)
	}
}

func TestResolveExplicitTransitionRejectsUnknownStage(t *testing.T) {
	def := sampleDef(t)
	rt := NewRuntime(def, 0)
	rt.CurrentStage = "triage"
	if _, err := ResolveExplicitTransition(def, rt, "nonexistent"); err == nil {
		t.Fatalf("expected error for unknown target stage")
	}
}

func TestResolveExplicitTransitionSynthesizesImplicit(t *testing.T) {
	def := sampleDef(t)
	rt := NewRuntime(def, 0)
	rt.CurrentStage = "greet" // no llm_decision transition out of greet directly to close
	tr, err := ResolveExplicitTransition(def, rt, "close")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.To != "close" {
		t.Fatalf("unexpected synthesized transition: %+v", tr)
	}
}

func TestExecuteResetsTurnCounterAndStage(t *testing.T) {
	def := sampleDef(t)
	rt := NewRuntime(def, 0)
	rt.TurnCountInStage = 3
	tr := def.transitionsOut["greet"][0]
	Execute(def, rt, tr, 1000)
	if rt.CurrentStage != "triage" {
		t.Fatalf("expected stage triage, got %s", rt.CurrentStage)
	}
	if rt.TurnCountInStage != 0 {
		t.Fatalf("expected turn counter reset, got %d", rt.TurnCountInStage)
	}
	if len(rt.History) != 1 || rt.History[0].TransitionID != "t1" {
		t.Fatalf("expected transition recorded in history, got %+v", rt.History)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
