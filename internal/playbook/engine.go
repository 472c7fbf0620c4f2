package playbook

import (
	"fmt"
	"sort"
	"strings"

	"github.com/turnframe/gateway/internal/llmprovider"
)

// TransitionTool is the name of the built-in tool synthesized whenever an
// `llm_decision` transition is reachable from the current stage (§4.5).
const TransitionTool = "playbook_transition"

// EffectivePrompt composes the system prompt a stage presents to the LLM:
// the playbook's global prompt, the stage prompt, and (if any llm_decision
// transitions apply) an appendix describing them.
func EffectivePrompt(def *Definition, rt *Runtime) string {
	stage, ok := def.Stage(rt.CurrentStage)
	if !ok {
		return def.GlobalPrompt
	}
	parts := make([]string, 0, 3)
	if def.GlobalPrompt != "" {
		parts = append(parts, def.GlobalPrompt)
	}
	if stage.SystemPrompt != "" {
		parts = append(parts, stage.SystemPrompt)
	}
	if appendix := decisionAppendix(def, rt); appendix != "" {
		parts = append(parts, appendix)
	}
	return strings.Join(parts, "\n\n")
}

func decisionAppendix(def *Definition, rt *Runtime) string {
	decisions := llmDecisionTransitions(def, rt.CurrentStage)
	if len(decisions) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("You may move the conversation to a different stage by calling the ")
	sb.WriteString(TransitionTool)
	sb.WriteString(" tool with one of the following targets:\n")
	for _, t := range decisions {
		label := t.Label
		if label == "" {
			label = t.To
		}
		fmt.Fprintf(&sb, "- %s: %s\n", t.To, label)
	}
	return sb.String()
}

func llmDecisionTransitions(def *Definition, stageID string) []*Transition {
	var out []*Transition
	for _, t := range def.transitionsOut[stageID] {
		if t.Condition.Kind == ConditionLLMDecision {
			out = append(out, t)
		}
	}
	for _, t := range def.transitionsOut["*"] {
		if t.Condition.Kind == ConditionLLMDecision {
			out = append(out, t)
		}
	}
	return out
}

// EffectiveTools computes `global_tools ∪ stage_tools`, plus the built-in
// transition tool's definition when applicable.
func EffectiveTools(def *Definition, rt *Runtime, toolDefs map[string]llmprovider.ToolDefinition) []llmprovider.ToolDefinition {
	stage, _ := def.Stage(rt.CurrentStage)
	seen := make(map[string]bool)
	var names []string
	for _, n := range def.GlobalTools {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	if stage != nil {
		for _, n := range stage.Tools {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}

	out := make([]llmprovider.ToolDefinition, 0, len(names)+1)
	for _, n := range names {
		if td, ok := toolDefs[n]; ok {
			out = append(out, td)
		}
	}

	if len(llmDecisionTransitions(def, rt.CurrentStage)) > 0 {
		out = append(out, TransitionToolDefinition(def, rt))
	}
	return out
}

// TransitionToolDefinition builds the playbook_transition tool's schema,
// enumerating the reachable stage ids as the `target_stage` enum.
func TransitionToolDefinition(def *Definition, rt *Runtime) llmprovider.ToolDefinition {
	decisions := llmDecisionTransitions(def, rt.CurrentStage)
	targets := make([]string, 0, len(decisions))
	for _, t := range decisions {
		targets = append(targets, t.To)
	}
	return llmprovider.ToolDefinition{
		Name:        TransitionTool,
		Description: "Move the conversation to a different stage of the playbook.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"target_stage": map[string]any{
					"type": "string",
					"enum": targets,
				},
			},
			"required": []string{"target_stage"},
		},
	}
}

// EffectiveModelConfig computes `default ⊕ stage_overrides` (stage wins).
func EffectiveModelConfig(def *Definition, rt *Runtime) llmprovider.ModelConfig {
	base := llmprovider.ModelConfig{
		Model:       def.DefaultModel.Model,
		Temperature: def.DefaultModel.Temperature,
		MaxTokens:   def.DefaultModel.MaxTokens,
	}
	stage, ok := def.Stage(rt.CurrentStage)
	if !ok {
		return base
	}
	return base.Merge(llmprovider.ModelConfig{
		Model:       stage.ModelOverride.Model,
		Temperature: stage.ModelOverride.Temperature,
		MaxTokens:   stage.ModelOverride.MaxTokens,
	})
}

// EvaluateTransitions returns the first matching transition out of the
// current stage, in descending priority order, or nil if none match.
func EvaluateTransitions(def *Definition, rt *Runtime, ec EvalContext) *Transition {
	candidates := append(append([]*Transition{}, def.transitionsOut[rt.CurrentStage]...), def.transitionsOut["*"]...)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	for _, t := range candidates {
		if conditionMatches(t.Condition, ec) {
			return t
		}
	}
	return nil
}

func conditionMatches(c Condition, ec EvalContext) bool {
	switch c.Kind {
	case ConditionToolCall:
		for _, name := range ec.LastToolCalls {
			if name == c.ToolName {
				return true
			}
		}
		return false
	case ConditionIntent:
		return ec.DetectedIntent == c.Intent && ec.IntentConfidence >= c.MinConf
	case ConditionKeyword:
		text := strings.ToLower(ec.LastAssistantText)
		for _, kw := range c.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return true
			}
		}
		return false
	case ConditionLLMDecision:
		for _, name := range ec.LastToolCalls {
			if name == TransitionTool {
				return true
			}
		}
		return false
	case ConditionMaxTurns:
		return ec.TurnCountInStage >= c.MaxTurns
	case ConditionTimeout:
		return ec.NowMs-ec.StageEnteredAt >= c.TimeoutMs
	case ConditionCustom:
		return c.Custom != nil && c.Custom(ec)
	default:
		return false
	}
}

// ResolveExplicitTransition validates an explicit playbook_transition tool
// call's target stage. If a matching llm_decision Transition exists for the
// current stage it is returned; otherwise, if target is a valid stage, an
// implicit Transition is synthesized so the call still succeeds.
func ResolveExplicitTransition(def *Definition, rt *Runtime, target string) (*Transition, error) {
	if _, ok := def.Stage(target); !ok {
		return nil, fmt.Errorf("playbook_transition: target stage %q does not exist", target)
	}
	for _, t := range llmDecisionTransitions(def, rt.CurrentStage) {
		if t.To == target {
			return t, nil
		}
	}
	return &Transition{
		ID:        "implicit:" + rt.CurrentStage + "->" + target,
		From:      rt.CurrentStage,
		To:        target,
		Condition: Condition{Kind: ConditionLLMDecision},
	}, nil
}

// Execute applies t to rt: fires onExit/onEnter hooks, optionally clears
// context, appends to transition history, switches stage, resets turn
// counters, and merges transition data into context.
func Execute(def *Definition, rt *Runtime, t *Transition, nowMs int64) {
	from := rt.CurrentStage
	if s, ok := def.Stage(from); ok && s.OnExit != nil {
		s.OnExit(rt)
	}

	if t.ClearCtx {
		rt.Context = make(map[string]any)
	}
	rt.History = append(rt.History, TransitionRecord{TransitionID: t.ID, From: from, To: t.To, AtMs: nowMs})

	rt.CurrentStage = t.To
	rt.TurnCountInStage = 0
	rt.StageEnteredAtMs = nowMs
	for k, v := range t.Data {
		rt.Context[k] = v
	}

	if s, ok := def.Stage(t.To); ok && s.OnEnter != nil {
		s.OnEnter(rt)
	}
}
