package playbook

import (
	"encoding/json"
	"fmt"
	"os"
)

// jsonCondition mirrors Condition for file-based playbooks. ConditionCustom
// cannot be expressed this way since Condition.Custom is a Go func; a JSON
// playbook that declares kind "custom" fails to load.
type jsonCondition struct {
	Kind      ConditionKind `json:"kind"`
	ToolName  string        `json:"toolName,omitempty"`
	Intent    string        `json:"intent,omitempty"`
	MinConf   float64       `json:"minConfidence,omitempty"`
	Keywords  []string      `json:"keywords,omitempty"`
	MaxTurns  int           `json:"maxTurns,omitempty"`
	TimeoutMs int64         `json:"timeoutMs,omitempty"`
}

type jsonTransition struct {
	ID        string        `json:"id"`
	From      string        `json:"from"`
	To        string        `json:"to"`
	Condition jsonCondition `json:"condition"`
	Priority  int           `json:"priority,omitempty"`
	ClearCtx  bool          `json:"clearContext,omitempty"`
	Label     string        `json:"label,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

type jsonModelOverride struct {
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
}

type jsonStage struct {
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	SystemPrompt  string            `json:"systemPrompt,omitempty"`
	Tools         []string          `json:"tools,omitempty"`
	ToolChoice    string            `json:"toolChoice,omitempty"`
	ModelOverride jsonModelOverride `json:"modelOverride,omitempty"`
	MaxTurns      int               `json:"maxTurns,omitempty"`
	TimeoutMs     int64             `json:"timeoutMs,omitempty"`
}

type jsonDefinition struct {
	ID           string            `json:"id"`
	InitialStage string            `json:"initialStage"`
	Stages       []jsonStage       `json:"stages"`
	Transitions  []jsonTransition  `json:"transitions"`
	GlobalPrompt string            `json:"globalPrompt,omitempty"`
	GlobalTools  []string          `json:"globalTools,omitempty"`
	DefaultModel jsonModelOverride `json:"defaultModel,omitempty"`
}

// LoadFile reads a JSON-encoded playbook definition from path and validates
// it. The on-disk shape is a serializable subset of Definition: entry/exit
// hooks aren't representable in JSON and are left nil, and a transition of
// kind "custom" is rejected with an error.
func LoadFile(path string) (*Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playbook: read %s: %w", path, err)
	}
	var jd jsonDefinition
	if err := json.Unmarshal(raw, &jd); err != nil {
		return nil, fmt.Errorf("playbook: parse %s: %w", path, err)
	}

	def := &Definition{
		ID:           jd.ID,
		InitialStage: jd.InitialStage,
		GlobalPrompt: jd.GlobalPrompt,
		GlobalTools:  jd.GlobalTools,
		DefaultModel: ModelOverride(jd.DefaultModel),
	}
	for _, s := range jd.Stages {
		def.Stages = append(def.Stages, Stage{
			ID:            s.ID,
			Name:          s.Name,
			SystemPrompt:  s.SystemPrompt,
			Tools:         s.Tools,
			ToolChoice:    s.ToolChoice,
			ModelOverride: ModelOverride(s.ModelOverride),
			MaxTurns:      s.MaxTurns,
			TimeoutMs:     s.TimeoutMs,
		})
	}
	for _, t := range jd.Transitions {
		if t.Condition.Kind == ConditionCustom {
			return nil, fmt.Errorf("playbook: transition %q: kind \"custom\" is not loadable from JSON", t.ID)
		}
		def.Transitions = append(def.Transitions, Transition{
			ID:   t.ID,
			From: t.From,
			To:   t.To,
			Condition: Condition{
				Kind:      t.Condition.Kind,
				ToolName:  t.Condition.ToolName,
				Intent:    t.Condition.Intent,
				MinConf:   t.Condition.MinConf,
				Keywords:  t.Condition.Keywords,
				MaxTurns:  t.Condition.MaxTurns,
				TimeoutMs: t.Condition.TimeoutMs,
			},
			Priority: t.Priority,
			ClearCtx: t.ClearCtx,
			Label:    t.Label,
			Reason:   t.Reason,
		})
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}
