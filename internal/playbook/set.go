package playbook

import "fmt"

// Set is the process-wide registry of validated playbook Definitions,
// looked up by the Supervisor when a session reconnects into playbook mode.
// Read-mostly after startup, mirroring the tool registry's
// register-before-serving discipline.
type Set struct {
	defs map[string]*Definition
}

// NewSet builds an empty registry.
func NewSet() *Set {
	return &Set{defs: make(map[string]*Definition)}
}

// Register validates def and adds it to the set, keyed by def.ID. It
// rejects duplicates and invalid definitions.
func (s *Set) Register(def *Definition) error {
	if def.ID == "" {
		return fmt.Errorf("playbook: definition has empty id")
	}
	if _, exists := s.defs[def.ID]; exists {
		return fmt.Errorf("playbook: duplicate id %q", def.ID)
	}
	if err := def.Validate(); err != nil {
		return err
	}
	s.defs[def.ID] = def
	return nil
}

// Get looks up a registered Definition by id.
func (s *Set) Get(id string) (*Definition, bool) {
	def, ok := s.defs[id]
	return def, ok
}

// Len reports how many playbooks are registered.
func (s *Set) Len() int { return len(s.defs) }
