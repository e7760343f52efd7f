package engine

import (
	"encoding/json"
	"fmt"
	"os"
)

// Phase is one named state of the task state machine.
type Phase string

const (
	PhaseIngest    Phase = "INGEST"
	PhasePlan      Phase = "PLAN"
	PhaseImplement Phase = "IMPLEMENT"
	PhaseVerify    Phase = "VERIFY"
	PhaseRepair    Phase = "REPAIR"
	PhaseDone      Phase = "DONE"
)

// Result tags recorded on phase transitions.
const (
	ResultPlanOK         = "plan_ok"
	ResultPlanFailed     = "plan_failed"
	ResultPlanMissing    = "plan_missing"
	ResultImplementOK    = "implement_ok"
	ResultImplementFail  = "implement_failed"
	ResultTestsPassed    = "tests_passed"
	ResultTestsFailed    = "tests_failed"
	ResultNoTestCmd      = "no_test_cmd"
	ResultRepairOK       = "repair_ok"
	ResultRepairFailed   = "repair_failed"
	ResultIterationLimit = "iteration_limit"
	ResultUnknownPhase   = "unknown_phase"
)

// RunState is the mutable, persisted state of one task execution. It is
// rewritten wholesale after every phase transition so a run is resumable.
type RunState struct {
	Phase        Phase    `json:"phase"`
	Iteration    int      `json:"iteration"`
	LastResult   string   `json:"last_result"`
	OpenItems    []string `json:"open_items"`
	FilesTouched []string `json:"files_touched"`
}

// NewRunState returns a fresh state in the initial phase.
func NewRunState() *RunState {
	return &RunState{
		Phase:        PhaseIngest,
		OpenItems:    []string{},
		FilesTouched: []string{},
	}
}

// Save rewrites the state document at path.
func (s *RunState) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("persist run state: %w", err)
	}
	return nil
}

// LoadRunState reads a persisted state document. A state with no phase
// defaults to the initial phase.
func LoadRunState(path string) (*RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read run state: %w", err)
	}
	state := NewRunState()
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("parse run state %s: %w", path, err)
	}
	if state.Phase == "" {
		state.Phase = PhaseIngest
	}
	return state, nil
}

// mergeTouched appends new workspace-relative paths, preserving first-seen
// order and dropping duplicates.
func mergeTouched(existing, added []string) []string {
	merged := existing
	for _, path := range added {
		seen := false
		for _, have := range merged {
			if have == path {
				seen = true
				break
			}
		}
		if !seen {
			merged = append(merged, path)
		}
	}
	return merged
}
