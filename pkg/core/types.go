// Package core defines the shared data model of the operator engine:
// goals, steps, scratchpads, execution results, and trust levels.
package core

import "time"

// TrustLevel is the caller-supplied authorization tier for a run.
// Levels are ordered; a higher level grants every capability of the
// levels below it.
type TrustLevel int

const (
	TrustObserve TrustLevel = iota
	TrustSuggest
	TrustSupervisedAuto
	TrustBoundedAuto
	TrustAdaptiveAuto
)

var trustNames = map[TrustLevel]string{
	TrustObserve:        "observe",
	TrustSuggest:        "suggest",
	TrustSupervisedAuto: "supervised_auto",
	TrustBoundedAuto:    "bounded_auto",
	TrustAdaptiveAuto:   "adaptive_auto",
}

// String returns the wire name of the trust level.
func (t TrustLevel) String() string {
	if name, ok := trustNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseTrustLevel maps a wire name back to a TrustLevel.
func ParseTrustLevel(name string) (TrustLevel, bool) {
	for level, n := range trustNames {
		if n == name {
			return level, true
		}
	}
	return TrustObserve, false
}

// Goal is the immutable input of a run.
type Goal struct {
	Text     string
	Audience string
}

// Action is a single skill invocation request produced by the planner.
type Action struct {
	SkillID string
	Args    map[string]any
}

// ObservationMode selects how a raw execution result is rendered.
type ObservationMode string

const (
	ModeNarrative  ObservationMode = "narrative"
	ModeStructured ObservationMode = "structured"
	ModeVerbatim   ObservationMode = "verbatim"
)

// Observation is the rendered outcome of one action, appended to the
// scratchpad so later planning steps can reason about it.
type Observation struct {
	Mode      ObservationMode
	Content   string
	Success   bool
	Truncated bool
	Error     *ErrorInfo
}

// ErrorInfo carries a classified failure as data rather than a thrown
// error, so the loop can reason about it.
type ErrorInfo struct {
	Code    string
	Message string
	Context map[string]any
}

// ExecutionResult is what a skill implementation returns.
type ExecutionResult struct {
	Success bool
	Error   *ErrorInfo
	Data    any
}

// Step is one reason/act/observe cycle. Action and Observation are nil
// for purely conversational steps.
type Step struct {
	Index       int
	Thought     string
	Action      *Action
	Observation *Observation
	RawOutput   any
	Timestamp   time.Time
}

// CompletionVerdict is the completion evaluator's decision.
type CompletionVerdict struct {
	Complete bool
	Reason   string
}

// RunState names a position in the orchestration state machine.
type RunState string

const (
	StateInit         RunState = "init"
	StatePlanning     RunState = "planning"
	StateActing       RunState = "acting"
	StateObserving    RunState = "observing"
	StateEvaluating   RunState = "evaluating"
	StateSynthesizing RunState = "synthesizing"
	StateDone         RunState = "done"
	StateEscalated    RunState = "escalated"
	StateAborted      RunState = "aborted"
)

// Terminal reports whether the state ends the run.
func (s RunState) Terminal() bool {
	return s == StateDone || s == StateEscalated || s == StateAborted
}

// RunResult is returned to the caller when a run reaches a terminal
// state. Answer is best-effort even on abort or escalation.
type RunResult struct {
	Answer     string
	Scratchpad *Scratchpad
	FinalState RunState
}
