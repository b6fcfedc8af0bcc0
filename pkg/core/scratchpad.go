package core

import "time"

// Scratchpad is the append-only step history of one run. It is owned by
// a single run loop and is not safe for concurrent mutation; runs never
// share a scratchpad.
type Scratchpad struct {
	Goal  Goal
	steps []Step
}

// NewScratchpad creates an empty scratchpad for the given goal.
func NewScratchpad(goal Goal) *Scratchpad {
	return &Scratchpad{Goal: goal}
}

// Append adds a step, assigning the next strictly increasing index and
// a timestamp. The stored step is returned.
func (s *Scratchpad) Append(step Step) Step {
	step.Index = len(s.steps)
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now().UTC()
	}
	s.steps = append(s.steps, step)
	return step
}

// Len returns the number of recorded steps.
func (s *Scratchpad) Len() int { return len(s.steps) }

// Steps returns a copy of the recorded steps.
func (s *Scratchpad) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Last returns the most recent step, or false when empty.
func (s *Scratchpad) Last() (Step, bool) {
	if len(s.steps) == 0 {
		return Step{}, false
	}
	return s.steps[len(s.steps)-1], true
}

// LastN returns up to n most recent steps, oldest first.
func (s *Scratchpad) LastN(n int) []Step {
	if n <= 0 || len(s.steps) == 0 {
		return nil
	}
	if n > len(s.steps) {
		n = len(s.steps)
	}
	return append([]Step(nil), s.steps[len(s.steps)-n:]...)
}
