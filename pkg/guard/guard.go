// SPDX-License-Identifier: Apache-2.0

// Package guard screens goals before planning starts and filters
// synthesized answers before they are returned. Checkers see the raw
// goal text; filters see the final answer and may rewrite it.
package guard

import "context"

// CheckResult is the outcome of a goal check.
type CheckResult struct {
	Blocked    bool
	Reason     string
	CheckerID  string
	Confidence float64
}

// FilterResult is the outcome of answer filtering.
type FilterResult struct {
	Content    string
	Modified   bool
	Redactions []Redaction
}

// Redaction describes one replacement made by a filter. The original
// text is never recorded.
type Redaction struct {
	Type        string
	Replacement string
	Position    int
}

// GoalChecker validates a goal before any model call happens.
type GoalChecker interface {
	CheckGoal(ctx context.Context, goal string) CheckResult
	ID() string
}

// AnswerFilter rewrites a synthesized answer before it leaves the run.
type AnswerFilter interface {
	FilterAnswer(ctx context.Context, answer string) FilterResult
	ID() string
}

// Guard chains goal checkers and answer filters. The zero value passes
// everything through.
type Guard struct {
	checkers []GoalChecker
	filters  []AnswerFilter
}

// Option configures a Guard.
type Option func(*Guard)

// New creates a Guard from the given options.
func New(opts ...Option) *Guard {
	g := &Guard{}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// WithGoalChecker appends a goal checker.
func WithGoalChecker(checker GoalChecker) Option {
	return func(g *Guard) {
		g.checkers = append(g.checkers, checker)
	}
}

// WithAnswerFilter appends an answer filter.
func WithAnswerFilter(filter AnswerFilter) Option {
	return func(g *Guard) {
		g.filters = append(g.filters, filter)
	}
}

// CheckGoal runs every checker and returns the first blocking result.
func (g *Guard) CheckGoal(ctx context.Context, goal string) CheckResult {
	for _, checker := range g.checkers {
		if ctx.Err() != nil {
			return CheckResult{Blocked: true, Reason: "goal check cancelled", CheckerID: "system"}
		}
		result := checker.CheckGoal(ctx, goal)
		if result.Blocked {
			result.CheckerID = checker.ID()
			return result
		}
	}
	return CheckResult{}
}

// FilterAnswer runs every filter in sequence, each seeing the output
// of the previous one.
func (g *Guard) FilterAnswer(ctx context.Context, answer string) FilterResult {
	result := FilterResult{Content: answer}
	for _, filter := range g.filters {
		if ctx.Err() != nil {
			return result
		}
		filtered := filter.FilterAnswer(ctx, result.Content)
		if filtered.Modified {
			result.Content = filtered.Content
			result.Modified = true
			result.Redactions = append(result.Redactions, filtered.Redactions...)
		}
	}
	return result
}
