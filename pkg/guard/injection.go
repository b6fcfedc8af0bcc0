// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"regexp"
)

// InjectionDetector flags goals that try to override the planner's
// instructions. Pattern-based, so it catches the common phrasings and
// nothing subtle.
type InjectionDetector struct {
	patterns  []*regexp.Regexp
	threshold float64
}

// InjectionOption configures an InjectionDetector.
type InjectionOption func(*InjectionDetector)

var defaultInjectionPatterns = []string{
	`(?i)(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?|rules?)`,
	`(?i)you\s+are\s+now\s+(a|an)\s+`,
	`(?i)pretend\s+(you\s+are|to\s+be)\s+`,
	`(?i)(reveal|show\s+me|print|display)\s+your\s+(system\s+)?(prompt|instructions?)`,
	`(?i)(developer|debug|sudo|admin|maintenance)\s+mode`,
	`(?i)bypass\s+(safety|content|filter)`,
	`(?i)<\|.*\|>`,
	`(?i)\[INST\]`,
	`(?i)<<SYS>>`,
}

// NewInjectionDetector creates a detector with the default patterns.
func NewInjectionDetector(opts ...InjectionOption) *InjectionDetector {
	d := &InjectionDetector{threshold: 0.0}
	for _, pattern := range defaultInjectionPatterns {
		if re, err := regexp.Compile(pattern); err == nil {
			d.patterns = append(d.patterns, re)
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// WithInjectionPatterns adds extra patterns.
func WithInjectionPatterns(patterns []string) InjectionOption {
	return func(d *InjectionDetector) {
		for _, pattern := range patterns {
			if re, err := regexp.Compile(pattern); err == nil {
				d.patterns = append(d.patterns, re)
			}
		}
	}
}

// WithInjectionThreshold sets the minimum confidence that blocks.
func WithInjectionThreshold(threshold float64) InjectionOption {
	return func(d *InjectionDetector) {
		if threshold >= 0 && threshold <= 1 {
			d.threshold = threshold
		}
	}
}

// ID implements GoalChecker.
func (d *InjectionDetector) ID() string { return "injection" }

// CheckGoal implements GoalChecker. Confidence grows with the number
// of matching patterns, starting at 0.7 for a single match.
func (d *InjectionDetector) CheckGoal(ctx context.Context, goal string) CheckResult {
	if goal == "" {
		return CheckResult{}
	}
	matches := 0
	for _, pattern := range d.patterns {
		if ctx.Err() != nil {
			return CheckResult{}
		}
		if pattern.MatchString(goal) {
			matches++
		}
	}
	if matches == 0 {
		return CheckResult{}
	}
	confidence := 0.7 + float64(matches-1)*0.1
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < d.threshold {
		return CheckResult{Confidence: confidence}
	}
	return CheckResult{
		Blocked:    true,
		Reason:     "the goal looks like a prompt injection attempt",
		CheckerID:  d.ID(),
		Confidence: confidence,
	}
}

// WithInjectionDetector adds goal screening for injection attempts.
func WithInjectionDetector(opts ...InjectionOption) Option {
	return WithGoalChecker(NewInjectionDetector(opts...))
}
