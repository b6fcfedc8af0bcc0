// SPDX-License-Identifier: Apache-2.0

package guard

import (
	"context"
	"regexp"
	"strings"
)

// TopicBlocker refuses goals that mention configured forbidden topics.
// Matching is a whole-word, case-insensitive keyword check.
type TopicBlocker struct {
	topics   []string
	patterns []*regexp.Regexp
}

// NewTopicBlocker creates a blocker for the given topics. Blank topics
// are ignored.
func NewTopicBlocker(topics ...string) *TopicBlocker {
	b := &TopicBlocker{}
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(topic) + `\b`)
		if err != nil {
			continue
		}
		b.topics = append(b.topics, topic)
		b.patterns = append(b.patterns, re)
	}
	return b
}

// ID implements GoalChecker.
func (b *TopicBlocker) ID() string { return "topics" }

// CheckGoal implements GoalChecker.
func (b *TopicBlocker) CheckGoal(ctx context.Context, goal string) CheckResult {
	if goal == "" {
		return CheckResult{}
	}
	for i, pattern := range b.patterns {
		if ctx.Err() != nil {
			return CheckResult{}
		}
		if pattern.MatchString(goal) {
			return CheckResult{
				Blocked:    true,
				Reason:     "the goal touches a blocked topic: " + b.topics[i],
				CheckerID:  b.ID(),
				Confidence: 1.0,
			}
		}
	}
	return CheckResult{}
}

// WithTopicBlocker adds goal screening for forbidden topics.
func WithTopicBlocker(topics ...string) Option {
	return WithGoalChecker(NewTopicBlocker(topics...))
}
