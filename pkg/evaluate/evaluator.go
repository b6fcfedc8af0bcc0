// SPDX-License-Identifier: Apache-2.0
// Package evaluate decides whether a run is complete. Deterministic
// rules run first; the model fallback fires only when the rules are
// inconclusive, which keeps most steps at a single reasoning call.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
	"github.com/metahuman-os/operator/pkg/llm"
	"github.com/metahuman-os/operator/pkg/skill"
)

// Outcome is the evaluator's decision for the driver.
type Outcome struct {
	Verdict core.CompletionVerdict
	// Abort marks a terminal failure: stop planning and synthesize a
	// best-effort partial answer.
	Abort bool
	// UsedModel reports whether the fallback tier ran.
	UsedModel bool
}

// Evaluator applies the rule tier and, when inconclusive, the model
// fallback.
type Evaluator struct {
	Router  llm.Router
	Catalog *skill.Registry
}

// New creates an evaluator over the router and catalog.
func New(router llm.Router, catalog *skill.Registry) *Evaluator {
	return &Evaluator{Router: router, Catalog: catalog}
}

// RulePass applies only the deterministic rules. The second return
// value reports whether the rules were conclusive. Re-running it on an
// unchanged scratchpad always yields the same result.
func (e *Evaluator) RulePass(steps []core.Step) (Outcome, bool) {
	if len(steps) == 0 {
		return Outcome{}, false
	}
	last := steps[len(steps)-1]

	// A conversational response is always terminal.
	if last.Action != nil && e.classOf(last.Action.SkillID) == skill.ClassConversational {
		if last.Observation == nil || last.Observation.Success {
			return Outcome{Verdict: core.CompletionVerdict{
				Complete: true,
				Reason:   "conversational response delivered",
			}}, true
		}
	}

	// An unrecoverable error observation terminates the run.
	if last.Observation != nil && last.Observation.Error != nil && isFatal(last.Observation.Error) {
		return Outcome{
			Verdict: core.CompletionVerdict{
				Complete: false,
				Reason:   fmt.Sprintf("unrecoverable error: %s", last.Observation.Error.Message),
			},
			Abort: true,
		}, true
	}

	// A failed last step cannot have completed the goal.
	if last.Observation != nil && !last.Observation.Success {
		return Outcome{Verdict: core.CompletionVerdict{
			Complete: false,
			Reason:   "last action failed",
		}}, true
	}

	// The first action of a run is never terminal alone: the goal still
	// needs a step that reports or confirms. The same holds for the
	// first mutation even when lookups preceded it.
	if last.Action != nil && e.classOf(last.Action.SkillID) != skill.ClassConversational {
		if firstAction(steps) == last.Index {
			return Outcome{Verdict: core.CompletionVerdict{
				Complete: false,
				Reason:   "first action needs a follow-up step",
			}}, true
		}
		if e.classOf(last.Action.SkillID) == skill.ClassMutation && firstMutation(steps, e.classOf) == last.Index {
			return Outcome{Verdict: core.CompletionVerdict{
				Complete: false,
				Reason:   "first mutating action needs a follow-up step",
			}}, true
		}
	}

	return Outcome{}, false
}

// Evaluate runs the rule tier, falling back to the model only when the
// rules are inconclusive.
func (e *Evaluator) Evaluate(ctx context.Context, goal core.Goal, steps []core.Step) (Outcome, error) {
	if outcome, conclusive := e.RulePass(steps); conclusive {
		return outcome, nil
	}
	return e.modelFallback(ctx, goal, steps)
}

func (e *Evaluator) modelFallback(ctx context.Context, goal core.Goal, steps []core.Step) (Outcome, error) {
	provider, err := e.Router.Provider(llm.ModelEvaluator)
	if err != nil {
		return Outcome{}, err
	}
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: evaluatorSystemPrompt},
			{Role: llm.RoleUser, Content: renderScratchpad(goal, steps)},
		},
		// Pinned to zero for a deterministic verdict.
		Temperature: llm.Float(0),
	})
	if err != nil {
		return Outcome{}, operrors.New(operrors.CodeLLMError, "completion check failed", err).
			WithRecoverable(true)
	}
	verdict, err := parseVerdict(resp.Content)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Verdict: verdict, UsedModel: true}, nil
}

const evaluatorSystemPrompt = `You judge whether an assistant has fully achieved its goal.
Consider only the observations listed. Respond with a single JSON object:
  {"complete": true|false, "reason": "..."}`

func renderScratchpad(goal core.Goal, steps []core.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", goal.Text)
	for _, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", step.Index, step.Thought)
		if step.Action != nil {
			fmt.Fprintf(&b, "   action: %s\n", step.Action.SkillID)
		}
		if step.Observation != nil {
			fmt.Fprintf(&b, "   observation (success=%t): %s\n", step.Observation.Success, step.Observation.Content)
		}
	}
	return b.String()
}

func parseVerdict(content string) (core.CompletionVerdict, error) {
	content = strings.TrimSpace(content)
	if start := strings.Index(content, "{"); start > 0 {
		content = content[start:]
	}
	if end := strings.LastIndex(content, "}"); end >= 0 {
		content = content[:end+1]
	}
	var verdict core.CompletionVerdict
	var envelope struct {
		Complete bool   `json:"complete"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return verdict, operrors.New(operrors.CodeLLMError, "evaluator returned malformed JSON", err).
			WithRecoverable(true)
	}
	verdict.Complete = envelope.Complete
	verdict.Reason = envelope.Reason
	return verdict, nil
}

func (e *Evaluator) classOf(skillID string) skill.Class {
	if e.Catalog == nil {
		return ""
	}
	entry, err := e.Catalog.Lookup(skillID)
	if err != nil {
		return ""
	}
	return entry.Manifest.Class
}

func firstAction(steps []core.Step) int {
	for _, step := range steps {
		if step.Action != nil {
			return step.Index
		}
	}
	return -1
}

func firstMutation(steps []core.Step, classOf func(string) skill.Class) int {
	for _, step := range steps {
		if step.Action != nil && classOf(step.Action.SkillID) == skill.ClassMutation {
			return step.Index
		}
	}
	return -1
}

func isFatal(info *core.ErrorInfo) bool {
	switch operrors.Code(info.Code) {
	case operrors.CodeBudgetExceeded, operrors.CodeLoopDetected, operrors.CodeInternal:
		return true
	}
	return false
}
