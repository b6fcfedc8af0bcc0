// SPDX-License-Identifier: Apache-2.0
// Package planner produces the next single step of a run. It plans one
// step at a time so every step can be corrected with real observations
// instead of committing to a stale multi-step plan.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
	"github.com/metahuman-os/operator/pkg/llm"
)

// StepPlan is the planner's output: exactly one next thought, with
// either an action to take or a declaration that the answer is known.
type StepPlan struct {
	Thought     string
	Action      *core.Action
	AnswerKnown bool
}

// Planner asks the planning model for the next step.
type Planner struct {
	Router        llm.Router
	CatalogDigest string
	Memory        core.ContextProvider
	Temperature   float64
}

// New creates a planner over the given router and catalog digest.
func New(router llm.Router, catalogDigest string) *Planner {
	return &Planner{Router: router, CatalogDigest: catalogDigest, Temperature: 0.2}
}

const plannerSystemPrompt = `You are the step planner of a personal assistant.
Plan exactly ONE next step toward the goal. Never plan ahead.
Base your reasoning only on the observations listed; never assume the
outcome of an action that has not been observed.

Available skills:
%s
Respond with a single JSON object, nothing else:
  {"thought": "...", "action": {"skill_id": "...", "args": {...}}}
or, when the observations already answer the goal:
  {"thought": "...", "answer_known": true}`

// PlanStep returns the next step given the goal and the prior steps.
func (p *Planner) PlanStep(ctx context.Context, goal core.Goal, steps []core.Step) (StepPlan, error) {
	provider, err := p.Router.Provider(llm.ModelPlanner)
	if err != nil {
		return StepPlan{}, err
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(plannerSystemPrompt, p.CatalogDigest)},
	}
	if p.Memory != nil {
		if mem, err := p.Memory.GetMemoryContext(ctx, goal); err == nil && strings.TrimSpace(mem.Text) != "" {
			messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: "Relevant memory:\n" + mem.Text})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: renderGoal(goal, steps)})

	resp, err := provider.Chat(ctx, llm.ChatRequest{Messages: messages, Temperature: llm.Float(p.Temperature)})
	if err != nil {
		return StepPlan{}, operrors.New(operrors.CodeLLMError, "planning call failed", err).
			WithRecoverable(true)
	}
	return ParseStepPlan(resp.Content)
}

func renderGoal(goal core.Goal, steps []core.Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", goal.Text)
	if goal.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", goal.Audience)
	}
	if len(steps) == 0 {
		b.WriteString("No steps taken yet.\n")
		return b.String()
	}
	b.WriteString("Steps so far:\n")
	for _, step := range steps {
		fmt.Fprintf(&b, "%d. thought: %s\n", step.Index, step.Thought)
		if step.Action != nil {
			args, _ := json.Marshal(step.Action.Args)
			fmt.Fprintf(&b, "   action: %s %s\n", step.Action.SkillID, args)
		}
		// Only truthful, already-observed data enters the prompt.
		if step.Observation != nil {
			fmt.Fprintf(&b, "   observation (success=%t): %s\n", step.Observation.Success, step.Observation.Content)
		}
	}
	return b.String()
}

// planEnvelope is the wire shape the planning model returns.
type planEnvelope struct {
	Thought     string `json:"thought"`
	AnswerKnown bool   `json:"answer_known"`
	Action      *struct {
		SkillID string         `json:"skill_id"`
		Args    map[string]any `json:"args"`
	} `json:"action"`
}

// ParseStepPlan decodes the model's JSON reply, tolerating code fences.
func ParseStepPlan(content string) (StepPlan, error) {
	raw := extractJSON(content)
	var envelope planEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		return StepPlan{}, operrors.New(operrors.CodeLLMError, "planner returned malformed JSON", err).
			WithContext("content", summarizeContent(content)).
			WithRecoverable(true)
	}
	plan := StepPlan{Thought: envelope.Thought, AnswerKnown: envelope.AnswerKnown}
	if envelope.Action != nil {
		if strings.TrimSpace(envelope.Action.SkillID) == "" {
			return StepPlan{}, operrors.New(operrors.CodeLLMError, "planner action missing skill_id", nil).
				WithRecoverable(true)
		}
		args := envelope.Action.Args
		if args == nil {
			args = map[string]any{}
		}
		plan.Action = &core.Action{SkillID: envelope.Action.SkillID, Args: args}
	}
	if plan.Action == nil && !plan.AnswerKnown {
		// A thought with neither action nor declared answer leaves the
		// driver nothing to do.
		return StepPlan{}, operrors.New(operrors.CodeLLMError, "planner produced neither action nor answer", nil).
			WithRecoverable(true)
	}
	return plan, nil
}

func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}
	if start := strings.Index(content, "{"); start > 0 {
		content = content[start:]
	}
	return content
}

func summarizeContent(content string) string {
	content = strings.TrimSpace(content)
	if len(content) > 200 {
		return content[:200]
	}
	return content
}
