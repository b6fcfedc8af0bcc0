// SPDX-License-Identifier: Apache-2.0

package operator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/metahuman-os/operator/pkg/adapt"
	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
	"github.com/metahuman-os/operator/pkg/executor"
	"github.com/metahuman-os/operator/pkg/guard"
	"github.com/metahuman-os/operator/pkg/llm"
	"github.com/metahuman-os/operator/pkg/planner"
)

// run carries the mutable state of one goal's loop.
type run struct {
	id       string
	goal     core.Goal
	sp       *core.Scratchpad
	loops    *adapt.LoopDetector
	state    core.RunState
	started  time.Time
	planErrs int
}

// Run executes one goal to a terminal state. All skill and planning
// failures stay inside the scratchpad as observations; the returned
// error is reserved for a nil goal or a broken model router, and even
// Aborted runs carry a best-effort answer.
func (o *Operator) Run(ctx context.Context, goal core.Goal) (core.RunResult, error) {
	if strings.TrimSpace(goal.Text) == "" {
		return core.RunResult{}, operrors.New(operrors.CodeInvalidArgs, "goal text is required", nil)
	}

	ctx, runID := core.EnsureRunID(ctx)
	ctx, span := o.tracer.Start(ctx, "Operator.Run", trace.WithAttributes(
		attribute.String("run.id", runID),
	))
	defer span.End()

	r := &run{
		id:      runID,
		goal:    goal,
		sp:      core.NewScratchpad(goal),
		loops:   adapt.NewLoopDetector(o.loopThreshold),
		state:   core.StateInit,
		started: time.Now(),
	}
	slog.Info("operator.run.start", slog.String("run_id", runID), slog.String("goal", goal.Text))

	var result core.RunResult
	if check := o.checkGoal(ctx, r); check.Blocked {
		result = o.finish(ctx, r, core.StateAborted, "I can't work on that goal: "+check.Reason)
	} else {
		result = o.drive(ctx, r)
	}
	result.Answer = o.filterAnswer(ctx, r, result.Answer)

	span.SetAttributes(attribute.String("run.final_state", string(result.FinalState)))
	slog.Info("operator.run.finish",
		slog.String("run_id", runID),
		slog.String("final_state", string(result.FinalState)),
		slog.Int("steps", r.sp.Len()),
	)
	o.metrics.RecordRun(ctx, string(result.FinalState), r.sp.Len(), time.Since(r.started))
	return result, nil
}

func (o *Operator) drive(ctx context.Context, r *run) core.RunResult {
	// Pure conversation shortcuts straight to synthesis: zero skill
	// invocations and a single reasoning call.
	if planner.IsPureConversational(r.goal.Text) {
		o.transition(ctx, r, core.StateSynthesizing)
		answer := o.synthesize(ctx, r, "")
		r.sp.Append(core.Step{Thought: "goal is pure conversation; answering directly"})
		return o.finish(ctx, r, core.StateDone, answer)
	}

	for {
		if res, done := o.checkBudgets(ctx, r); done {
			return res
		}

		o.transition(ctx, r, core.StatePlanning)
		plan, err := o.planner.PlanStep(ctx, r.goal, r.sp.Steps())
		o.metrics.RecordModelCall(ctx, string(llm.ModelPlanner))
		if err != nil {
			if res, done := o.planFailed(ctx, r, err); done {
				return res
			}
			continue
		}
		r.planErrs = 0

		if plan.AnswerKnown {
			o.transition(ctx, r, core.StateSynthesizing)
			r.sp.Append(core.Step{Thought: plan.Thought})
			return o.finish(ctx, r, core.StateDone, o.synthesize(ctx, r, ""))
		}

		o.transition(ctx, r, core.StateActing)
		result := o.executor.Execute(ctx, executor.Request{
			Action:      *plan.Action,
			Trust:       o.trust,
			AutoApprove: o.autoApprove,
		})

		// An in-flight invocation may finish, but nothing new starts
		// after cancellation.
		if ctx.Err() != nil {
			return o.abortWithoutModel(ctx, r, "run cancelled")
		}

		o.transition(ctx, r, core.StateObserving)
		obs := o.formatter.Format(result, o.mode)
		o.suggestPath(&obs, result, r.sp.Steps())
		r.sp.Append(core.Step{
			Thought:     plan.Thought,
			Action:      plan.Action,
			Observation: &obs,
			RawOutput:   result.Data,
		})

		o.transition(ctx, r, core.StateEvaluating)
		if !result.Success {
			if r.loops.RecordFailure(plan.Action.SkillID, plan.Action.Args) {
				return o.escalate(ctx, r, plan.Action.SkillID)
			}
		}
		outcome, err := o.evaluator.Evaluate(ctx, r.goal, r.sp.Steps())
		if err != nil {
			// An inconclusive check is not worth killing the run over;
			// the next cycle re-evaluates a longer scratchpad.
			o.recordError(ctx, r, operrors.CodeOf(err), "completion check failed")
			continue
		}
		if outcome.UsedModel {
			o.metrics.RecordModelCall(ctx, string(llm.ModelEvaluator))
		}
		if outcome.Abort {
			return o.abort(ctx, r, outcome.Verdict.Reason)
		}
		if outcome.Verdict.Complete {
			o.transition(ctx, r, core.StateSynthesizing)
			return o.finish(ctx, r, core.StateDone, o.synthesize(ctx, r, ""))
		}
	}
}

// checkBudgets enforces the step and wall-clock budgets and
// cancellation at the transition boundary.
func (o *Operator) checkBudgets(ctx context.Context, r *run) (core.RunResult, bool) {
	if ctx.Err() != nil {
		return o.abortWithoutModel(ctx, r, "run cancelled"), true
	}
	if r.sp.Len() >= o.maxSteps {
		o.recordError(ctx, r, operrors.CodeBudgetExceeded, "step budget exhausted")
		return o.abort(ctx, r, fmt.Sprintf("step budget of %d exhausted", o.maxSteps)), true
	}
	if time.Since(r.started) >= o.wallClock {
		o.recordError(ctx, r, operrors.CodeBudgetExceeded, "wall-clock budget exhausted")
		return o.abort(ctx, r, "wall-clock budget exhausted"), true
	}
	return core.RunResult{}, false
}

func (o *Operator) planFailed(ctx context.Context, r *run, err error) (core.RunResult, bool) {
	r.planErrs++
	o.recordError(ctx, r, operrors.CodeOf(err), "planning failed")
	r.sp.Append(core.Step{
		Thought: "planning failed",
		Observation: &core.Observation{
			Mode:    o.mode,
			Content: fmt.Sprintf("The planner failed: %v", err),
			Error: &core.ErrorInfo{
				Code:    string(operrors.CodeOf(err)),
				Message: err.Error(),
			},
		},
	})
	if r.planErrs >= 2 {
		return o.abort(ctx, r, "planner failed twice in a row"), true
	}
	return core.RunResult{}, false
}

// suggestPath appends a fuzzy path suggestion to a not-found
// observation, so the next planning step sees a way forward.
func (o *Operator) suggestPath(obs *core.Observation, result core.ExecutionResult, prior []core.Step) {
	if result.Error == nil || operrors.Code(result.Error.Code) != operrors.CodeNotFound {
		return
	}
	missing, _ := result.Error.Context["path"].(string)
	if missing == "" {
		return
	}
	if match, ok := adapt.ResolvePath(missing, prior); ok {
		obs.Content += fmt.Sprintf(" A similar path exists: %q.", match)
	}
}

func (o *Operator) escalate(ctx context.Context, r *run, skillID string) core.RunResult {
	payload := adapt.BuildEscalation(r.goal, r.sp.Steps(), fmt.Sprintf(
		"%s failed identically %d times", skillID, r.loops.Threshold()))

	o.audit.Record(ctx, core.NewAuditEvent("operator", r.id, core.CategoryEscalation, core.LevelWarn, map[string]any{
		"skill_id":    skillID,
		"reason":      payload.StuckReason,
		"error_code":  string(operrors.CodeLoopDetected),
		"suggestions": payload.Suggestions,
	}))
	o.metrics.RecordEscalation(ctx)

	if o.collab == nil {
		return o.finish(ctx, r, core.StateEscalated, o.synthesize(ctx, r, payload.StuckReason))
	}

	escCtx, cancel := context.WithTimeout(ctx, o.escalationTimeout)
	defer cancel()
	guidance, err := o.collab.Escalate(escCtx, payload)
	if err != nil {
		// A hung collaborator must not hang the run.
		return o.abort(ctx, r, fmt.Sprintf("escalation failed: %v", err))
	}
	if guidance.Abort {
		return o.abort(ctx, r, "collaborator advised abort")
	}
	answer := guidance.Text
	if answer == "" {
		answer = o.synthesize(ctx, r, payload.StuckReason)
	}
	// Escalation ends this run; any resumption is a fresh run seeded
	// with the guidance.
	return o.finish(ctx, r, core.StateEscalated, answer)
}

func (o *Operator) abort(ctx context.Context, r *run, reason string) core.RunResult {
	o.transition(ctx, r, core.StateSynthesizing)
	return o.finish(ctx, r, core.StateAborted, o.synthesize(ctx, r, reason))
}

// abortWithoutModel is the cancellation path: the context is dead, so
// no model call can produce the partial answer.
func (o *Operator) abortWithoutModel(ctx context.Context, r *run, reason string) core.RunResult {
	return o.finish(ctx, r, core.StateAborted, o.fallbackAnswer(r, reason))
}

// checkGoal screens the goal before any model call. A block is an
// audited warning, not an error.
func (o *Operator) checkGoal(ctx context.Context, r *run) guard.CheckResult {
	if o.guard == nil {
		return guard.CheckResult{}
	}
	check := o.guard.CheckGoal(ctx, r.goal.Text)
	if check.Blocked {
		o.audit.Record(ctx, core.NewAuditEvent("operator", r.id, core.CategoryError, core.LevelWarn, map[string]any{
			"error_code": "GOAL_BLOCKED",
			"checker":    check.CheckerID,
			"reason":     check.Reason,
		}))
	}
	return check
}

// filterAnswer rewrites the outgoing answer through the guard chain.
func (o *Operator) filterAnswer(ctx context.Context, r *run, answer string) string {
	if o.guard == nil {
		return answer
	}
	filtered := o.guard.FilterAnswer(ctx, answer)
	if filtered.Modified {
		slog.Info("operator.answer.filtered",
			slog.String("run_id", r.id),
			slog.Int("redactions", len(filtered.Redactions)),
		)
	}
	return filtered.Content
}

func (o *Operator) finish(ctx context.Context, r *run, state core.RunState, answer string) core.RunResult {
	o.transition(ctx, r, state)
	return core.RunResult{
		Answer:     answer,
		Scratchpad: r.sp,
		FinalState: state,
	}
}

func (o *Operator) transition(ctx context.Context, r *run, to core.RunState) {
	from := r.state
	r.state = to
	o.audit.Record(ctx, core.NewAuditEvent("operator", r.id, core.CategoryTransition, core.LevelInfo, map[string]any{
		"from": string(from),
		"to":   string(to),
	}))
}

func (o *Operator) recordError(ctx context.Context, r *run, code operrors.Code, msg string) {
	o.audit.Record(ctx, core.NewAuditEvent("operator", r.id, core.CategoryError, core.LevelWarn, map[string]any{
		"error_code": string(code),
		"message":    msg,
	}))
}

const synthesizerSystemPrompt = `You are the voice of a personal assistant.
Write the final reply to the user for the goal below, grounded only in
the observations listed. If the run ended early, explain honestly what
was and was not done. Reply with plain text.`

// synthesize produces the user-facing answer. stuckReason, when set,
// marks a partial result. Synthesis failures degrade to a
// deterministic summary; the caller never sees a bare error.
func (o *Operator) synthesize(ctx context.Context, r *run, stuckReason string) string {
	provider, err := o.router.Provider(llm.ModelSynthesizer)
	if err != nil {
		return o.fallbackAnswer(r, stuckReason)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", r.goal.Text)
	if r.goal.Audience != "" {
		fmt.Fprintf(&b, "Audience: %s\n", r.goal.Audience)
	}
	if stuckReason != "" {
		fmt.Fprintf(&b, "The run stopped early: %s\n", stuckReason)
	}
	for _, step := range r.sp.Steps() {
		fmt.Fprintf(&b, "%d. %s\n", step.Index, step.Thought)
		if step.Observation != nil {
			fmt.Fprintf(&b, "   observation (success=%t): %s\n", step.Observation.Success, step.Observation.Content)
		}
	}

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: synthesizerSystemPrompt},
			{Role: llm.RoleUser, Content: b.String()},
		},
		Temperature: llm.Float(0.4),
	})
	o.metrics.RecordModelCall(ctx, string(llm.ModelSynthesizer))
	if err != nil {
		o.recordError(ctx, r, operrors.CodeLLMError, "synthesis failed")
		return o.fallbackAnswer(r, stuckReason)
	}
	return strings.TrimSpace(resp.Content)
}

// fallbackAnswer is the no-model partial answer: the last successful
// observation, or an honest statement that nothing completed.
func (o *Operator) fallbackAnswer(r *run, stuckReason string) string {
	for i, steps := 0, r.sp.Steps(); i < len(steps); i++ {
		step := steps[len(steps)-1-i]
		if step.Observation != nil && step.Observation.Success && step.Observation.Content != "" {
			if stuckReason != "" {
				return fmt.Sprintf("I could not finish (%s). The last thing I found: %s", stuckReason, step.Observation.Content)
			}
			return step.Observation.Content
		}
	}
	if stuckReason != "" {
		return fmt.Sprintf("I could not complete the goal: %s.", stuckReason)
	}
	return "I could not complete the goal."
}
