package evaluate

import (
	"context"
	"testing"

	"github.com/metahuman-os/operator/pkg/core"
	"github.com/metahuman-os/operator/pkg/llm"
	"github.com/metahuman-os/operator/pkg/skill"
)

func testCatalog(t *testing.T) *skill.Registry {
	t.Helper()
	reg := skill.NewRegistry()
	impl := skill.ImplementationFunc(func(_ context.Context, _ map[string]any) (core.ExecutionResult, error) {
		return core.ExecutionResult{Success: true}, nil
	})
	manifests := []skill.Manifest{
		{ID: "respond", Description: "reply to the user", Class: skill.ClassConversational},
		{ID: "fs_list", Description: "list files", Class: skill.ClassLookup},
		{ID: "fs_write", Description: "write file", Class: skill.ClassMutation},
	}
	for _, m := range manifests {
		if err := reg.Register(m, impl); err != nil {
			t.Fatalf("register %s: %v", m.ID, err)
		}
	}
	reg.Freeze()
	return reg
}

func observedStep(index int, skillID string, success bool) core.Step {
	return core.Step{
		Index:       index,
		Thought:     "t",
		Action:      &core.Action{SkillID: skillID, Args: map[string]any{}},
		Observation: &core.Observation{Mode: core.ModeNarrative, Content: "obs", Success: success},
	}
}

func TestRuleConversationalTerminal(t *testing.T) {
	e := New(llm.SingleRouter(llm.NewScriptedProvider()), testCatalog(t))
	steps := []core.Step{observedStep(0, "respond", true)}
	outcome, conclusive := e.RulePass(steps)
	if !conclusive || !outcome.Verdict.Complete {
		t.Fatalf("expected terminal verdict, got %+v (conclusive=%t)", outcome, conclusive)
	}
}

func TestRuleFailedStepNotTerminal(t *testing.T) {
	e := New(llm.SingleRouter(llm.NewScriptedProvider()), testCatalog(t))
	steps := []core.Step{
		observedStep(0, "fs_write", true),
		observedStep(1, "fs_write", false),
	}
	steps[1].Observation.Error = &core.ErrorInfo{Code: "PERMISSION_DENIED", Message: "denied"}
	outcome, conclusive := e.RulePass(steps)
	if !conclusive || outcome.Verdict.Complete || outcome.Abort {
		t.Fatalf("expected conclusive incomplete, got %+v (conclusive=%t)", outcome, conclusive)
	}
}

func TestRuleFirstActionNotTerminal(t *testing.T) {
	e := New(llm.SingleRouter(llm.NewScriptedProvider()), testCatalog(t))
	steps := []core.Step{observedStep(0, "fs_list", true)}
	outcome, conclusive := e.RulePass(steps)
	if !conclusive || outcome.Verdict.Complete {
		t.Fatalf("expected non-terminal verdict, got %+v (conclusive=%t)", outcome, conclusive)
	}
}

func TestRuleFirstMutationNotTerminal(t *testing.T) {
	e := New(llm.SingleRouter(llm.NewScriptedProvider()), testCatalog(t))
	steps := []core.Step{
		observedStep(0, "fs_list", true),
		observedStep(1, "fs_write", true),
	}
	outcome, conclusive := e.RulePass(steps)
	if !conclusive || outcome.Verdict.Complete {
		t.Fatalf("expected non-terminal verdict, got %+v", outcome)
	}
}

func TestRuleUnrecoverableAborts(t *testing.T) {
	e := New(llm.SingleRouter(llm.NewScriptedProvider()), testCatalog(t))
	step := observedStep(0, "fs_list", false)
	step.Observation.Error = &core.ErrorInfo{Code: "LOOP_DETECTED", Message: "stuck"}
	outcome, conclusive := e.RulePass([]core.Step{step})
	if !conclusive || !outcome.Abort {
		t.Fatalf("expected abort, got %+v", outcome)
	}
}

func TestRulePassDeterministic(t *testing.T) {
	provider := llm.NewScriptedProvider()
	e := New(llm.SingleRouter(provider), testCatalog(t))
	steps := []core.Step{observedStep(0, "respond", true)}
	first, _ := e.RulePass(steps)
	for i := 0; i < 5; i++ {
		again, conclusive := e.RulePass(steps)
		if !conclusive || again != first {
			t.Fatalf("rule pass changed between runs: %+v vs %+v", first, again)
		}
	}
	if provider.Calls() != 0 {
		t.Fatalf("rule pass must not call the model, saw %d calls", provider.Calls())
	}
}

func TestModelFallbackOnlyWhenInconclusive(t *testing.T) {
	provider := llm.NewScriptedProvider(`{"complete": true, "reason": "goal satisfied"}`)
	e := New(llm.SingleRouter(provider), testCatalog(t))
	steps := []core.Step{
		observedStep(0, "fs_list", true),
		observedStep(1, "fs_list", true),
	}

	outcome, err := e.Evaluate(context.Background(), core.Goal{Text: "g"}, steps)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !outcome.UsedModel || !outcome.Verdict.Complete || outcome.Verdict.Reason != "goal satisfied" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if provider.Calls() != 1 {
		t.Fatalf("expected exactly one model call, saw %d", provider.Calls())
	}
}
