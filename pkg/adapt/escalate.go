package adapt

import (
	"context"
	"fmt"

	"github.com/metahuman-os/operator/pkg/core"
)

// EscalationPayload is handed to the external higher-capability
// collaborator when a run is stuck.
type EscalationPayload struct {
	Goal        core.Goal
	Steps       []core.Step
	StuckReason string
	Suggestions []string
}

// Guidance is the collaborator's reply. Abort set means give up; Text
// otherwise seeds a fresh run.
type Guidance struct {
	Abort bool
	Text  string
}

// Collaborator is the external escalation interface. Escalate blocks
// until guidance arrives or its own timeout fires.
type Collaborator interface {
	Escalate(ctx context.Context, payload EscalationPayload) (Guidance, error)
}

// BuildEscalation packages a stuck run for handoff. Suggestions are
// derived from the recent failing steps.
func BuildEscalation(goal core.Goal, steps []core.Step, stuckReason string) EscalationPayload {
	payload := EscalationPayload{
		Goal:        goal,
		Steps:       steps,
		StuckReason: stuckReason,
	}
	seen := map[string]bool{}
	for i := len(steps) - 1; i >= 0 && len(payload.Suggestions) < 3; i-- {
		step := steps[i]
		if step.Action == nil || step.Observation == nil || step.Observation.Success {
			continue
		}
		hint := fmt.Sprintf("retry %s with different arguments or a different skill", step.Action.SkillID)
		if seen[hint] {
			continue
		}
		seen[hint] = true
		payload.Suggestions = append(payload.Suggestions, hint)
	}
	return payload
}
