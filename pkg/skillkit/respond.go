package skillkit

import (
	"context"

	"github.com/metahuman-os/operator/pkg/core"
	"github.com/metahuman-os/operator/pkg/skill"
)

// RespondManifest describes the respond skill. Planning ends a goal
// by addressing the user through it.
func RespondManifest() skill.Manifest {
	return skill.Manifest{
		ID:          "respond",
		Description: "Deliver a message to the user. Use this when the goal is answered.",
		Class:       skill.ClassConversational,
		InputSchema: skill.Schema{
			"message": {Type: "string", Required: true, Description: "the message to deliver"},
		},
		RiskLevel:     skill.RiskLow,
		CostClass:     skill.CostCheap,
		MinTrustLevel: core.TrustObserve,
		Idempotent:    true,
	}
}

// NewRespond returns the message as the result data.
func NewRespond() skill.Implementation {
	return skill.ImplementationFunc(func(_ context.Context, args map[string]any) (core.ExecutionResult, error) {
		message, _ := args["message"].(string)
		return core.ExecutionResult{Success: true, Data: message}, nil
	})
}

// RegisterBuiltins registers the respond skill and the filesystem
// skills rooted at root.
func RegisterBuiltins(reg *skill.Registry, root string) error {
	if err := reg.Register(RespondManifest(), NewRespond()); err != nil {
		return err
	}
	if root == "" {
		return nil
	}
	if err := reg.Register(FSListManifest(), NewFSList(root)); err != nil {
		return err
	}
	if err := reg.Register(FSReadManifest(), NewFSRead(root)); err != nil {
		return err
	}
	return reg.Register(FSWriteManifest(), NewFSWrite(root))
}
