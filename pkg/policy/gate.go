// Package policy implements the trust gate consulted before every
// skill invocation. The gate is pure and deterministic so its decisions
// can be audited and replayed.
package policy

import (
	"fmt"

	"github.com/metahuman-os/operator/pkg/core"
	"github.com/metahuman-os/operator/pkg/skill"
)

// Verdict is the outcome of a gate evaluation.
type Verdict string

const (
	VerdictAllowed          Verdict = "allowed"
	VerdictRequiresApproval Verdict = "requires_approval"
	VerdictDenied           Verdict = "denied"
)

// Decision captures a gate evaluation for auditing.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Allowed reports whether the action may proceed without approval.
func (d Decision) Allowed() bool { return d.Verdict == VerdictAllowed }

// RequiresApproval reports whether the action needs an explicit
// approval before it may proceed.
func (d Decision) RequiresApproval() bool { return d.Verdict == VerdictRequiresApproval }

// Denied reports whether the action is forbidden at this trust level.
func (d Decision) Denied() bool { return d.Verdict == VerdictDenied }

// Authorize evaluates a manifest against the run's trust level.
//
// Trust governs capability: a trust level below the manifest's minimum
// denies the call outright. Approval governs the specific call: a
// manifest with RequiresApproval set needs approval even when trust is
// sufficient.
func Authorize(manifest skill.Manifest, trust core.TrustLevel) Decision {
	if trust < manifest.MinTrustLevel {
		return Decision{
			Verdict: VerdictDenied,
			Reason: fmt.Sprintf("skill %s requires trust %s, run has %s",
				manifest.ID, manifest.MinTrustLevel, trust),
		}
	}
	if manifest.RequiresApproval {
		return Decision{
			Verdict: VerdictRequiresApproval,
			Reason:  fmt.Sprintf("skill %s requires per-call approval", manifest.ID),
		}
	}
	return Decision{Verdict: VerdictAllowed}
}
