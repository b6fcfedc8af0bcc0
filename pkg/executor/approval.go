package executor

import (
	"context"

	"github.com/metahuman-os/operator/pkg/core"
)

// ApprovalDecision is the outcome of an approval request.
type ApprovalDecision string

const (
	Approved ApprovalDecision = "approved"
	Rejected ApprovalDecision = "rejected"
)

// ApprovalChannel asks an external party to approve one specific call.
// Request blocks until a decision arrives or the context is done.
type ApprovalChannel interface {
	Request(ctx context.Context, action core.Action) (ApprovalDecision, error)
}

// DenyAll rejects every request. It is the default when no channel is
// wired, so approval-gated skills cannot run silently.
type DenyAll struct{}

// Request implements ApprovalChannel.
func (DenyAll) Request(_ context.Context, _ core.Action) (ApprovalDecision, error) {
	return Rejected, nil
}
