// SPDX-License-Identifier: Apache-2.0
// Package executor validates, authorizes, invokes, and classifies
// skill calls. Every failure is returned as data for the loop to
// reason about, never thrown across the loop boundary.
package executor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
	"github.com/metahuman-os/operator/pkg/policy"
	"github.com/metahuman-os/operator/pkg/resilience"
	"github.com/metahuman-os/operator/pkg/skill"
	"github.com/metahuman-os/operator/pkg/telemetry"
)

// DefaultInvokeTimeout bounds a single skill invocation.
const DefaultInvokeTimeout = 30 * time.Second

// Executor dispatches actions to skill implementations.
type Executor struct {
	registry  *skill.Registry
	approvals ApprovalChannel
	audit     core.AuditSink
	metrics   *telemetry.Metrics
	timeout   time.Duration
	tracer    trace.Tracer
}

// Option configures an Executor.
type Option func(*Executor)

// WithApprovalChannel wires the external approval channel.
func WithApprovalChannel(ch ApprovalChannel) Option {
	return func(e *Executor) { e.approvals = ch }
}

// WithAuditSink wires the audit sink.
func WithAuditSink(sink core.AuditSink) Option {
	return func(e *Executor) { e.audit = sink }
}

// WithMetrics wires skill invocation metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithInvokeTimeout bounds each invocation.
func WithInvokeTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// New creates an executor over the frozen registry.
func New(registry *skill.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:  registry,
		approvals: DenyAll{},
		audit:     core.NoopAuditSink{},
		timeout:   DefaultInvokeTimeout,
		tracer:    otel.Tracer("operator/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Request is one authorized invocation attempt.
type Request struct {
	Action core.Action
	Trust  core.TrustLevel
	// AutoApprove satisfies RequiresApproval without the channel. It is
	// an explicit caller-declared capability, never implied.
	AutoApprove bool
}

// Execute runs the full pipeline: lookup, arg validation, trust gate,
// approval, invocation under timeout, classification. The returned
// result is always usable as an observation.
func (e *Executor) Execute(ctx context.Context, req Request) core.ExecutionResult {
	runID, _ := core.RunID(ctx)
	log := slog.Default()

	entry, err := e.registry.Lookup(req.Action.SkillID)
	if err != nil {
		e.recordError(ctx, runID, req.Action, operrors.CodeSkillNotFound, "skill not registered")
		return failure(operrors.CodeSkillNotFound, "skill not registered", map[string]any{
			"skill_id": req.Action.SkillID,
		})
	}

	if offending := entry.Manifest.InputSchema.CheckArgs(req.Action.Args); len(offending) > 0 {
		e.recordError(ctx, runID, req.Action, operrors.CodeInvalidArgs, "argument validation failed")
		return failure(operrors.CodeInvalidArgs, "argument validation failed", map[string]any{
			"skill_id": req.Action.SkillID,
			"fields":   offending,
		})
	}

	// The gate is consulted before every invocation, never cached.
	decision := policy.Authorize(entry.Manifest, req.Trust)
	switch {
	case decision.Denied():
		e.recordError(ctx, runID, req.Action, operrors.CodePermissionDenied, decision.Reason)
		return failure(operrors.CodePermissionDenied, decision.Reason, map[string]any{
			"skill_id": req.Action.SkillID,
			"trust":    req.Trust.String(),
		})
	case decision.RequiresApproval():
		if !req.AutoApprove {
			verdict, err := e.approvals.Request(ctx, req.Action)
			e.audit.Record(ctx, core.NewAuditEvent("executor", runID, core.CategoryApproval, core.LevelInfo, map[string]any{
				"skill_id": req.Action.SkillID,
				"verdict":  string(verdict),
			}))
			if err != nil {
				return failure(operrors.CodePermissionDenied, "approval channel failed", map[string]any{
					"skill_id": req.Action.SkillID,
					"cause":    err.Error(),
				})
			}
			if verdict != Approved {
				return failure(operrors.CodePermissionDenied, "approval rejected", map[string]any{
					"skill_id": req.Action.SkillID,
				})
			}
		}
	}

	started := time.Now()
	result := e.invoke(ctx, entry, req.Action)

	// A negative lookup is information, not failure; it must not
	// terminate the loop.
	if !result.Success && result.Error != nil &&
		operrors.Code(result.Error.Code) == operrors.CodeNotFound &&
		entry.Manifest.Class == skill.ClassLookup {
		result.Success = true
	}

	errCode := ""
	if !result.Success && result.Error != nil {
		errCode = result.Error.Code
	}
	e.metrics.RecordSkill(ctx, req.Action.SkillID, time.Since(started), errCode)

	level := core.LevelInfo
	if !result.Success {
		level = core.LevelWarn
	}
	details := map[string]any{
		"skill_id": req.Action.SkillID,
		"success":  result.Success,
	}
	if result.Error != nil {
		details["error_code"] = result.Error.Code
	}
	e.audit.Record(ctx, core.NewAuditEvent("executor", runID, core.CategoryInvocation, level, details))
	log.Info("executor.skill.complete",
		slog.String("run_id", runID),
		slog.String("skill_id", req.Action.SkillID),
		slog.Bool("success", result.Success),
	)
	return result
}

func (e *Executor) invoke(ctx context.Context, entry skill.Entry, action core.Action) core.ExecutionResult {
	ctx, span := e.tracer.Start(ctx, "Executor.Invoke", trace.WithAttributes(
		attribute.String("skill.id", entry.Manifest.ID),
		attribute.String("skill.class", string(entry.Manifest.Class)),
	))
	defer span.End()

	attempts := 1
	if entry.Manifest.Idempotent {
		// Execution failures on idempotent skills get one retry.
		attempts = 2
	}
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(attempts).
		WithIsRecoverable(func(err error) bool {
			code := operrors.CodeOf(err)
			return code == operrors.CodeExecutionFailed || code == operrors.CodeTimeout
		})
	retry.InitialDelay = 50 * time.Millisecond

	value, err := retry.DoWithResult(ctx, func() (any, error) {
		return resilience.WithTimeoutResult(ctx, resilience.TimeoutConfig{Duration: e.timeout},
			func(ctx context.Context) (any, error) {
				result, invokeErr := entry.Impl.Invoke(ctx, action.Args)
				if invokeErr != nil {
					// Preserve any partial output alongside the failure.
					return result, operrors.New(operrors.CodeExecutionFailed, "skill invocation failed", invokeErr).
						WithRecoverable(true)
				}
				return result, nil
			})
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("skill.success", false))
		result := failure(operrors.CodeExecutionFailed, err.Error(), map[string]any{"skill_id": entry.Manifest.ID})
		if partial, ok := value.(core.ExecutionResult); ok && partial.Data != nil {
			result.Data = partial.Data
		}
		return result
	}

	result, ok := value.(core.ExecutionResult)
	if !ok {
		return failure(operrors.CodeInternal, "skill returned unexpected value", map[string]any{
			"skill_id": entry.Manifest.ID,
		})
	}
	if result.Error != nil && strings.TrimSpace(result.Error.Code) == "" {
		result.Error.Code = string(operrors.CodeExecutionFailed)
	}
	span.SetAttributes(attribute.Bool("skill.success", result.Success))
	return result
}

func (e *Executor) recordError(ctx context.Context, runID string, action core.Action, code operrors.Code, msg string) {
	e.audit.Record(ctx, core.NewAuditEvent("executor", runID, core.CategoryError, core.LevelWarn, map[string]any{
		"skill_id":   action.SkillID,
		"error_code": string(code),
		"message":    msg,
	}))
}

func failure(code operrors.Code, msg string, context map[string]any) core.ExecutionResult {
	return core.ExecutionResult{
		Success: false,
		Error: &core.ErrorInfo{
			Code:    string(code),
			Message: msg,
			Context: context,
		},
	}
}
