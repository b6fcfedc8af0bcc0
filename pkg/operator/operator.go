// SPDX-License-Identifier: Apache-2.0

// Package operator drives the reason/act/observe/evaluate loop: one
// state machine instance per goal, sequential within a run, sharing
// only the frozen registry across runs.
package operator

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/metahuman-os/operator/pkg/adapt"
	"github.com/metahuman-os/operator/pkg/core"
	"github.com/metahuman-os/operator/pkg/evaluate"
	"github.com/metahuman-os/operator/pkg/executor"
	"github.com/metahuman-os/operator/pkg/guard"
	"github.com/metahuman-os/operator/pkg/llm"
	"github.com/metahuman-os/operator/pkg/observe"
	"github.com/metahuman-os/operator/pkg/planner"
	"github.com/metahuman-os/operator/pkg/skill"
	"github.com/metahuman-os/operator/pkg/telemetry"
)

const (
	// DefaultMaxSteps bounds the number of loop iterations per run.
	DefaultMaxSteps = 12
	// DefaultWallClock bounds the total duration of a run.
	DefaultWallClock = 5 * time.Minute
	// DefaultEscalationTimeout bounds the blocking escalation handoff.
	DefaultEscalationTimeout = 2 * time.Minute
)

// Operator owns the per-goal run loop. It is safe for concurrent use:
// each Run builds its own scratchpad and loop detector, and the
// registry is frozen at construction.
type Operator struct {
	registry  *skill.Registry
	router    llm.Router
	planner   *planner.Planner
	evaluator *evaluate.Evaluator
	executor  *executor.Executor
	formatter observe.Formatter
	audit     core.AuditSink
	memory    core.ContextProvider
	collab    adapt.Collaborator
	guard     *guard.Guard
	metrics   *telemetry.Metrics
	tracer    trace.Tracer

	approvalCh executor.ApprovalChannel

	trust             core.TrustLevel
	autoApprove       bool
	mode              core.ObservationMode
	maxSteps          int
	wallClock         time.Duration
	stepTimeout       time.Duration
	loopThreshold     int
	escalationTimeout time.Duration
}

// Option configures an Operator.
type Option func(*Operator)

// WithTrustLevel sets the trust level requests run under.
func WithTrustLevel(t core.TrustLevel) Option {
	return func(o *Operator) { o.trust = t }
}

// WithAutoApprove satisfies approval-gated skills without the channel.
// It is an explicit capability grant, never a default.
func WithAutoApprove() Option {
	return func(o *Operator) { o.autoApprove = true }
}

// WithObservationMode selects how results are rendered.
func WithObservationMode(mode core.ObservationMode) Option {
	return func(o *Operator) { o.mode = mode }
}

// WithMaxSteps sets the step budget.
func WithMaxSteps(n int) Option {
	return func(o *Operator) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithWallClock sets the wall-clock budget.
func WithWallClock(d time.Duration) Option {
	return func(o *Operator) {
		if d > 0 {
			o.wallClock = d
		}
	}
}

// WithStepTimeout bounds each skill invocation.
func WithStepTimeout(d time.Duration) Option {
	return func(o *Operator) {
		if d > 0 {
			o.stepTimeout = d
		}
	}
}

// WithLoopThreshold sets the identical-failure count that marks a run
// as stuck.
func WithLoopThreshold(n int) Option {
	return func(o *Operator) {
		if n > 0 {
			o.loopThreshold = n
		}
	}
}

// WithVerbatimBudget caps verbatim observation length.
func WithVerbatimBudget(n int) Option {
	return func(o *Operator) {
		if n > 0 {
			o.formatter.VerbatimBudget = n
		}
	}
}

// WithAuditSink wires the audit sink.
func WithAuditSink(sink core.AuditSink) Option {
	return func(o *Operator) {
		if sink != nil {
			o.audit = sink
		}
	}
}

// WithMemory wires the external memory context provider.
func WithMemory(provider core.ContextProvider) Option {
	return func(o *Operator) { o.memory = provider }
}

// WithCollaborator wires the escalation collaborator.
func WithCollaborator(c adapt.Collaborator) Option {
	return func(o *Operator) { o.collab = c }
}

// WithEscalationTimeout bounds the escalation handoff.
func WithEscalationTimeout(d time.Duration) Option {
	return func(o *Operator) {
		if d > 0 {
			o.escalationTimeout = d
		}
	}
}

// WithGuard wires goal screening and answer filtering. A blocked goal
// aborts before any model call; filtered answers are rewritten in
// place.
func WithGuard(g *guard.Guard) Option {
	return func(o *Operator) { o.guard = g }
}

// WithApprovalChannel wires the approval channel.
func WithApprovalChannel(ch executor.ApprovalChannel) Option {
	return func(o *Operator) { o.approvalCh = ch }
}

// WithMetrics wires run metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Operator) { o.metrics = m }
}

// New builds an operator over the registry and router, freezing the
// registry so the catalog cannot change mid-run.
func New(registry *skill.Registry, router llm.Router, opts ...Option) *Operator {
	o := &Operator{
		registry:          registry,
		router:            router,
		audit:             core.NoopAuditSink{},
		trust:             core.TrustSupervisedAuto,
		mode:              core.ModeNarrative,
		maxSteps:          DefaultMaxSteps,
		wallClock:         DefaultWallClock,
		stepTimeout:       executor.DefaultInvokeTimeout,
		loopThreshold:     adapt.DefaultLoopThreshold,
		escalationTimeout: DefaultEscalationTimeout,
		tracer:            otel.Tracer("operator"),
	}
	for _, opt := range opts {
		opt(o)
	}

	registry.Freeze()

	o.planner = planner.New(router, registry.CatalogDigest())
	o.planner.Memory = o.memory
	o.evaluator = evaluate.New(router, registry)

	execOpts := []executor.Option{
		executor.WithAuditSink(o.audit),
		executor.WithInvokeTimeout(o.stepTimeout),
		executor.WithMetrics(o.metrics),
	}
	if o.approvalCh != nil {
		execOpts = append(execOpts, executor.WithApprovalChannel(o.approvalCh))
	}
	o.executor = executor.New(registry, execOpts...)
	return o
}
