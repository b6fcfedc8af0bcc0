// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the instruments recorded by the run loop and the
// skill executor.
type Metrics struct {
	runsTotal      metric.Int64Counter
	runDuration    metric.Float64Histogram
	stepsPerRun    metric.Int64Histogram
	modelCalls     metric.Int64Counter
	skillLatency   metric.Float64Histogram
	skillFailures  metric.Int64Counter
	escalations    metric.Int64Counter
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
	metricsErr  error
)

// GetMetrics returns the process-wide metrics instance, creating the
// instruments on first use.
func GetMetrics() (*Metrics, error) {
	metricsOnce.Do(func() {
		metricsInst, metricsErr = newMetrics()
	})
	return metricsInst, metricsErr
}

func newMetrics() (*Metrics, error) {
	meter := otel.Meter("operator")
	m := &Metrics{}
	var err error

	m.runsTotal, err = meter.Int64Counter("operator.runs.total",
		metric.WithDescription("Completed runs by terminal state"))
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}
	m.runDuration, err = meter.Float64Histogram("operator.run.duration",
		metric.WithDescription("End-to-end run duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}
	m.stepsPerRun, err = meter.Int64Histogram("operator.run.steps",
		metric.WithDescription("Steps taken per run"))
	if err != nil {
		return nil, fmt.Errorf("failed to create steps histogram: %w", err)
	}
	m.modelCalls, err = meter.Int64Counter("operator.model.calls",
		metric.WithDescription("LLM calls by role"))
	if err != nil {
		return nil, fmt.Errorf("failed to create model calls counter: %w", err)
	}
	m.skillLatency, err = meter.Float64Histogram("operator.skill.duration",
		metric.WithDescription("Skill invocation duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("failed to create skill latency histogram: %w", err)
	}
	m.skillFailures, err = meter.Int64Counter("operator.skill.failures",
		metric.WithDescription("Failed skill invocations by error code"))
	if err != nil {
		return nil, fmt.Errorf("failed to create skill failures counter: %w", err)
	}
	m.escalations, err = meter.Int64Counter("operator.escalations.total",
		metric.WithDescription("Runs escalated to the user"))
	if err != nil {
		return nil, fmt.Errorf("failed to create escalations counter: %w", err)
	}
	return m, nil
}

// RecordRun records a finished run with its terminal state, step count,
// and duration.
func (m *Metrics) RecordRun(ctx context.Context, state string, steps int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("state", state))
	m.runsTotal.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, d.Seconds(), attrs)
	m.stepsPerRun.Record(ctx, int64(steps), attrs)
}

// RecordModelCall counts an LLM call by role.
func (m *Metrics) RecordModelCall(ctx context.Context, role string) {
	if m == nil {
		return
	}
	m.modelCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("role", role)))
}

// RecordSkill records a skill invocation with its outcome.
func (m *Metrics) RecordSkill(ctx context.Context, skillID string, d time.Duration, errCode string) {
	if m == nil {
		return
	}
	m.skillLatency.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("skill", skillID),
		attribute.Bool("failed", errCode != ""),
	))
	if errCode != "" {
		m.skillFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("skill", skillID),
			attribute.String("code", errCode),
		))
	}
}

// RecordEscalation counts a run that was handed back to the user.
func (m *Metrics) RecordEscalation(ctx context.Context) {
	if m == nil {
		return
	}
	m.escalations.Add(ctx, 1)
}
