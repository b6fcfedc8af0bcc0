package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
	"github.com/metahuman-os/operator/pkg/skill"
	"github.com/metahuman-os/operator/pkg/telemetry"
)

type countingImpl struct {
	calls  atomic.Int64
	result core.ExecutionResult
	err    error
	delay  time.Duration
}

func (c *countingImpl) Invoke(ctx context.Context, _ map[string]any) (core.ExecutionResult, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return core.ExecutionResult{}, ctx.Err()
		}
	}
	return c.result, c.err
}

type scriptedApprovals struct {
	decision ApprovalDecision
	requests atomic.Int64
}

func (s *scriptedApprovals) Request(_ context.Context, _ core.Action) (ApprovalDecision, error) {
	s.requests.Add(1)
	return s.decision, nil
}

func buildRegistry(t *testing.T, manifest skill.Manifest, impl skill.Implementation) *skill.Registry {
	t.Helper()
	reg := skill.NewRegistry()
	if err := reg.Register(manifest, impl); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg.Freeze()
	return reg
}

func lookupManifest(id string) skill.Manifest {
	return skill.Manifest{
		ID:          id,
		Description: "lookup",
		Class:       skill.ClassLookup,
		InputSchema: skill.Schema{"path": {Type: "string", Required: true}},
	}
}

func TestExecuteUnknownSkill(t *testing.T) {
	reg := skill.NewRegistry()
	reg.Freeze()
	e := New(reg)
	result := e.Execute(context.Background(), Request{Action: core.Action{SkillID: "nope", Args: map[string]any{}}})
	if result.Success || result.Error.Code != string(operrors.CodeSkillNotFound) {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestExecuteInvalidArgs(t *testing.T) {
	impl := &countingImpl{result: core.ExecutionResult{Success: true}}
	e := New(buildRegistry(t, lookupManifest("fs_read"), impl))
	result := e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": 42}},
	})
	if result.Success || result.Error.Code != string(operrors.CodeInvalidArgs) {
		t.Fatalf("unexpected result: %+v", result)
	}
	fields, _ := result.Error.Context["fields"].([]string)
	if len(fields) != 1 || fields[0] != "path" {
		t.Fatalf("offending fields missing: %+v", result.Error.Context)
	}
	if impl.calls.Load() != 0 {
		t.Fatalf("implementation must not run on invalid args")
	}
}

func TestExecuteDeniedByTrust(t *testing.T) {
	m := lookupManifest("fs_read")
	m.MinTrustLevel = core.TrustBoundedAuto
	impl := &countingImpl{result: core.ExecutionResult{Success: true}}
	e := New(buildRegistry(t, m, impl))
	result := e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": "x"}},
		Trust:  core.TrustSuggest,
	})
	if result.Success || result.Error.Code != string(operrors.CodePermissionDenied) {
		t.Fatalf("unexpected result: %+v", result)
	}
	if impl.calls.Load() != 0 {
		t.Fatalf("implementation must not run when denied")
	}
}

func TestApprovalBlocksInvocation(t *testing.T) {
	m := lookupManifest("fs_read")
	m.RequiresApproval = true
	impl := &countingImpl{result: core.ExecutionResult{Success: true}}
	approvals := &scriptedApprovals{decision: Rejected}
	e := New(buildRegistry(t, m, impl), WithApprovalChannel(approvals))

	result := e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": "x"}},
		Trust:  core.TrustAdaptiveAuto,
	})
	if result.Success {
		t.Fatalf("expected rejection, got %+v", result)
	}
	if impl.calls.Load() != 0 {
		t.Fatalf("implementation ran before approval verdict")
	}
	if approvals.requests.Load() != 1 {
		t.Fatalf("expected one approval request, saw %d", approvals.requests.Load())
	}
}

func TestAutoApproveSkipsChannel(t *testing.T) {
	m := lookupManifest("fs_read")
	m.RequiresApproval = true
	impl := &countingImpl{result: core.ExecutionResult{Success: true, Data: "content"}}
	approvals := &scriptedApprovals{decision: Rejected}
	e := New(buildRegistry(t, m, impl), WithApprovalChannel(approvals))

	result := e.Execute(context.Background(), Request{
		Action:      core.Action{SkillID: "fs_read", Args: map[string]any{"path": "x"}},
		Trust:       core.TrustAdaptiveAuto,
		AutoApprove: true,
	})
	if !result.Success {
		t.Fatalf("expected success: %+v", result)
	}
	if approvals.requests.Load() != 0 {
		t.Fatalf("auto-approve must bypass the channel")
	}
}

func TestNegativeLookupIsNonFatal(t *testing.T) {
	impl := &countingImpl{result: core.ExecutionResult{
		Success: false,
		Error:   &core.ErrorInfo{Code: string(operrors.CodeNotFound), Message: "no such file"},
	}}
	e := New(buildRegistry(t, lookupManifest("fs_read"), impl))
	result := e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": "missing.txt"}},
	})
	if !result.Success {
		t.Fatalf("negative lookup must be classified non-fatal: %+v", result)
	}
	if result.Error == nil || result.Error.Code != string(operrors.CodeNotFound) {
		t.Fatalf("not-found info should be preserved: %+v", result)
	}
}

func TestExecutionFailureRetriedOnceWhenIdempotent(t *testing.T) {
	m := lookupManifest("fs_read")
	m.Idempotent = true
	impl := &countingImpl{err: errors.New("flaky backend")}
	e := New(buildRegistry(t, m, impl))
	result := e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": "x"}},
	})
	if result.Success || result.Error.Code != string(operrors.CodeExecutionFailed) {
		t.Fatalf("unexpected result: %+v", result)
	}
	if impl.calls.Load() != 2 {
		t.Fatalf("expected exactly one retry, saw %d calls", impl.calls.Load())
	}
}

func TestNonIdempotentNotRetried(t *testing.T) {
	impl := &countingImpl{err: errors.New("boom")}
	e := New(buildRegistry(t, lookupManifest("fs_read"), impl))
	e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": "x"}},
	})
	if impl.calls.Load() != 1 {
		t.Fatalf("non-idempotent skills must not be retried, saw %d calls", impl.calls.Load())
	}
}

func TestInvocationTimeout(t *testing.T) {
	impl := &countingImpl{result: core.ExecutionResult{Success: true}, delay: time.Second}
	e := New(buildRegistry(t, lookupManifest("fs_read"), impl), WithInvokeTimeout(20*time.Millisecond))
	result := e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": "x"}},
	})
	if result.Success || result.Error.Code != string(operrors.CodeExecutionFailed) {
		t.Fatalf("expected execution failure on timeout: %+v", result)
	}
}

func TestSkillMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	m, err := telemetry.GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}

	impl := &countingImpl{result: core.ExecutionResult{Success: true, Data: "ok"}}
	e := New(buildRegistry(t, lookupManifest("fs_read"), impl), WithMetrics(m))
	result := e.Execute(context.Background(), Request{
		Action: core.Action{SkillID: "fs_read", Args: map[string]any{"path": "a.txt"}},
	})
	if !result.Success {
		t.Fatalf("unexpected result: %+v", result)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name == "operator.skill.duration" {
				found = true
			}
		}
	}
	if !found {
		t.Error("skill invocation did not record the duration histogram")
	}
}
