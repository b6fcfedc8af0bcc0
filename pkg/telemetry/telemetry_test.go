// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/metahuman-os/operator/pkg/core"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitWithConfigRejectsUnknownExporter(t *testing.T) {
	if _, err := InitWithConfig("operator", "test", Config{Exporter: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}

func TestInitWithConfigRequiresOTLPEndpoint(t *testing.T) {
	if _, err := InitWithConfig("operator", "test", Config{Exporter: "otlp"}); err == nil {
		t.Fatal("expected error for missing otlp endpoint")
	}
}

func TestInitStdoutShutdown(t *testing.T) {
	shutdown, err := Init("operator", "test")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSlogHandlerAddsRunID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "json"))

	ctx := core.WithRunID(context.Background(), "run-1234")
	logger.InfoContext(ctx, "step complete")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if record["run_id"] != "run-1234" {
		t.Errorf("run_id = %v, want run-1234", record["run_id"])
	}
}

func TestSlogHandlerNoRunIDWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newSlogHandler(&buf, "info", "json"))
	logger.Info("no run")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal log line: %v", err)
	}
	if _, present := record["run_id"]; present {
		t.Errorf("unexpected run_id attr: %v", record)
	}
}

func TestOTLPHeaders(t *testing.T) {
	cfg := Config{
		OTLPHeaders: map[string]string{"X-Scope-OrgID": "ops"},
		OTLPUser:    "collector",
		OTLPToken:   "s3cret",
	}
	headers := cfg.otlpHeaders()
	if headers["X-Scope-OrgID"] != "ops" {
		t.Errorf("explicit header lost: %v", headers)
	}
	// base64("collector:s3cret")
	if headers["Authorization"] != "Basic Y29sbGVjdG9yOnMzY3JldA==" {
		t.Errorf("authorization = %q", headers["Authorization"])
	}

	if got := (Config{}).otlpHeaders(); got != nil {
		t.Errorf("empty config produced headers: %v", got)
	}
}

func TestMetricsRecordNoPanic(t *testing.T) {
	m, err := GetMetrics()
	if err != nil {
		t.Fatalf("GetMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordRun(ctx, "done", 3, 250*time.Millisecond)
	m.RecordModelCall(ctx, "planner")
	m.RecordSkill(ctx, "fs_list", 10*time.Millisecond, "")
	m.RecordSkill(ctx, "fs_read", 10*time.Millisecond, "NOT_FOUND")
	m.RecordEscalation(ctx)

	var nilMetrics *Metrics
	nilMetrics.RecordRun(ctx, "done", 0, 0)
}
