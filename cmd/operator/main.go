// SPDX-License-Identifier: Apache-2.0

// Command operator runs an autonomous goal-execution engine from the
// terminal. It plans one step at a time, invokes registered skills
// under the configured trust policy, and prints the synthesized
// answer.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/metahuman-os/operator/pkg/adapt"
	"github.com/metahuman-os/operator/pkg/audit"
	"github.com/metahuman-os/operator/pkg/config"
	"github.com/metahuman-os/operator/pkg/core"
	"github.com/metahuman-os/operator/pkg/executor"
	"github.com/metahuman-os/operator/pkg/guard"
	"github.com/metahuman-os/operator/pkg/llm"
	"github.com/metahuman-os/operator/pkg/mcpskill"
	"github.com/metahuman-os/operator/pkg/memoryctx"
	memollama "github.com/metahuman-os/operator/pkg/memoryctx/ollama"
	memqdrant "github.com/metahuman-os/operator/pkg/memoryctx/qdrant"
	"github.com/metahuman-os/operator/pkg/operator"
	"github.com/metahuman-os/operator/pkg/skill"
	"github.com/metahuman-os/operator/pkg/skillkit"
	"github.com/metahuman-os/operator/pkg/telemetry"
	"github.com/metahuman-os/operator/providers/anthropic"
	"github.com/metahuman-os/operator/providers/gemini"
	"github.com/metahuman-os/operator/providers/openai"
)

const version = "0.1.0"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(err)
	}

	switch args[0] {
	case "run":
		runGoal(ctx, global, cfg, args[1:])
	case "skills":
		runSkills(ctx, global, cfg, args[1:])
	case "mcp":
		runMCP(ctx, global, cfg, args[1:])
	case "audit":
		runAudit(ctx, global, cfg, args[1:])
	case "help":
		printUsage()
	case "version":
		fmt.Println(version)
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set" || arg == "--profile":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="),
			strings.HasPrefix(arg, "--set="),
			strings.HasPrefix(arg, "--profile="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runGoal(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	audience := cmd.String("audience", "", "Intended reader of the final answer")
	autoApprove := cmd.Bool("yes", false, "Approve gated skills without prompting")
	noInput := cmd.Bool("no-input", false, "Never prompt; gated skills are denied")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	goal := strings.TrimSpace(strings.Join(cmd.Args(), " "))
	if goal == "" {
		fatal(errors.New(`usage: operator run "<goal>"`))
	}

	telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.InitWithConfig("operator", version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPHeaders:        cfg.Telemetry.OTLPHeaders,
		OTLPUser:           cfg.Telemetry.OTLPUser,
		OTLPToken:          cfg.Telemetry.OTLPToken,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
	})
	if err != nil {
		fatal(err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdown(flushCtx)
	}()

	store, closeStore, err := openAuditStore(cfg)
	if err != nil {
		fatal(err)
	}
	if closeStore != nil {
		defer closeStore()
	}

	reg, closers, err := buildRegistry(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer closeAll(closers)

	router, err := buildRouter(ctx, cfg.LLM)
	if err != nil {
		fatal(err)
	}

	trust, ok := core.ParseTrustLevel(cfg.Operator.TrustLevel)
	if !ok {
		fatal(fmt.Errorf("unknown trust level %q", cfg.Operator.TrustLevel))
	}

	opts := []operator.Option{
		operator.WithTrustLevel(trust),
		operator.WithMaxSteps(cfg.Operator.MaxSteps),
		operator.WithWallClock(cfg.Operator.WallClock),
		operator.WithStepTimeout(cfg.Operator.StepTimeout),
		operator.WithLoopThreshold(cfg.Operator.LoopThreshold),
		operator.WithVerbatimBudget(cfg.Operator.VerbatimBytes),
	}
	if store != nil {
		opts = append(opts, operator.WithAuditSink(store))
	}
	stdin := bufio.NewReader(os.Stdin)
	switch {
	case *autoApprove:
		opts = append(opts, operator.WithAutoApprove())
	case !*noInput:
		opts = append(opts, operator.WithApprovalChannel(terminalApproval{in: stdin}))
	}
	if !*noInput {
		opts = append(opts, operator.WithCollaborator(terminalCollaborator{in: stdin}))
	}
	if provider := buildMemory(ctx, cfg); provider != nil {
		opts = append(opts, operator.WithMemory(provider))
	}
	if g := buildGuard(cfg); g != nil {
		opts = append(opts, operator.WithGuard(g))
	}
	if metrics, err := telemetry.GetMetrics(); err == nil {
		opts = append(opts, operator.WithMetrics(metrics))
	}

	op := operator.New(reg, router, opts...)
	result, err := op.Run(ctx, core.Goal{Text: goal, Audience: *audience})
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		printJSON(map[string]any{
			"answer": result.Answer,
			"state":  string(result.FinalState),
			"steps":  result.Scratchpad.Len(),
		})
		return
	}
	fmt.Println(result.Answer)
	if result.FinalState != core.StateDone {
		fmt.Fprintf(os.Stderr, "run ended %s after %d steps\n", result.FinalState, result.Scratchpad.Len())
	}
}

func runSkills(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(errors.New("usage: operator skills list"))
	}
	ensureNoArgs(args[1:])

	reg, closers, err := buildRegistry(ctx, cfg)
	if err != nil {
		fatal(err)
	}
	defer closeAll(closers)

	manifests := reg.List()
	if global.JSON {
		printJSON(manifests)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "ID", "CLASS", "RISK", "TRUST", "APPROVAL", "DESCRIPTION")
	for _, m := range manifests {
		approval := "-"
		if m.RequiresApproval {
			approval = "required"
		}
		writeRow(writer, m.ID, string(m.Class), string(m.RiskLevel), m.MinTrustLevel.String(), approval, m.Description)
	}
	_ = writer.Flush()
}

func runMCP(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(errors.New("usage: operator mcp list"))
	}
	ensureNoArgs(args[1:])
	if len(cfg.MCP.Servers) == 0 {
		fmt.Println("no mcp servers configured")
		return
	}

	type toolRow struct {
		Server string `json:"server"`
		Tool   string `json:"tool"`
		Desc   string `json:"description,omitempty"`
		Error  string `json:"error,omitempty"`
	}

	names := sortedServerNames(cfg.MCP.Servers)
	rows := make([]toolRow, 0)
	for _, name := range names {
		client, err := newMCPClient(name, cfg.MCP.Servers[name])
		if err != nil {
			rows = append(rows, toolRow{Server: name, Error: err.Error()})
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			rows = append(rows, toolRow{Server: name, Error: err.Error()})
			_ = client.Close()
			continue
		}
		for _, tool := range tools {
			rows = append(rows, toolRow{Server: name, Tool: tool.Name, Desc: tool.Description})
		}
		_ = client.Close()
	}

	if global.JSON {
		printJSON(rows)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "SERVER", "TOOL", "DESCRIPTION")
	for _, row := range rows {
		if row.Error != "" {
			writeRow(writer, row.Server, "ERROR", row.Error)
			continue
		}
		writeRow(writer, row.Server, row.Tool, row.Desc)
	}
	_ = writer.Flush()
}

func runAudit(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(errors.New("usage: operator audit list [--run <id>] [--category <c>] [--limit N]"))
	}
	cmd := flag.NewFlagSet("audit list", flag.ContinueOnError)
	runID := cmd.String("run", "", "Run ID filter")
	category := cmd.String("category", "", "Event category filter")
	limit := cmd.Int("limit", 50, "Maximum events to return")
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}
	if cfg.Audit.Path == "" {
		fatal(errors.New("audit.path is not configured; only persistent stores can be queried"))
	}

	store, err := audit.OpenSQLite(cfg.Audit.Path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	events, err := store.List(ctx, audit.Filter{
		RunID:    *runID,
		Category: core.EventCategory(*category),
		Limit:    *limit,
	})
	if err != nil {
		fatal(err)
	}

	if global.JSON {
		printJSON(events)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "TIMESTAMP", "RUN_ID", "CATEGORY", "LEVEL", "DETAILS")
	for _, event := range events {
		details, _ := json.Marshal(event.Details)
		writeRow(writer, event.Timestamp.Format(time.RFC3339), event.RunID,
			string(event.Category), string(event.Level), string(details))
	}
	_ = writer.Flush()
}

// buildRegistry populates the skill registry with the local filesystem
// skills and every reachable MCP server's tools. Manifests loaded from
// operator.skill_dir override the builtin defaults, so deployments can
// tighten risk or approval policy without code changes.
func buildRegistry(ctx context.Context, cfg *config.Config) (*skill.Registry, []io.Closer, error) {
	reg := skill.NewRegistry()

	root, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}

	overrides := map[string]skill.Manifest{}
	if dir := cfg.Operator.SkillDir; dir != "" {
		manifests, err := skill.LoadDir(dir)
		if err != nil {
			return nil, nil, err
		}
		for _, m := range manifests {
			overrides[m.ID] = m
		}
	}

	builtins := []struct {
		manifest skill.Manifest
		impl     skill.Implementation
	}{
		{skillkit.RespondManifest(), skillkit.NewRespond()},
		{skillkit.FSListManifest(), skillkit.NewFSList(root)},
		{skillkit.FSReadManifest(), skillkit.NewFSRead(root)},
		{skillkit.FSWriteManifest(), skillkit.NewFSWrite(root)},
	}
	for _, builtin := range builtins {
		manifest := builtin.manifest
		if override, ok := overrides[manifest.ID]; ok {
			manifest = override
			delete(overrides, manifest.ID)
		}
		if err := reg.Register(manifest, builtin.impl); err != nil {
			return nil, nil, err
		}
	}
	for id := range overrides {
		slog.Warn("skill manifest has no local implementation", "skill_id", id)
	}

	var closers []io.Closer
	for _, name := range sortedServerNames(cfg.MCP.Servers) {
		client, err := newMCPClient(name, cfg.MCP.Servers[name])
		if err != nil {
			slog.Warn("mcp server unavailable", "server", name, "error", err)
			continue
		}
		tools, err := client.ListTools(ctx)
		if err != nil {
			slog.Warn("mcp tool listing failed", "server", name, "error", err)
			_ = client.Close()
			continue
		}
		if err := mcpskill.RegisterTools(reg, name, client, tools, mcpskill.DefaultRegisterOptions()); err != nil {
			_ = client.Close()
			closeAll(closers)
			return nil, nil, err
		}
		closers = append(closers, client)
	}

	return reg, closers, nil
}

func newMCPClient(name string, cfg config.MCPServerConfig) (*mcpskill.Client, error) {
	transport := strings.ToLower(strings.TrimSpace(cfg.Transport))
	switch transport {
	case "", "stdio":
		if strings.TrimSpace(cfg.Command) == "" {
			return nil, fmt.Errorf("mcp server %q missing command", name)
		}
		return mcpskill.NewStdioClient(cfg.Command, cfg.Args)
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, fmt.Errorf("mcp server %q missing url", name)
		}
		return mcpskill.NewHTTPClient(cfg.URL)
	}
	return nil, fmt.Errorf("mcp server %q has unsupported transport %q", name, cfg.Transport)
}

func buildRouter(ctx context.Context, cfg config.LLMConfig) (llm.Router, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
		return llm.SingleRouter(llm.NewOllama(cfg.BaseURL, cfg.Model)), nil
	case "openai":
		var opts []openai.Option
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, openai.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		return llm.SingleRouter(openai.New(opts...)), nil
	case "anthropic":
		var opts []anthropic.Option
		if cfg.Model != "" {
			opts = append(opts, anthropic.WithModel(cfg.Model))
		}
		if cfg.APIKey != "" {
			opts = append(opts, anthropic.WithAPIKey(cfg.APIKey))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		return llm.SingleRouter(anthropic.New(opts...)), nil
	case "gemini":
		var opts []gemini.Option
		if cfg.Model != "" {
			opts = append(opts, gemini.WithModel(cfg.Model))
		}
		var provider *gemini.Provider
		var err error
		if cfg.APIKey != "" {
			provider, err = gemini.NewWithAPIKey(ctx, cfg.APIKey, opts...)
		} else {
			provider, err = gemini.New(ctx, opts...)
		}
		if err != nil {
			return nil, err
		}
		return llm.SingleRouter(provider), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

func buildMemory(ctx context.Context, cfg *config.Config) core.ContextProvider {
	if !cfg.Memory.Enabled {
		return nil
	}
	if cfg.Memory.Provider == "inmemory" {
		return memoryctx.NewInMemoryProvider(0)
	}
	store, err := memqdrant.New(cfg.Memory.QdrantAddr)
	if err != nil {
		slog.Warn("memory store unavailable, running without memory", "error", err)
		return nil
	}
	embedder := memollama.NewEmbedder(cfg.Memory.EmbedderBaseURL, cfg.Memory.EmbedderModel)
	provider := memoryctx.NewVectorProvider(store, embedder, cfg.Memory.Collection)
	if err := provider.Initialize(ctx); err != nil {
		slog.Warn("memory collection init failed, running without memory", "error", err)
		return nil
	}
	return provider
}

func buildGuard(cfg *config.Config) *guard.Guard {
	if !cfg.Guard.Enabled {
		return nil
	}
	var opts []guard.Option
	if cfg.Guard.BlockInjection {
		opts = append(opts, guard.WithInjectionDetector())
	}
	if len(cfg.Guard.BlockedTopics) > 0 {
		opts = append(opts, guard.WithTopicBlocker(cfg.Guard.BlockedTopics...))
	}
	if cfg.Guard.MaskPII {
		opts = append(opts, guard.WithPIIMasker())
	}
	return guard.New(opts...)
}

func openAuditStore(cfg *config.Config) (audit.Store, func(), error) {
	if !cfg.Audit.Enabled {
		return nil, nil, nil
	}
	if cfg.Audit.Path == "" {
		return audit.NewMemoryStore(), nil, nil
	}
	store, err := audit.OpenSQLite(cfg.Audit.Path)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

// terminalApproval prompts on stderr and reads a y/N line from stdin.
type terminalApproval struct {
	in *bufio.Reader
}

func (t terminalApproval) Request(_ context.Context, action core.Action) (executor.ApprovalDecision, error) {
	args, _ := json.Marshal(action.Args)
	fmt.Fprintf(os.Stderr, "approve %s %s? [y/N] ", action.SkillID, args)
	line, err := t.in.ReadString('\n')
	if err != nil {
		return executor.Rejected, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return executor.Approved, nil
	}
	return executor.Rejected, nil
}

// terminalCollaborator surfaces a stuck run to the person at the
// keyboard and feeds their guidance back into the engine.
type terminalCollaborator struct {
	in *bufio.Reader
}

func (t terminalCollaborator) Escalate(_ context.Context, payload adapt.EscalationPayload) (adapt.Guidance, error) {
	fmt.Fprintf(os.Stderr, "the run is stuck: %s\n", payload.StuckReason)
	for _, suggestion := range payload.Suggestions {
		fmt.Fprintf(os.Stderr, "  - %s\n", suggestion)
	}
	fmt.Fprint(os.Stderr, "guidance (empty line aborts): ")
	line, err := t.in.ReadString('\n')
	if err != nil {
		return adapt.Guidance{Abort: true}, nil
	}
	text := strings.TrimSpace(line)
	if text == "" {
		return adapt.Guidance{Abort: true}, nil
	}
	return adapt.Guidance{Text: text}, nil
}

func sortedServerNames(servers map[string]config.MCPServerConfig) []string {
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		_ = c.Close()
	}
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func printUsage() {
	fmt.Print(`operator: goal-driven task execution

Usage:
  operator [global flags] <command> [args]

Global flags:
  --config <path>      Path to config file
  --profile <name>     Config profile overlay (dev, prod, ...)
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  run "<goal>" [--audience <who>] [--yes] [--no-input]
  skills list
  mcp list
  audit list [--run <id>] [--category <c>] [--limit N]
  version
`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}
