package mcpskill

import (
	"context"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/metahuman-os/operator/pkg/skill"
)

type fakeCaller struct {
	lastName string
	lastArgs map[string]any
	result   *mcp.CallToolResult
	err      error
}

func (f *fakeCaller) CallTool(_ context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	f.lastName = name
	f.lastArgs = args
	return f.result, f.err
}

func searchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search-notes",
		Description: "Search stored notes",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"query": map[string]any{"type": "string", "description": "search query"},
				"limit": map[string]any{"type": "integer"},
			},
			Required: []string{"query"},
		},
	}
}

func TestManifestForTool(t *testing.T) {
	manifest, err := ManifestForTool("Knowledge.Base", searchTool(), DefaultRegisterOptions())
	if err != nil {
		t.Fatalf("ManifestForTool: %v", err)
	}
	if manifest.ID != "knowledge_base_search_notes" {
		t.Errorf("id = %q", manifest.ID)
	}
	if !manifest.RequiresApproval {
		t.Error("expected approval required by default")
	}
	spec, ok := manifest.InputSchema["query"]
	if !ok {
		t.Fatal("expected query field in schema")
	}
	if !spec.Required || spec.Type != "string" {
		t.Errorf("query spec = %+v", spec)
	}
	if limit := manifest.InputSchema["limit"]; limit.Type != "number" || limit.Required {
		t.Errorf("limit spec = %+v", limit)
	}
}

func TestManifestForToolRejectsEmptyName(t *testing.T) {
	if _, err := ManifestForTool("srv", mcp.Tool{}, DefaultRegisterOptions()); err == nil {
		t.Fatal("expected error for unnamed tool")
	}
}

func TestToolSkillInvokeSuccess(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "three notes found"}},
		},
	}
	impl := &toolSkill{caller: caller, tool: searchTool()}

	res, err := impl.Invoke(context.Background(), map[string]any{"query": "deploy"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got error %+v", res.Error)
	}
	if res.Data != "three notes found" {
		t.Errorf("data = %v", res.Data)
	}
	if caller.lastName != "search-notes" {
		t.Errorf("called tool %q", caller.lastName)
	}
}

func TestToolSkillInvokeToolError(t *testing.T) {
	caller := &fakeCaller{
		result: &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "index unavailable"}},
		},
	}
	impl := &toolSkill{caller: caller, tool: searchTool()}

	res, err := impl.Invoke(context.Background(), nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error == nil || res.Error.Code != "SKILL_EXECUTION_FAILED" {
		t.Errorf("error = %+v", res.Error)
	}
	if res.Error.Message != "index unavailable" {
		t.Errorf("message = %q", res.Error.Message)
	}
}

func TestToolSkillInvokeTransportError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("connection refused")}
	impl := &toolSkill{caller: caller, tool: searchTool()}

	res, err := impl.Invoke(context.Background(), map[string]any{"query": "x"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Success || res.Error == nil {
		t.Fatal("expected failure observation, not a thrown error")
	}
}

func TestRegisterTools(t *testing.T) {
	reg := skill.NewRegistry()
	caller := &fakeCaller{result: &mcp.CallToolResult{}}

	err := RegisterTools(reg, "kb", caller, []mcp.Tool{searchTool()}, DefaultRegisterOptions())
	if err != nil {
		t.Fatalf("RegisterTools: %v", err)
	}
	if _, err := reg.Lookup("kb_search_notes"); err != nil {
		t.Fatalf("registered skill not found: %v", err)
	}
}
