package mcpskill

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
	"github.com/metahuman-os/operator/pkg/skill"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// RegisterOptions sets the policy attributes for registered tools.
// External tools are opaque, so the defaults are conservative: they
// count as mutations, need supervised_auto trust, and require
// approval.
type RegisterOptions struct {
	Class            skill.Class
	RiskLevel        skill.RiskLevel
	CostClass        skill.CostClass
	MinTrustLevel    core.TrustLevel
	RequiresApproval bool
	Idempotent       bool
}

// DefaultRegisterOptions returns the conservative defaults.
func DefaultRegisterOptions() RegisterOptions {
	return RegisterOptions{
		Class:            skill.ClassMutation,
		RiskLevel:        skill.RiskMedium,
		CostClass:        skill.CostModerate,
		MinTrustLevel:    core.TrustSupervisedAuto,
		RequiresApproval: true,
	}
}

// RegisterTools converts every tool into a skill and registers it.
// Skill IDs are namespaced as <server>_<tool>.
func RegisterTools(reg *skill.Registry, serverName string, caller ToolCaller, tools []mcp.Tool, opts RegisterOptions) error {
	for _, tool := range tools {
		manifest, err := ManifestForTool(serverName, tool, opts)
		if err != nil {
			return err
		}
		if err := reg.Register(manifest, &toolSkill{caller: caller, tool: tool}); err != nil {
			return err
		}
	}
	return nil
}

// ManifestForTool builds a skill manifest from an MCP tool definition.
func ManifestForTool(serverName string, tool mcp.Tool, opts RegisterOptions) (skill.Manifest, error) {
	if tool.Name == "" {
		return skill.Manifest{}, fmt.Errorf("mcp tool name is required")
	}
	description := tool.Description
	if description == "" {
		description = fmt.Sprintf("MCP tool %s on server %s", tool.Name, serverName)
	}
	manifest := skill.Manifest{
		ID:               SkillID(serverName, tool.Name),
		Description:      description,
		Class:            opts.Class,
		InputSchema:      schemaFromTool(tool),
		RiskLevel:        opts.RiskLevel,
		CostClass:        opts.CostClass,
		MinTrustLevel:    opts.MinTrustLevel,
		RequiresApproval: opts.RequiresApproval,
		Idempotent:       opts.Idempotent,
		ResourceScope:    []string{"mcp:" + serverName},
	}
	if err := manifest.Validate(); err != nil {
		return skill.Manifest{}, err
	}
	return manifest, nil
}

var nonIDChars = regexp.MustCompile(`[^a-z0-9]+`)

// SkillID derives the registry ID for a tool on a server.
func SkillID(serverName, toolName string) string {
	join := func(s string) string {
		s = nonIDChars.ReplaceAllString(strings.ToLower(s), "_")
		return strings.Trim(s, "_")
	}
	return join(serverName) + "_" + join(toolName)
}

func schemaFromTool(tool mcp.Tool) skill.Schema {
	props := tool.InputSchema.Properties
	if len(props) == 0 {
		return nil
	}
	required := make(map[string]bool, len(tool.InputSchema.Required))
	for _, name := range tool.InputSchema.Required {
		required[name] = true
	}

	schema := make(skill.Schema, len(props))
	for name, raw := range props {
		spec := skill.FieldSpec{Type: "string", Required: required[name]}
		if prop, ok := raw.(map[string]any); ok {
			if t, ok := prop["type"].(string); ok {
				spec.Type = fieldType(t)
			}
			if d, ok := prop["description"].(string); ok {
				spec.Description = d
			}
		}
		schema[name] = spec
	}
	return schema
}

func fieldType(jsonType string) string {
	switch jsonType {
	case "integer", "number":
		return "number"
	case "boolean":
		return "bool"
	case "object":
		return "object"
	case "array":
		return "list"
	default:
		return "string"
	}
}

// toolSkill forwards invocations to the MCP server and folds the
// result into an execution result.
type toolSkill struct {
	caller ToolCaller
	tool   mcp.Tool
}

func (t *toolSkill) Invoke(ctx context.Context, args map[string]any) (core.ExecutionResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return core.ExecutionResult{
			Success: false,
			Error: &core.ErrorInfo{
				Code:    string(operrors.CodeExecutionFailed),
				Message: err.Error(),
				Context: map[string]any{"tool": t.tool.Name},
			},
		}, nil
	}
	if result == nil {
		return core.ExecutionResult{
			Success: false,
			Error: &core.ErrorInfo{
				Code:    string(operrors.CodeExecutionFailed),
				Message: "mcp tool returned no result",
				Context: map[string]any{"tool": t.tool.Name},
			},
		}, nil
	}
	if result.IsError {
		return core.ExecutionResult{
			Success: false,
			Error: &core.ErrorInfo{
				Code:    string(operrors.CodeExecutionFailed),
				Message: extractTextContent(result.Content),
				Context: map[string]any{"tool": t.tool.Name},
			},
		}, nil
	}

	if result.StructuredContent != nil {
		return core.ExecutionResult{Success: true, Data: result.StructuredContent}, nil
	}
	return core.ExecutionResult{Success: true, Data: extractTextContent(result.Content)}, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
