// Package skillkit ships the built-in local skills: filesystem
// lookups scoped to a root directory and a conversational respond
// skill.
package skillkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
	"github.com/metahuman-os/operator/pkg/skill"
)

const maxReadBytes = 256 * 1024

// FSListManifest describes the fs_list skill.
func FSListManifest() skill.Manifest {
	return skill.Manifest{
		ID:          "fs_list",
		Description: "List the files in a directory under the workspace root.",
		Class:       skill.ClassLookup,
		InputSchema: skill.Schema{
			"path": {Type: "string", Required: false, Description: "directory relative to the workspace root, defaults to the root"},
		},
		RiskLevel:     skill.RiskLow,
		CostClass:     skill.CostCheap,
		MinTrustLevel: core.TrustObserve,
		Idempotent:    true,
		ResourceScope: []string{"fs:read"},
	}
}

// FSReadManifest describes the fs_read skill.
func FSReadManifest() skill.Manifest {
	return skill.Manifest{
		ID:          "fs_read",
		Description: "Read a text file under the workspace root.",
		Class:       skill.ClassLookup,
		InputSchema: skill.Schema{
			"path": {Type: "string", Required: true, Description: "file relative to the workspace root"},
		},
		RiskLevel:     skill.RiskLow,
		CostClass:     skill.CostCheap,
		MinTrustLevel: core.TrustObserve,
		Idempotent:    true,
		ResourceScope: []string{"fs:read"},
	}
}

// FSWriteManifest describes the fs_write skill.
func FSWriteManifest() skill.Manifest {
	return skill.Manifest{
		ID:          "fs_write",
		Description: "Write a text file under the workspace root.",
		Class:       skill.ClassMutation,
		InputSchema: skill.Schema{
			"path":    {Type: "string", Required: true, Description: "file relative to the workspace root"},
			"content": {Type: "string", Required: true, Description: "file content"},
		},
		RiskLevel:     skill.RiskMedium,
		CostClass:     skill.CostCheap,
		MinTrustLevel: core.TrustSupervisedAuto,
		ResourceScope: []string{"fs:write"},
	}
}

// NewFSList lists directory entries, directories suffixed with "/".
func NewFSList(root string) skill.Implementation {
	return skill.ImplementationFunc(func(_ context.Context, args map[string]any) (core.ExecutionResult, error) {
		rel, _ := args["path"].(string)
		path, err := resolve(root, rel)
		if err != nil {
			return invalidPath(rel), nil
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			if os.IsNotExist(err) {
				return notFound(rel), nil
			}
			return core.ExecutionResult{
				Success: false,
				Error: &core.ErrorInfo{
					Code:    string(operrors.CodeExecutionFailed),
					Message: err.Error(),
					Context: map[string]any{"path": rel},
				},
			}, nil
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return core.ExecutionResult{Success: true, Data: names}, nil
	})
}

// NewFSRead reads a file, capped at maxReadBytes.
func NewFSRead(root string) skill.Implementation {
	return skill.ImplementationFunc(func(_ context.Context, args map[string]any) (core.ExecutionResult, error) {
		rel, _ := args["path"].(string)
		path, err := resolve(root, rel)
		if err != nil {
			return invalidPath(rel), nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return notFound(rel), nil
			}
			return core.ExecutionResult{
				Success: false,
				Error: &core.ErrorInfo{
					Code:    string(operrors.CodeExecutionFailed),
					Message: err.Error(),
					Context: map[string]any{"path": rel},
				},
			}, nil
		}
		if len(data) > maxReadBytes {
			marker := fmt.Sprintf("\n[truncated: showing %d of %d bytes]", maxReadBytes, len(data))
			return core.ExecutionResult{Success: true, Data: string(data[:maxReadBytes]) + marker}, nil
		}
		return core.ExecutionResult{Success: true, Data: string(data)}, nil
	})
}

// NewFSWrite writes a file, creating parent directories.
func NewFSWrite(root string) skill.Implementation {
	return skill.ImplementationFunc(func(_ context.Context, args map[string]any) (core.ExecutionResult, error) {
		rel, _ := args["path"].(string)
		content, _ := args["content"].(string)
		path, err := resolve(root, rel)
		if err != nil {
			return invalidPath(rel), nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return core.ExecutionResult{
				Success: false,
				Error: &core.ErrorInfo{
					Code:    string(operrors.CodeExecutionFailed),
					Message: err.Error(),
					Context: map[string]any{"path": rel},
				},
			}, nil
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return core.ExecutionResult{
				Success: false,
				Error: &core.ErrorInfo{
					Code:    string(operrors.CodeExecutionFailed),
					Message: err.Error(),
					Context: map[string]any{"path": rel},
				},
			}, nil
		}
		return core.ExecutionResult{Success: true, Data: fmt.Sprintf("wrote %d bytes to %s", len(content), rel)}, nil
	})
}

// resolve joins rel onto root and rejects escapes above it.
func resolve(root, rel string) (string, error) {
	cleaned := filepath.Clean("/" + rel)
	path := filepath.Join(root, cleaned)
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if pathAbs != rootAbs && !strings.HasPrefix(pathAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root")
	}
	return pathAbs, nil
}

func notFound(path string) core.ExecutionResult {
	return core.ExecutionResult{
		Success: false,
		Error: &core.ErrorInfo{
			Code:    string(operrors.CodeNotFound),
			Message: fmt.Sprintf("no such path: %s", path),
			Context: map[string]any{"path": path},
		},
	}
}

func invalidPath(path string) core.ExecutionResult {
	return core.ExecutionResult{
		Success: false,
		Error: &core.ErrorInfo{
			Code:    string(operrors.CodeInvalidArgs),
			Message: "path escapes the workspace root",
			Context: map[string]any{"path": path},
		},
	}
}
