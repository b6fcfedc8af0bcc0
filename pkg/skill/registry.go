package skill

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/metahuman-os/operator/pkg/core"
	operrors "github.com/metahuman-os/operator/pkg/errors"
)

// Implementation executes a skill. Implementations live outside the
// engine; the core only validates, dispatches, and interprets results.
type Implementation interface {
	Invoke(ctx context.Context, args map[string]any) (core.ExecutionResult, error)
}

// ImplementationFunc adapts a function to Implementation.
type ImplementationFunc func(ctx context.Context, args map[string]any) (core.ExecutionResult, error)

// Invoke implements Implementation.
func (f ImplementationFunc) Invoke(ctx context.Context, args map[string]any) (core.ExecutionResult, error) {
	return f(ctx, args)
}

// Entry pairs a manifest with its implementation.
type Entry struct {
	Manifest Manifest
	Impl     Implementation
}

// Registry catalogs skills. It is populated once at startup and frozen
// before any run starts; afterwards it is safe for concurrent reads.
type Registry struct {
	mu     sync.RWMutex
	frozen bool
	byID   map[string]Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Entry)}
}

// Register adds a skill. Fails on id collision, invalid manifest, nil
// implementation, or a frozen registry.
func (r *Registry) Register(manifest Manifest, impl Implementation) error {
	if err := manifest.Validate(); err != nil {
		return operrors.New(operrors.CodeInvalidArgs, "invalid manifest", err)
	}
	if impl == nil {
		return operrors.New(operrors.CodeInvalidArgs, "skill implementation is required", nil).
			WithContext("skill_id", manifest.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return operrors.New(operrors.CodeInternal, "registry is frozen", nil).
			WithContext("skill_id", manifest.ID)
	}
	if _, exists := r.byID[manifest.ID]; exists {
		return operrors.New(operrors.CodeDuplicateSkill, "duplicate skill id", nil).
			WithContext("skill_id", manifest.ID)
	}
	r.byID[manifest.ID] = Entry{Manifest: manifest, Impl: impl}
	return nil
}

// Freeze makes the registry immutable. Called once after startup
// population, before the first run.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.byID[id]
	if !ok {
		return Entry{}, operrors.New(operrors.CodeSkillNotFound, "skill not registered", nil).
			WithContext("skill_id", id)
	}
	return entry, nil
}

// List returns all manifests sorted by id. The ordering is embedded
// verbatim into planning prompts, so it must be deterministic.
func (r *Registry) List() []Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Manifest, 0, len(r.byID))
	for _, entry := range r.byID {
		out = append(out, entry.Manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CatalogDigest renders the catalog for planner prompts. The output is
// deterministic for an unchanged registry.
func (r *Registry) CatalogDigest() string {
	manifests := r.List()
	var b strings.Builder
	for _, m := range manifests {
		fmt.Fprintf(&b, "- %s (%s): %s\n", m.ID, m.Class, m.Description)
		if len(m.InputSchema) == 0 {
			continue
		}
		names := make([]string, 0, len(m.InputSchema))
		for name := range m.InputSchema {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			spec := m.InputSchema[name]
			required := "optional"
			if spec.Required {
				required = "required"
			}
			fmt.Fprintf(&b, "    %s: %s, %s. %s\n", name, spec.Type, required, spec.Description)
		}
	}
	return b.String()
}
