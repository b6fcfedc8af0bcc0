// Package skill holds the immutable manifests describing each invocable
// capability and the registry that catalogs them.
package skill

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/metahuman-os/operator/pkg/core"
)

// Class groups skills by behavior for execution and completion rules.
type Class string

const (
	// ClassLookup skills read state; a negative result is information,
	// not failure.
	ClassLookup Class = "lookup"

	// ClassMutation skills write state (filesystem, task stores).
	ClassMutation Class = "mutation"

	// ClassConversational skills produce a user-facing response and are
	// always terminal.
	ClassConversational Class = "conversational"

	// ClassCompute skills transform data without side effects.
	ClassCompute Class = "compute"
)

// RiskLevel grades the blast radius of a skill.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// CostClass grades expected invocation cost.
type CostClass string

const (
	CostCheap     CostClass = "cheap"
	CostModerate  CostClass = "moderate"
	CostExpensive CostClass = "expensive"
)

// FieldSpec describes one argument in a manifest's input schema.
type FieldSpec struct {
	Type        string `yaml:"type"` // string, number, bool, object, list
	Required    bool   `yaml:"required"`
	Description string `yaml:"description"`
}

// Schema maps argument names to their specs.
type Schema map[string]FieldSpec

// Manifest describes a single invocable capability. Manifests are
// immutable once registered.
type Manifest struct {
	ID               string          `yaml:"id"`
	Description      string          `yaml:"description"`
	Class            Class           `yaml:"class"`
	InputSchema      Schema          `yaml:"input_schema"`
	OutputSchema     Schema          `yaml:"output_schema"`
	RiskLevel        RiskLevel       `yaml:"risk_level"`
	CostClass        CostClass       `yaml:"cost_class"`
	MinTrustLevel    core.TrustLevel `yaml:"-"`
	RequiresApproval bool            `yaml:"requires_approval"`
	Idempotent       bool            `yaml:"idempotent"`
	ResourceScope    []string        `yaml:"resource_scope"`
}

const (
	maxIDLen          = 64
	maxDescriptionLen = 1024
)

var idPattern = regexp.MustCompile(`^[a-z0-9]+(?:_[a-z0-9]+)*$`)

// Validate checks manifest invariants.
func (m Manifest) Validate() error {
	id := strings.TrimSpace(m.ID)
	if id == "" {
		return fmt.Errorf("skill id is required")
	}
	if utf8.RuneCountInString(id) > maxIDLen {
		return fmt.Errorf("skill id exceeds %d characters", maxIDLen)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("skill id must match %s", idPattern.String())
	}
	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("skill %s: description is required", id)
	}
	if utf8.RuneCountInString(m.Description) > maxDescriptionLen {
		return fmt.Errorf("skill %s: description exceeds %d characters", id, maxDescriptionLen)
	}
	switch m.Class {
	case ClassLookup, ClassMutation, ClassConversational, ClassCompute:
	default:
		return fmt.Errorf("skill %s: unknown class %q", id, m.Class)
	}
	for name, spec := range m.InputSchema {
		if err := validateFieldSpec(name, spec); err != nil {
			return fmt.Errorf("skill %s: %w", id, err)
		}
	}
	return nil
}

func validateFieldSpec(name string, spec FieldSpec) error {
	switch spec.Type {
	case "string", "number", "bool", "object", "list":
		return nil
	default:
		return fmt.Errorf("field %s has unknown type %q", name, spec.Type)
	}
}

// CheckArgs validates args against the schema and returns the offending
// field names when validation fails.
func (s Schema) CheckArgs(args map[string]any) (offending []string) {
	for name, spec := range s {
		value, present := args[name]
		if !present {
			if spec.Required {
				offending = append(offending, name)
			}
			continue
		}
		if !typeMatches(spec.Type, value) {
			offending = append(offending, name)
		}
	}
	for name := range args {
		if _, known := s[name]; !known {
			offending = append(offending, name)
		}
	}
	sort.Strings(offending)
	return offending
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case int, int64, float32, float64:
			return true
		}
		return false
	case "bool":
		_, ok := value.(bool)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "list":
		_, ok := value.([]any)
		return ok
	}
	return false
}
