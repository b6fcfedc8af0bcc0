package skill

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/metahuman-os/operator/pkg/core"
)

// manifestFile is the on-disk YAML shape. Trust levels travel as wire
// names and are parsed into core.TrustLevel.
type manifestFile struct {
	ID               string   `yaml:"id"`
	Description      string   `yaml:"description"`
	Class            string   `yaml:"class"`
	InputSchema      Schema   `yaml:"input_schema"`
	OutputSchema     Schema   `yaml:"output_schema"`
	RiskLevel        string   `yaml:"risk_level"`
	CostClass        string   `yaml:"cost_class"`
	MinTrustLevel    string   `yaml:"min_trust_level"`
	RequiresApproval bool     `yaml:"requires_approval"`
	Idempotent       bool     `yaml:"idempotent"`
	ResourceScope    []string `yaml:"resource_scope"`
}

// LoadFile parses a single manifest.yaml.
func LoadFile(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var parsed manifestFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Manifest{}, fmt.Errorf("parse %s: %w", path, err)
	}
	trust := core.TrustObserve
	if parsed.MinTrustLevel != "" {
		level, ok := core.ParseTrustLevel(parsed.MinTrustLevel)
		if !ok {
			return Manifest{}, fmt.Errorf("%s: unknown min_trust_level %q", path, parsed.MinTrustLevel)
		}
		trust = level
	}
	manifest := Manifest{
		ID:               parsed.ID,
		Description:      parsed.Description,
		Class:            Class(parsed.Class),
		InputSchema:      parsed.InputSchema,
		OutputSchema:     parsed.OutputSchema,
		RiskLevel:        RiskLevel(parsed.RiskLevel),
		CostClass:        CostClass(parsed.CostClass),
		MinTrustLevel:    trust,
		RequiresApproval: parsed.RequiresApproval,
		Idempotent:       parsed.Idempotent,
		ResourceScope:    parsed.ResourceScope,
	}
	if err := manifest.Validate(); err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}

// LoadDir scans a directory for skill subdirectories containing a
// manifest.yaml and returns their manifests.
func LoadDir(root string) ([]Manifest, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "manifest.yaml")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		manifest, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, manifest)
	}
	return out, nil
}
