package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Operator  OperatorConfig  `koanf:"operator"`
	Audit     AuditConfig     `koanf:"audit"`
	Guard     GuardConfig     `koanf:"guard"`
	Memory    MemoryConfig    `koanf:"memory"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, openai, anthropic, gemini
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

// OperatorConfig holds the run-loop budgets and adaptation knobs.
type OperatorConfig struct {
	TrustLevel    string        `koanf:"trust_level"`
	MaxSteps      int           `koanf:"max_steps"`
	WallClock     time.Duration `koanf:"wall_clock"`
	StepTimeout   time.Duration `koanf:"step_timeout"`
	LoopThreshold int           `koanf:"loop_threshold"`
	VerbatimBytes int           `koanf:"verbatim_bytes"`
	SkillDir      string        `koanf:"skill_dir"`
}

type AuditConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"` // sqlite file, empty means in-memory
}

// GuardConfig controls goal screening and answer filtering.
type GuardConfig struct {
	Enabled        bool     `koanf:"enabled"`
	BlockInjection bool     `koanf:"block_injection"`
	MaskPII        bool     `koanf:"mask_pii"`
	BlockedTopics  []string `koanf:"blocked_topics"`
}

type MemoryConfig struct {
	Enabled          bool   `koanf:"enabled"`
	Provider         string `koanf:"provider"` // vector, inmemory
	QdrantAddr       string `koanf:"qdrant_addr"`
	Collection       string `koanf:"collection"`
	EmbedderProvider string `koanf:"embedder_provider"` // ollama
	EmbedderBaseURL  string `koanf:"embedder_base_url"`
	EmbedderModel    string `koanf:"embedder_model"`
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	OTLPUser           string            `koanf:"otlp_user"`
	OTLPToken          string            `koanf:"otlp_token"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
}

// MCPConfig lists external MCP servers whose tools are exposed
// as skills.
type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

type MCPServerConfig struct {
	Transport string   `koanf:"transport"` // http, stdio
	URL       string   `koanf:"url"`
	Command   string   `koanf:"command"`
	Args      []string `koanf:"args"`
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("operator.trust_level", "supervised_auto")
	k.Set("operator.max_steps", 12)
	k.Set("operator.wall_clock", "5m")
	k.Set("operator.step_timeout", "30s")
	k.Set("operator.loop_threshold", 3)
	k.Set("operator.verbatim_bytes", 8192)
	k.Set("operator.skill_dir", "")

	k.Set("audit.enabled", true)
	k.Set("audit.path", "")

	k.Set("guard.enabled", false)
	k.Set("guard.block_injection", true)
	k.Set("guard.mask_pii", true)

	k.Set("memory.enabled", false)
	k.Set("memory.provider", "vector")
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "operator_memory")
	k.Set("memory.embedder_provider", "ollama")
	k.Set("memory.embedder_base_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Load from ENV (OPERATOR_LLM_BASE_URL -> llm.base_url). Only the
	// first underscore separates the section from the key, so multi-word
	// keys stay reachable.
	if err := k.Load(env.Provider("OPERATOR_", ".", envKey), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "OPERATOR_"))
	section, key, found := strings.Cut(s, "_")
	if !found {
		return s
	}
	return section + "." + key
}
