// Package llm defines the model-routing boundary consumed by the
// planner, evaluator, and synthesizer. Concrete providers live outside
// the engine.
package llm

import (
	"context"

	operrors "github.com/metahuman-os/operator/pkg/errors"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single unit of communication.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest encapsulates the input for the model. A nil Temperature
// leaves the provider default in place; Float(0) pins a deterministic
// zero.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Float returns a pointer to v for optional request fields.
func Float(v float64) *float64 {
	return &v
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse encapsulates the output from the model.
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Provider defines the interface for a single tuned model configuration.
type Provider interface {
	// Chat sends a chat request to the model and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ModelRole selects a differently tuned model configuration: fast and
// cheap for planning, more careful for synthesis.
type ModelRole string

const (
	ModelPlanner     ModelRole = "planner"
	ModelEvaluator   ModelRole = "evaluator"
	ModelSynthesizer ModelRole = "synthesizer"
)

// Router resolves a model role to a provider.
type Router interface {
	Provider(role ModelRole) (Provider, error)
}

// StaticRouter maps roles to providers with an optional default.
type StaticRouter struct {
	Providers map[ModelRole]Provider
	Default   Provider
}

// Provider implements Router.
func (r StaticRouter) Provider(role ModelRole) (Provider, error) {
	if p, ok := r.Providers[role]; ok && p != nil {
		return p, nil
	}
	if r.Default != nil {
		return r.Default, nil
	}
	return nil, operrors.New(operrors.CodeLLMError, "no provider for model role", nil).
		WithContext("role", string(role))
}

// SingleRouter routes every role to one provider.
func SingleRouter(p Provider) Router {
	return StaticRouter{Default: p}
}
