// SPDX-License-Identifier: Apache-2.0

package anthropic

import (
	"testing"

	"github.com/metahuman-os/operator/pkg/llm"
)

func TestNewProvider(t *testing.T) {
	p := New()
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
	if p.model != "claude-sonnet-4-20250514" {
		t.Errorf("unexpected default model %s", p.model)
	}
}

func TestWithModel(t *testing.T) {
	p := New(WithModel("claude-haiku-4-20250514"))
	if p.model != "claude-haiku-4-20250514" {
		t.Errorf("expected model override, got %s", p.model)
	}
}

func TestWithAPIKey(t *testing.T) {
	p := New(WithAPIKey("test-key"))
	if len(p.reqOpts) != 1 {
		t.Errorf("expected 1 request option, got %d", len(p.reqOpts))
	}
}

func TestConvertMessageRoles(t *testing.T) {
	user := convertMessage(llm.Message{Role: llm.RoleUser, Content: "hello"})
	if user.Role != "user" {
		t.Errorf("user message role = %q", user.Role)
	}
	assistant := convertMessage(llm.Message{Role: llm.RoleAssistant, Content: "hi"})
	if assistant.Role != "assistant" {
		t.Errorf("assistant message role = %q", assistant.Role)
	}
}
