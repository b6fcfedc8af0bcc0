// SPDX-License-Identifier: Apache-2.0

package gemini

import (
	"testing"

	"github.com/metahuman-os/operator/pkg/llm"
	"google.golang.org/genai"
)

func TestConvertMessages(t *testing.T) {
	contents, system := convertMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "be terse"},
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi"},
	})
	if system != "be terse" {
		t.Errorf("system instruction = %q", system)
	}
	if len(contents) != 2 {
		t.Fatalf("got %d contents, want 2", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("unexpected roles %q, %q", contents[0].Role, contents[1].Role)
	}
}

func TestConvertResponse(t *testing.T) {
	resp := convertResponse(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "answer"}}}},
		},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     7,
			CandidatesTokenCount: 3,
			TotalTokenCount:      10,
		},
	})
	if resp.Content != "answer" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("total tokens = %d", resp.Usage.TotalTokens)
	}
}
