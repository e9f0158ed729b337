package openai

import (
	"strings"
	"testing"

	"github.com/loqua-ai/loqua/pkg/provider/llm"
	"github.com/loqua-ai/loqua/pkg/types"
)

func TestNew_MissingAPIKey(t *testing.T) {
	t.Parallel()
	_, err := New("", "gpt-4o-mini")
	if err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_MissingModel(t *testing.T) {
	t.Parallel()
	_, err := New("sk-test", "")
	if err == nil {
		t.Fatal("expected error for missing model")
	}
}

func TestNew_Options(t *testing.T) {
	t.Parallel()
	p, err := New("sk-test", "gpt-4o-mini",
		WithBaseURL("http://localhost:9999/v1"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", p.model)
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role    string
		wantErr bool
	}{
		{"system", false},
		{"user", false},
		{"assistant", false},
		{"tool", true},
		{"narrator", true},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			_, err := convertMessage(types.Message{Role: tc.role, Content: "hi"})
			if tc.wantErr && err == nil {
				t.Fatalf("role %q: expected error", tc.role)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("role %q: %v", tc.role, err)
			}
		})
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params, err := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Be terse.",
		Messages: []types.Message{
			{Role: "user", Content: "hello"},
			{Role: "assistant", Content: "hi"},
			{Role: "user", Content: "bye"},
		},
		Temperature: 0.7,
		MaxTokens:   128,
	})
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}

	if got := string(params.Model); got != "gpt-4o-mini" {
		t.Errorf("model = %q", got)
	}
	// System prompt plus the three conversation messages.
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(params.Messages))
	}
	if params.Temperature.Value != 0.7 {
		t.Errorf("temperature = %v, want 0.7", params.Temperature.Value)
	}
	if params.MaxCompletionTokens.Value != 128 {
		t.Errorf("max tokens = %v, want 128", params.MaxCompletionTokens.Value)
	}
}

func TestBuildParams_UnknownRole(t *testing.T) {
	t.Parallel()

	p, err := New("sk-test", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: "narrator", Content: "meanwhile"}},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown message role") {
		t.Fatalf("err = %v, want unknown message role", err)
	}
}
