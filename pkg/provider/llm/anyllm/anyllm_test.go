package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/loqua-ai/loqua/pkg/provider/llm"
	"github.com/loqua-ai/loqua/pkg/types"
)

func TestNew_EmptyProviderName(t *testing.T) {
	t.Parallel()
	_, err := New("", "gpt-4o")
	if err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestNew_EmptyModel(t *testing.T) {
	t.Parallel()
	_, err := New("openai", "")
	if err == nil {
		t.Fatal("expected error for empty model")
	}
}

func TestNew_UnsupportedProvider(t *testing.T) {
	t.Parallel()
	_, err := New("skynet", "t-800")
	if err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	t.Parallel()
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", p.model)
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	t.Parallel()
	// Local inference servers need no credentials.
	if _, err := New("ollama", "llama3.2"); err != nil {
		t.Fatalf("New: %v", err)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctor func() (*Provider, error)
	}{
		{"openai", func() (*Provider, error) { return NewOpenAI("gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"anthropic", func() (*Provider, error) {
			return NewAnthropic("claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"gemini", func() (*Provider, error) { return NewGemini("gemini-2.0-flash", anyllmlib.WithAPIKey("test")) }},
		{"ollama", func() (*Provider, error) { return NewOllama("llama3.2") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, err := tc.ctor()
			if err != nil {
				t.Fatalf("constructor: %v", err)
			}
			if p == nil || p.backend == nil {
				t.Fatal("constructor returned nil provider or backend")
			}
		})
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	m := convertMessage(types.Message{Role: "user", Content: "hello"})
	if m.Role != "user" {
		t.Errorf("role = %v, want user", m.Role)
	}
	if m.ContentString() != "hello" {
		t.Errorf("content = %q, want hello", m.ContentString())
	}
}

func TestConvertMessage_UnknownRoleDefaultsToUser(t *testing.T) {
	t.Parallel()

	m := convertMessage(types.Message{Role: "narrator", Content: "once upon a time"})
	if m.Role != "user" {
		t.Errorf("role = %v, want user", m.Role)
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p, err := New("ollama", "llama3.2")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages: []types.Message{
			{Role: "user", Content: "hi"},
		},
		Temperature: 0.5,
		MaxTokens:   64,
	})

	if params.Model != "llama3.2" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %v, want system", params.Messages[0].Role)
	}
	if params.Temperature == nil || *params.Temperature != 0.5 {
		t.Errorf("temperature = %v, want 0.5", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 64 {
		t.Errorf("max tokens = %v, want 64", params.MaxTokens)
	}
}
