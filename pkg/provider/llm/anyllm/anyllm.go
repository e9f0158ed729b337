// Package anyllm implements llm.Provider on top of
// github.com/mozilla-ai/any-llm-go, giving sessions a single adapter for
// Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and local llama.cpp
// style backends.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-sonnet-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.NewOllama("llama3.1")
package anyllm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/loqua-ai/loqua/pkg/provider/llm"
	"github.com/loqua-ai/loqua/pkg/types"
)

// streamBuffer is the chunk channel depth. Generation outpacing the consumer
// briefly (the orchestrator forwards each delta to the event bus) should not
// stall the backend reader.
const streamBuffer = 32

// backends maps provider names to any-llm-go constructors.
var backends = map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
	"openai": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return anyllmoai.New(opts...)
	},
	"anthropic": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return anthropic.New(opts...)
	},
	"gemini": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return gemini.New(opts...)
	},
	"ollama": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return ollama.New(opts...)
	},
	"deepseek": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return deepseek.New(opts...)
	},
	"mistral": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return mistral.New(opts...)
	},
	"groq": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return groq.New(opts...)
	},
	"llamacpp": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return llamacpp.New(opts...)
	},
	"llamafile": func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return llamafile.New(opts...)
	},
}

// Provider adapts an any-llm-go backend to llm.Provider.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider for the named backend and model. Backend names match
// the "llm.name" config values: openai, anthropic, gemini, ollama, deepseek,
// mistral, groq, llamacpp, llamafile.
//
// When no API key option is given, the backend reads its usual environment
// variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, and so on).
func New(providerName string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	construct, ok := backends[strings.ToLower(providerName)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported provider %q; supported: %s",
			providerName, strings.Join(backendNames(), ", "))
	}
	backend, err := construct(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}

	return &Provider{backend: backend, model: model}, nil
}

// NewOpenAI creates a Provider backed by OpenAI.
func NewOpenAI(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("openai", model, opts...)
}

// NewAnthropic creates a Provider backed by Anthropic.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewGemini creates a Provider backed by Google Gemini.
func NewGemini(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("gemini", model, opts...)
}

// NewOllama creates a Provider backed by a local Ollama instance. Without
// options it connects to http://localhost:11434.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

func backendNames() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StreamCompletion starts a streaming completion and forwards deltas until
// the backend finishes or ctx is cancelled. Mid-stream backend errors are
// surfaced as a final chunk with FinishReason "error" so the session can
// archive the turn and report AI_UNAVAILABLE without tearing down.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	backendChunks, backendErrs := p.backend.CompletionStream(ctx, p.buildParams(req))

	ch := make(chan llm.Chunk, streamBuffer)
	go func() {
		defer close(ch)

		for chunk := range backendChunks {
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			select {
			case ch <- llm.Chunk{
				Text:         choice.Delta.Content,
				FinishReason: choice.FinishReason,
			}:
			case <-ctx.Done():
				return
			}
		}

		// The error channel resolves only after the chunk channel closes.
		if err := <-backendErrs; err != nil {
			select {
			case ch <- llm.Chunk{FinishReason: "error", Text: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// Complete runs a blocking completion and returns the full reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: empty choices in response")
	}

	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.ContentString(),
	}, nil
}

// buildParams translates a CompletionRequest into any-llm-go params. The
// system prompt, when present, leads the message list.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, convertMessage(m))
	}

	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		params.MaxTokens = &mt
	}
	return params
}

// convertMessage maps a history entry onto an any-llm-go message. Unknown
// roles default to "user"; the history only ever holds user and assistant
// turns, so this is a safety net rather than a conversion table.
func convertMessage(m types.Message) anyllmlib.Message {
	role := m.Role
	switch role {
	case "system", "user", "assistant":
	default:
		role = "user"
	}
	return anyllmlib.Message{
		Role:    role,
		Content: m.Content,
	}
}
