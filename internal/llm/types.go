package llm

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var ErrEmptyCompletion = errors.New("llm returned no choices")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ProviderConfig overrides the client defaults for a single call.
type ProviderConfig struct {
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
}

type GenerateRequest struct {
	Messages          []Message
	SystemInstruction string
	MaxOutputTokens   int
	Provider          ProviderConfig
}

type GenerateResponse struct {
	Reply        string
	FinishReason string
	Usage        Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Generator produces text from a message history and an instruction block.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	return f(ctx, req)
}

// EmbedderFunc adapts a plain function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

// Complete runs a single-shot judgment call: one instruction block and one user message.
func Complete(ctx context.Context, gen Generator, req CompletionRequest) (string, error) {
	resp, err := gen.Generate(ctx, GenerateRequest{
		Messages:          []Message{{Role: RoleUser, Content: req.UserPrompt}},
		SystemInstruction: req.SystemPrompt,
		MaxOutputTokens:   req.MaxTokens,
		Provider:          ProviderConfig{Temperature: req.Temperature},
	})
	if err != nil {
		return "", err
	}
	return resp.Reply, nil
}
