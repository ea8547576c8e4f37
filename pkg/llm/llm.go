// Package llm defines the provider-agnostic LLM interface DbRheo's turn
// loop drives, grounded on the teacher's pkg/model/model.go: a single
// GenerateContent method handling both streaming and non-streaming via
// iter.Seq2[*Response, error], Request/GenerateConfig carrying the same
// knobs, and a Provider enum dispatched on by LLMFactory the way
// pkg/llms/registry.go dispatches on model-name prefix.
package llm

import (
	"context"
	"iter"

	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Provider identifies which wire protocol an LLM implementation speaks.
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// LLM is the interface every provider implementation satisfies.
type LLM interface {
	// Name returns the configured model identifier.
	Name() string

	// Provider reports which wire protocol this implementation speaks.
	Provider() Provider

	// GenerateContent issues a request. When stream is true it yields one
	// or more partial Responses followed by a final aggregated Response
	// (Partial=false); when false it yields exactly one Response.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[*Response, error]

	// CountTokens estimates the token count of history, when the provider
	// exposes a counting endpoint; ok=false signals the caller should fall
	// back to a character-based estimate.
	CountTokens(ctx context.Context, history *types.History) (count int, ok bool, err error)

	// Close releases any resources (idle connections, etc).
	Close() error
}

// Request is the input to one LLM call.
type Request struct {
	History           *types.History
	Tools             []tool.Definition
	Config            *GenerateConfig
	SystemInstruction string
}

// GenerateConfig mirrors the teacher's model.GenerateConfig, trimmed to the
// knobs DbRheo's config layer exposes.
type GenerateConfig struct {
	Temperature    *float64
	MaxTokens      *int
	TopP           *float64
	StopSequences  []string
	ResponseSchema map[string]any
}

// Clone deep-copies c so concurrent callers never share pointer fields.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.Temperature != nil {
		t := *c.Temperature
		clone.Temperature = &t
	}
	if c.MaxTokens != nil {
		m := *c.MaxTokens
		clone.MaxTokens = &m
	}
	if c.TopP != nil {
		p := *c.TopP
		clone.TopP = &p
	}
	if c.StopSequences != nil {
		clone.StopSequences = append([]string(nil), c.StopSequences...)
	}
	return &clone
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonContent   FinishReason = "content_filter"
	FinishReasonError     FinishReason = "error"
)

// Usage holds token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is the result of one LLM call, or one streamed chunk of it.
type Response struct {
	Content      *types.Content
	Partial      bool
	FinishReason FinishReason
	Usage        *Usage
	ErrorMessage string
}

// HasFunctionCalls reports whether this response carries function calls.
func (r *Response) HasFunctionCalls() bool {
	return r != nil && r.Content != nil && len(r.Content.FunctionCalls()) > 0
}
