// Package openai implements llm.LLM against the OpenAI Chat Completions
// API, grounded on the teacher's pkg/llms/openai.go: SSE event parsing,
// incremental tool-call-argument buffering keyed by each delta's index field,
// and httpclient as the retry/backoff transport.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sort"
	"strings"
	"time"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/httpclient"
	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	llm.RegisterConstructor(llm.ProviderOpenAI, New)
}

// Provider implements llm.LLM for OpenAI-compatible chat completion APIs.
type Provider struct {
	model   string
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

// New builds a Provider from cfg.
func New(cfg *dbrheoconfig.LLMProviderConfig) (llm.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	opts := []httpclient.Option{
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	}
	if cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}))
	}

	return &Provider{
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  httpclient.New(opts...),
	}, nil
}

func (p *Provider) Name() string            { return p.model }
func (p *Provider) Provider() llm.Provider  { return llm.ProviderOpenAI }
func (p *Provider) Close() error            { return nil }

func (p *Provider) CountTokens(ctx context.Context, history *types.History) (int, bool, error) {
	return 0, false, nil
}

type chatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	Name       string          `json:"name,omitempty"`
}

type chatToolCall struct {
	Index    int    `json:"index,omitempty"`
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
}

func toChatMessages(req *llm.Request) []chatMessage {
	var msgs []chatMessage
	if req.SystemInstruction != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemInstruction})
	}
	for _, c := range req.History.Contents() {
		role := "user"
		if c.Role == types.RoleModel {
			role = "assistant"
		}
		msg := chatMessage{Role: role, Content: c.Text()}
		for _, fc := range c.FunctionCalls() {
			args, _ := json.Marshal(fc.Args)
			call := chatToolCall{ID: fc.ID, Type: "function"}
			call.Function.Name = fc.Name
			call.Function.Arguments = string(args)
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		msgs = append(msgs, msg)
		for _, fr := range c.FunctionResponses() {
			body, _ := json.Marshal(fr.Response)
			msgs = append(msgs, chatMessage{Role: "tool", ToolCallID: fr.ID, Name: fr.Name, Content: string(body)})
		}
	}
	return msgs
}

func toChatTools(defs []tool.Definition) []chatTool {
	tools := make([]chatTool, 0, len(defs))
	for _, d := range defs {
		ct := chatTool{Type: "function"}
		ct.Function.Name = d.Name
		ct.Function.Description = d.Description
		ct.Function.Parameters = d.Parameters
		tools = append(tools, ct)
	}
	return tools
}

// GenerateContent issues a chat-completion request, streaming SSE chunks
// when stream is true.
func (p *Provider) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		body := chatRequest{
			Model:    p.model,
			Messages: toChatMessages(req),
			Tools:    toChatTools(req.Tools),
			Stream:   stream,
		}
		if req.Config != nil {
			body.Temperature = req.Config.Temperature
			body.MaxTokens = req.Config.MaxTokens
		}

		payload, err := json.Marshal(body)
		if err != nil {
			yield(nil, fmt.Errorf("marshaling request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
		if err != nil {
			yield(nil, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			yield(nil, fmt.Errorf("openai: HTTP %d: %s", resp.StatusCode, string(data)))
			return
		}

		if !stream {
			p.yieldNonStreaming(resp.Body, yield)
			return
		}
		p.yieldStreaming(resp.Body, yield)
	}
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *Provider) yieldNonStreaming(body io.Reader, yield func(*llm.Response, error) bool) {
	var parsed chatCompletionResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		yield(nil, fmt.Errorf("decoding response: %w", err))
		return
	}
	if len(parsed.Choices) == 0 {
		yield(nil, fmt.Errorf("openai: no choices in response"))
		return
	}
	choice := parsed.Choices[0]
	content, err := buildContent(choice.Message)
	if err != nil {
		yield(nil, err)
		return
	}
	yield(&llm.Response{
		Content:      content,
		Partial:      false,
		FinishReason: mapFinishReason(choice.FinishReason),
		Usage: &llm.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil)
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// toolCallBuffer accumulates streamed argument fragments keyed by the
// emitted call index, the same buffering shape the teacher's
// streamingState uses for OpenAI's incremental tool-call deltas.
type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func (p *Provider) yieldStreaming(body io.Reader, yield func(*llm.Response, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var textBuilder strings.Builder
	toolCalls := map[int]*toolCallBuffer{}
	finish := llm.FinishReasonStop

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			textBuilder.WriteString(choice.Delta.Content)
			if !yield(&llm.Response{
				Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart(choice.Delta.Content)}},
				Partial: true,
			}, nil) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			buf, ok := toolCalls[tc.Index]
			if !ok {
				buf = &toolCallBuffer{}
				toolCalls[tc.Index] = buf
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			buf.args.WriteString(tc.Function.Arguments)
		}
		if choice.FinishReason != "" {
			finish = mapFinishReason(choice.FinishReason)
		}
	}
	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("reading stream: %w", err))
		return
	}

	parts := []types.Part{}
	if textBuilder.Len() > 0 {
		parts = append(parts, types.TextPart(textBuilder.String()))
	}
	indices := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)
	for _, idx := range indices {
		buf := toolCalls[idx]
		var args map[string]any
		if buf.args.Len() > 0 {
			if err := json.Unmarshal([]byte(buf.args.String()), &args); err != nil {
				yield(nil, dbrheoerrors.Wrap(dbrheoerrors.KindInvalidToolCall,
					fmt.Sprintf("parsing arguments for tool call %q", buf.name), err))
				return
			}
		}
		parts = append(parts, types.FunctionCallPart(buf.id, buf.name, args))
	}

	yield(&llm.Response{
		Content:      &types.Content{Role: types.RoleModel, Parts: parts},
		Partial:      false,
		FinishReason: finish,
	}, nil)
}

func buildContent(msg chatMessage) (*types.Content, error) {
	parts := []types.Part{}
	if msg.Content != "" {
		parts = append(parts, types.TextPart(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, dbrheoerrors.Wrap(dbrheoerrors.KindInvalidToolCall,
					fmt.Sprintf("parsing arguments for tool call %q", tc.Function.Name), err)
			}
		}
		parts = append(parts, types.FunctionCallPart(tc.ID, tc.Function.Name, args))
	}
	return &types.Content{Role: types.RoleModel, Parts: parts}, nil
}

func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishReasonStop
	case "length":
		return llm.FinishReasonLength
	case "tool_calls":
		return llm.FinishReasonToolCalls
	case "content_filter":
		return llm.FinishReasonContent
	default:
		return llm.FinishReasonStop
	}
}
