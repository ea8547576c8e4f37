// Package anthropic implements llm.LLM against the Anthropic Messages API,
// grounded on the teacher's pkg/llms/anthropic.go: content-block
// concatenation for streamed text, tool_use blocks for function calls, and
// httpclient as the retry/backoff transport.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/httpclient"
	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

const defaultBaseURL = "https://api.anthropic.com/v1"

func init() {
	llm.RegisterConstructor(llm.ProviderAnthropic, New)
}

// Provider implements llm.LLM for Anthropic's Messages API.
type Provider struct {
	model   string
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

// New builds a Provider from cfg.
func New(cfg *dbrheoconfig.LLMProviderConfig) (llm.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	opts := []httpclient.Option{
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	}
	if cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}))
	}

	return &Provider{model: cfg.Model, apiKey: cfg.APIKey, baseURL: baseURL, client: httpclient.New(opts...)}, nil
}

func (p *Provider) Name() string           { return p.model }
func (p *Provider) Provider() llm.Provider { return llm.ProviderAnthropic }
func (p *Provider) Close() error           { return nil }

func (p *Provider) CountTokens(ctx context.Context, history *types.History) (int, bool, error) {
	return 0, false, nil
}

type contentBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type messagesRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Tools       []toolDef `json:"tools,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature *float64  `json:"temperature,omitempty"`
	Stream      bool      `json:"stream"`
}

func toMessages(req *llm.Request) []message {
	var msgs []message
	for _, c := range req.History.Contents() {
		role := "user"
		if c.Role == types.RoleModel {
			role = "assistant"
		}
		var blocks []contentBlock
		if text := c.Text(); text != "" {
			blocks = append(blocks, contentBlock{Type: "text", Text: text})
		}
		for _, fc := range c.FunctionCalls() {
			blocks = append(blocks, contentBlock{Type: "tool_use", ID: fc.ID, Name: fc.Name, Input: fc.Args})
		}
		for _, fr := range c.FunctionResponses() {
			body, _ := json.Marshal(fr.Response)
			blocks = append(blocks, contentBlock{Type: "tool_result", ToolUseID: fr.ID, Content: string(body)})
		}
		if len(blocks) == 0 {
			continue
		}
		msgs = append(msgs, message{Role: role, Content: blocks})
	}
	return msgs
}

func toTools(defs []tool.Definition) []toolDef {
	tools := make([]toolDef, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, toolDef{Name: d.Name, Description: d.Description, InputSchema: d.Parameters})
	}
	return tools
}

// GenerateContent issues a Messages API request, streaming SSE events when
// stream is true.
func (p *Provider) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		maxTokens := 4096
		var temperature *float64
		if req.Config != nil {
			if req.Config.MaxTokens != nil {
				maxTokens = *req.Config.MaxTokens
			}
			temperature = req.Config.Temperature
		}

		body := messagesRequest{
			Model:       p.model,
			System:      req.SystemInstruction,
			Messages:    toMessages(req),
			Tools:       toTools(req.Tools),
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Stream:      stream,
		}

		payload, err := json.Marshal(body)
		if err != nil {
			yield(nil, fmt.Errorf("marshaling request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(payload))
		if err != nil {
			yield(nil, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", p.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := p.client.Do(httpReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			yield(nil, fmt.Errorf("anthropic: HTTP %d: %s", resp.StatusCode, string(data)))
			return
		}

		if !stream {
			p.yieldNonStreaming(resp.Body, yield)
			return
		}
		p.yieldStreaming(resp.Body, yield)
	}
}

type messagesResponse struct {
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *Provider) yieldNonStreaming(body io.Reader, yield func(*llm.Response, error) bool) {
	var parsed messagesResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		yield(nil, fmt.Errorf("decoding response: %w", err))
		return
	}
	yield(&llm.Response{
		Content:      blocksToContent(parsed.Content),
		FinishReason: mapStopReason(parsed.StopReason),
		Usage: &llm.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil)
}

type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	ContentBlock contentBlock `json:"content_block"`
}

func (p *Provider) yieldStreaming(body io.Reader, yield func(*llm.Response, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	blocks := map[int]*contentBlock{}
	order := []int{}
	finish := llm.FinishReasonStop

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var evt streamEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "content_block_start":
			block := evt.ContentBlock
			blocks[evt.Index] = &block
			order = append(order, evt.Index)
		case "content_block_delta":
			block, ok := blocks[evt.Index]
			if !ok {
				continue
			}
			switch evt.Delta.Type {
			case "text_delta":
				block.Text += evt.Delta.Text
				if !yield(&llm.Response{
					Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart(evt.Delta.Text)}},
					Partial: true,
				}, nil) {
					return
				}
			case "input_json_delta":
				block.Content += evt.Delta.PartialJSON
			}
		case "message_delta":
			if evt.Delta.StopReason != "" {
				finish = mapStopReason(evt.Delta.StopReason)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		yield(nil, fmt.Errorf("reading stream: %w", err))
		return
	}

	final := make([]contentBlock, 0, len(order))
	for _, idx := range order {
		block := blocks[idx]
		if block.Type == "tool_use" && block.Content != "" {
			json.Unmarshal([]byte(block.Content), &block.Input)
		}
		final = append(final, *block)
	}

	yield(&llm.Response{Content: blocksToContent(final), Partial: false, FinishReason: finish}, nil)
}

func blocksToContent(blocks []contentBlock) *types.Content {
	parts := make([]types.Part, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, types.TextPart(b.Text))
		case "tool_use":
			parts = append(parts, types.FunctionCallPart(b.ID, b.Name, b.Input))
		}
	}
	return &types.Content{Role: types.RoleModel, Parts: parts}
}

func mapStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishReasonStop
	case "max_tokens":
		return llm.FinishReasonLength
	case "tool_use":
		return llm.FinishReasonToolCalls
	default:
		return llm.FinishReasonStop
	}
}
