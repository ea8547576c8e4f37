// Package gemini implements llm.LLM against Google's generateContent API,
// grounded on the teacher's pkg/llms/gemini.go: parts map 1:1 onto Gemini's
// content parts, functionCall/functionResponse parts round-trip directly,
// and httpclient supplies retry/backoff.
package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

func init() {
	llm.RegisterConstructor(llm.ProviderGemini, New)
}

// Provider implements llm.LLM for Gemini's generateContent/streamGenerateContent.
type Provider struct {
	model   string
	apiKey  string
	baseURL string
	client  *httpclient.Client
}

// New builds a Provider from cfg.
func New(cfg *dbrheoconfig.LLMProviderConfig) (llm.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	opts := []httpclient.Option{
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
		httpclient.WithHeaderParser(httpclient.ParseGeminiHeaders),
	}
	if cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		opts = append(opts, httpclient.WithTLSConfig(&httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}))
	}

	return &Provider{model: cfg.Model, apiKey: cfg.APIKey, baseURL: baseURL, client: httpclient.New(opts...)}, nil
}

func (p *Provider) Name() string            { return p.model }
func (p *Provider) Provider() llm.Provider  { return llm.ProviderGemini }
func (p *Provider) Close() error            { return nil }

func (p *Provider) CountTokens(ctx context.Context, history *types.History) (int, bool, error) {
	return 0, false, nil
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type toolDef struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	Tools             []toolDef         `json:"tools,omitempty"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

// Gemini's function call IDs aren't part of the wire protocol; the
// correlation id used internally is synthesized from the function name
// paired with its position, matching how the teacher's adapter recovers
// call/response pairing for Gemini.
func toContents(req *llm.Request) []content {
	var contents []content
	for _, c := range req.History.Contents() {
		role := "user"
		if c.Role == types.RoleModel {
			role = "model"
		}
		var parts []part
		if text := c.Text(); text != "" {
			parts = append(parts, part{Text: text})
		}
		for _, fc := range c.FunctionCalls() {
			parts = append(parts, part{FunctionCall: &functionCall{Name: fc.Name, Args: fc.Args}})
		}
		for _, fr := range c.FunctionResponses() {
			parts = append(parts, part{FunctionResponse: &functionResponse{Name: fr.Name, Response: fr.Response}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, content{Role: role, Parts: parts})
	}
	return contents
}

func toTools(defs []tool.Definition) []toolDef {
	if len(defs) == 0 {
		return nil
	}
	decls := make([]functionDeclaration, 0, len(defs))
	for _, d := range defs {
		decls = append(decls, functionDeclaration{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
	}
	return []toolDef{{FunctionDeclarations: decls}}
}

// GenerateContent issues a generateContent (or streamGenerateContent) call.
func (p *Provider) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		body := generateRequest{
			Contents: toContents(req),
			Tools:    toTools(req.Tools),
		}
		if req.SystemInstruction != "" {
			body.SystemInstruction = &content{Parts: []part{{Text: req.SystemInstruction}}}
		}
		if req.Config != nil {
			body.GenerationConfig = &generationConfig{
				Temperature:     req.Config.Temperature,
				TopP:            req.Config.TopP,
				MaxOutputTokens: req.Config.MaxTokens,
				StopSequences:   req.Config.StopSequences,
			}
		}

		payload, err := json.Marshal(body)
		if err != nil {
			yield(nil, fmt.Errorf("marshaling request: %w", err))
			return
		}

		method := "generateContent"
		if stream {
			method = "streamGenerateContent?alt=sse"
		}
		url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, p.model, method)

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			yield(nil, err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", p.apiKey)

		resp, err := p.client.Do(httpReq)
		if err != nil {
			yield(nil, err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			yield(nil, fmt.Errorf("gemini: HTTP %d: %s", resp.StatusCode, string(data)))
			return
		}

		if !stream {
			p.yieldNonStreaming(resp.Body, yield)
			return
		}
		p.yieldStreaming(resp.Body, yield)
	}
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type generateResponse struct {
	Candidates []candidate `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (p *Provider) yieldNonStreaming(body io.Reader, yield func(*llm.Response, error) bool) {
	var parsed generateResponse
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		yield(nil, fmt.Errorf("decoding response: %w", err))
		return
	}
	if len(parsed.Candidates) == 0 {
		yield(nil, fmt.Errorf("gemini: no candidates in response"))
		return
	}
	cand := parsed.Candidates[0]
	yield(&llm.Response{
		Content:      partsToContent(cand.Content.Parts),
		FinishReason: mapFinishReason(cand.FinishReason),
		Usage: &llm.Usage{
			PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
			CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
		},
	}, nil)
}

func (p *Provider) yieldStreaming(body io.Reader, yield func(*llm.Response, error) bool) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var textBuilder strings.Builder
	var functionCalls []part
	finish := llm.FinishReasonStop
	var usage *llm.Usage

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		cand := chunk.Candidates[0]
		for _, pt := range cand.Content.Parts {
			if pt.Text != "" {
				textBuilder.WriteString(pt.Text)
				if !yield(&llm.Response{
					Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart(pt.Text)}},
					Partial: true,
				}, nil) {
					return
				}
			}
			if pt.FunctionCall != nil {
				functionCalls = append(functionCalls, pt)
			}
		}
		if cand.FinishReason != "" {
			finish = mapFinishReason(cand.FinishReason)
		}
		if chunk.UsageMetadata.TotalTokenCount > 0 {
			usage = &llm.Usage{
				PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
				CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
			}
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
	for i, pt := range functionCalls {
		parts = append(parts, types.FunctionCallPart(fmt.Sprintf("%s-%d", pt.FunctionCall.Name, i), pt.FunctionCall.Name, pt.FunctionCall.Args))
	}

	yield(&llm.Response{
		Content:      &types.Content{Role: types.RoleModel, Parts: parts},
		Partial:      false,
		FinishReason: finish,
		Usage:        usage,
	}, nil)
}

func partsToContent(parts []part) *types.Content {
	result := make([]types.Part, 0, len(parts))
	for i, pt := range parts {
		switch {
		case pt.Text != "":
			result = append(result, types.TextPart(pt.Text))
		case pt.FunctionCall != nil:
			result = append(result, types.FunctionCallPart(fmt.Sprintf("%s-%d", pt.FunctionCall.Name, i), pt.FunctionCall.Name, pt.FunctionCall.Args))
		}
	}
	return &types.Content{Role: types.RoleModel, Parts: result}
}

func mapFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "STOP":
		return llm.FinishReasonStop
	case "MAX_TOKENS":
		return llm.FinishReasonLength
	case "SAFETY", "RECITATION":
		return llm.FinishReasonContent
	default:
		return llm.FinishReasonStop
	}
}
