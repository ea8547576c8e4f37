// Package history implements the HistoryCompressor: it keeps a turn's
// conversation from growing past the model's context window by replacing
// the oldest safely-splittable prefix with a single summarizing Content,
// the same "summarize old, keep recent intact" shape as the teacher's
// pkg/agent/history_selector.go (HistorySelector.selectWithSummarization)
// and pkg/agent/summarization.go (SummarizationService), generalized from
// that teacher's session-keyed []llms.Message model to DbRheo's single
// *types.History with call/response pairing.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// charsPerToken is the fallback estimate used when a provider's
// CountTokens reports ok=false, mirroring the teacher's tokenCounter
// fallback in token_aware_history.go (there, a tiktoken encoder; here,
// there is no bundled encoder, so DbRheo falls back to a flat ratio).
const charsPerToken = 4

// defaultPrompt is used when Config.SummaryPrompt is empty. It mirrors the
// structure (preserve facts/decisions, narrative not bullets, compression
// target) of the teacher's SummarizationService.SummarizeConversation
// system prompt.
const defaultPrompt = `You are summarizing part of an ongoing database session so the assistant can continue the conversation without the full transcript.

Preserve: the user's goals, any schema or data facts discovered, decisions made, and tool calls/results that still matter for what comes next. Drop pleasantries and intermediate exploration that led nowhere. Write a short narrative, not a bullet list.`

// Config tunes when and how compression runs.
type Config struct {
	// Threshold is the compressionThreshold fraction in (0,1]; compression
	// triggers once estimated tokens reach Threshold*ContextWindow.
	Threshold float64
	// ContextWindow is the model's total context size in tokens.
	ContextWindow int
	// SummaryPrompt overrides the default summarization system prompt.
	SummaryPrompt string
}

func (c Config) budget() int {
	threshold := c.Threshold
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return int(float64(c.ContextWindow) * threshold)
}

func (c Config) prompt() string {
	if c.SummaryPrompt != "" {
		return c.SummaryPrompt
	}
	return defaultPrompt
}

// Compressor summarizes the oldest part of a History once it grows past a
// token budget, without ever splitting a FunctionCall from its
// FunctionResponse, per the pairing invariant in types.History.
type Compressor struct {
	model llm.LLM
	cfg   Config
}

// New returns a Compressor that asks model to produce summaries.
func New(model llm.LLM, cfg Config) *Compressor {
	return &Compressor{model: model, cfg: cfg}
}

// EstimateTokens returns history's token count, preferring the provider's
// own CountTokens and falling back to a character-based estimate when the
// provider has none (ok=false), exactly the fallback chain
// token_aware_history.go's TokenCounter.FitWithinLimit plays for a model
// the bundled tiktoken encodings don't cover.
func (c *Compressor) EstimateTokens(ctx context.Context, h *types.History) (int, error) {
	if c.model != nil {
		if n, ok, err := c.model.CountTokens(ctx, h); err != nil {
			return 0, dbrheoerrors.Wrap(dbrheoerrors.KindLLMTransport, "counting tokens", err)
		} else if ok {
			return n, nil
		}
	}
	return estimateCharsFallback(h) / charsPerToken, nil
}

// ShouldCompress reports whether history's estimated size has reached the
// configured threshold of the context window.
func (c *Compressor) ShouldCompress(ctx context.Context, h *types.History) (bool, error) {
	if c.cfg.ContextWindow <= 0 {
		return false, nil
	}
	tokens, err := c.EstimateTokens(ctx, h)
	if err != nil {
		return false, err
	}
	return tokens >= c.cfg.budget(), nil
}

// MaybeCompress checks ShouldCompress and, if triggered, compresses h in
// place. It reports whether compression ran. Calling MaybeCompress twice
// in a row without intervening Appends is a no-op the second time: the
// first call already brought the estimate under budget, so ShouldCompress
// answers false — the idempotence the spec requires within one turn.
func (c *Compressor) MaybeCompress(ctx context.Context, h *types.History) (bool, error) {
	trigger, err := c.ShouldCompress(ctx, h)
	if err != nil || !trigger {
		return false, err
	}
	if err := c.Compress(ctx, h); err != nil {
		return false, err
	}
	return true, nil
}

// Compress replaces the oldest contiguous prefix of h that contains no
// unresolved FunctionCall/FunctionResponse pairing with a single
// user-role summary Content, asking c.model to produce the summary text.
// It is a no-op if no non-empty safe prefix exists (e.g. a single
// outstanding call/response spans the whole history).
func (c *Compressor) Compress(ctx context.Context, h *types.History) error {
	contents := h.Contents()
	boundary := splitBoundary(contents)
	if boundary <= 0 {
		return nil
	}

	summary, err := c.summarize(ctx, contents[:boundary])
	if err != nil {
		return err
	}
	if summary == "" {
		return nil
	}

	replaced := make([]types.Content, 0, 1+len(contents)-boundary)
	replaced = append(replaced, types.Content{
		Role:  types.RoleUser,
		Parts: []types.Part{types.TextPart(fmt.Sprintf("Previous conversation summary:\n\n%s", summary))},
	})
	replaced = append(replaced, contents[boundary:]...)
	h.Replace(replaced)
	return nil
}

// splitBoundary picks a safe index i, one where contents[:i] contains a
// FunctionResponse for every FunctionCall it contains (no pairing would be
// split) and i < len(contents). It returns the largest safe index not past
// the midpoint len(contents)/2, so compression keeps a meaningful amount of
// recent context intact, or the smallest safe index when every safe index
// lies past the midpoint. It returns 0 if no safe index exists.
func splitBoundary(contents []types.Content) int {
	if len(contents) < 2 {
		return 0
	}

	pending := make(map[string]bool)
	var safe []int
	for i, c := range contents {
		for _, call := range c.FunctionCalls() {
			pending[call.ID] = true
		}
		for _, resp := range c.FunctionResponses() {
			delete(pending, resp.ID)
		}
		if len(pending) == 0 {
			safe = append(safe, i+1)
		}
	}

	// Never offer the whole history as the "old" prefix — at least the
	// last safe Content must remain uncompressed.
	if len(safe) > 0 && safe[len(safe)-1] == len(contents) {
		safe = safe[:len(safe)-1]
	}
	if len(safe) == 0 {
		return 0
	}

	target := len(contents) / 2
	best := safe[0]
	for _, b := range safe {
		if b <= target {
			best = b
			continue
		}
		break
	}
	return best
}

func (c *Compressor) summarize(ctx context.Context, contents []types.Content) (string, error) {
	if c.model == nil {
		return "", dbrheoerrors.New(dbrheoerrors.KindInternal, "history compressor has no model to summarize with")
	}

	req := &llm.Request{
		History:           &types.History{},
		SystemInstruction: c.cfg.prompt(),
	}
	req.History.Append(types.Content{
		Role:  types.RoleUser,
		Parts: []types.Part{types.TextPart(formatConversation(contents))},
	})

	var final *llm.Response
	for resp, err := range c.model.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", dbrheoerrors.Wrap(dbrheoerrors.KindLLMTransport, "summarizing history", err)
		}
		if resp != nil && !resp.Partial {
			final = resp
		}
	}
	if final == nil || final.Content == nil {
		return "", dbrheoerrors.New(dbrheoerrors.KindLLMProtocol, "summarization call produced no content")
	}
	return strings.TrimSpace(final.Content.Text()), nil
}

// formatConversation renders contents as a readable transcript for the
// summarization prompt, the same shape as the teacher's
// SummarizationService.formatConversation but extended to also render
// function calls/responses instead of dropping them.
func formatConversation(contents []types.Content) string {
	var sb strings.Builder
	for _, c := range contents {
		role := string(c.Role)
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		if text := c.Text(); text != "" {
			fmt.Fprintf(&sb, "%s: %s\n\n", role, text)
		}
		for _, call := range c.FunctionCalls() {
			fmt.Fprintf(&sb, "%s called %s(%s)\n\n", role, call.Name, marshalCompact(call.Args))
		}
		for _, resp := range c.FunctionResponses() {
			if resp.Error != nil {
				fmt.Fprintf(&sb, "%s (%s) failed: %s\n\n", role, resp.Name, resp.Error.Message)
			} else {
				fmt.Fprintf(&sb, "%s (%s) returned %s\n\n", role, resp.Name, marshalCompact(resp.Response))
			}
		}
	}
	return sb.String()
}

func marshalCompact(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// estimateCharsFallback sums the rendered character length of every
// Content, the numerator of the charsPerToken ratio.
func estimateCharsFallback(h *types.History) int {
	total := 0
	for _, c := range h.Contents() {
		total += len(c.Text())
		for _, call := range c.FunctionCalls() {
			total += len(call.Name) + len(marshalCompact(call.Args))
		}
		for _, resp := range c.FunctionResponses() {
			total += len(resp.Name) + len(marshalCompact(resp.Response))
			if resp.Error != nil {
				total += len(resp.Error.Message)
			}
		}
	}
	return total
}
