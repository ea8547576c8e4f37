package history

import (
	"context"
	"iter"
	"testing"

	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

type fakeLLM struct {
	countTokens func(h *types.History) (int, bool, error)
	summary     string
	summarizes  int
}

func (f *fakeLLM) Name() string           { return "fake-model" }
func (f *fakeLLM) Provider() llm.Provider { return llm.ProviderGemini }
func (f *fakeLLM) Close() error           { return nil }

func (f *fakeLLM) CountTokens(ctx context.Context, h *types.History) (int, bool, error) {
	if f.countTokens != nil {
		return f.countTokens(h)
	}
	return 0, false, nil
}

func (f *fakeLLM) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	f.summarizes++
	return func(yield func(*llm.Response, error) bool) {
		yield(&llm.Response{
			Partial: false,
			Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart(f.summary)}},
		}, nil)
	}
}

func historyWithResolvedPairThenUnresolvedCall() *types.History {
	h := types.NewHistory()
	h.Append(types.Content{Role: types.RoleUser, Parts: []types.Part{types.TextPart("what tables are there")}})
	h.Append(types.Content{Role: types.RoleModel, Parts: []types.Part{
		types.FunctionCallPart("c1", "schema_tool", map[string]any{}),
	}})
	h.Append(types.Content{Role: types.RoleFunction, Parts: []types.Part{
		types.FunctionResponsePart("c1", "schema_tool", map[string]any{"tables": []string{"users"}}, nil),
	}})
	h.Append(types.Content{Role: types.RoleUser, Parts: []types.Part{types.TextPart("now query it")}})
	h.Append(types.Content{Role: types.RoleModel, Parts: []types.Part{
		types.FunctionCallPart("c2", "sql_tool", map[string]any{"sql": "SELECT * FROM users"}),
	}})
	return h
}

func TestShouldCompressTriggersAtThreshold(t *testing.T) {
	model := &fakeLLM{countTokens: func(h *types.History) (int, bool, error) { return 900, true, nil }}
	c := New(model, Config{Threshold: 0.8, ContextWindow: 1000})

	should, err := c.ShouldCompress(context.Background(), types.NewHistory())
	if err != nil {
		t.Fatalf("ShouldCompress returned error: %v", err)
	}
	if !should {
		t.Fatalf("expected ShouldCompress to trigger at 900/1000 tokens with 0.8 threshold")
	}
}

func TestShouldCompressFalseBelowThreshold(t *testing.T) {
	model := &fakeLLM{countTokens: func(h *types.History) (int, bool, error) { return 100, true, nil }}
	c := New(model, Config{Threshold: 0.8, ContextWindow: 1000})

	should, err := c.ShouldCompress(context.Background(), types.NewHistory())
	if err != nil {
		t.Fatalf("ShouldCompress returned error: %v", err)
	}
	if should {
		t.Fatalf("did not expect ShouldCompress to trigger at 100/1000 tokens")
	}
}

func TestCompressPreservesUnresolvedPairAndSummarizesPrefix(t *testing.T) {
	model := &fakeLLM{summary: "User asked about tables; schema_tool showed the users table."}
	c := New(model, Config{Threshold: 0.8, ContextWindow: 1000})

	h := historyWithResolvedPairThenUnresolvedCall()
	if err := c.Compress(context.Background(), h); err != nil {
		t.Fatalf("Compress returned error: %v", err)
	}

	contents := h.Contents()
	if len(contents) == 0 {
		t.Fatalf("expected non-empty history after compress")
	}
	if contents[0].Role != types.RoleUser || contents[0].Text() == "" {
		t.Fatalf("expected first content to be a user-role summary, got %+v", contents[0])
	}

	pending := h.UnresolvedCalls()
	if !pending["c2"] {
		t.Fatalf("expected call c2 to remain unresolved and uncompressed, got %v", pending)
	}

	found := false
	for _, c := range contents {
		for _, call := range c.FunctionCalls() {
			if call.ID == "c2" {
				found = true
			}
		}
	}
	if !found {
		t.Fatalf("expected the unresolved call c2 to survive compression intact")
	}
}

func TestCompressNoSafeBoundaryIsNoOp(t *testing.T) {
	model := &fakeLLM{summary: "should not be used"}
	c := New(model, Config{Threshold: 0.8, ContextWindow: 1000})

	h := types.NewHistory()
	h.Append(types.Content{Role: types.RoleModel, Parts: []types.Part{
		types.FunctionCallPart("only", "sql_tool", map[string]any{"sql": "SELECT 1"}),
	}})

	if err := c.Compress(context.Background(), h); err != nil {
		t.Fatalf("Compress returned error: %v", err)
	}
	if model.summarizes != 0 {
		t.Fatalf("expected no summarization call when no safe boundary exists, got %d", model.summarizes)
	}
	if h.Len() != 1 {
		t.Fatalf("expected history unchanged, got length %d", h.Len())
	}
}

func TestMaybeCompressIsIdempotentWithinATurn(t *testing.T) {
	calls := 0
	model := &fakeLLM{
		summary: "a short summary",
		countTokens: func(h *types.History) (int, bool, error) {
			calls++
			// First check (before any compression): over budget.
			// Every check after compression: under budget.
			if calls == 1 {
				return 900, true, nil
			}
			return 100, true, nil
		},
	}
	c := New(model, Config{Threshold: 0.8, ContextWindow: 1000})

	h := historyWithResolvedPairThenUnresolvedCall()

	ran, err := c.MaybeCompress(context.Background(), h)
	if err != nil {
		t.Fatalf("first MaybeCompress returned error: %v", err)
	}
	if !ran {
		t.Fatalf("expected first MaybeCompress to run compression")
	}
	if model.summarizes != 1 {
		t.Fatalf("expected exactly 1 summarization call, got %d", model.summarizes)
	}

	ran, err = c.MaybeCompress(context.Background(), h)
	if err != nil {
		t.Fatalf("second MaybeCompress returned error: %v", err)
	}
	if ran {
		t.Fatalf("expected second MaybeCompress to be a no-op once under budget")
	}
	if model.summarizes != 1 {
		t.Fatalf("expected no additional summarization call, got %d", model.summarizes)
	}
}

func TestEstimateTokensFallsBackToCharacterEstimate(t *testing.T) {
	model := &fakeLLM{countTokens: func(h *types.History) (int, bool, error) { return 0, false, nil }}
	c := New(model, Config{Threshold: 0.8, ContextWindow: 1000})

	h := types.NewHistory()
	h.Append(types.Content{Role: types.RoleUser, Parts: []types.Part{types.TextPart("12345678")}})

	tokens, err := c.EstimateTokens(context.Background(), h)
	if err != nil {
		t.Fatalf("EstimateTokens returned error: %v", err)
	}
	if tokens != 2 {
		t.Fatalf("expected 8 chars / 4 chars-per-token = 2, got %d", tokens)
	}
}
