package turn

import (
	"context"
	"iter"
	"testing"

	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

type fakeLLM struct {
	responses []*llm.Response
}

func (f *fakeLLM) Name() string         { return "fake-model" }
func (f *fakeLLM) Provider() llm.Provider { return llm.ProviderGemini }
func (f *fakeLLM) Close() error         { return nil }
func (f *fakeLLM) CountTokens(ctx context.Context, h *types.History) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeLLM) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		for _, r := range f.responses {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestRunRelaysDeltasAndReturnsFinal(t *testing.T) {
	model := &fakeLLM{responses: []*llm.Response{
		{Partial: true, Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart("Hel")}}},
		{Partial: true, Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart("lo")}}},
		{
			Partial: false,
			Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{
				types.TextPart("Hello"),
				types.FunctionCallPart("c1", "sql_tool", map[string]any{"sql": "SELECT 1"}),
			}},
			FinishReason: llm.FinishReasonToolCalls,
		},
	}}

	var deltas []string
	result, err := Run(context.Background(), types.NewAbortSignal(context.Background()), model, &llm.Request{}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(deltas) != 2 || deltas[0] != "Hel" || deltas[1] != "lo" {
		t.Fatalf("expected 2 deltas [Hel,lo], got %v", deltas)
	}
	if len(result.FunctionCalls) != 1 || result.FunctionCalls[0].Name != "sql_tool" {
		t.Fatalf("expected 1 sql_tool call, got %+v", result.FunctionCalls)
	}
	if result.FinishReason != llm.FinishReasonToolCalls {
		t.Fatalf("expected tool_calls finish reason, got %s", result.FinishReason)
	}
}

func TestRunAbortsWhenSignalTrips(t *testing.T) {
	model := &fakeLLM{responses: []*llm.Response{
		{Partial: true, Content: &types.Content{Parts: []types.Part{types.TextPart("a")}}},
		{Partial: false, Content: &types.Content{}, FinishReason: llm.FinishReasonStop},
	}}

	signal := types.NewAbortSignal(context.Background())
	signal.Trip()

	_, err := Run(context.Background(), signal, model, &llm.Request{}, nil)
	if err == nil {
		t.Fatalf("expected an error when the signal is already tripped")
	}
}

func TestRunErrorFinishReasonSurfacesError(t *testing.T) {
	model := &fakeLLM{responses: []*llm.Response{
		{Partial: false, FinishReason: llm.FinishReasonError, ErrorMessage: "rate limited"},
	}}

	_, err := Run(context.Background(), types.NewAbortSignal(context.Background()), model, &llm.Request{}, nil)
	if err == nil {
		t.Fatalf("expected an error for FinishReasonError")
	}
}
