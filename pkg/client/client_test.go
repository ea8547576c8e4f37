package client

import (
	"context"
	"iter"
	"testing"

	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/nextspeaker"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/scheduler"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// fakeLLM drives a scripted sequence of Turns: each call to
// GenerateContent consumes the next entry of responses.
type fakeLLM struct {
	turns [][]*llm.Response
	next  int
}

func (f *fakeLLM) Name() string           { return "fake-model" }
func (f *fakeLLM) Provider() llm.Provider { return llm.ProviderGemini }
func (f *fakeLLM) Close() error           { return nil }
func (f *fakeLLM) CountTokens(ctx context.Context, h *types.History) (int, bool, error) {
	return 0, false, nil
}
func (f *fakeLLM) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	turn := f.turns[f.next]
	f.next++
	return func(yield func(*llm.Response, error) bool) {
		for _, r := range turn {
			if !yield(r, nil) {
				return
			}
		}
	}
}

type fakeTool struct {
	name string
}

func (f *fakeTool) Name() string                    { return f.name }
func (f *fakeTool) Description() string             { return "fake" }
func (f *fakeTool) Capabilities() []types.Capability { return []types.Capability{types.CapQuery} }
func (f *fakeTool) Schema() map[string]any           { return nil }
func (f *fakeTool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	return &tool.Result{Content: map[string]any{"rows": 1}}, nil
}

var _ tool.CallableTool = (*fakeTool)(nil)

func newClient(t *testing.T, model llm.LLM, next nextspeaker.Strategy, maxTurns int) *Client {
	t.Helper()
	reg := tool.NewToolRegistry()
	ft := &fakeTool{name: "sql_tool"}
	if err := reg.RegisterTool(ft, types.ToolRegistration{
		Name: ft.name, Capabilities: map[types.Capability]bool{types.CapQuery: true}, Enabled: true,
	}); err != nil {
		t.Fatalf("registering tool: %v", err)
	}
	sched := scheduler.New(reg, risk.New(false, risk.ShellAllowlist{}), scheduler.Config{RiskThreshold: types.RiskMedium})
	return New(model, reg, sched, nil, next, Config{MaxTurns: maxTurns})
}

func textOnlyTurn(text string) []*llm.Response {
	return []*llm.Response{
		{Partial: true, Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart(text)}}},
		{
			Partial:      false,
			Content:      &types.Content{Role: types.RoleModel, Parts: []types.Part{types.TextPart(text)}},
			FinishReason: llm.FinishReasonStop,
		},
	}
}

// toolCallTurn's FinishReason is Stop, not ToolCalls: the NextSpeaker
// heuristic only continues after a cleanly finished turn whose tool
// results are ready to react to, matching providers (e.g. OpenAI's
// auto tool-calling mode) that report "stop" even on a turn carrying
// function calls.
func toolCallTurn(callID, toolName string) []*llm.Response {
	return []*llm.Response{
		{
			Partial: false,
			Content: &types.Content{Role: types.RoleModel, Parts: []types.Part{
				types.FunctionCallPart(callID, toolName, map[string]any{}),
			}},
			FinishReason: llm.FinishReasonStop,
		},
	}
}

func drain(t *testing.T, seq iter.Seq2[*Event, error]) []*Event {
	t.Helper()
	var events []*Event
	for ev, err := range seq {
		if err != nil {
			t.Fatalf("unexpected stream error: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func TestSendMessageStreamTextOnlyEndsAfterOneTurn(t *testing.T) {
	model := &fakeLLM{turns: [][]*llm.Response{textOnlyTurn("hi there")}}
	c := newClient(t, model, nextspeaker.Heuristic{}, 5)

	events := drain(t, c.SendMessageStream(context.Background(), types.Content{
		Role: types.RoleUser, Parts: []types.Part{types.TextPart("hello")},
	}))

	if len(events) == 0 || events[len(events)-1].Kind != EventFinish {
		t.Fatalf("expected stream to end with EventFinish, got %+v", events)
	}
	if model.next != 1 {
		t.Fatalf("expected exactly 1 Turn, got %d", model.next)
	}

	contents := c.History().Contents()
	if len(contents) != 2 {
		t.Fatalf("expected user+model content, got %d entries", len(contents))
	}
}

func TestSendMessageStreamDispatchesToolCallsAndAppendsResponsesInOrder(t *testing.T) {
	model := &fakeLLM{turns: [][]*llm.Response{
		toolCallTurn("c1", "sql_tool"),
		textOnlyTurn("done"),
	}}
	c := newClient(t, model, nextspeaker.Heuristic{}, 5)

	events := drain(t, c.SendMessageStream(context.Background(), types.Content{
		Role: types.RoleUser, Parts: []types.Part{types.TextPart("query it")},
	}))

	var sawStart, sawFinish bool
	for _, ev := range events {
		if ev.Kind == EventToolStart && ev.CallID == "c1" {
			sawStart = true
		}
		if ev.Kind == EventToolFinished && ev.CallID == "c1" {
			sawFinish = true
		}
	}
	if !sawStart || !sawFinish {
		t.Fatalf("expected ToolStart and ToolFinished events for c1, got %+v", events)
	}

	var responseContent *types.Content
	for _, content := range c.History().Contents() {
		if content.Role == types.RoleFunction {
			cc := content
			responseContent = &cc
		}
	}
	if responseContent == nil {
		t.Fatalf("expected a function-role content in history")
	}
	responses := responseContent.FunctionResponses()
	if len(responses) != 1 || responses[0].ID != "c1" {
		t.Fatalf("expected one response for c1, got %+v", responses)
	}

	if model.next != 2 {
		t.Fatalf("expected NextSpeaker to continue into a second Turn, got %d turns", model.next)
	}
}

func TestSendMessageStreamRespectsMaxTurns(t *testing.T) {
	// MaxTurns=2 caps auto-continuations (iteration indices 0 and 1 may
	// still continue; iteration 2 is capped), so the initial turn plus
	// 2 continuations run: 3 turns total out of the 4 scripted.
	model := &fakeLLM{turns: [][]*llm.Response{
		toolCallTurn("c1", "sql_tool"),
		toolCallTurn("c2", "sql_tool"),
		toolCallTurn("c3", "sql_tool"),
		toolCallTurn("c4", "sql_tool"),
	}}
	c := newClient(t, model, nextspeaker.Heuristic{}, 2)

	drain(t, c.SendMessageStream(context.Background(), types.Content{
		Role: types.RoleUser, Parts: []types.Part{types.TextPart("go")},
	}))

	if model.next != 3 {
		t.Fatalf("expected exactly 3 turns under MaxTurns=2, got %d", model.next)
	}
}

func TestSendMessageStreamNoNextSpeakerStopsAfterOneTurn(t *testing.T) {
	model := &fakeLLM{turns: [][]*llm.Response{toolCallTurn("c1", "sql_tool")}}
	c := newClient(t, model, nil, 5)

	drain(t, c.SendMessageStream(context.Background(), types.Content{
		Role: types.RoleUser, Parts: []types.Part{types.TextPart("go")},
	}))

	if model.next != 1 {
		t.Fatalf("expected exactly 1 Turn with a nil NextSpeaker, got %d", model.next)
	}
}

func TestInterruptStopsTheStreamEarly(t *testing.T) {
	model := &fakeLLM{turns: [][]*llm.Response{
		toolCallTurn("c1", "sql_tool"),
		toolCallTurn("c2", "sql_tool"),
		toolCallTurn("c3", "sql_tool"),
	}}
	c := newClient(t, model, nextspeaker.Heuristic{}, 10)

	var seen int
	for range c.SendMessageStream(context.Background(), types.Content{
		Role: types.RoleUser, Parts: []types.Part{types.TextPart("go")},
	}) {
		seen++
		if seen == 1 {
			c.Interrupt()
		}
	}

	if model.next >= 10 {
		t.Fatalf("expected Interrupt to stop the loop well before MaxTurns, got %d turns", model.next)
	}
}
