package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// fakeTool is a minimal CallableTool for scheduler tests. It optionally
// implements tool.RiskAssessor via assess.
type fakeTool struct {
	name    string
	caps    []types.Capability
	assess  func(args map[string]any) types.RiskAssessment
	call    func(ctx tool.Context, args map[string]any) (*tool.Result, error)
	calls   *int
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "fake" }
func (f *fakeTool) Capabilities() []types.Capability    { return f.caps }
func (f *fakeTool) Schema() map[string]any              { return nil }
func (f *fakeTool) AssessRisk(args map[string]any) types.RiskAssessment {
	if f.assess != nil {
		return f.assess(args)
	}
	return types.RiskAssessment{Level: types.RiskSafe}
}
func (f *fakeTool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	if f.calls != nil {
		*f.calls++
	}
	if f.call != nil {
		return f.call(ctx, args)
	}
	return &tool.Result{Content: map[string]any{"ok": true}}, nil
}

var _ tool.CallableTool = (*fakeTool)(nil)
var _ tool.RiskAssessor = (*fakeTool)(nil)

func newRegistryWith(t *testing.T, tools ...*fakeTool) *tool.ToolRegistry {
	r := tool.NewToolRegistry()
	for _, ft := range tools {
		caps := map[types.Capability]bool{}
		for _, c := range ft.caps {
			caps[c] = true
		}
		err := r.RegisterTool(ft, types.ToolRegistration{
			Name: ft.name, Capabilities: caps, Enabled: true,
		})
		if err != nil {
			t.Fatalf("registering %s: %v", ft.name, err)
		}
	}
	return r
}

func TestDispatchSafeCallSucceeds(t *testing.T) {
	ft := &fakeTool{name: "query_tool", caps: []types.Capability{types.CapQuery}}
	registry := newRegistryWith(t, ft)
	s := New(registry, risk.New(false, risk.ShellAllowlist{}), Config{RiskThreshold: types.RiskMedium})

	signal := types.NewAbortSignal(context.Background())
	responses, err := s.Dispatch(context.Background(), signal, "/tmp", "default",
		[]tool.Call{{ID: "c1", Name: "query_tool", Args: map[string]any{}}}, nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if len(responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(responses))
	}
	if responses[0].Error != nil {
		t.Fatalf("expected success, got error %+v", responses[0].Error)
	}
}

func TestDispatchHighRiskWithoutCallbackIsRejected(t *testing.T) {
	ft := &fakeTool{
		name: "sql_tool",
		caps: []types.Capability{types.CapModify},
		assess: func(args map[string]any) types.RiskAssessment {
			return types.RiskAssessment{Level: types.RiskHigh, RequiresConfirmation: true}
		},
	}
	registry := newRegistryWith(t, ft)
	s := New(registry, risk.New(false, risk.ShellAllowlist{}), Config{RiskThreshold: types.RiskMedium})

	signal := types.NewAbortSignal(context.Background())
	responses, err := s.Dispatch(context.Background(), signal, "/tmp", "default",
		[]tool.Call{{ID: "c1", Name: "sql_tool", Args: map[string]any{"sql": "DROP TABLE t"}}}, nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if responses[0].Error == nil {
		t.Fatalf("expected rejection without a confirmation callback, got success")
	}
	if responses[0].Error.Kind != "CancelledError" {
		t.Fatalf("expected CancelledError kind, got %s", responses[0].Error.Kind)
	}
}

func TestDispatchConfirmationApprovedAndRemembered(t *testing.T) {
	var calls int
	ft := &fakeTool{
		name:  "sql_tool",
		caps:  []types.Capability{types.CapModify},
		calls: &calls,
		assess: func(args map[string]any) types.RiskAssessment {
			return types.RiskAssessment{Level: types.RiskHigh, RequiresConfirmation: true}
		},
	}
	registry := newRegistryWith(t, ft)
	s := New(registry, risk.New(false, risk.ShellAllowlist{}), Config{RiskThreshold: types.RiskMedium})

	var confirmations int
	s.OnConfirmationRequired(func(ctx context.Context, req ConfirmationRequest) types.ConfirmationDecision {
		confirmations++
		return types.ConfirmationDecision{Approved: true, Remember: true}
	})

	signal := types.NewAbortSignal(context.Background())
	args := map[string]any{"sql": "DROP TABLE t"}

	responses, _ := s.Dispatch(context.Background(), signal, "/tmp", "default",
		[]tool.Call{{ID: "c1", Name: "sql_tool", Args: args}}, nil)
	if responses[0].Error != nil {
		t.Fatalf("expected success after approval, got error %+v", responses[0].Error)
	}

	responses, _ = s.Dispatch(context.Background(), signal, "/tmp", "default",
		[]tool.Call{{ID: "c2", Name: "sql_tool", Args: args}}, nil)
	if responses[0].Error != nil {
		t.Fatalf("expected remembered approval to skip the gate, got error %+v", responses[0].Error)
	}
	if confirmations != 1 {
		t.Fatalf("expected exactly 1 confirmation prompt, got %d", confirmations)
	}
	if calls != 2 {
		t.Fatalf("expected the tool to run twice, got %d", calls)
	}
}

func TestDispatchPreservesCallOrderRegardlessOfCompletionOrder(t *testing.T) {
	slow := &fakeTool{
		name: "slow_query", caps: []types.Capability{types.CapQuery},
		call: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			time.Sleep(30 * time.Millisecond)
			return &tool.Result{Content: map[string]any{"which": "slow"}}, nil
		},
	}
	fast := &fakeTool{
		name: "fast_query", caps: []types.Capability{types.CapQuery},
		call: func(ctx tool.Context, args map[string]any) (*tool.Result, error) {
			return &tool.Result{Content: map[string]any{"which": "fast"}}, nil
		},
	}
	registry := newRegistryWith(t, slow, fast)
	s := New(registry, risk.New(false, risk.ShellAllowlist{}), Config{RiskThreshold: types.RiskMedium})

	signal := types.NewAbortSignal(context.Background())
	responses, _ := s.Dispatch(context.Background(), signal, "/tmp", "default",
		[]tool.Call{
			{ID: "c1", Name: "slow_query", Args: map[string]any{}},
			{ID: "c2", Name: "fast_query", Args: map[string]any{}},
		}, nil)

	if responses[0].ID != "c1" || responses[1].ID != "c2" {
		t.Fatalf("expected responses in call order [c1,c2], got [%s,%s]", responses[0].ID, responses[1].ID)
	}
}

func TestDispatchUnknownToolProducesError(t *testing.T) {
	registry := newRegistryWith(t)
	s := New(registry, risk.New(false, risk.ShellAllowlist{}), Config{RiskThreshold: types.RiskMedium})

	signal := types.NewAbortSignal(context.Background())
	responses, _ := s.Dispatch(context.Background(), signal, "/tmp", "default",
		[]tool.Call{{ID: "c1", Name: "does_not_exist", Args: map[string]any{}}}, nil)

	if responses[0].Error == nil || responses[0].Error.Kind != "InvalidToolCallError" {
		t.Fatalf("expected InvalidToolCallError, got %+v", responses[0].Error)
	}
}

func TestDispatchAbortBeforeExecutionCancelsQueuedCalls(t *testing.T) {
	var calls int
	ft := &fakeTool{name: "query_tool", caps: []types.Capability{types.CapQuery}, calls: &calls}
	registry := newRegistryWith(t, ft)
	s := New(registry, risk.New(false, risk.ShellAllowlist{}), Config{RiskThreshold: types.RiskMedium})

	signal := types.NewAbortSignal(context.Background())
	signal.Trip()

	responses, _ := s.Dispatch(context.Background(), signal, "/tmp", "default",
		[]tool.Call{{ID: "c1", Name: "query_tool", Args: map[string]any{}}}, nil)

	if responses[0].Error == nil || responses[0].Error.Kind != "CancelledError" {
		t.Fatalf("expected CancelledError after pre-tripped signal, got %+v", responses[0].Error)
	}
	if calls != 0 {
		t.Fatalf("expected the tool not to run after an aborted dispatch, got %d calls", calls)
	}
}
