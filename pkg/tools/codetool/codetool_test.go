package codetool

import (
	"context"
	"testing"

	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

func newTestTool() *Tool {
	return New(Config{Risk: risk.New(false, risk.ShellAllowlist{}), Interpreter: "sh"})
}

func newTestCtx(root string) tool.Context {
	return tool.NewContext(types.NewAbortSignal(context.Background()), root, "")
}

func TestCallExecutesScriptAndCapturesStdout(t *testing.T) {
	tl := newTestTool()
	result, err := tl.Call(newTestCtx(t.TempDir()), map[string]any{"code": "echo from-script"})
	if err != nil {
		t.Fatalf("running script: %v", err)
	}
	content := result.Content.(map[string]any)
	if content["stdout"] != "from-script\n" {
		t.Fatalf("expected stdout=from-script\\n, got %+v", content["stdout"])
	}
}

func TestCallRejectsEmptyCode(t *testing.T) {
	tl := newTestTool()
	if _, err := tl.Call(newTestCtx(t.TempDir()), map[string]any{}); err == nil {
		t.Fatalf("expected an error for missing code")
	}
}

func TestAssessRiskAlwaysFloorsAtMedium(t *testing.T) {
	tl := newTestTool()
	got := tl.AssessRisk(map[string]any{"code": "print(1)"})
	if got.Level != types.RiskMedium {
		t.Fatalf("expected RiskMedium regardless of content, got %v", got.Level)
	}
}

func TestDefaultTimeoutHasAPositiveDefault(t *testing.T) {
	tl := newTestTool()
	if tl.DefaultTimeout() <= 0 {
		t.Fatalf("expected a positive default timeout")
	}
}
