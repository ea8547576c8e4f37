package filetool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

func newTestTool(t *testing.T) (*Tool, string) {
	t.Helper()
	root := t.TempDir()
	return New(Config{WorkspaceRoot: root, Risk: risk.New(false, risk.ShellAllowlist{})}), root
}

func newTestCtx(root string) tool.Context {
	return tool.NewContext(types.NewAbortSignal(context.Background()), root, "")
}

func TestCallWritesThenReadsBack(t *testing.T) {
	tl, root := newTestTool(t)
	ctx := newTestCtx(root)

	result, err := tl.Call(ctx, map[string]any{"operation": "write", "path": "notes/today.txt", "content": "hello"})
	if err != nil {
		t.Fatalf("writing file: %v", err)
	}
	if result.Content.(map[string]any)["action"] != "created" {
		t.Fatalf("expected action=created, got %+v", result.Content)
	}

	result, err = tl.Call(ctx, map[string]any{"operation": "read", "path": "notes/today.txt"})
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if result.Content.(map[string]any)["content"] != "hello" {
		t.Fatalf("expected content=hello, got %+v", result.Content)
	}
}

func TestCallWriteReportsOverwritten(t *testing.T) {
	tl, root := newTestTool(t)
	ctx := newTestCtx(root)

	if err := os.WriteFile(filepath.Join(root, "existing.txt"), []byte("old"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	result, err := tl.Call(ctx, map[string]any{"operation": "write", "path": "existing.txt", "content": "new"})
	if err != nil {
		t.Fatalf("overwriting file: %v", err)
	}
	if result.Content.(map[string]any)["action"] != "overwritten" {
		t.Fatalf("expected action=overwritten, got %+v", result.Content)
	}
}

func TestCallListsDirectoryEntries(t *testing.T) {
	tl, root := newTestTool(t)
	ctx := newTestCtx(root)

	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("seeding dir: %v", err)
	}

	result, err := tl.Call(ctx, map[string]any{"operation": "list", "path": "."})
	if err != nil {
		t.Fatalf("listing directory: %v", err)
	}
	entries := result.Content.(map[string]any)["entries"].([]map[string]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
}

func TestCallRejectsPathEscapingWorkspaceRoot(t *testing.T) {
	tl, root := newTestTool(t)
	ctx := newTestCtx(root)

	if _, err := tl.Call(ctx, map[string]any{"operation": "read", "path": "../outside.txt"}); err == nil {
		t.Fatalf("expected an error for a path escaping the workspace root")
	}
}

func TestCallRejectsAbsolutePath(t *testing.T) {
	tl, root := newTestTool(t)
	ctx := newTestCtx(root)

	if _, err := tl.Call(ctx, map[string]any{"operation": "read", "path": "/etc/passwd"}); err == nil {
		t.Fatalf("expected an error for an absolute path")
	}
}

func TestAssessRiskIsSafeForReadAndList(t *testing.T) {
	tl, _ := newTestTool(t)
	if got := tl.AssessRisk(map[string]any{"operation": "read", "path": "a.txt"}); got.Level != types.RiskSafe {
		t.Fatalf("expected RiskSafe for read, got %v", got.Level)
	}
	if got := tl.AssessRisk(map[string]any{"operation": "list", "path": "."}); got.Level != types.RiskSafe {
		t.Fatalf("expected RiskSafe for list, got %v", got.Level)
	}
}

func TestAssessRiskFlagsWriteEscapingWorkspaceAsHigh(t *testing.T) {
	tl, _ := newTestTool(t)
	got := tl.AssessRisk(map[string]any{"operation": "write", "path": "../outside.txt", "content": "x"})
	if got.Level < types.RiskHigh {
		t.Fatalf("expected at least RiskHigh for an escaping write, got %v", got.Level)
	}
}
