package sqltool

import (
	"context"
	"testing"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
	_ "github.com/Din829/DbRheo-CLI/pkg/dbadapter/sqlite"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

func newTestManager(t *testing.T) *dbadapter.ConnectionManager {
	t.Helper()
	cfg := &dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	mgr := dbadapter.NewConnectionManager(map[string]*dbrheoconfig.DatabaseConfig{"default": cfg}, "default", dbadapter.NewFactory())
	if _, err := mgr.Open(context.Background(), "default", cfg, true); err != nil {
		t.Fatalf("opening test connection: %v", err)
	}
	return mgr
}

func newTestCtx() tool.Context {
	return tool.NewContext(types.NewAbortSignal(context.Background()), "", "")
}

func TestCallRejectsMissingSQL(t *testing.T) {
	tl := New(Config{Connections: newTestManager(t), Risk: risk.New(false, risk.ShellAllowlist{})})
	if _, err := tl.Call(newTestCtx(), map[string]any{}); err == nil {
		t.Fatalf("expected an error for a missing sql argument")
	}
}

func TestCallExecutesDDLThenQuery(t *testing.T) {
	mgr := newTestManager(t)
	tl := New(Config{Connections: mgr, Risk: risk.New(false, risk.ShellAllowlist{})})
	ctx := newTestCtx()

	if _, err := tl.Call(ctx, map[string]any{"sql": "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"}); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := tl.Call(ctx, map[string]any{"sql": "INSERT INTO widgets (id, name) VALUES (1, 'gear')"}); err != nil {
		t.Fatalf("inserting row: %v", err)
	}

	result, err := tl.Call(ctx, map[string]any{"sql": "SELECT id, name FROM widgets"})
	if err != nil {
		t.Fatalf("querying rows: %v", err)
	}
	content := result.Content.(map[string]any)
	rows := content["rows"].([][]any)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	cols := content["columns"].([]string)
	if len(cols) != 2 || cols[0] != "id" || cols[1] != "name" {
		t.Fatalf("unexpected columns: %+v", cols)
	}
}

func TestCallHonorsNamedConnection(t *testing.T) {
	mgr := newTestManager(t)
	tl := New(Config{Connections: mgr, Risk: risk.New(false, risk.ShellAllowlist{})})
	named := tool.NewContext(types.NewAbortSignal(context.Background()), "", "default")

	if _, err := tl.Call(named, map[string]any{"sql": "SELECT 1"}); err != nil {
		t.Fatalf("querying via named connection: %v", err)
	}
}

func TestAssessRiskClassifiesSelectAsSafe(t *testing.T) {
	tl := New(Config{Connections: newTestManager(t), Risk: risk.New(false, risk.ShellAllowlist{})})
	assessment := tl.AssessRisk(map[string]any{"sql": "SELECT * FROM widgets"})
	if assessment.Level != types.RiskSafe {
		t.Fatalf("expected RiskSafe for a SELECT, got %v", assessment.Level)
	}
}

func TestAssessRiskClassifiesDropAsHighOrAbove(t *testing.T) {
	tl := New(Config{Connections: newTestManager(t), Risk: risk.New(false, risk.ShellAllowlist{})})
	assessment := tl.AssessRisk(map[string]any{"sql": "DROP TABLE widgets"})
	if assessment.Level < types.RiskHigh {
		t.Fatalf("expected at least RiskHigh for a DROP, got %v", assessment.Level)
	}
}

func TestCallTxBeginCommitPersists(t *testing.T) {
	mgr := newTestManager(t)
	tl := New(Config{Connections: mgr, Risk: risk.New(false, risk.ShellAllowlist{})})
	ctx := newTestCtx()

	if _, err := tl.Call(ctx, map[string]any{"sql": "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"}); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := tl.Call(ctx, map[string]any{"tx": "begin"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tl.Call(ctx, map[string]any{"sql": "INSERT INTO widgets (id, name) VALUES (1, 'gear')"}); err != nil {
		t.Fatalf("inserting in tx: %v", err)
	}
	if _, err := tl.Call(ctx, map[string]any{"tx": "commit"}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	result, err := tl.Call(ctx, map[string]any{"sql": "SELECT name FROM widgets"})
	if err != nil {
		t.Fatalf("querying rows: %v", err)
	}
	rows := result.Content.(map[string]any)["rows"].([][]any)
	if len(rows) != 1 || rows[0][0] != "gear" {
		t.Fatalf("expected committed row to be visible, got %+v", rows)
	}
}

func TestCallTxBeginRollbackDiscards(t *testing.T) {
	mgr := newTestManager(t)
	tl := New(Config{Connections: mgr, Risk: risk.New(false, risk.ShellAllowlist{})})
	ctx := newTestCtx()

	if _, err := tl.Call(ctx, map[string]any{"sql": "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)"}); err != nil {
		t.Fatalf("creating table: %v", err)
	}
	if _, err := tl.Call(ctx, map[string]any{"tx": "begin"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := tl.Call(ctx, map[string]any{"sql": "INSERT INTO widgets (id, name) VALUES (1, 'gear')"}); err != nil {
		t.Fatalf("inserting in tx: %v", err)
	}
	if _, err := tl.Call(ctx, map[string]any{"tx": "rollback"}); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	result, err := tl.Call(ctx, map[string]any{"sql": "SELECT name FROM widgets"})
	if err != nil {
		t.Fatalf("querying rows: %v", err)
	}
	rows := result.Content.(map[string]any)["rows"].([][]any)
	if len(rows) != 0 {
		t.Fatalf("expected rolled-back row to be absent, got %+v", rows)
	}
}

func TestCallTxBeginRejectsReadOnly(t *testing.T) {
	cfg := &dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:", ReadOnly: true}
	mgr := dbadapter.NewConnectionManager(map[string]*dbrheoconfig.DatabaseConfig{"default": cfg}, "default", dbadapter.NewFactory())
	if _, err := mgr.Open(context.Background(), "default", cfg, true); err != nil {
		t.Fatalf("opening test connection: %v", err)
	}
	tl := New(Config{Connections: mgr, Risk: risk.New(true, risk.ShellAllowlist{})})

	if _, err := tl.Call(newTestCtx(), map[string]any{"tx": "begin"}); err == nil {
		t.Fatal("expected begin on a read-only connection to fail")
	}
}
