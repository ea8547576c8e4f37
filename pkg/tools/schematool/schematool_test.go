package schematool

import (
	"context"
	"testing"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
	_ "github.com/Din829/DbRheo-CLI/pkg/dbadapter/sqlite"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

func newTestManager(t *testing.T) *dbadapter.ConnectionManager {
	t.Helper()
	cfg := &dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	mgr := dbadapter.NewConnectionManager(map[string]*dbrheoconfig.DatabaseConfig{"default": cfg}, "default", dbadapter.NewFactory())
	conn, err := mgr.Open(context.Background(), "default", cfg, true)
	if err != nil {
		t.Fatalf("opening test connection: %v", err)
	}

	if _, err := conn.Adapter.ExecuteQuery(context.Background(),
		"CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL)", nil, dbadapter.QueryOptions{}); err != nil {
		t.Fatalf("seeding schema: %v", err)
	}
	return mgr
}

func newTestCtx(database string) tool.Context {
	return tool.NewContext(types.NewAbortSignal(context.Background()), "", database)
}

func TestCallIntrospectsTables(t *testing.T) {
	tl := New(Config{Connections: newTestManager(t)})

	result, err := tl.Call(newTestCtx(""), map[string]any{})
	if err != nil {
		t.Fatalf("introspecting schema: %v", err)
	}

	content := result.Content.(map[string]any)
	tables := content["tables"].([]map[string]any)
	if len(tables) != 1 || tables[0]["name"] != "widgets" {
		t.Fatalf("expected one widgets table, got %+v", tables)
	}

	columns := tables[0]["columns"].([]dbadapter.Column)
	if len(columns) != 2 {
		t.Fatalf("expected 2 columns, got %d", len(columns))
	}
}

func TestCallHonorsNamedConnection(t *testing.T) {
	tl := New(Config{Connections: newTestManager(t)})

	if _, err := tl.Call(newTestCtx("default"), map[string]any{}); err != nil {
		t.Fatalf("introspecting via named connection: %v", err)
	}
}

func TestCapabilitiesIsExploreOnly(t *testing.T) {
	tl := New(Config{Connections: newTestManager(t)})
	caps := tl.Capabilities()
	if len(caps) != 1 || caps[0] != types.CapExplore {
		t.Fatalf("expected exactly [CapExplore], got %+v", caps)
	}
}
