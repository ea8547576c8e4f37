package sqlite

import (
	"context"
	"testing"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
)

func TestSQLiteAdapterQueryRoundTrip(t *testing.T) {
	cfg := &dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:"}
	adapter, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer adapter.Close()

	if _, err := adapter.ExecuteQuery(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)", nil, dbadapter.QueryOptions{}); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := adapter.ExecuteQuery(ctx, "INSERT INTO widgets (name) VALUES (?)", []any{"sprocket"}, dbadapter.QueryOptions{}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	result, err := adapter.ExecuteQuery(ctx, "SELECT id, name FROM widgets", nil, dbadapter.QueryOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(result.Rows))
	}
	if result.Rows[0][1] != "sprocket" {
		t.Fatalf("expected name sprocket, got %v", result.Rows[0][1])
	}

	schema, err := adapter.Introspect(ctx)
	if err != nil {
		t.Fatalf("introspect: %v", err)
	}
	if len(schema.Tables) != 1 || schema.Tables[0].Name != "widgets" {
		t.Fatalf("expected one widgets table, got %+v", schema.Tables)
	}
}

func TestSQLiteAdapterReadOnlyRejectsWrites(t *testing.T) {
	cfg := &dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:", ReadOnly: true}
	adapter, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer adapter.Close()

	if _, err := adapter.ExecuteQuery(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY)", nil, dbadapter.QueryOptions{}); err == nil {
		t.Fatal("expected read-only adapter to reject CREATE TABLE")
	}
}
