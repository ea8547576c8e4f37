package dbadapter_test

import (
	"context"
	"testing"

	dbrheoconfig "github.com/Din829/DbRheo-CLI/pkg/config"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter/sqlite"
)

func TestTransactionManagerCommit(t *testing.T) {
	ctx := context.Background()
	adapter, err := sqlite.New(&dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer adapter.Close()

	if _, err := adapter.ExecuteQuery(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)", nil, dbadapter.QueryOptions{}); err != nil {
		t.Fatalf("create table: %v", err)
	}

	mgr := dbadapter.NewTransactionManager()
	h, err := mgr.Begin(ctx, "main", adapter, "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}

	if _, err := adapter.ExecuteQuery(ctx, "INSERT INTO widgets (name) VALUES (?)", []any{"sprocket"}, dbadapter.QueryOptions{Tx: h}); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := mgr.Commit(ctx, "main"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	result, err := adapter.ExecuteQuery(ctx, "SELECT name FROM widgets", nil, dbadapter.QueryOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(result.Rows) != 1 || result.Rows[0][0] != "sprocket" {
		t.Fatalf("expected committed row to be visible, got %+v", result.Rows)
	}
}

func TestTransactionManagerRollback(t *testing.T) {
	ctx := context.Background()
	adapter, err := sqlite.New(&dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer adapter.Close()

	if _, err := adapter.ExecuteQuery(ctx, "CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT)", nil, dbadapter.QueryOptions{}); err != nil {
		t.Fatalf("create table: %v", err)
	}

	mgr := dbadapter.NewTransactionManager()
	h, err := mgr.Begin(ctx, "main", adapter, "")
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if _, err := adapter.ExecuteQuery(ctx, "INSERT INTO widgets (name) VALUES (?)", []any{"sprocket"}, dbadapter.QueryOptions{Tx: h}); err != nil {
		t.Fatalf("insert in tx: %v", err)
	}
	if err := mgr.Rollback(ctx, "main"); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}

	result, err := adapter.ExecuteQuery(ctx, "SELECT name FROM widgets", nil, dbadapter.QueryOptions{})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(result.Rows) != 0 {
		t.Fatalf("expected rolled-back row to be absent, got %+v", result.Rows)
	}
}

func TestTransactionManagerRejectsReadOnly(t *testing.T) {
	ctx := context.Background()
	adapter, err := sqlite.New(&dbrheoconfig.DatabaseConfig{Driver: "sqlite", Database: ":memory:", ReadOnly: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := adapter.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer adapter.Close()

	mgr := dbadapter.NewTransactionManager()
	if _, err := mgr.Begin(ctx, "main", adapter, ""); err == nil {
		t.Fatal("expected Begin on a read-only adapter to fail")
	}
}
