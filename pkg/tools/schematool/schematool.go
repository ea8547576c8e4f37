// Package schematool implements schema_tool: introspects the current
// database connection's schema, grounded on the teacher's
// pkg/context/indexing/sql_source.go (which drives a SQL source's schema
// discovery off an Introspect-shaped call) adapted to call
// dbadapter.Adapter.Introspect directly instead of indexing into a
// retrieval store.
package schematool

import (
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Config configures the schema_tool.
type Config struct {
	Connections *dbadapter.ConnectionManager
}

// Tool introspects a database connection's schema. It never implements
// tool.RiskAssessor: introspection is always types.RiskSafe, the
// scheduler's default for a tool with no assessor.
type Tool struct {
	cfg Config
}

// New constructs a schema_tool Tool.
func New(cfg Config) *Tool {
	return &Tool{cfg: cfg}
}

func (t *Tool) Name() string { return "schema_tool" }

func (t *Tool) Description() string {
	return "Introspect the current database connection's schema: tables, columns, indexes, foreign keys, views, and stored procedures."
}

func (t *Tool) Capabilities() []types.Capability {
	return []types.Capability{types.CapExplore}
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"connection": map[string]any{"type": "string", "description": "Optional database connection name; defaults to the current connection"},
		},
	}
}

func (t *Tool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	var conn *dbadapter.ActiveConnection
	var err error
	if name := ctx.Database(); name != "" {
		conn, err = t.cfg.Connections.GetNamed(ctx, name)
	} else {
		conn, err = t.cfg.Connections.Get(ctx)
	}
	if err != nil {
		return nil, err
	}

	schema, err := conn.Adapter.Introspect(ctx)
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindQuery, "introspecting schema", err)
	}

	tables := make([]map[string]any, 0, len(schema.Tables))
	for _, tbl := range schema.Tables {
		tables = append(tables, map[string]any{
			"name":         tbl.Name,
			"columns":      tbl.Columns,
			"indexes":      tbl.Indexes,
			"foreign_keys": tbl.ForeignKeys,
		})
	}

	return &tool.Result{Content: map[string]any{
		"tables": tables,
		"views":  schema.Views,
		"procs":  schema.Procs,
	}}, nil
}

var _ tool.CallableTool = (*Tool)(nil)
