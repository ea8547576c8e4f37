// Package sqltool implements sql_tool: executes a SQL statement against
// the current (or a named) database connection and returns its result
// set or rows-affected count. Grounded on the "tool wraps a database
// handle" shape from other_examples' mcpany-core sql upstream tool and on
// the teacher's commandtool.Config/New/Call construction pattern
// (v2/tool/commandtool/command.go), adapted from a shell command to a SQL
// statement against dbadapter.Adapter instead of os/exec.
package sqltool

import (
	"github.com/Din829/DbRheo-CLI/pkg/dbadapter"
	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Config configures the sql_tool.
type Config struct {
	Connections *dbadapter.ConnectionManager
	Risk        *risk.Evaluator
	// Tx tracks the open transaction/savepoint frame per connection so a
	// "begin"/"commit"/"rollback" call and the statements between them
	// share state across separate Call invocations.
	Tx *dbadapter.TransactionManager
	// MaxRows caps the rows a single ExecuteQuery call returns; 0 means
	// the package default of 1000.
	MaxRows int
}

// Tool executes arbitrary SQL against a configured database connection.
// Its Capabilities always include CapModify/CapSchemaChange regardless of
// the statement actually sent, since the scheduler's side-effect-free
// fan-out eligibility is decided at registration time, not per call — a
// sql_tool call is never run concurrently with another call against the
// same connection.
type Tool struct {
	cfg Config
}

// New constructs a sql_tool Tool.
func New(cfg Config) *Tool {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}
	if cfg.Tx == nil {
		cfg.Tx = dbadapter.NewTransactionManager()
	}
	return &Tool{cfg: cfg}
}

func (t *Tool) Name() string { return "sql_tool" }

func (t *Tool) Description() string {
	return "Execute a SQL statement against the current database connection and return its result set or rows-affected count."
}

func (t *Tool) Capabilities() []types.Capability {
	return []types.Capability{types.CapQuery, types.CapModify, types.CapSchemaChange}
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sql":        map[string]any{"type": "string", "description": "The SQL statement to execute"},
			"params":     map[string]any{"type": "array", "description": "Positional parameters for a parameterized statement"},
			"connection": map[string]any{"type": "string", "description": "Optional database connection name; defaults to the current connection"},
			"tx":         map[string]any{"type": "string", "enum": []string{"begin", "commit", "rollback"}, "description": "Open, commit, or roll back a transaction on this connection instead of (or in addition to) running sql"},
		},
	}
}

// AssessRisk implements tool.RiskAssessor by classifying the statement
// with the shared risk.Evaluator.
func (t *Tool) AssessRisk(args map[string]any) types.RiskAssessment {
	sqlText, _ := args["sql"].(string)
	return t.cfg.Risk.EvaluateSQL(sqlText)
}

func (t *Tool) Call(ctx tool.Context, args map[string]any) (*tool.Result, error) {
	conn, err := t.connection(ctx)
	if err != nil {
		return nil, err
	}

	if op, ok := args["tx"].(string); ok && op != "" {
		return t.callTx(ctx, conn, op)
	}

	sqlText, ok := args["sql"].(string)
	if !ok || sqlText == "" {
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "sql is required")
	}

	var params []any
	if raw, ok := args["params"].([]any); ok {
		params = raw
	}

	h, _ := t.cfg.Tx.Current(conn.Alias)

	result, err := conn.Adapter.ExecuteQuery(ctx, sqlText, params, dbadapter.QueryOptions{
		MaxRows:  t.cfg.MaxRows,
		ReadOnly: conn.Adapter.ReadOnly(),
		Tx:       h,
	})
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindQuery, "executing statement", err)
	}

	return &tool.Result{Content: map[string]any{
		"columns":       result.Columns,
		"rows":          result.Rows,
		"rows_affected": result.RowsAffected,
		"truncated":     result.Truncated,
		"elapsed_ms":    result.ElapsedMs,
	}}, nil
}

// callTx opens, commits, or rolls back a transaction frame for conn, per
// spec §4.E. The frame is tracked by connection alias in t.cfg.Tx so
// subsequent sql-bearing calls against the same connection run inside it
// until it is committed or rolled back.
func (t *Tool) callTx(ctx tool.Context, conn *dbadapter.ActiveConnection, op string) (*tool.Result, error) {
	switch op {
	case "begin":
		h, err := t.cfg.Tx.Begin(ctx, conn.Alias, conn.Adapter, "")
		if err != nil {
			return nil, err
		}
		conn.InTx = true
		return &tool.Result{Content: map[string]any{"tx": h.ID(), "status": "begun"}}, nil
	case "commit":
		if err := t.cfg.Tx.Commit(ctx, conn.Alias); err != nil {
			return nil, err
		}
		if _, open := t.cfg.Tx.Current(conn.Alias); !open {
			conn.InTx = false
		}
		return &tool.Result{Content: map[string]any{"status": "committed"}}, nil
	case "rollback":
		if err := t.cfg.Tx.Rollback(ctx, conn.Alias); err != nil {
			return nil, err
		}
		if _, open := t.cfg.Tx.Current(conn.Alias); !open {
			conn.InTx = false
		}
		return &tool.Result{Content: map[string]any{"status": "rolled_back"}}, nil
	default:
		return nil, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "unknown tx operation "+op)
	}
}

func (t *Tool) connection(ctx tool.Context) (*dbadapter.ActiveConnection, error) {
	if name := ctx.Database(); name != "" {
		return t.cfg.Connections.GetNamed(ctx, name)
	}
	return t.cfg.Connections.Get(ctx)
}

var (
	_ tool.CallableTool = (*Tool)(nil)
	_ tool.RiskAssessor = (*Tool)(nil)
)
