// Package dbadapter defines the dialect-agnostic database adapter
// contract plus the factory, connection manager, and transaction manager
// that sit on top of it. Concrete dialects (sqlite, postgres, mysql) live
// in subpackages and are wired in by cmd/dbrheo via the factory's
// constructor registry.
package dbadapter

import (
	"context"
	"iter"
	"time"
)

// Dialect is the closed enum of SQL dialects an Adapter may report.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// QueryOptions bounds a single query execution.
type QueryOptions struct {
	Timeout  time.Duration
	MaxRows  int
	ReadOnly bool
	// Tx, if non-zero, routes the statement through the open transaction
	// or savepoint frame it identifies instead of the adapter's ambient
	// connection, per spec §4.E's withTx scoping.
	Tx TxHandle
}

// ResultSet is the outcome of a non-streaming query.
type ResultSet struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	Truncated    bool
	ElapsedMs    int64
}

// RowBatch is one chunk of a streamed query result.
type RowBatch struct {
	Columns []string
	Rows    [][]any
}

// Column describes one column of a table in a Schema.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	PK       bool
	Default  string
}

// Index describes one index on a table.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey describes one foreign key constraint.
type ForeignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}

// Table describes one introspected table.
type Table struct {
	Name        string
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// Schema is the result of introspecting a database.
type Schema struct {
	Tables []Table
	Views  []string
	Procs  []string
}

// Isolation is a transaction isolation level; empty means driver default.
type Isolation string

// TxHandle identifies one in-flight transaction (or savepoint) frame.
type TxHandle struct {
	id string
}

// ID returns the handle's opaque identifier, stable across a transaction's
// lifetime; used for logging and for correlating begin/commit/rollback.
func (h TxHandle) ID() string { return h.id }

// IsZero reports whether h identifies no transaction.
func (h TxHandle) IsZero() bool { return h.id == "" }

// NewTxHandle constructs a TxHandle; exported for use by adapter
// implementations in dialect subpackages.
func NewTxHandle(id string) TxHandle { return TxHandle{id: id} }

// Adapter is the contract every dialect-specific database adapter
// implements: connect/close, query execution (batch and streaming),
// transaction control, introspection, and dialect identification.
type Adapter interface {
	// Connect establishes the underlying connection. Idempotent.
	Connect(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error

	// ExecuteQuery runs sql once and returns the full result.
	ExecuteQuery(ctx context.Context, sql string, params []any, opts QueryOptions) (*ResultSet, error)

	// ExecuteStream runs sql and yields row batches lazily. The returned
	// sequence is finite and not restartable.
	ExecuteStream(ctx context.Context, sql string, params []any, opts QueryOptions) iter.Seq2[*RowBatch, error]

	// BeginTx starts a transaction (or, if one is already open on this
	// adapter and the driver supports it, a savepoint).
	BeginTx(ctx context.Context, isolation Isolation) (TxHandle, error)

	// Commit commits the transaction/savepoint identified by h.
	Commit(ctx context.Context, h TxHandle) error

	// Rollback rolls back the transaction/savepoint identified by h.
	Rollback(ctx context.Context, h TxHandle) error

	// Introspect returns the database's schema.
	Introspect(ctx context.Context) (*Schema, error)

	// Dialect reports which SQL dialect this adapter speaks.
	Dialect() Dialect

	// ReadOnly reports whether this adapter was configured read-only.
	ReadOnly() bool

	// SupportsSavepoints reports whether BeginSavepoint can nest within an
	// already-open transaction on this adapter. SQLite's single-connection
	// mode (see SQLAdapter.Connect) means a nested begin on that one
	// connection would deadlock, so the sqlite adapter reports false.
	SupportsSavepoints() bool

	// BeginSavepoint opens a nested frame within the transaction identified
	// by parent. Returns TxStateError if SupportsSavepoints() is false.
	BeginSavepoint(ctx context.Context, parent TxHandle) (TxHandle, error)
}
