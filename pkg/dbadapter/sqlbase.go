package dbadapter

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
)

// IntrospectFunc produces a Schema from an open *sql.DB. Each dialect
// subpackage supplies its own, since table/column/index/FK discovery SQL is
// not portable across drivers.
type IntrospectFunc func(ctx context.Context, db *sql.DB) (*Schema, error)

// SQLAdapter is the shared database/sql-backed implementation of Adapter.
// Connect/Close/ExecuteQuery/ExecuteStream/BeginTx/Commit/Rollback are
// identical in shape across sqlite/postgres/mysql once parameterized by
// driver name, DSN, and an IntrospectFunc — generalized from the teacher's
// DBPool (pkg/config/dbpool.go), which open/configures/pings a *sql.DB the
// same way for all three drivers and differs only in SQLite's
// single-connection + WAL special-casing (kept here behind dialect ==
// DialectSQLite rather than duplicated per subpackage).
type SQLAdapter struct {
	driverName string
	dsn        string
	dialect    Dialect
	readOnly   bool
	introspect IntrospectFunc

	mu    sync.Mutex
	db    *sql.DB
	txSeq atomic.Int64
	txs   map[string]*sql.Tx
	spIDs map[string]string // handle id -> savepoint name, set only for savepoint handles
	txMu  sync.Mutex
}

// NewSQLAdapter constructs an unconnected SQLAdapter.
func NewSQLAdapter(driverName, dsn string, dialect Dialect, readOnly bool, introspect IntrospectFunc) *SQLAdapter {
	return &SQLAdapter{
		driverName: driverName,
		dsn:        dsn,
		dialect:    dialect,
		readOnly:   readOnly,
		introspect: introspect,
		txs:        make(map[string]*sql.Tx),
		spIDs:      make(map[string]string),
	}
}

// SupportsSavepoints reports whether nested transactions are supported.
// SQLite runs on a single pooled connection (see Connect), so a nested
// begin on the same connection would block forever; postgres and mysql
// support real SAVEPOINTs.
func (a *SQLAdapter) SupportsSavepoints() bool {
	return a.dialect != DialectSQLite
}

// BeginSavepoint opens a SAVEPOINT within the transaction identified by
// parent.
func (a *SQLAdapter) BeginSavepoint(ctx context.Context, parent TxHandle) (TxHandle, error) {
	if !a.SupportsSavepoints() {
		return TxHandle{}, dbrheoerrors.New(dbrheoerrors.KindTxState,
			"adapter does not support nested transactions/savepoints")
	}

	a.txMu.Lock()
	tx, ok := a.txs[parent.ID()]
	a.txMu.Unlock()
	if !ok {
		return TxHandle{}, dbrheoerrors.New(dbrheoerrors.KindTxState, "unknown transaction handle "+parent.ID())
	}

	spName := fmt.Sprintf("dbrheo_sp_%d", a.txSeq.Add(1))
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+spName); err != nil {
		return TxHandle{}, dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "creating savepoint", err)
	}

	id := parent.ID() + "/" + spName
	a.txMu.Lock()
	a.txs[id] = tx
	a.spIDs[id] = spName
	a.txMu.Unlock()
	return NewTxHandle(id), nil
}

func (a *SQLAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}

	db, err := sql.Open(a.driverName, a.dsn)
	if err != nil {
		return dbrheoerrors.Wrap(dbrheoerrors.KindConnect, "opening "+a.driverName, err)
	}

	if a.dialect == DialectSQLite {
		// SQLite permits only one writer; serializing through a single
		// connection avoids "database is locked" under concurrent tool calls.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return dbrheoerrors.Wrap(dbrheoerrors.KindConnect, "pinging "+a.driverName, err)
	}

	if a.dialect == DialectSQLite {
		db.ExecContext(pingCtx, "PRAGMA journal_mode=WAL")
		db.ExecContext(pingCtx, "PRAGMA busy_timeout=10000")
		if a.readOnly {
			db.ExecContext(pingCtx, "PRAGMA query_only=ON")
		}
	}

	a.db = db
	return nil
}

func (a *SQLAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *SQLAdapter) ReadOnly() bool  { return a.readOnly }
func (a *SQLAdapter) Dialect() Dialect { return a.dialect }

func (a *SQLAdapter) checkWrite(sqlText string) error {
	if a.readOnly && isMutatingStatement(sqlText) {
		return dbrheoerrors.New(dbrheoerrors.KindReadOnly, "write statement rejected: adapter is read-only")
	}
	return nil
}

// sqlExecutor is the subset of *sql.DB and *sql.Tx that ExecuteQuery and
// ExecuteStream need, letting both run against either the adapter's
// ambient connection or a frame opened by TransactionManager.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// executor resolves which connection a statement runs against: the open
// transaction or savepoint identified by h, or the adapter's ambient *sql.DB
// when h is zero.
func (a *SQLAdapter) executor(h TxHandle) (sqlExecutor, error) {
	if h.IsZero() {
		return a.db, nil
	}
	a.txMu.Lock()
	tx, ok := a.txs[h.ID()]
	a.txMu.Unlock()
	if !ok {
		return nil, dbrheoerrors.New(dbrheoerrors.KindTxState, "unknown transaction handle "+h.ID())
	}
	return tx, nil
}

func (a *SQLAdapter) ExecuteQuery(ctx context.Context, sqlText string, params []any, opts QueryOptions) (*ResultSet, error) {
	if err := a.checkWrite(sqlText); err != nil {
		return nil, err
	}
	if a.db == nil {
		return nil, dbrheoerrors.New(dbrheoerrors.KindConnect, "adapter not connected")
	}
	exec, err := a.executor(opts.Tx)
	if err != nil {
		return nil, err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	if !isQueryStatement(sqlText) {
		res, err := exec.ExecContext(ctx, sqlText, params...)
		if err != nil {
			return nil, classifyQueryErr(err)
		}
		affected, _ := res.RowsAffected()
		return &ResultSet{RowsAffected: affected, ElapsedMs: time.Since(start).Milliseconds()}, nil
	}

	rows, err := exec.QueryContext(ctx, sqlText, params...)
	if err != nil {
		return nil, classifyQueryErr(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, dbrheoerrors.Wrap(dbrheoerrors.KindQuery, "reading columns", err)
	}

	result := &ResultSet{Columns: cols}
	max := opts.MaxRows
	for rows.Next() {
		if max > 0 && len(result.Rows) >= max {
			result.Truncated = true
			break
		}
		row, err := scanRow(rows, len(cols))
		if err != nil {
			return nil, dbrheoerrors.Wrap(dbrheoerrors.KindQuery, "scanning row", err)
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryErr(err)
	}
	result.ElapsedMs = time.Since(start).Milliseconds()
	return result, nil
}

// ExecuteStream runs sqlText and yields rows in fixed-size batches. Grounded
// on the teacher's model.go/tool.go use of iter.Seq2[T, error] for lazily
// consumed, cancellable sequences.
func (a *SQLAdapter) ExecuteStream(ctx context.Context, sqlText string, params []any, opts QueryOptions) iter.Seq2[*RowBatch, error] {
	const batchSize = 200
	return func(yield func(*RowBatch, error) bool) {
		if err := a.checkWrite(sqlText); err != nil {
			yield(nil, err)
			return
		}
		if a.db == nil {
			yield(nil, dbrheoerrors.New(dbrheoerrors.KindConnect, "adapter not connected"))
			return
		}
		exec, err := a.executor(opts.Tx)
		if err != nil {
			yield(nil, err)
			return
		}

		if opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
			defer cancel()
		}

		rows, err := exec.QueryContext(ctx, sqlText, params...)
		if err != nil {
			yield(nil, classifyQueryErr(err))
			return
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			yield(nil, dbrheoerrors.Wrap(dbrheoerrors.KindQuery, "reading columns", err))
			return
		}

		batch := &RowBatch{Columns: cols}
		total := 0
		for rows.Next() {
			select {
			case <-ctx.Done():
				yield(nil, dbrheoerrors.Wrap(dbrheoerrors.KindCancelled, "stream cancelled", ctx.Err()))
				return
			default:
			}

			row, err := scanRow(rows, len(cols))
			if err != nil {
				yield(nil, dbrheoerrors.Wrap(dbrheoerrors.KindQuery, "scanning row", err))
				return
			}
			batch.Rows = append(batch.Rows, row)
			total++

			if opts.MaxRows > 0 && total >= opts.MaxRows {
				yield(batch, nil)
				return
			}
			if len(batch.Rows) >= batchSize {
				if !yield(batch, nil) {
					return
				}
				batch = &RowBatch{Columns: cols}
			}
		}
		if len(batch.Rows) > 0 {
			if !yield(batch, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, classifyQueryErr(err))
		}
	}
}

func (a *SQLAdapter) BeginTx(ctx context.Context, isolation Isolation) (TxHandle, error) {
	if a.readOnly {
		return TxHandle{}, dbrheoerrors.New(dbrheoerrors.KindReadOnly, "begin rejected: adapter is read-only")
	}
	if a.db == nil {
		return TxHandle{}, dbrheoerrors.New(dbrheoerrors.KindConnect, "adapter not connected")
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return TxHandle{}, dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "beginning transaction", err)
	}
	id := fmt.Sprintf("%s-%d", a.dialect, a.txSeq.Add(1))
	a.txMu.Lock()
	a.txs[id] = tx
	a.txMu.Unlock()
	return NewTxHandle(id), nil
}

func (a *SQLAdapter) Commit(ctx context.Context, h TxHandle) error {
	if spName, tx, ok := a.takeSavepoint(h); ok {
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+spName); err != nil {
			return dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "releasing savepoint", err)
		}
		return nil
	}

	tx, err := a.takeTx(h)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "committing transaction", err)
	}
	return nil
}

func (a *SQLAdapter) Rollback(ctx context.Context, h TxHandle) error {
	if spName, tx, ok := a.takeSavepoint(h); ok {
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+spName); err != nil {
			return dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "rolling back to savepoint", err)
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+spName); err != nil {
			return dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "releasing savepoint after rollback", err)
		}
		return nil
	}

	tx, err := a.takeTx(h)
	if err != nil {
		return err
	}
	if err := tx.Rollback(); err != nil {
		return dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "rolling back transaction", err)
	}
	return nil
}

// takeSavepoint removes h's bookkeeping and returns its savepoint name and
// backing tx if h identifies a savepoint handle (ok=false otherwise, in
// which case no state is modified).
func (a *SQLAdapter) takeSavepoint(h TxHandle) (string, *sql.Tx, bool) {
	a.txMu.Lock()
	defer a.txMu.Unlock()
	spName, ok := a.spIDs[h.ID()]
	if !ok {
		return "", nil, false
	}
	tx := a.txs[h.ID()]
	delete(a.spIDs, h.ID())
	delete(a.txs, h.ID())
	return spName, tx, true
}

func (a *SQLAdapter) takeTx(h TxHandle) (*sql.Tx, error) {
	a.txMu.Lock()
	defer a.txMu.Unlock()
	tx, ok := a.txs[h.ID()]
	if !ok {
		return nil, dbrheoerrors.New(dbrheoerrors.KindTxState, "unknown transaction handle "+h.ID())
	}
	delete(a.txs, h.ID())
	return tx, nil
}

func (a *SQLAdapter) Introspect(ctx context.Context) (*Schema, error) {
	if a.db == nil {
		return nil, dbrheoerrors.New(dbrheoerrors.KindConnect, "adapter not connected")
	}
	return a.introspect(ctx, a.db)
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	dest := make([]any, n)
	ptrs := make([]any, n)
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range dest {
		if b, ok := v.([]byte); ok {
			dest[i] = string(b)
		}
	}
	return dest, nil
}

func classifyQueryErr(err error) error {
	return dbrheoerrors.Wrap(dbrheoerrors.KindQuery, "executing statement", err)
}
