package dbadapter

import (
	"context"
	stderrors "errors"
	"sync"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
)

// txFrame is one open transaction or savepoint frame for a single database.
type txFrame struct {
	handle Adapter
	tx     TxHandle
}

// TransactionManager tracks an open transaction stack per database name, so
// tool calls within a turn can begin/commit/rollback against a database
// without the caller threading a TxHandle through every call. A Begin call
// against a database that already has an open frame nests via the adapter's
// BeginSavepoint — per spec §4.E, "nested withTx uses savepoints where
// supported" — and fails with TxStateError if the adapter reports
// SupportsSavepoints() false (sqlite's single-connection mode).
type TransactionManager struct {
	mu     sync.Mutex
	frames map[string][]txFrame
}

// NewTransactionManager constructs an empty TransactionManager.
func NewTransactionManager() *TransactionManager {
	return &TransactionManager{frames: make(map[string][]txFrame)}
}

// Begin opens a transaction (or, if name already has an open frame, a
// savepoint nested within it) against the given adapter and records it as
// the database's new current frame.
func (m *TransactionManager) Begin(ctx context.Context, name string, a Adapter, isolation Isolation) (TxHandle, error) {
	if a.ReadOnly() {
		return TxHandle{}, dbrheoerrors.New(dbrheoerrors.KindReadOnly,
			"database "+name+" is read-only and cannot begin a transaction")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.frames[name]
	var h TxHandle
	var err error
	if len(existing) == 0 {
		h, err = a.BeginTx(ctx, isolation)
	} else {
		if !a.SupportsSavepoints() {
			return TxHandle{}, dbrheoerrors.New(dbrheoerrors.KindTxState,
				"database "+name+" already has an open transaction and its adapter does not support nested savepoints")
		}
		h, err = a.BeginSavepoint(ctx, existing[len(existing)-1].tx)
	}
	if err != nil {
		return TxHandle{}, err
	}
	m.frames[name] = append(m.frames[name], txFrame{handle: a, tx: h})
	return h, nil
}

// WithTx begins a frame for name, runs fn, and commits on success or rolls
// back if fn returns an error or ctx is cancelled, per spec §4.E's withTx
// scoping helper. A rollback error is wrapped around fn's original error
// rather than replacing it.
func (m *TransactionManager) WithTx(ctx context.Context, name string, a Adapter, isolation Isolation, fn func(ctx context.Context, h TxHandle) error) error {
	h, err := m.Begin(ctx, name, a, isolation)
	if err != nil {
		return err
	}

	if runErr := fn(ctx, h); runErr != nil {
		if rbErr := m.Rollback(ctx, name); rbErr != nil {
			return dbrheoerrors.Wrap(dbrheoerrors.KindTxState, "rolling back after "+runErr.Error(), stderrors.Join(runErr, rbErr))
		}
		return runErr
	}

	if ctx.Err() != nil {
		m.Rollback(ctx, name)
		return ctx.Err()
	}

	return m.Commit(ctx, name)
}

// Current returns the innermost open TxHandle for name, if any.
func (m *TransactionManager) Current(name string) (TxHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := m.frames[name]
	if len(frames) == 0 {
		return TxHandle{}, false
	}
	return frames[len(frames)-1].tx, true
}

// Commit commits the innermost open frame for name and pops it.
func (m *TransactionManager) Commit(ctx context.Context, name string) error {
	frame, err := m.pop(name)
	if err != nil {
		return err
	}
	return frame.handle.Commit(ctx, frame.tx)
}

// Rollback rolls back the innermost open frame for name and pops it.
func (m *TransactionManager) Rollback(ctx context.Context, name string) error {
	frame, err := m.pop(name)
	if err != nil {
		return err
	}
	return frame.handle.Rollback(ctx, frame.tx)
}

func (m *TransactionManager) pop(name string) (txFrame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frames := m.frames[name]
	if len(frames) == 0 {
		return txFrame{}, dbrheoerrors.New(dbrheoerrors.KindTxState, "no open transaction for "+name)
	}
	frame := frames[len(frames)-1]
	m.frames[name] = frames[:len(frames)-1]
	return frame, nil
}
