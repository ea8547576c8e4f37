package tool

import (
	"time"

	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// callContext is the concrete Context every tool call runs under.
type callContext struct {
	*types.AbortSignal
	workspaceRoot string
	database      string
}

// NewContext builds a tool Context from an AbortSignal (whose Context()
// method supplies context.Context), a workspace root, and a target
// database name.
func NewContext(signal *types.AbortSignal, workspaceRoot, database string) Context {
	return &callContext{AbortSignal: signal, workspaceRoot: workspaceRoot, database: database}
}

func (c *callContext) Signal() *types.AbortSignal { return c.AbortSignal }
func (c *callContext) WorkspaceRoot() string      { return c.workspaceRoot }
func (c *callContext) Database() string           { return c.database }

// Deadline/Done/Err/Value satisfy context.Context by delegating to the
// embedded AbortSignal's underlying context.Context.
func (c *callContext) Deadline() (time.Time, bool) {
	return c.AbortSignal.Context().Deadline()
}

func (c *callContext) Done() <-chan struct{} {
	return c.AbortSignal.Context().Done()
}

func (c *callContext) Err() error {
	return c.AbortSignal.Context().Err()
}

func (c *callContext) Value(key any) any {
	return c.AbortSignal.Context().Value(key)
}
