// Package tool defines the interfaces tools implement and the scheduler
// consumes: Tool/CallableTool/StreamingTool, execution Context, call/result
// shapes, and Definition conversion for LLM function-calling. Grounded on
// the teacher's pkg/tool/tool.go layered interface design, narrowed to
// DbRheo's single execution model (every tool call carries a risk
// assessment and may require confirmation) in place of the teacher's
// HITL/async/RequestProcessor extension points.
package tool

import (
	"context"
	"iter"
	"time"

	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Tool is the base interface every concrete tool implements.
type Tool interface {
	// Name returns the unique tool name the LLM refers to in function calls.
	Name() string

	// Description is shown to the LLM to decide when to invoke this tool.
	Description() string

	// Capabilities reports the closed-enum capabilities this tool exercises,
	// used by the risk evaluator and by side-effect-free concurrency fan-out.
	Capabilities() []types.Capability
}

// CallableTool extends Tool with synchronous execution.
type CallableTool interface {
	Tool

	// Call executes the tool and returns its result or an error.
	Call(ctx Context, args map[string]any) (*Result, error)

	// Schema returns the JSON schema for the tool's parameters, or nil if
	// the tool takes none.
	Schema() map[string]any
}

// StreamingTool extends Tool with incremental output, for tools whose
// execution naturally produces output over time (shell commands, streamed
// query results).
type StreamingTool interface {
	Tool

	// CallStreaming executes the tool, yielding incremental Results. The
	// final yielded Result has Streaming=false.
	CallStreaming(ctx Context, args map[string]any) iter.Seq2[*Result, error]

	// Schema returns the JSON schema for the tool's parameters.
	Schema() map[string]any
}

// Result is the outcome of one tool execution (or one chunk of a streaming
// execution).
type Result struct {
	// Content is the tool's output — typically a string or structured data
	// to be serialized into a FunctionResponse.
	Content any

	// Streaming indicates this is an intermediate chunk, not the final result.
	Streaming bool

	// Error, if non-empty, describes a tool-level failure (distinct from a
	// Go error return — this is surfaced to the model as a FunctionResponse
	// error, letting the model retry or adapt rather than aborting the turn).
	Error string

	// Metadata carries structured extras (row counts, elapsed time, etc.)
	// alongside Content.
	Metadata map[string]any
}

// Context is the execution context passed to every tool call: the abortable
// context, the workspace root tools must confine file/shell access to, and
// the database connection name the call should target.
type Context interface {
	context.Context

	// Signal returns the turn's AbortSignal, for tools that need to react
	// to cancellation beyond what ctx.Done() alone conveys (e.g. to stop a
	// streaming subprocess cleanly).
	Signal() *types.AbortSignal

	// WorkspaceRoot is the directory file_tool/shell_tool/code_exec_tool
	// confine relative paths and working directories to.
	WorkspaceRoot() string

	// Database is the connection name this call should target; empty means
	// the configured default.
	Database() string
}

// Definition is a tool's LLM-facing function-calling definition.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a Tool to its Definition, consulting whichever of
// CallableTool/StreamingTool it implements for the parameter schema.
func ToDefinition(t Tool) Definition {
	def := Definition{Name: t.Name(), Description: t.Description()}
	switch impl := t.(type) {
	case CallableTool:
		def.Parameters = impl.Schema()
	case StreamingTool:
		def.Parameters = impl.Schema()
	}
	return def
}

// Call is an LLM's request to invoke a tool, mirroring types.FunctionCall
// plus the scheduler's bookkeeping needs.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// RiskAssessor is implemented by tools whose risk depends on their
// arguments (sql_tool, shell_tool, file_tool, code_exec_tool). The
// scheduler consults it during the validating state. For a tool that
// doesn't implement it, the scheduler classifies a "sql" or "command"
// string argument with the shared risk.Evaluator and otherwise treats the
// call as types.RiskSafe, matching a pure read/explore tool with nothing
// to gate.
type RiskAssessor interface {
	AssessRisk(args map[string]any) types.RiskAssessment
}

// DefaultTimeouter is implemented by tools that declare a default
// execution timeout other than the scheduler's built-in default. A
// per-call override is always available via the reserved "_timeoutMs"
// arg key regardless of whether a tool implements this.
type DefaultTimeouter interface {
	DefaultTimeout() time.Duration
}
