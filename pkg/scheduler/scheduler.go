// Package scheduler drives the FunctionCalls emitted by a Turn through the
// validating -> awaiting_confirmation/queued -> executing -> terminal state
// machine in pkg/types/toolcall.go, fanning side-effect-free calls out
// concurrently while serializing side-effectful ones per target connection.
// Grounded on the teacher's HITL approval flow (v2/tool/approvaltool/
// approval.go's RequiresApproval gate) generalized into the
// awaiting_confirmation state, and on the bounded-concurrency idiom
// golang.org/x/sync/errgroup.Group.SetLimit provides in place of the
// teacher's hand-rolled goroutine+channel fan-out in pkg/llms/openai.go's
// streaming reader.
package scheduler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/risk"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// defaultCallTimeout bounds a tool call when neither the tool nor the
// caller's args specify one.
const defaultCallTimeout = 30 * time.Second

// defaultCancelGrace is how long an executing call gets to react to
// cancellation cooperatively before the scheduler detaches and marks it
// cancelled anyway.
const defaultCancelGrace = 5 * time.Second

// EventKind is one of the scheduler's lifecycle event tags, per spec §4.I.
type EventKind string

const (
	EventValidating           EventKind = "validating"
	EventAwaitingConfirmation EventKind = "awaiting_confirmation"
	EventRunning              EventKind = "running"
	EventFinished             EventKind = "finished"
	EventCancelled            EventKind = "cancelled"
)

// Event is one lifecycle notification for a single call, consumed by the
// host UI via the onEvent callback passed to Dispatch.
type Event struct {
	Kind    EventKind
	CallID  string
	Name    string
	Risk    types.RiskLevel
	Summary string
	OK      bool
}

// ConfirmationRequest is what the host's confirmation callback receives
// when a call's risk meets or exceeds the configured threshold.
type ConfirmationRequest struct {
	CallID string
	Name   string
	Args   map[string]any
	Risk   types.RiskAssessment
}

// ConfirmationCallback is the host-supplied gate for awaiting_confirmation
// calls, registered via Scheduler.OnConfirmationRequired, per spec §6's
// scheduler.onConfirmationRequired(cb).
type ConfirmationCallback func(ctx context.Context, req ConfirmationRequest) types.ConfirmationDecision

// Config configures scheduler policy; it is read from pkg/config.Config at
// wiring time in cmd/dbrheo.
type Config struct {
	RiskThreshold  types.RiskLevel
	AutoExecute    bool
	MaxConcurrent  int
	DefaultTimeout time.Duration
}

// Scheduler drives calls through their state machine. A single Scheduler
// is shared across a session; OnConfirmationRequired and session-scoped
// "remember" decisions persist across Dispatch calls within that session.
type Scheduler struct {
	registry  *tool.ToolRegistry
	evaluator *risk.Evaluator
	cfg       Config

	mu         sync.Mutex
	confirm    ConfirmationCallback
	remembered map[string]bool // "name|argsFingerprint" -> approved
}

// New constructs a Scheduler over registry and evaluator, applying cfg
// defaults (MaxConcurrent<=0 becomes 4, DefaultTimeout<=0 becomes 30s).
func New(registry *tool.ToolRegistry, evaluator *risk.Evaluator, cfg Config) *Scheduler {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultCallTimeout
	}
	return &Scheduler{
		registry:   registry,
		evaluator:  evaluator,
		cfg:        cfg,
		remembered: make(map[string]bool),
	}
}

// OnConfirmationRequired registers the host's confirmation gate, replacing
// any previously registered callback.
func (s *Scheduler) OnConfirmationRequired(cb ConfirmationCallback) {
	s.mu.Lock()
	s.confirm = cb
	s.mu.Unlock()
}

// Dispatch drives every call through validating -> ... -> a terminal state
// and returns one FunctionResponse per call, ordered exactly as calls was,
// independent of completion order. onEvent, if non-nil, is invoked for
// every lifecycle transition from any goroutine; the caller is responsible
// for its own synchronization if it mutates shared state from onEvent.
func (s *Scheduler) Dispatch(
	ctx context.Context,
	signal *types.AbortSignal,
	workspaceRoot, database string,
	calls []tool.Call,
	onEvent func(Event),
) ([]types.FunctionResponse, error) {
	if onEvent == nil {
		onEvent = func(Event) {}
	}

	responses := make([]types.FunctionResponse, len(calls))
	concurrentIdx := make([]int, 0, len(calls))
	serialGroups := make(map[string][]int)

	for i, c := range calls {
		if _, err := s.registry.GetTool(c.Name); err != nil {
			responses[i] = errorResponse(c, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "unknown tool "+c.Name))
			onEvent(Event{Kind: EventFinished, CallID: c.ID, Name: c.Name, OK: false, Summary: "unknown tool"})
			continue
		}
		if sideEffectFree(s.registry, c.Name) {
			concurrentIdx = append(concurrentIdx, i)
		} else {
			key := connectionKey(c, database)
			serialGroups[key] = append(serialGroups[key], i)
		}
	}

	g, gctx := errgroup.WithContext(detachableContext(ctx, signal))
	g.SetLimit(s.cfg.MaxConcurrent)

	for _, idx := range concurrentIdx {
		idx := idx
		g.Go(func() error {
			responses[idx] = s.run(gctx, signal, workspaceRoot, database, calls[idx], onEvent)
			return nil
		})
	}

	keys := make([]string, 0, len(serialGroups))
	for k := range serialGroups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		idxs := serialGroups[key]
		g.Go(func() error {
			for _, idx := range idxs {
				responses[idx] = s.run(gctx, signal, workspaceRoot, database, calls[idx], onEvent)
			}
			return nil
		})
	}

	_ = g.Wait()
	return responses, nil
}

// detachableContext derives a context that is cancelled either when ctx is
// or when signal trips, whichever comes first, so errgroup's own
// WithContext cancellation composes with the turn's AbortSignal.
func detachableContext(ctx context.Context, signal *types.AbortSignal) context.Context {
	if signal == nil {
		return ctx
	}
	merged, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-signal.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}

// run drives a single call through the full state machine and returns its
// FunctionResponse. It never returns an error itself: every failure mode
// (invalid args, rejected confirmation, timeout, cancellation, tool error)
// is captured in the returned FunctionResponse.Error, per spec §4.I's
// "Result shape".
func (s *Scheduler) run(
	ctx context.Context,
	signal *types.AbortSignal,
	workspaceRoot, defaultDatabase string,
	c tool.Call,
	onEvent func(Event),
) types.FunctionResponse {
	record := &types.ToolCallRecord{ID: c.ID, Name: c.Name, Args: c.Args, State: types.StateValidating, StartedAt: time.Now()}
	onEvent(Event{Kind: EventValidating, CallID: c.ID, Name: c.Name})

	t, err := s.registry.GetTool(c.Name)
	if err != nil {
		return s.fail(record, onEvent, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "unknown tool "+c.Name))
	}

	callable, isCallable := t.(tool.CallableTool)
	if !isCallable {
		return s.fail(record, onEvent, dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "tool "+c.Name+" is not callable synchronously"))
	}

	if err := validateRequired(callable.Schema(), c.Args); err != nil {
		return s.fail(record, onEvent, err)
	}

	assessment := assessRisk(t, s.evaluator, c.Args)
	record.RiskLevel = assessment.Level
	record.RiskReasons = assessment.Reasons

	approved := s.cfg.AutoExecute || !risk.ThresholdMet(assessment.Level, s.cfg.RiskThreshold)
	if !approved {
		fingerprint := fingerprintOf(c.Name, c.Args)
		s.mu.Lock()
		remembered, known := s.remembered[fingerprint]
		s.mu.Unlock()
		if known {
			approved = remembered
		} else {
			record.State = types.StateAwaitingConfirmation
			onEvent(Event{Kind: EventAwaitingConfirmation, CallID: c.ID, Name: c.Name, Risk: assessment.Level, Summary: summarize(assessment)})

			if signal != nil && signal.Triggered() {
				return s.cancel(record, onEvent, "aborted while awaiting confirmation")
			}

			decision := s.requestConfirmation(ctx, c, assessment)
			if decision.Remember {
				s.mu.Lock()
				s.remembered[fingerprint] = decision.Approved
				s.mu.Unlock()
			}
			approved = decision.Approved
			record.Confirmation = &decision
		}
	}

	if !approved {
		return s.cancel(record, onEvent, "rejected by confirmation gate")
	}

	if !record.CanTransitionTo(types.StateQueued) {
		return s.fail(record, onEvent, dbrheoerrors.New(dbrheoerrors.KindInternal, "illegal transition to queued"))
	}
	record.State = types.StateQueued

	if signal != nil && signal.Triggered() {
		return s.cancel(record, onEvent, "aborted before execution")
	}

	record.State = types.StateExecuting
	onEvent(Event{Kind: EventRunning, CallID: c.ID, Name: c.Name})

	timeout := callTimeout(t, c.Args, s.cfg.DefaultTimeout)
	callArgs := stripTimeoutArg(c.Args)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	database := defaultDatabase
	if db, ok := callArgs["connection"].(string); ok && db != "" {
		database = db
	}
	toolCtx := tool.NewContext(signalFor(execCtx, signal), workspaceRoot, database)

	result, err := runWithGrace(toolCtx, callable, callArgs)
	if execCtx.Err() != nil && signal != nil && signal.Triggered() {
		return s.cancel(record, onEvent, "aborted during execution")
	}
	if execCtx.Err() != nil {
		return s.fail(record, onEvent, dbrheoerrors.Wrap(dbrheoerrors.KindTimeout, fmt.Sprintf("%s exceeded %s", c.Name, timeout), execCtx.Err()))
	}
	if err != nil {
		return s.fail(record, onEvent, dbrheoerrors.Wrap(dbrheoerrors.KindToolExecution, "executing "+c.Name, err))
	}
	if result.Error != "" {
		return s.fail(record, onEvent, dbrheoerrors.New(dbrheoerrors.KindToolExecution, result.Error))
	}

	record.State = types.StateSuccess
	record.EndedAt = time.Now()
	response := toResponseMap(result)
	onEvent(Event{Kind: EventFinished, CallID: c.ID, Name: c.Name, OK: true})
	return types.FunctionResponse{ID: c.ID, Name: c.Name, Response: response}
}

// runWithGrace calls the tool on its own goroutine so a timed-out or
// cancelled call doesn't block run() past execCtx's deadline — the tool is
// expected to observe toolCtx.Done() cooperatively; if it doesn't within
// defaultCancelGrace after the context is done, run() returns anyway and
// the goroutine is left to finish and its result discarded.
func runWithGrace(ctx tool.Context, callable tool.CallableTool, args map[string]any) (*tool.Result, error) {
	type outcome struct {
		result *tool.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := callable.Call(ctx, args)
		done <- outcome{result: r, err: err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		select {
		case o := <-done:
			return o.result, o.err
		case <-time.After(defaultCancelGrace):
			return nil, ctx.Err()
		}
	}
}

func (s *Scheduler) requestConfirmation(ctx context.Context, c tool.Call, assessment types.RiskAssessment) types.ConfirmationDecision {
	s.mu.Lock()
	cb := s.confirm
	s.mu.Unlock()
	if cb == nil {
		// No host is listening; fail safe by rejecting rather than
		// silently auto-approving a gated call.
		return types.ConfirmationDecision{Approved: false}
	}
	return cb(ctx, ConfirmationRequest{CallID: c.ID, Name: c.Name, Args: c.Args, Risk: assessment})
}

func (s *Scheduler) fail(record *types.ToolCallRecord, onEvent func(Event), err error) types.FunctionResponse {
	record.State = types.StateError
	record.EndedAt = time.Now()
	toolErr := toToolError(err)
	record.Err = toolErr
	onEvent(Event{Kind: EventFinished, CallID: record.ID, Name: record.Name, OK: false, Summary: toolErr.Message})
	return types.FunctionResponse{ID: record.ID, Name: record.Name, Error: toolErr}
}

func (s *Scheduler) cancel(record *types.ToolCallRecord, onEvent func(Event), reason string) types.FunctionResponse {
	record.State = types.StateCancelled
	record.EndedAt = time.Now()
	toolErr := &types.ToolError{Kind: string(dbrheoerrors.KindCancelled), Message: reason}
	onEvent(Event{Kind: EventCancelled, CallID: record.ID, Name: record.Name, Summary: reason})
	return types.FunctionResponse{ID: record.ID, Name: record.Name, Error: toolErr}
}

func toToolError(err error) *types.ToolError {
	var derr *dbrheoerrors.Error
	if stderrors.As(err, &derr) {
		return &types.ToolError{Kind: string(derr.Kind), Message: derr.Message}
	}
	return &types.ToolError{Kind: string(dbrheoerrors.KindInternal), Message: err.Error()}
}

func errorResponse(c tool.Call, err error) types.FunctionResponse {
	return types.FunctionResponse{ID: c.ID, Name: c.Name, Error: toToolError(err)}
}

func toResponseMap(r *tool.Result) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	if m, ok := r.Content.(map[string]any); ok {
		return m
	}
	return map[string]any{"result": r.Content}
}

// assessRisk prefers the tool's own RiskAssessor (sql_tool/shell_tool/
// file_tool/code_exec_tool each know their own argument shape); for a tool
// that doesn't implement it, it falls back to the shared evaluator's
// generic SQL/shell heuristics keyed off common argument names, and
// finally to RiskSafe for anything with neither.
func assessRisk(t tool.Tool, evaluator *risk.Evaluator, args map[string]any) types.RiskAssessment {
	if assessor, ok := t.(tool.RiskAssessor); ok {
		return assessor.AssessRisk(args)
	}
	if evaluator == nil {
		return types.RiskAssessment{Level: types.RiskSafe}
	}
	if sql, ok := args["sql"].(string); ok {
		return evaluator.EvaluateSQL(sql)
	}
	if cmd, ok := args["command"].(string); ok {
		return evaluator.EvaluateShellCommand(cmd)
	}
	return types.RiskAssessment{Level: types.RiskSafe}
}

func sideEffectFree(registry *tool.ToolRegistry, name string) bool {
	reg, ok := registry.Registration(name)
	if !ok {
		return false
	}
	return types.SideEffectFree(reg.Capabilities)
}

func connectionKey(c tool.Call, fallback string) string {
	if db, ok := c.Args["connection"].(string); ok && db != "" {
		return db
	}
	return fallback
}

func callTimeout(t tool.Tool, args map[string]any, def time.Duration) time.Duration {
	if ms, ok := args["_timeoutMs"]; ok {
		switch v := ms.(type) {
		case float64:
			return time.Duration(v) * time.Millisecond
		case int:
			return time.Duration(v) * time.Millisecond
		}
	}
	if dt, ok := t.(tool.DefaultTimeouter); ok {
		return dt.DefaultTimeout()
	}
	return def
}

func stripTimeoutArg(args map[string]any) map[string]any {
	if _, ok := args["_timeoutMs"]; !ok {
		return args
	}
	clean := make(map[string]any, len(args))
	for k, v := range args {
		if k == "_timeoutMs" {
			continue
		}
		clean[k] = v
	}
	return clean
}

func fingerprintOf(name string, args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		return name
	}
	return name + "|" + string(b)
}

func summarize(a types.RiskAssessment) string {
	if len(a.Reasons) == 0 {
		return a.Level.String()
	}
	return a.Level.String() + ": " + a.Reasons[0]
}

func validateRequired(schema map[string]any, args map[string]any) error {
	if schema == nil {
		return nil
	}
	required, ok := schema["required"].([]string)
	if !ok {
		if raw, ok := schema["required"].([]any); ok {
			for _, r := range raw {
				if name, ok := r.(string); ok {
					if _, present := args[name]; !present {
						return dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "missing required argument "+name)
					}
				}
			}
		}
		return nil
	}
	for _, name := range required {
		if _, present := args[name]; !present {
			return dbrheoerrors.New(dbrheoerrors.KindInvalidToolCall, "missing required argument "+name)
		}
	}
	return nil
}

// signalFor wraps execCtx in a types.AbortSignal so tool.Context.Signal()
// reflects the per-call timeout deadline in addition to the turn-wide
// signal's trip state.
func signalFor(execCtx context.Context, parent *types.AbortSignal) *types.AbortSignal {
	sig := types.NewAbortSignal(execCtx)
	if parent == nil {
		return sig
	}
	go func() {
		select {
		case <-parent.Done():
			sig.Trip()
		case <-sig.Done():
		}
	}()
	return sig
}
