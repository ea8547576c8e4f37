// Package client is DbRheo's top-level composition root: it owns the
// conversation History, the tool Registry, the Scheduler, the LLM, the
// HistoryCompressor and the NextSpeaker strategy, and drives the single
// sendMessageStream loop that ties them together. Grounded on the
// teacher's llmagent.Flow (pkg/agent/llmagent/*.go: one Flow.Run drives
// repeated model calls + tool dispatch + history bookkeeping, itself
// returning an iter.Seq2[*agent.Event, error] of UI-facing events) —
// Client plays that role for DbRheo's Turn/Scheduler split instead of the
// teacher's single reasoning.Strategy loop.
package client

import (
	"context"
	stderrors "errors"
	"iter"
	"sync"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/history"
	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/nextspeaker"
	"github.com/Din829/DbRheo-CLI/pkg/scheduler"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/turn"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// EventKind tags the public event stream a host consumes from
// SendMessageStream, per spec §6's tagged variants.
type EventKind string

const (
	EventText                     EventKind = "text"
	EventToolStart                EventKind = "tool_start"
	EventToolAwaitingConfirmation EventKind = "tool_awaiting_confirmation"
	EventToolRunning              EventKind = "tool_running"
	EventToolFinished             EventKind = "tool_finished"
	EventUsageUpdate              EventKind = "usage_update"
	EventError                    EventKind = "error"
	EventFinish                   EventKind = "finish"
)

// Event is one item of the host-facing stream. Only the fields relevant
// to Kind are populated.
type Event struct {
	Kind EventKind

	Text string // EventText

	CallID  string          // EventToolStart/AwaitingConfirmation/Running/Finished
	Name    string          // EventToolStart
	Args    map[string]any  // EventToolStart
	Risk    types.RiskLevel // EventToolAwaitingConfirmation
	Summary string          // EventToolAwaitingConfirmation/Finished
	OK      bool            // EventToolFinished

	Usage *llm.Usage // EventUsageUpdate

	ErrorKind    string // EventError
	ErrorMessage string // EventError

	FinishReason llm.FinishReason // EventFinish
}

// Config configures a Client's fixed, per-session policy.
type Config struct {
	SystemInstruction string
	WorkspaceRoot     string
	DefaultDatabase   string
	MaxTurns          int
	GenerateConfig    *llm.GenerateConfig
}

// Client is the composition root described above. It is not safe for
// concurrent SendMessageStream calls — per spec §5, History is owned by
// the Client and mutated only between Turns, with no concurrent writers.
type Client struct {
	model       llm.LLM
	registry    *tool.ToolRegistry
	scheduler   *scheduler.Scheduler
	compressor  *history.Compressor
	nextSpeaker nextspeaker.Strategy
	cfg         Config

	convo *types.History

	mu     sync.Mutex
	signal *types.AbortSignal
}

// New constructs a Client wiring the given services together. compressor
// and next may be nil: a nil compressor disables history compression, a
// nil next speaker runs exactly one Turn per SendMessageStream call.
func New(model llm.LLM, registry *tool.ToolRegistry, sched *scheduler.Scheduler, compressor *history.Compressor, next nextspeaker.Strategy, cfg Config) *Client {
	return &Client{
		model:       model,
		registry:    registry,
		scheduler:   sched,
		compressor:  compressor,
		nextSpeaker: next,
		cfg:         cfg,
		convo:       types.NewHistory(),
	}
}

// History returns the Client's committed conversation history. Callers
// must not mutate the returned value.
func (c *Client) History() *types.History {
	return c.convo
}

// Interrupt trips the AbortSignal of the SendMessageStream call currently
// in flight, if any. Idempotent; safe to call with no call in flight.
func (c *Client) Interrupt() {
	c.mu.Lock()
	signal := c.signal
	c.mu.Unlock()
	if signal != nil {
		signal.Trip()
	}
}

// SendMessageStream appends userContent to history and runs the
// Turn/Scheduler/NextSpeaker loop described in spec §4.N, returning a
// lazy sequence of Events terminated by exactly one EventFinish (or one
// EventError, which also ends the stream without a following Finish).
func (c *Client) SendMessageStream(ctx context.Context, userContent types.Content) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		signal := types.NewAbortSignal(ctx)
		c.mu.Lock()
		c.signal = signal
		c.mu.Unlock()

		var emitMu sync.Mutex
		stopped := false
		emit := func(e *Event) bool {
			emitMu.Lock()
			defer emitMu.Unlock()
			if stopped {
				return false
			}
			if !yield(e, nil) {
				stopped = true
				signal.Trip()
				return false
			}
			return true
		}

		c.convo.Append(userContent)

		var lastFinish llm.FinishReason
		for iteration := 0; ; iteration++ {
			result, err := c.runTurn(signal, emit)
			if err != nil {
				emitError(emit, err)
				return
			}
			lastFinish = result.FinishReason

			if result.Usage != nil {
				if !emit(&Event{Kind: EventUsageUpdate, Usage: result.Usage}) {
					return
				}
			}

			responseCount := 0
			if len(result.FunctionCalls) > 0 {
				responseCount, err = c.runToolCalls(signal, emit, result)
				if err != nil {
					emitError(emit, err)
					return
				}
			}

			if c.compressor != nil {
				if _, err := c.compressor.MaybeCompress(signal.Context(), c.convo); err != nil {
					emitError(emit, err)
					return
				}
			}

			if c.nextSpeaker == nil {
				break
			}
			decision, err := c.nextSpeaker.Decide(signal.Context(), nextspeaker.Input{
				FinishReason:          result.FinishReason,
				FunctionResponseCount: responseCount,
				TurnsUsed:             iteration,
				MaxTurns:              c.cfg.MaxTurns,
			})
			if err != nil {
				emitError(emit, err)
				return
			}
			if decision != nextspeaker.Continue {
				break
			}
		}

		emit(&Event{Kind: EventFinish, FinishReason: lastFinish})
	}
}

// runTurn issues one Turn over the current history, relaying text deltas
// through emit.
func (c *Client) runTurn(signal *types.AbortSignal, emit func(*Event) bool) (*turn.Result, error) {
	req := &llm.Request{
		History:           c.convo.Clone(),
		Tools:             c.registry.Definitions(),
		Config:            c.cfg.GenerateConfig,
		SystemInstruction: c.cfg.SystemInstruction,
	}

	res, err := turn.Run(signal.Context(), signal, c.model, req, func(delta string) {
		emit(&Event{Kind: EventText, Text: delta})
	})
	if err != nil {
		return nil, err
	}
	if res.Content != nil {
		c.convo.Append(*res.Content)
	}
	return res, nil
}

// runToolCalls dispatches result's FunctionCalls through the scheduler,
// relays lifecycle events, and appends a single function-role Content
// holding every FunctionResponse in call order.
func (c *Client) runToolCalls(signal *types.AbortSignal, emit func(*Event) bool, result *turn.Result) (int, error) {
	for _, call := range result.FunctionCalls {
		if !emit(&Event{Kind: EventToolStart, CallID: call.ID, Name: call.Name, Args: call.Args}) {
			break
		}
	}

	onEvent := func(e scheduler.Event) {
		if ev := toClientEvent(e); ev != nil {
			emit(ev)
		}
	}

	responses, err := c.scheduler.Dispatch(signal.Context(), signal, c.cfg.WorkspaceRoot, c.cfg.DefaultDatabase, result.FunctionCalls, onEvent)
	if err != nil {
		return 0, err
	}

	parts := make([]types.Part, 0, len(responses))
	for _, resp := range responses {
		parts = append(parts, types.FunctionResponsePart(resp.ID, resp.Name, resp.Response, resp.Error))
	}
	c.convo.Append(types.Content{Role: types.RoleFunction, Parts: parts})
	return len(responses), nil
}

// toClientEvent maps a scheduler lifecycle event onto the host-facing
// shape, dropping EventValidating: the Client already emitted ToolStart
// for every call before dispatching, per spec §4.N step 2b.
func toClientEvent(e scheduler.Event) *Event {
	switch e.Kind {
	case scheduler.EventAwaitingConfirmation:
		return &Event{Kind: EventToolAwaitingConfirmation, CallID: e.CallID, Name: e.Name, Risk: e.Risk, Summary: e.Summary}
	case scheduler.EventRunning:
		return &Event{Kind: EventToolRunning, CallID: e.CallID, Name: e.Name}
	case scheduler.EventFinished, scheduler.EventCancelled:
		return &Event{Kind: EventToolFinished, CallID: e.CallID, Name: e.Name, OK: e.OK, Summary: e.Summary}
	default:
		return nil
	}
}

// emitError renders err as an EventError and sends it through emit, which
// already guards against yielding after the host has stopped consuming.
func emitError(emit func(*Event) bool, err error) {
	ev := &Event{Kind: EventError, ErrorMessage: err.Error()}
	var derr *dbrheoerrors.Error
	if stderrors.As(err, &derr) {
		ev.ErrorKind = string(derr.Kind)
		ev.ErrorMessage = derr.Message
	}
	emit(ev)
}
