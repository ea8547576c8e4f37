// Package nextspeaker decides whether the agent should auto-continue
// after a Turn without waiting for fresh user input, generalizing the
// teacher's ChainOfThoughtStrategy.ShouldStop (pkg/reasoning/
// chain_of_thought_strategy.go): there, the loop continues whenever the
// last model response carried tool calls, and stops once a dedicated
// todo-tool reports the task list complete twice in a row. DbRheo has no
// todo tool; the condition becomes the one described by the spec
// directly — continue once a finished Turn (FinishReason=stop) has just
// had tool results appended to history, so the model can react to them,
// bounded by a hard maxTurns cap the same way the teacher bounds its
// reasoning loop's iteration count.
package nextspeaker

import (
	"context"

	"github.com/Din829/DbRheo-CLI/pkg/llm"
)

// Decision is the outcome of one NextSpeaker consultation.
type Decision string

const (
	Continue Decision = "continue"
	Stop     Decision = "stop"
)

// Input carries everything a Strategy needs to decide, without itself
// depending on pkg/turn or pkg/client (keeps this package a leaf).
type Input struct {
	// FinishReason is the last Turn's FinishReason.
	FinishReason llm.FinishReason
	// FunctionResponseCount is how many FunctionResponses were appended
	// to history as a result of the last Turn's tool calls.
	FunctionResponseCount int
	// TurnsUsed is how many auto-continuation turns have already run for
	// the current user message (not counting the initial turn).
	TurnsUsed int
	// MaxTurns is the hard cap on auto-continuations; MaxTurns<=0 means
	// unbounded.
	MaxTurns int
}

// Strategy decides whether the agent should keep going without new user
// input. It is an interface, not a concrete function, so a host can later
// swap the bundled Heuristic for an LLM-backed classifier per the spec's
// open question — mirroring how reasoning.Strategy is itself pluggable
// in the teacher.
type Strategy interface {
	Decide(ctx context.Context, in Input) (Decision, error)
}

// Heuristic is the default, non-LLM Strategy: continue iff the last Turn
// finished cleanly (FinishReason=stop), it produced at least one
// FunctionResponse, and the maxTurns budget isn't exhausted.
type Heuristic struct{}

// Decide implements Strategy.
func (Heuristic) Decide(_ context.Context, in Input) (Decision, error) {
	if in.MaxTurns > 0 && in.TurnsUsed >= in.MaxTurns {
		return Stop, nil
	}
	if in.FinishReason == llm.FinishReasonStop && in.FunctionResponseCount > 0 {
		return Continue, nil
	}
	return Stop, nil
}

var _ Strategy = Heuristic{}
