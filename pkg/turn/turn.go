// Package turn runs one model iteration: a single LLM call (streamed),
// relaying text deltas as they arrive and collecting the function calls
// and usage the final aggregated response carries. Grounded on the
// teacher's reasoning.Strategy iteration loop (pkg/reasoning/
// chain_of_thought_strategy.go): one iteration there is "model call + tool
// calls + results, ShouldStop decides continuation" — Turn is that
// per-iteration unit, with pkg/client.Client's sendMessageStream playing
// the role of ChainOfThoughtStrategy's outer iteration driver.
package turn

import (
	"context"
	"fmt"

	dbrheoerrors "github.com/Din829/DbRheo-CLI/pkg/errors"
	"github.com/Din829/DbRheo-CLI/pkg/llm"
	"github.com/Din829/DbRheo-CLI/pkg/tool"
	"github.com/Din829/DbRheo-CLI/pkg/types"
)

// Result is what one Turn produces: the model's final text and function
// calls for this iteration, plus usage/finish-reason bookkeeping. Turn
// never mutates the Client's History itself — the caller appends the
// model Content (and later the function-response Content) once the
// scheduler has run.
type Result struct {
	Content      *types.Content
	FunctionCalls []tool.Call
	Usage        *llm.Usage
	FinishReason llm.FinishReason
}

// Run issues one streamed LLM call over req, calling onTextDelta for each
// incremental chunk of model text as it arrives, and returns once the
// provider's final aggregated response is read or signal trips.
func Run(ctx context.Context, signal *types.AbortSignal, model llm.LLM, req *llm.Request, onTextDelta func(delta string)) (*Result, error) {
	if onTextDelta == nil {
		onTextDelta = func(string) {}
	}

	var final *llm.Response
	for resp, err := range model.GenerateContent(ctx, req, true) {
		if signal != nil && signal.Triggered() {
			return nil, dbrheoerrors.New(dbrheoerrors.KindCancelled, "turn aborted during LLM stream")
		}
		if err != nil {
			return nil, dbrheoerrors.Wrap(dbrheoerrors.KindLLMTransport, "generating content", err)
		}
		if resp == nil {
			continue
		}
		if resp.Partial {
			if resp.Content != nil {
				if delta := resp.Content.Text(); delta != "" {
					onTextDelta(delta)
				}
			}
			continue
		}
		final = resp
	}

	if final == nil {
		return nil, dbrheoerrors.New(dbrheoerrors.KindLLMProtocol, "model stream ended with no final response")
	}
	if final.FinishReason == llm.FinishReasonError {
		msg := final.ErrorMessage
		if msg == "" {
			msg = "model reported an error finish reason"
		}
		return nil, dbrheoerrors.New(dbrheoerrors.KindLLMProtocol, msg)
	}

	result := &Result{
		Content:      final.Content,
		Usage:        final.Usage,
		FinishReason: final.FinishReason,
	}
	if final.Content != nil {
		for _, fc := range final.Content.FunctionCalls() {
			result.FunctionCalls = append(result.FunctionCalls, tool.Call{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	return result, nil
}

// ResultSummary renders a one-line description of a Result for logging,
// in the form "finish=<reason> calls=<n>".
func ResultSummary(r *Result) string {
	if r == nil {
		return "<nil turn result>"
	}
	return fmt.Sprintf("finish=%s calls=%d", r.FinishReason, len(r.FunctionCalls))
}
