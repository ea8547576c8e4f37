package nextspeaker

import (
	"context"
	"testing"

	"github.com/Din829/DbRheo-CLI/pkg/llm"
)

func TestHeuristicContinuesWhenToolResultsAwaitReaction(t *testing.T) {
	d, err := (Heuristic{}).Decide(context.Background(), Input{
		FinishReason:          llm.FinishReasonStop,
		FunctionResponseCount: 1,
		TurnsUsed:             0,
		MaxTurns:              5,
	})
	if err != nil {
		t.Fatalf("Decide returned error: %v", err)
	}
	if d != Continue {
		t.Fatalf("expected Continue, got %s", d)
	}
}

func TestHeuristicStopsWithoutFunctionResponses(t *testing.T) {
	d, _ := (Heuristic{}).Decide(context.Background(), Input{
		FinishReason:          llm.FinishReasonStop,
		FunctionResponseCount: 0,
		MaxTurns:              5,
	})
	if d != Stop {
		t.Fatalf("expected Stop when no tool results were appended, got %s", d)
	}
}

func TestHeuristicStopsOnNonStopFinishReason(t *testing.T) {
	d, _ := (Heuristic{}).Decide(context.Background(), Input{
		FinishReason:          llm.FinishReasonToolCalls,
		FunctionResponseCount: 1,
		MaxTurns:              5,
	})
	if d != Stop {
		t.Fatalf("expected Stop on a non-stop finish reason, got %s", d)
	}
}

func TestHeuristicRespectsMaxTurnsCap(t *testing.T) {
	d, _ := (Heuristic{}).Decide(context.Background(), Input{
		FinishReason:          llm.FinishReasonStop,
		FunctionResponseCount: 1,
		TurnsUsed:             5,
		MaxTurns:              5,
	})
	if d != Stop {
		t.Fatalf("expected Stop once TurnsUsed reaches MaxTurns, got %s", d)
	}
}

func TestHeuristicUnboundedWhenMaxTurnsIsZero(t *testing.T) {
	d, _ := (Heuristic{}).Decide(context.Background(), Input{
		FinishReason:          llm.FinishReasonStop,
		FunctionResponseCount: 1,
		TurnsUsed:             1000,
		MaxTurns:              0,
	})
	if d != Continue {
		t.Fatalf("expected Continue with MaxTurns<=0 (unbounded), got %s", d)
	}
}
