package engine

import (
	"context"
	"testing"
)

func TestCheckpointWorkflowCreatesMarkerAndRehydrates(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	start := h.start(ctx, "/repo")
	if start.CheckpointToken == "" {
		t.Fatalf("expected start_workflow to mint a checkpoint token")
	}

	resp, err := h.engine.CheckpointWorkflow(ctx, start.CheckpointToken)
	if err != nil {
		t.Fatalf("CheckpointWorkflow: %v", err)
	}
	if resp.StateToken == "" || resp.StateToken == start.StateToken {
		t.Fatalf("expected a fresh state token bound to the checkpoint node")
	}

	rehydrated, err := h.engine.ContinueWorkflow(ctx, ContinueRequest{StateToken: resp.StateToken, Intent: IntentRehydrate})
	if err != nil {
		t.Fatalf("ContinueWorkflow (rehydrate checkpoint): %v", err)
	}
	if rehydrated.Pending == nil || rehydrated.Pending.StepId != "draft" {
		t.Fatalf("pending = %+v, want stepId draft carried forward through the checkpoint", rehydrated.Pending)
	}
}

func TestCheckpointWorkflowReplayIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	start := h.start(ctx, "/repo")

	first, err := h.engine.CheckpointWorkflow(ctx, start.CheckpointToken)
	if err != nil {
		t.Fatalf("CheckpointWorkflow (first): %v", err)
	}
	second, err := h.engine.CheckpointWorkflow(ctx, start.CheckpointToken)
	if err != nil {
		t.Fatalf("CheckpointWorkflow (replay): %v", err)
	}
	if first.StateToken != second.StateToken {
		t.Errorf("replaying the same checkpoint token minted a different node: %q vs %q", first.StateToken, second.StateToken)
	}
}

func TestCheckpointWorkflowWrongTokenKindIsRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	start := h.start(ctx, "/repo")

	_, err := h.engine.CheckpointWorkflow(ctx, start.StateToken)
	engErr, ok := err.(*EngineError)
	if !ok || engErr.Code != CodeValidationError {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}
