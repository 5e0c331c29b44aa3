package engine

import (
	"context"
	"testing"

	"github.com/dshills/workrail/event"
)

func TestStartWorkflowReturnsPendingRootStep(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	resp := h.start(ctx, "/repo")
	if resp.StateToken == "" || resp.AckToken == "" {
		t.Fatalf("expected non-empty tokens, got %+v", resp)
	}
	if resp.Pending == nil || resp.Pending.StepId != "draft" {
		t.Fatalf("pending = %+v, want stepId draft", resp.Pending)
	}
	if resp.Preferences.Autonomy != event.Autonomy(h.engine.opts.DefaultAutonomy) {
		t.Errorf("autonomy = %s, want default %s", resp.Preferences.Autonomy, h.engine.opts.DefaultAutonomy)
	}
}

func TestStartWorkflowUnknownWorkflowIdIsNotFound(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.engine.StartWorkflow(context.Background(), StartRequest{WorkflowId: "nope"})
	engErr, ok := err.(*EngineError)
	if !ok || engErr.Code != CodeNotFound {
		t.Fatalf("err = %v, want NOT_FOUND", err)
	}
}

func TestStartWorkflowOversizeContextIsRejected(t *testing.T) {
	h := newTestHarness(t)
	big := make(map[string]interface{}, 1)
	filler := make([]byte, DefaultContextBudgetBytes+1)
	for i := range filler {
		filler[i] = 'a'
	}
	big["blob"] = string(filler)

	_, err := h.engine.StartWorkflow(context.Background(), StartRequest{WorkflowId: "wf_test", Context: big})
	engErr, ok := err.(*EngineError)
	if !ok || engErr.Code != CodeValidationError {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if engErr.Details["code"] != "context_budget_exceeded" {
		t.Errorf("details = %+v, want context_budget_exceeded", engErr.Details)
	}
}
