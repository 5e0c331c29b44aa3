package engine

import (
	"context"
	"testing"

	"github.com/dshills/workrail/sessionstore"
	"github.com/dshills/workrail/token"
)

func TestContinueWorkflowBlocksOnFailedValidationThenAdvancesOnRetry(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	start := h.start(ctx, "/repo")

	blockedResp, err := h.engine.ContinueWorkflow(ctx, ContinueRequest{
		StateToken: start.StateToken, Intent: IntentAdvance, AckToken: start.AckToken,
		Output: &OutputInput{Notes: "not there yet"},
	})
	if err != nil {
		t.Fatalf("ContinueWorkflow (first attempt): %v", err)
	}
	if blockedResp.Blocked == nil {
		t.Fatalf("expected a blocked response, got %+v", blockedResp)
	}
	if blockedResp.Blocked.Kind != "retryable_block" {
		t.Errorf("blocked.kind = %s, want retryable_block", blockedResp.Blocked.Kind)
	}
	if blockedResp.AckToken == "" {
		t.Fatalf("expected a retry ack token on a retryable block")
	}

	advanced, err := h.engine.ContinueWorkflow(ctx, ContinueRequest{
		StateToken: blockedResp.StateToken, Intent: IntentAdvance, AckToken: blockedResp.AckToken,
		Output: &OutputInput{Notes: "work is done"},
	})
	if err != nil {
		t.Fatalf("ContinueWorkflow (retry): %v", err)
	}
	if advanced.Blocked != nil {
		t.Fatalf("expected no block on retry, got %+v", advanced.Blocked)
	}
	if advanced.Pending == nil || advanced.Pending.StepId != "review" {
		t.Fatalf("pending = %+v, want stepId review", advanced.Pending)
	}

	completed, err := h.engine.ContinueWorkflow(ctx, ContinueRequest{
		StateToken: advanced.StateToken, Intent: IntentAdvance, AckToken: advanced.AckToken,
	})
	if err != nil {
		t.Fatalf("ContinueWorkflow (final step): %v", err)
	}
	if completed.Pending != nil {
		t.Fatalf("pending = %+v, want nil (run complete)", completed.Pending)
	}
	if completed.NextIntent != NextIntentRehydrateOnly {
		t.Errorf("nextIntent = %s, want rehydrate_only", completed.NextIntent)
	}
}

func TestContinueWorkflowReplayIsIdempotent(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	start := h.start(ctx, "/repo")

	req := ContinueRequest{
		StateToken: start.StateToken, Intent: IntentAdvance, AckToken: start.AckToken,
		Output: &OutputInput{Notes: "work is done"},
	}

	first, err := h.engine.ContinueWorkflow(ctx, req)
	if err != nil {
		t.Fatalf("ContinueWorkflow (first): %v", err)
	}
	second, err := h.engine.ContinueWorkflow(ctx, req)
	if err != nil {
		t.Fatalf("ContinueWorkflow (replay): %v", err)
	}
	if first.StateToken != second.StateToken {
		t.Errorf("replay minted a different state token: %q vs %q", first.StateToken, second.StateToken)
	}
	if first.Pending.StepId != second.Pending.StepId {
		t.Errorf("replay landed on a different step: %q vs %q", first.Pending.StepId, second.Pending.StepId)
	}
}

func TestContinueWorkflowRehydrateEmitsNoEvents(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	start := h.start(ctx, "/repo")

	payload, err := token.Parse(h.kr, start.StateToken)
	if err != nil {
		t.Fatalf("token.Parse: %v", err)
	}
	log := sessionstore.NewEventLog(h.fsys, h.engine.sessionDir(payload.SessionId))
	before, err := log.Load(ctx)
	if err != nil {
		t.Fatalf("Load before rehydrate: %v", err)
	}

	resp, err := h.engine.ContinueWorkflow(ctx, ContinueRequest{StateToken: start.StateToken, Intent: IntentRehydrate})
	if err != nil {
		t.Fatalf("ContinueWorkflow (rehydrate): %v", err)
	}
	after, err := log.Load(ctx)
	if err != nil {
		t.Fatalf("Load after rehydrate: %v", err)
	}
	if len(after.Events) != len(before.Events) {
		t.Errorf("rehydrate appended %d events, want 0", len(after.Events)-len(before.Events))
	}
	if resp.Pending == nil || resp.Pending.StepId != "draft" {
		t.Fatalf("pending = %+v, want stepId draft unchanged", resp.Pending)
	}
	if resp.NextIntent != NextIntentAdvance {
		t.Errorf("nextIntent = %s, want advance", resp.NextIntent)
	}
}

func TestContinueWorkflowRehydrateForbidsAckToken(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	start := h.start(ctx, "/repo")

	_, err := h.engine.ContinueWorkflow(ctx, ContinueRequest{StateToken: start.StateToken, Intent: IntentRehydrate, AckToken: start.AckToken})
	engErr, ok := err.(*EngineError)
	if !ok || engErr.Code != CodeValidationError {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
}

func TestContinueWorkflowOversizeContextIsRejected(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	start := h.start(ctx, "/repo")

	filler := make([]byte, DefaultContextBudgetBytes+1)
	for i := range filler {
		filler[i] = 'a'
	}

	_, err := h.engine.ContinueWorkflow(ctx, ContinueRequest{
		StateToken: start.StateToken, Intent: IntentAdvance, AckToken: start.AckToken,
		Context: map[string]interface{}{"blob": string(filler)},
		Output:  &OutputInput{Notes: "work is done"},
	})
	engErr, ok := err.(*EngineError)
	if !ok || engErr.Code != CodeValidationError {
		t.Fatalf("err = %v, want VALIDATION_ERROR", err)
	}
	if engErr.Details["code"] != "context_budget_exceeded" {
		t.Errorf("details = %+v, want context_budget_exceeded", engErr.Details)
	}
}
