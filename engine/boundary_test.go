package engine

import (
	"context"
	"testing"

	"github.com/dshills/workrail/canon"
	"github.com/dshills/workrail/emit"
	"github.com/dshills/workrail/fsio"
	"github.com/dshills/workrail/keyring"
)

func TestStartWorkflowContextAtBudgetBoundaryIsAccepted(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()

	// {"blob":""} costs a fixed number of canonical bytes; pad the string
	// value itself so the whole canonical document lands exactly at
	// DefaultContextBudgetBytes.
	overhead, err := canon.ToCanonicalBytes(map[string]interface{}{"blob": ""})
	if err != nil {
		t.Fatalf("ToCanonicalBytes: %v", err)
	}
	filler := make([]byte, DefaultContextBudgetBytes-len(overhead))
	for i := range filler {
		filler[i] = 'a'
	}

	resp, err := h.engine.StartWorkflow(ctx, StartRequest{
		WorkflowId: "wf_test", Context: map[string]interface{}{"blob": string(filler)},
	})
	if err != nil {
		t.Fatalf("StartWorkflow at exact budget boundary: %v", err)
	}
	if resp.Pending == nil {
		t.Fatalf("expected a pending step")
	}
}

func TestContinueWorkflowBlockerCountIsCappedAtMaxBlockers(t *testing.T) {
	fsys := fsio.NewMemoryFileSystem()
	kr, err := keyring.New()
	if err != nil {
		t.Fatalf("keyring.New: %v", err)
	}
	deps := make([]string, 0, DefaultMaxBlockers+2)
	for i := 0; i < DefaultMaxBlockers+2; i++ {
		deps = append(deps, "dep"+string(rune('a'+i)))
	}
	wf := &Workflow{
		WorkflowId: "wf_many_blockers",
		RootStepId: "start",
		Steps: map[string]*Step{
			"start": {
				StepId:               "start",
				NotesOptional:        true,
				UserOnlyDependencies: deps,
			},
		},
	}
	e := New(fsys, fsio.SystemClock{}, kr, NewRegistry(wf), emit.NewNullEmitter(), NewNoopMetrics(), WithDataRoot("/data"))
	ctx := context.Background()

	start, err := e.StartWorkflow(ctx, StartRequest{WorkflowId: "wf_many_blockers"})
	if err != nil {
		t.Fatalf("StartWorkflow: %v", err)
	}

	resp, err := e.ContinueWorkflow(ctx, ContinueRequest{StateToken: start.StateToken, Intent: IntentAdvance, AckToken: start.AckToken})
	if err != nil {
		t.Fatalf("ContinueWorkflow: %v", err)
	}
	if resp.Blocked == nil {
		t.Fatalf("expected a block given %d user-only dependencies", len(deps))
	}
	if len(resp.Blocked.Blockers) != DefaultMaxBlockers {
		t.Errorf("blockers = %d, want capped at %d", len(resp.Blocked.Blockers), DefaultMaxBlockers)
	}
}
