package engine

import (
	"context"
	"testing"

	"github.com/dshills/workrail/emit"
	"github.com/dshills/workrail/fsio"
	"github.com/dshills/workrail/keyring"
)

// testHarness wires a fresh in-memory Engine against a simple two-step
// workflow: "draft" (requires output notes containing "done") -> "review"
// (terminal). Every engine _test.go file builds on this shared fixture
// rather than hand-rolling its own registry.
type testHarness struct {
	t      *testing.T
	fsys   *fsio.MemoryFileSystem
	kr     *keyring.Keyring
	engine *Engine
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	fsys := fsio.NewMemoryFileSystem()
	kr, err := keyring.New()
	if err != nil {
		t.Fatalf("keyring.New: %v", err)
	}
	wf := &Workflow{
		WorkflowId: "wf_test",
		RootStepId: "draft",
		Steps: map[string]*Step{
			"draft": {
				StepId:              "draft",
				NextStepId:          "review",
				ValidationCriteria:  &ValidationCriteria{RequireNotesContains: "done"},
				RequiredContextKeys: []string{},
			},
			"review": {
				StepId:        "review",
				NotesOptional: true,
			},
		},
	}
	registry := NewRegistry(wf)
	e := New(fsys, fsio.SystemClock{}, kr, registry, emit.NewNullEmitter(), NewNoopMetrics(), WithDataRoot("/data"))
	return &testHarness{t: t, fsys: fsys, kr: kr, engine: e}
}

func (h *testHarness) start(ctx context.Context, workspacePath string) *StartResponse {
	h.t.Helper()
	resp, err := h.engine.StartWorkflow(ctx, StartRequest{WorkflowId: "wf_test", WorkspacePath: workspacePath})
	if err != nil {
		h.t.Fatalf("StartWorkflow: %v", err)
	}
	return resp
}
