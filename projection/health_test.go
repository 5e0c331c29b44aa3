package projection

import (
	"testing"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

func TestBuildAllHealthyOverValidEvents(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)

	events := []event.Envelope{nodeCreated(0, runId, root, nil, event.NodeKindStep)}
	proj := BuildAll(events)
	if proj.Health != SessionHealthy {
		t.Fatalf("health = %s, want %s (reason: %s)", proj.Health, SessionHealthy, proj.HealthReason)
	}
	if proj.RunDAG == nil || proj.Preferences == nil || proj.Outputs == nil || proj.Gaps == nil || proj.Capabilities == nil {
		t.Error("expected every sub-projection to be populated on a healthy session")
	}
}

func TestBuildAllCorruptTailOnInvariantViolation(t *testing.T) {
	runId := ids.RunId("run_1")
	ghost := ids.NodeId("node_ghost")
	events := []event.Envelope{
		edgeCreated(0, runId, "node_missing", ghost, event.EdgeKindAckedStep, event.CauseIntentionalFork),
	}
	proj := BuildAll(events)
	if proj.Health != SessionCorruptTail {
		t.Fatalf("health = %s, want %s", proj.Health, SessionCorruptTail)
	}
	if proj.HealthReason == "" {
		t.Error("expected a non-empty health reason on corrupt_tail")
	}
}
