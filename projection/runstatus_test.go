package projection

import (
	"testing"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

func advanceRecorded(idx int, runId ids.RunId, outcome event.AdvanceOutcome) event.Envelope {
	return event.Envelope{
		V: event.SchemaVersion, EventId: ids.EventId("evt_adv"), EventIndex: idx,
		SessionId: "sess_1", Kind: event.KindAdvanceRecorded, DedupeKey: "dk_adv",
		Scope: &event.Scope{RunId: runId},
		Data:  event.AdvanceRecordedData{Outcome: outcome},
	}
}

func TestBuildRunStatusBlockedOnTerminalBlockOutcome(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)

	events := []event.Envelope{
		nodeCreated(0, runId, root, nil, event.NodeKindStep),
		advanceRecorded(1, runId, event.OutcomeTerminalBlock),
	}
	dag, err := BuildRunDAG(events)
	if err != nil {
		t.Fatalf("BuildRunDAG: %v", err)
	}
	prefs, err := BuildPreferences(events, dag)
	if err != nil {
		t.Fatalf("BuildPreferences: %v", err)
	}
	gaps, err := BuildGaps(events)
	if err != nil {
		t.Fatalf("BuildGaps: %v", err)
	}
	status, err := BuildRunStatus(events, dag, prefs, gaps)
	if err != nil {
		t.Fatalf("BuildRunStatus: %v", err)
	}
	if !status[runId].IsBlocked {
		t.Error("expected isBlocked after a terminal_block advance outcome")
	}
}

func TestBuildRunStatusFullAutoNeverStopNeverBlocks(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)

	neverStop := event.AutonomyFullAutoNeverStop
	events := []event.Envelope{
		nodeCreated(0, runId, root, nil, event.NodeKindStep),
		prefsChanged(1, root, &neverStop, nil),
		advanceRecorded(2, runId, event.OutcomeTerminalBlock),
	}
	dag, err := BuildRunDAG(events)
	if err != nil {
		t.Fatalf("BuildRunDAG: %v", err)
	}
	prefs, err := BuildPreferences(events, dag)
	if err != nil {
		t.Fatalf("BuildPreferences: %v", err)
	}
	gaps, err := BuildGaps(events)
	if err != nil {
		t.Fatalf("BuildGaps: %v", err)
	}
	status, err := BuildRunStatus(events, dag, prefs, gaps)
	if err != nil {
		t.Fatalf("BuildRunStatus: %v", err)
	}
	if status[runId].IsBlocked {
		t.Error("expected full_auto_never_stop to never report isBlocked")
	}
}

func TestBuildRunStatusBlockedOnUnresolvedCriticalGap(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)

	events := []event.Envelope{
		nodeCreated(0, runId, root, nil, event.NodeKindStep),
		advanceRecorded(1, runId, event.OutcomeAdvanced),
		gapRecorded(2, runId, event.GapRecordedData{GapId: "g1", Severity: event.GapCritical, Category: event.GapCapabilityMissing, Unresolved: true}),
	}
	dag, err := BuildRunDAG(events)
	if err != nil {
		t.Fatalf("BuildRunDAG: %v", err)
	}
	prefs, err := BuildPreferences(events, dag)
	if err != nil {
		t.Fatalf("BuildPreferences: %v", err)
	}
	gaps, err := BuildGaps(events)
	if err != nil {
		t.Fatalf("BuildGaps: %v", err)
	}
	status, err := BuildRunStatus(events, dag, prefs, gaps)
	if err != nil {
		t.Fatalf("BuildRunStatus: %v", err)
	}
	if !status[runId].IsBlocked {
		t.Error("expected isBlocked due to unresolved critical capability_missing gap")
	}
}
