package projection

import (
	"testing"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

func prefsChanged(idx int, nodeId ids.NodeId, autonomy *event.Autonomy, risk *event.RiskPolicy) event.Envelope {
	return event.Envelope{
		V: event.SchemaVersion, EventId: ids.EventId("evt_pref"), EventIndex: idx,
		SessionId: "sess_1", Kind: event.KindPreferencesChanged, DedupeKey: "dk_pref",
		Scope: &event.Scope{NodeId: nodeId},
		Data:  event.PreferencesChangedData{Autonomy: autonomy, RiskPolicy: risk},
	}
}

func TestBuildPreferencesChildInheritsParentWhenUnset(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)
	child, err := f.NewNodeId()
	mustId(t, err)

	aggressive := event.RiskAggressive
	events := []event.Envelope{
		nodeCreated(0, runId, root, nil, event.NodeKindStep),
		nodeCreated(1, runId, child, &root, event.NodeKindStep),
		prefsChanged(2, root, nil, &aggressive),
	}
	dag, err := BuildRunDAG(events)
	if err != nil {
		t.Fatalf("BuildRunDAG: %v", err)
	}
	prefs, err := BuildPreferences(events, dag)
	if err != nil {
		t.Fatalf("BuildPreferences: %v", err)
	}
	if prefs.ByNode[child].RiskPolicy != event.RiskAggressive {
		t.Errorf("child riskPolicy = %s, want inherited %s", prefs.ByNode[child].RiskPolicy, event.RiskAggressive)
	}
	if prefs.ByNode[child].Autonomy != defaultPreferences.Autonomy {
		t.Errorf("child autonomy = %s, want default %s", prefs.ByNode[child].Autonomy, defaultPreferences.Autonomy)
	}
}

func TestBuildPreferencesOwnDeltaOverridesInheritance(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)
	child, err := f.NewNodeId()
	mustId(t, err)

	conservative := event.RiskConservative
	childAutonomy := event.AutonomyFullAutoStopOnUserDeps
	events := []event.Envelope{
		nodeCreated(0, runId, root, nil, event.NodeKindStep),
		nodeCreated(1, runId, child, &root, event.NodeKindStep),
		prefsChanged(2, root, nil, &conservative),
		prefsChanged(3, child, &childAutonomy, nil),
	}
	dag, err := BuildRunDAG(events)
	if err != nil {
		t.Fatalf("BuildRunDAG: %v", err)
	}
	prefs, err := BuildPreferences(events, dag)
	if err != nil {
		t.Fatalf("BuildPreferences: %v", err)
	}
	got := prefs.ByNode[child]
	if got.Autonomy != childAutonomy {
		t.Errorf("child autonomy = %s, want own delta %s", got.Autonomy, childAutonomy)
	}
	if got.RiskPolicy != event.RiskConservative {
		t.Errorf("child riskPolicy = %s, want inherited %s", got.RiskPolicy, event.RiskConservative)
	}
}

func TestBuildPreferencesRootDefaultsWhenNeverSet(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)

	events := []event.Envelope{nodeCreated(0, runId, root, nil, event.NodeKindStep)}
	dag, err := BuildRunDAG(events)
	if err != nil {
		t.Fatalf("BuildRunDAG: %v", err)
	}
	prefs, err := BuildPreferences(events, dag)
	if err != nil {
		t.Fatalf("BuildPreferences: %v", err)
	}
	if prefs.ByNode[root] != defaultPreferences {
		t.Errorf("root prefs = %+v, want default %+v", prefs.ByNode[root], defaultPreferences)
	}
}
