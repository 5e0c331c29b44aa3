package projection

import (
	"context"
	"testing"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/fsio"
	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/sessionstore"
)

func writeSession(t *testing.T, fsys fsio.FileSystem, dir string, sessionId ids.SessionId, events []event.Envelope) {
	t.Helper()
	ctx := context.Background()
	log := sessionstore.NewEventLog(fsys, dir)
	lock, health, err := sessionstore.AcquireHealthy(ctx, fsys, dir, sessionId, fsio.SystemClock{}, log)
	if err != nil {
		t.Fatalf("AcquireHealthy: %v", err)
	}
	if health != sessionstore.HealthHealthy {
		t.Fatalf("health = %s, want healthy", health)
	}
	defer lock.Release(ctx)
	if err := log.Append(ctx, lock, sessionstore.AppendPlan{Events: events}); err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestBuildSummarySelectsMostRecentlyActiveRunAndAggregatesRecap(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)
	child, err := f.NewNodeId()
	mustId(t, err)

	events := []event.Envelope{
		{V: event.SchemaVersion, EventId: "e0", EventIndex: 0, SessionId: "sess_1", Kind: event.KindObservationRecorded, DedupeKey: "d0",
			Data: event.ObservationRecordedData{Key: "git_branch", Value: "main"}},
		nodeCreated(1, runId, root, nil, event.NodeKindStep),
		outputAppended(2, root, event.NodeOutputAppendedData{OutputId: "o1", Channel: event.ChannelRecap,
			Payload: event.OutputPayload{Kind: event.PayloadNotes, Notes: "root recap"}}),
		nodeCreated(3, runId, child, &root, event.NodeKindStep),
		edgeCreated(4, runId, root, child, event.EdgeKindAckedStep, event.CauseIntentionalFork),
		outputAppended(5, child, event.NodeOutputAppendedData{OutputId: "o2", Channel: event.ChannelRecap,
			Payload: event.OutputPayload{Kind: event.PayloadNotes, Notes: "child recap"}}),
	}

	proj := BuildAll(events)
	if proj.Health != SessionHealthy {
		t.Fatalf("health = %s, want healthy (reason %s)", proj.Health, proj.HealthReason)
	}
	summary := BuildSummary(events, proj, "sess_1", "/sessions/sess_1", 0)
	if summary.RunId != runId {
		t.Errorf("runId = %s, want %s", summary.RunId, runId)
	}
	if summary.TipNodeId != child {
		t.Errorf("tipNodeId = %s, want %s", summary.TipNodeId, child)
	}
	if summary.GitBranch != "main" {
		t.Errorf("gitBranch = %s, want main", summary.GitBranch)
	}
	want := "child recap\n\nroot recap"
	if summary.Recap != want {
		t.Errorf("recap = %q, want %q", summary.Recap, want)
	}
}

func TestBuildSummaryRecapTruncatesAtByteCap(t *testing.T) {
	f := ids.NewFactory()
	runId, err := f.NewRunId()
	mustId(t, err)
	root, err := f.NewNodeId()
	mustId(t, err)

	events := []event.Envelope{
		nodeCreated(0, runId, root, nil, event.NodeKindStep),
		outputAppended(1, root, event.NodeOutputAppendedData{OutputId: "o1", Channel: event.ChannelRecap,
			Payload: event.OutputPayload{Kind: event.PayloadNotes, Notes: "0123456789"}}),
	}
	proj := BuildAll(events)
	summary := BuildSummary(events, proj, "sess_1", "/sessions/sess_1", 5)
	if summary.Recap != "01234" {
		t.Errorf("recap = %q, want truncated to 5 bytes", summary.Recap)
	}
}

func TestEnumerateSessionSummariesSkipsUnhealthySessionsSilently(t *testing.T) {
	fsys := fsio.NewMemoryFileSystem()
	ctx := context.Background()

	f := ids.NewFactory()
	healthyRoot, err := f.NewNodeId()
	mustId(t, err)
	runId, err := f.NewRunId()
	mustId(t, err)

	writeSession(t, fsys, "/sessions/healthy_one", "healthy_one", []event.Envelope{
		nodeCreated(0, runId, healthyRoot, nil, event.NodeKindStep),
	})

	// An unhealthy session: an edge referencing a run that was never created.
	writeSession(t, fsys, "/sessions/broken_one", "broken_one", []event.Envelope{
		edgeCreated(0, "run_ghost", "node_missing", "node_also_missing", event.EdgeKindAckedStep, event.CauseIntentionalFork),
	})

	summaries, err := EnumerateSessionSummaries(ctx, fsys, "/sessions", 0)
	if err != nil {
		t.Fatalf("EnumerateSessionSummaries: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("got %d summaries, want 1 (broken session should be skipped)", len(summaries))
	}
	if summaries[0].SessionId != "healthy_one" {
		t.Errorf("summary session = %s, want healthy_one", summaries[0].SessionId)
	}
}
