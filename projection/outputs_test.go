package projection

import (
	"testing"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

func outputAppended(idx int, nodeId ids.NodeId, d event.NodeOutputAppendedData) event.Envelope {
	return event.Envelope{
		V: event.SchemaVersion, EventId: ids.EventId("evt_out"), EventIndex: idx,
		SessionId: "sess_1", Kind: event.KindNodeOutputAppended, DedupeKey: "dk_out",
		Scope: &event.Scope{NodeId: nodeId},
		Data:  d,
	}
}

func TestBuildOutputsSupersessionRemovesOlderFromCurrent(t *testing.T) {
	node := ids.NodeId("node_a")
	events := []event.Envelope{
		outputAppended(0, node, event.NodeOutputAppendedData{
			OutputId: "o1", Channel: event.ChannelRecap,
			Payload: event.OutputPayload{Kind: event.PayloadNotes, Notes: "first"},
		}),
		outputAppended(1, node, event.NodeOutputAppendedData{
			OutputId: "o2", Channel: event.ChannelRecap,
			Payload:            event.OutputPayload{Kind: event.PayloadNotes, Notes: "second"},
			SupersedesOutputId: "o1",
		}),
	}
	outputs, err := BuildOutputs(events)
	if err != nil {
		t.Fatalf("BuildOutputs: %v", err)
	}
	got := outputs.ForNode(node, event.ChannelRecap)
	if len(got.History) != 2 {
		t.Fatalf("history len = %d, want 2", len(got.History))
	}
	if len(got.Current) != 1 || got.Current[0].OutputId != "o2" {
		t.Errorf("current = %+v, want only o2", got.Current)
	}
}

func TestBuildOutputsRejectsSupersessionAcrossChannels(t *testing.T) {
	node := ids.NodeId("node_a")
	events := []event.Envelope{
		outputAppended(0, node, event.NodeOutputAppendedData{
			OutputId: "o1", Channel: event.ChannelRecap,
			Payload: event.OutputPayload{Kind: event.PayloadNotes, Notes: "first"},
		}),
		outputAppended(1, node, event.NodeOutputAppendedData{
			OutputId: "o2", Channel: event.ChannelArtifact,
			Payload:            event.OutputPayload{Kind: event.PayloadArtifactRef, ArtifactRef: &event.ArtifactRef{Sha256: "sha256:x"}},
			SupersedesOutputId: "o1",
		}),
	}
	if _, err := BuildOutputs(events); err == nil {
		t.Error("expected error for supersession across channels")
	}
}

func TestBuildOutputsRejectsRecapChannelWithMultipleCurrent(t *testing.T) {
	node := ids.NodeId("node_a")
	events := []event.Envelope{
		outputAppended(0, node, event.NodeOutputAppendedData{
			OutputId: "o1", Channel: event.ChannelRecap,
			Payload: event.OutputPayload{Kind: event.PayloadNotes, Notes: "first"},
		}),
		outputAppended(1, node, event.NodeOutputAppendedData{
			OutputId: "o2", Channel: event.ChannelRecap,
			Payload: event.OutputPayload{Kind: event.PayloadNotes, Notes: "second"},
		}),
	}
	if _, err := BuildOutputs(events); err == nil {
		t.Error("expected error for recap channel with two current outputs")
	}
}

func TestBuildOutputsRejectsSelfSupersession(t *testing.T) {
	node := ids.NodeId("node_a")
	events := []event.Envelope{
		outputAppended(0, node, event.NodeOutputAppendedData{
			OutputId: "o1", Channel: event.ChannelArtifact,
			Payload:            event.OutputPayload{Kind: event.PayloadArtifactRef, ArtifactRef: &event.ArtifactRef{Sha256: "sha256:1"}},
			SupersedesOutputId: "o1",
		}),
	}
	if _, err := BuildOutputs(events); err == nil {
		t.Error("expected error for an output that supersedes itself")
	}
}
