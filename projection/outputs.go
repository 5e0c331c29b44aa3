package projection

import (
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// nodeChannelKey scopes an output to one node's one channel; supersession
// must stay within this scope (§4.6).
type nodeChannelKey struct {
	NodeId  ids.NodeId
	Channel event.OutputChannel
}

// NodeOutputs is a node's per-channel output history plus the "current"
// (not transitively superseded) subset.
type NodeOutputs struct {
	History []event.NodeOutputAppendedData
	Current []event.NodeOutputAppendedData
}

// Outputs maps every (node, channel) pair that has received output to its
// NodeOutputs projection.
type Outputs struct {
	ByNodeChannel map[nodeChannelKey]*NodeOutputs
}

// ForNode returns the outputs recorded for nodeId on channel, or a zero
// value if none were ever appended.
func (o *Outputs) ForNode(nodeId ids.NodeId, channel event.OutputChannel) NodeOutputs {
	if o == nil {
		return NodeOutputs{}
	}
	if v, ok := o.ByNodeChannel[nodeChannelKey{nodeId, channel}]; ok {
		return *v
	}
	return NodeOutputs{}
}

// BuildOutputs folds node_output_appended events into per-(node,channel)
// history and current-output sets, enforcing that supersession stays
// within the same node and channel, rejecting supersession cycles, and
// capping the recap channel's current set at one.
func BuildOutputs(events []event.Envelope) (*Outputs, error) {
	if err := assertAscending(events); err != nil {
		return nil, err
	}

	out := &Outputs{ByNodeChannel: map[nodeChannelKey]*NodeOutputs{}}
	supersededBy := map[string]string{} // outputId -> the output that superseded it
	ownerKey := map[string]nodeChannelKey{}
	allById := map[string]event.NodeOutputAppendedData{}

	for _, ev := range events {
		if ev.Kind != event.KindNodeOutputAppended {
			continue
		}
		if ev.Scope == nil || ev.Scope.NodeId == "" {
			return nil, invariantViolation("node_output_appended event %s has no nodeId scope", ev.EventId)
		}
		var d event.NodeOutputAppendedData
		if err := ev.DecodeData(&d); err != nil {
			return nil, invariantViolation("node_output_appended event %s: %v", ev.EventId, err)
		}
		key := nodeChannelKey{ev.Scope.NodeId, d.Channel}
		bucket, ok := out.ByNodeChannel[key]
		if !ok {
			bucket = &NodeOutputs{}
			out.ByNodeChannel[key] = bucket
		}
		bucket.History = append(bucket.History, d)
		allById[d.OutputId] = d
		ownerKey[d.OutputId] = key

		if d.SupersedesOutputId != "" {
			priorKey, known := ownerKey[d.SupersedesOutputId]
			if known && priorKey != key {
				return nil, invariantViolation("output %s supersedes %s across a different node/channel", d.OutputId, d.SupersedesOutputId)
			}
			if err := checkSupersessionAcyclic(d.OutputId, d.SupersedesOutputId, supersededBy); err != nil {
				return nil, err
			}
			supersededBy[d.SupersedesOutputId] = d.OutputId
		}
	}

	for key, bucket := range out.ByNodeChannel {
		for _, o := range bucket.History {
			if _, superseded := supersededBy[o.OutputId]; superseded {
				continue
			}
			bucket.Current = append(bucket.Current, o)
		}
		if key.Channel == event.ChannelRecap && len(bucket.Current) > 1 {
			return nil, invariantViolation("node %s recap channel has %d current outputs, want at most 1", key.NodeId, len(bucket.Current))
		}
	}

	return out, nil
}

func checkSupersessionAcyclic(newId, supersedes string, supersededBy map[string]string) error {
	seen := map[string]bool{newId: true}
	cur := supersedes
	for cur != "" {
		if seen[cur] {
			return invariantViolation("supersession cycle detected at output %s", cur)
		}
		seen[cur] = true
		cur = supersededBy[cur]
	}
	return nil
}
