package projection

import (
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// Preferences maps every node in a run to its effective {autonomy,
// riskPolicy}: its own delta if it set one, otherwise inherited from its
// parent (§4.6).
type Preferences struct {
	ByNode map[ids.NodeId]event.Preferences
}

// defaultPreferences is the root's inherited value when no ancestor ever
// set one.
var defaultPreferences = event.Preferences{
	Autonomy:   event.AutonomyGuided,
	RiskPolicy: event.RiskBalanced,
}

// BuildPreferences computes the effective preferences at every node of
// dag, folding preferences_changed events scoped to each node.
func BuildPreferences(events []event.Envelope, dag *RunDAG) (*Preferences, error) {
	if err := assertAscending(events); err != nil {
		return nil, err
	}

	deltas := map[ids.NodeId]event.Preferences{}
	hasDelta := map[ids.NodeId]bool{}

	for _, ev := range events {
		if ev.Kind != event.KindPreferencesChanged {
			continue
		}
		if ev.Scope == nil || ev.Scope.NodeId == "" {
			return nil, invariantViolation("preferences_changed event %s has no nodeId scope", ev.EventId)
		}
		var d event.PreferencesChangedData
		if err := ev.DecodeData(&d); err != nil {
			return nil, invariantViolation("preferences_changed event %s: %v", ev.EventId, err)
		}
		nodeId := ev.Scope.NodeId
		cur := deltas[nodeId]
		if d.Autonomy != nil {
			cur.Autonomy = *d.Autonomy
		}
		if d.RiskPolicy != nil {
			cur.RiskPolicy = *d.RiskPolicy
		}
		deltas[nodeId] = cur
		hasDelta[nodeId] = true
	}

	prefs := &Preferences{ByNode: map[ids.NodeId]event.Preferences{}}
	var resolve func(run *Run, nodeId ids.NodeId) event.Preferences
	memo := map[ids.NodeId]event.Preferences{}
	resolve = func(run *Run, nodeId ids.NodeId) event.Preferences {
		if v, ok := memo[nodeId]; ok {
			return v
		}
		if hasDelta[nodeId] {
			d, v := deltas[nodeId], defaultPreferences
			if n := run.NodesById[nodeId]; n != nil && n.ParentNodeId != nil {
				v = resolve(run, *n.ParentNodeId)
			}
			if d.Autonomy != "" {
				v.Autonomy = d.Autonomy
			}
			if d.RiskPolicy != "" {
				v.RiskPolicy = d.RiskPolicy
			}
			memo[nodeId] = v
			return v
		}
		n := run.NodesById[nodeId]
		if n == nil || n.ParentNodeId == nil {
			memo[nodeId] = defaultPreferences
			return defaultPreferences
		}
		v := resolve(run, *n.ParentNodeId)
		memo[nodeId] = v
		return v
	}

	for _, run := range dag.RunsById {
		for nodeId := range run.NodesById {
			prefs.ByNode[nodeId] = resolve(run, nodeId)
		}
	}
	return prefs, nil
}
