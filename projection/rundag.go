package projection

import (
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// Node is one node of a run's DAG, folded from its node_created event.
type Node struct {
	NodeId              ids.NodeId
	NodeKind            event.NodeKind
	ParentNodeId        *ids.NodeId
	CreatedAtEventIndex int
	SnapshotRef         ids.SnapshotRef
	StepId              string
}

func (n Node) equalsCreated(d event.NodeCreatedData) bool {
	if n.NodeId != d.NodeId || n.NodeKind != d.NodeKind || n.CreatedAtEventIndex != d.CreatedAtIndex ||
		n.SnapshotRef != d.SnapshotRef || n.StepId != d.StepId {
		return false
	}
	if (n.ParentNodeId == nil) != (d.ParentNodeId == nil) {
		return false
	}
	if n.ParentNodeId != nil && *n.ParentNodeId != *d.ParentNodeId {
		return false
	}
	return true
}

// Edge is one edge of a run's DAG, folded from its edge_created event.
type Edge struct {
	FromNodeId ids.NodeId
	ToNodeId   ids.NodeId
	EdgeKind   event.EdgeKind
	Cause      event.Cause
	EventIndex int
}

// Run is one run's complete DAG projection.
type Run struct {
	RunId              ids.RunId
	NodesById          map[ids.NodeId]*Node
	Edges              []Edge
	TipNodeIds         []ids.NodeId
	PreferredTipNodeId ids.NodeId

	hasOutgoingEdge map[ids.NodeId]bool
	lastActivity    map[ids.NodeId]int
}

// RunDAG is every run's DAG, keyed by run id.
type RunDAG struct {
	RunsById map[ids.RunId]*Run
}

func newRun(runId ids.RunId) *Run {
	return &Run{
		RunId:           runId,
		NodesById:       map[ids.NodeId]*Node{},
		hasOutgoingEdge: map[ids.NodeId]bool{},
		lastActivity:    map[ids.NodeId]int{},
	}
}

func (r *Run) touch(nodeId ids.NodeId, eventIndex int) {
	if nodeId == "" {
		return
	}
	if cur, ok := r.lastActivity[nodeId]; !ok || eventIndex > cur {
		r.lastActivity[nodeId] = eventIndex
	}
}

// BuildRunDAG folds node_created/edge_created events into per-run DAGs,
// enforcing §4.6's run-DAG invariants and computing each run's preferred
// tip. Every event that scopes to a node (regardless of kind) contributes
// to that node's last-activity index, since the preferred-tip policy is
// defined over "max eventIndex touching any ancestor", not just
// structural node/edge events.
func BuildRunDAG(events []event.Envelope) (*RunDAG, error) {
	if err := assertAscending(events); err != nil {
		return nil, err
	}

	dag := &RunDAG{RunsById: map[ids.RunId]*Run{}}

	for _, ev := range events {
		var runId ids.RunId
		if ev.Scope != nil {
			runId = ev.Scope.RunId
		}

		switch ev.Kind {
		case event.KindNodeCreated:
			if runId == "" {
				return nil, invariantViolation("node_created event %s has no runId scope", ev.EventId)
			}
			var d event.NodeCreatedData
			if err := ev.DecodeData(&d); err != nil {
				return nil, invariantViolation("node_created event %s: %v", ev.EventId, err)
			}
			run, ok := dag.RunsById[runId]
			if !ok {
				run = newRun(runId)
				dag.RunsById[runId] = run
			}
			if existing, dup := run.NodesById[d.NodeId]; dup {
				if !existing.equalsCreated(d) {
					return nil, invariantViolation("duplicate node_created for %s with differing payload", d.NodeId)
				}
				continue
			}
			if d.ParentNodeId != nil {
				if _, exists := run.NodesById[*d.ParentNodeId]; !exists {
					return nil, invariantViolation("node %s references parent %s which does not exist yet", d.NodeId, *d.ParentNodeId)
				}
			}
			run.NodesById[d.NodeId] = &Node{
				NodeId:              d.NodeId,
				NodeKind:            d.NodeKind,
				ParentNodeId:        d.ParentNodeId,
				CreatedAtEventIndex: d.CreatedAtIndex,
				SnapshotRef:         d.SnapshotRef,
				StepId:              d.StepId,
			}
			run.touch(d.NodeId, ev.EventIndex)

		case event.KindEdgeCreated:
			if runId == "" {
				return nil, invariantViolation("edge_created event %s has no runId scope", ev.EventId)
			}
			var d event.EdgeCreatedData
			if err := ev.DecodeData(&d); err != nil {
				return nil, invariantViolation("edge_created event %s: %v", ev.EventId, err)
			}
			if err := event.ValidateEdgeCreated(d); err != nil {
				return nil, invariantViolation("edge_created event %s: %v", ev.EventId, err)
			}
			run, ok := dag.RunsById[runId]
			if !ok {
				return nil, invariantViolation("edge_created event %s references unknown run %s", ev.EventId, runId)
			}
			if _, exists := run.NodesById[d.FromNodeId]; !exists {
				return nil, invariantViolation("edge_created event %s: fromNodeId %s unknown", ev.EventId, d.FromNodeId)
			}
			toNode, exists := run.NodesById[d.ToNodeId]
			if !exists {
				return nil, invariantViolation("edge_created event %s: toNodeId %s unknown", ev.EventId, d.ToNodeId)
			}
			if toNode.ParentNodeId == nil || *toNode.ParentNodeId != d.FromNodeId {
				return nil, invariantViolation("edge_created event %s: child %s parentNodeId does not match fromNodeId", ev.EventId, d.ToNodeId)
			}
			run.Edges = append(run.Edges, Edge{
				FromNodeId: d.FromNodeId,
				ToNodeId:   d.ToNodeId,
				EdgeKind:   d.EdgeKind,
				Cause:      d.Cause,
				EventIndex: ev.EventIndex,
			})
			run.hasOutgoingEdge[d.FromNodeId] = true
			run.touch(d.FromNodeId, ev.EventIndex)
			run.touch(d.ToNodeId, ev.EventIndex)

		default:
			if runId != "" && ev.Scope.NodeId != "" {
				if run, ok := dag.RunsById[runId]; ok {
					run.touch(ev.Scope.NodeId, ev.EventIndex)
				}
			}
		}
	}

	for _, run := range dag.RunsById {
		run.computeTips()
	}

	return dag, nil
}

func (r *Run) computeTips() {
	for nodeId := range r.NodesById {
		if !r.hasOutgoingEdge[nodeId] {
			r.TipNodeIds = append(r.TipNodeIds, nodeId)
		}
	}

	memo := map[ids.NodeId]int{}
	var activityToRoot func(nodeId ids.NodeId) int
	activityToRoot = func(nodeId ids.NodeId) int {
		if v, ok := memo[nodeId]; ok {
			return v
		}
		best := r.lastActivity[nodeId]
		if n := r.NodesById[nodeId]; n != nil && n.ParentNodeId != nil {
			if v := activityToRoot(*n.ParentNodeId); v > best {
				best = v
			}
		}
		memo[nodeId] = best
		return best
	}

	var preferred ids.NodeId
	bestActivity := -1
	bestCreatedAt := -1
	for _, nodeId := range r.TipNodeIds {
		activity := activityToRoot(nodeId)
		n := r.NodesById[nodeId]
		switch {
		case activity > bestActivity:
			preferred, bestActivity, bestCreatedAt = nodeId, activity, n.CreatedAtEventIndex
		case activity == bestActivity:
			switch {
			case n.CreatedAtEventIndex > bestCreatedAt:
				preferred, bestCreatedAt = nodeId, n.CreatedAtEventIndex
			case n.CreatedAtEventIndex == bestCreatedAt && nodeId > preferred:
				preferred = nodeId
			}
		}
	}
	r.PreferredTipNodeId = preferred
}
