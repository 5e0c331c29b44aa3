package projection

import (
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// capabilityKey scopes an observation to one node's one named capability.
type capabilityKey struct {
	NodeId     ids.NodeId
	Capability string
}

// Capabilities is the latest-observation-wins projection over
// capability_observed events, keyed per (node, capability) (§4.6).
type Capabilities struct {
	ByNodeCapability map[capabilityKey]event.CapabilityStatus
}

// StatusFor returns the observed status for nodeId/capability, or
// CapabilityUnknown if it was never observed.
func (c *Capabilities) StatusFor(nodeId ids.NodeId, capability string) event.CapabilityStatus {
	if c == nil {
		return event.CapabilityUnknown
	}
	if v, ok := c.ByNodeCapability[capabilityKey{nodeId, capability}]; ok {
		return v
	}
	return event.CapabilityUnknown
}

// BuildCapabilities folds capability_observed events: the latest
// observation for a (node, capability) pair wins.
func BuildCapabilities(events []event.Envelope) (*Capabilities, error) {
	if err := assertAscending(events); err != nil {
		return nil, err
	}

	c := &Capabilities{ByNodeCapability: map[capabilityKey]event.CapabilityStatus{}}
	for _, ev := range events {
		if ev.Kind != event.KindCapabilityObserved {
			continue
		}
		if ev.Scope == nil || ev.Scope.NodeId == "" {
			return nil, invariantViolation("capability_observed event %s has no nodeId scope", ev.EventId)
		}
		var d event.CapabilityObservedData
		if err := ev.DecodeData(&d); err != nil {
			return nil, invariantViolation("capability_observed event %s: %v", ev.EventId, err)
		}
		c.ByNodeCapability[capabilityKey{ev.Scope.NodeId, d.Capability}] = d.Status
	}
	return c, nil
}
