package projection

import (
	"sort"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// Gaps is the latest-record-wins projection over gap_recorded events,
// keyed by gapId, plus the resolution linkage and unresolved-critical
// grouping per run (§4.6).
type Gaps struct {
	ByGapId               map[string]event.GapRecordedData
	UnresolvedCriticalByRun map[ids.RunId][]string // gapIds, deterministic order
}

// BuildGaps folds gap_recorded events: the latest record for a gapId wins,
// and a gap naming another gapId in Resolves marks that gap resolved.
func BuildGaps(events []event.Envelope) (*Gaps, error) {
	if err := assertAscending(events); err != nil {
		return nil, err
	}

	byId := map[string]event.GapRecordedData{}
	runByGapId := map[string]ids.RunId{}
	resolved := map[string]bool{}
	order := []string{} // gapId first-seen order, for deterministic grouping

	for _, ev := range events {
		if ev.Kind != event.KindGapRecorded {
			continue
		}
		var d event.GapRecordedData
		if err := ev.DecodeData(&d); err != nil {
			return nil, invariantViolation("gap_recorded event %s: %v", ev.EventId, err)
		}
		if _, seen := byId[d.GapId]; !seen {
			order = append(order, d.GapId)
		}
		byId[d.GapId] = d
		if ev.Scope != nil && ev.Scope.RunId != "" {
			runByGapId[d.GapId] = ev.Scope.RunId
		}
		if d.Resolves != "" {
			resolved[d.Resolves] = true
		}
	}

	unresolvedByRun := map[ids.RunId][]string{}
	for _, gapId := range order {
		d := byId[gapId]
		if resolved[gapId] || !d.Unresolved {
			continue
		}
		if d.Severity != event.GapCritical {
			continue
		}
		switch d.Category {
		case event.GapUserOnlyDependency, event.GapContractViolation, event.GapCapabilityMissing:
		default:
			continue
		}
		runId := runByGapId[gapId]
		unresolvedByRun[runId] = append(unresolvedByRun[runId], gapId)
	}
	for runId := range unresolvedByRun {
		sort.Strings(unresolvedByRun[runId])
	}

	return &Gaps{ByGapId: byId, UnresolvedCriticalByRun: unresolvedByRun}, nil
}
