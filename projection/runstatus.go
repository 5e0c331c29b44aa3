package projection

import (
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// RunStatus is the derived is-blocked signal for one run (§4.6), computed
// from its preferred tip's effective autonomy, the most recent advance
// outcome recorded against the run, and any unresolved critical gap in a
// blocking category.
type RunStatus struct {
	RunId     ids.RunId
	IsBlocked bool
}

// blockingGapCategories is the set of gap categories that contribute to
// isBlocked; informational and warning-only gaps never do, nor does the
// "unexpected" category, which is surfaced but not treated as blocking.
var blockingGapCategories = map[event.GapCategory]bool{
	event.GapUserOnlyDependency: true,
	event.GapContractViolation:  true,
	event.GapCapabilityMissing:  true,
}

// BuildRunStatus folds advance_recorded events (latest per run wins) and
// combines them with gaps and preferences to compute each run's isBlocked
// signal.
func BuildRunStatus(events []event.Envelope, dag *RunDAG, prefs *Preferences, gaps *Gaps) (map[ids.RunId]*RunStatus, error) {
	if err := assertAscending(events); err != nil {
		return nil, err
	}

	latestOutcome := map[ids.RunId]event.AdvanceOutcome{}
	for _, ev := range events {
		if ev.Kind != event.KindAdvanceRecorded {
			continue
		}
		if ev.Scope == nil || ev.Scope.RunId == "" {
			return nil, invariantViolation("advance_recorded event %s has no runId scope", ev.EventId)
		}
		var d event.AdvanceRecordedData
		if err := ev.DecodeData(&d); err != nil {
			return nil, invariantViolation("advance_recorded event %s: %v", ev.EventId, err)
		}
		latestOutcome[ev.Scope.RunId] = d.Outcome
	}

	result := map[ids.RunId]*RunStatus{}
	for runId, run := range dag.RunsById {
		autonomy := defaultPreferences.Autonomy
		if p, ok := prefs.ByNode[run.PreferredTipNodeId]; ok {
			autonomy = p.Autonomy
		}

		hasBlockingGap := false
		for _, gapId := range gaps.UnresolvedCriticalByRun[runId] {
			if blockingGapCategories[gaps.ByGapId[gapId].Category] {
				hasBlockingGap = true
				break
			}
		}

		outcome := latestOutcome[runId]
		isBlocked := autonomy != event.AutonomyFullAutoNeverStop &&
			(outcome == event.OutcomeRetryableBlock || outcome == event.OutcomeTerminalBlock || hasBlockingGap)

		result[runId] = &RunStatus{RunId: runId, IsBlocked: isBlocked}
	}
	return result, nil
}
