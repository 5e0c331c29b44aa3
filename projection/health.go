package projection

import (
	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/ids"
)

// SessionHealth mirrors sessionstore's health enum at the projection layer:
// a session is healthy only if every structural projection succeeds over
// its full event log.
type SessionHealth string

const (
	SessionHealthy     SessionHealth = "healthy"
	SessionCorruptTail SessionHealth = "corrupt_tail"
)

// Projected bundles every projection computed over one session's event log.
type Projected struct {
	Health       SessionHealth
	HealthReason string
	RunDAG       *RunDAG
	Preferences  *Preferences
	Outputs      *Outputs
	Gaps         *Gaps
	Capabilities *Capabilities
	RunStatus    map[ids.RunId]*RunStatus
}

// BuildAll runs every projection over events in dependency order, folding
// any projection failure into a corrupt_tail session health rather than
// propagating the error: a session whose events fail to project is treated
// the same way as one whose event log fails to load (§4.6).
func BuildAll(events []event.Envelope) *Projected {
	dag, err := BuildRunDAG(events)
	if err != nil {
		return &Projected{Health: SessionCorruptTail, HealthReason: err.Error()}
	}
	prefs, err := BuildPreferences(events, dag)
	if err != nil {
		return &Projected{Health: SessionCorruptTail, HealthReason: err.Error()}
	}
	outputs, err := BuildOutputs(events)
	if err != nil {
		return &Projected{Health: SessionCorruptTail, HealthReason: err.Error()}
	}
	gaps, err := BuildGaps(events)
	if err != nil {
		return &Projected{Health: SessionCorruptTail, HealthReason: err.Error()}
	}
	caps, err := BuildCapabilities(events)
	if err != nil {
		return &Projected{Health: SessionCorruptTail, HealthReason: err.Error()}
	}
	runStatus, err := BuildRunStatus(events, dag, prefs, gaps)
	if err != nil {
		return &Projected{Health: SessionCorruptTail, HealthReason: err.Error()}
	}

	return &Projected{
		Health:       SessionHealthy,
		RunDAG:       dag,
		Preferences:  prefs,
		Outputs:      outputs,
		Gaps:         gaps,
		Capabilities: caps,
		RunStatus:    runStatus,
	}
}
