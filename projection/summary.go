package projection

import (
	"context"
	"sort"

	"github.com/dshills/workrail/event"
	"github.com/dshills/workrail/fsio"
	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/sessionstore"
)

// MaxEnumeratedSessions bounds how many session directories a summary scan
// will ever touch (§4.6).
const MaxEnumeratedSessions = 50

// MaxAncestorWalkDepth bounds how far a recap aggregation walks toward the
// root when building a summary.
const MaxAncestorWalkDepth = 100

// DefaultRecapByteCap bounds the aggregated recap markdown's size. The
// manifest and segment schema never pin a number for this; this engine
// fixes it at 64 KiB, generous enough for several steps' recaps without
// risking an unbounded summary payload.
const DefaultRecapByteCap = 64 * 1024

// Summary is one session's resume summary: its most-recently-active run,
// that run's preferred tip, an aggregated recap trail, and workspace
// observations.
type Summary struct {
	SessionId     ids.SessionId
	SessionDir    string
	RunId         ids.RunId
	TipNodeId     ids.NodeId
	TipActivity   int
	Recap         string
	GitHeadSha    string
	GitBranch     string
	RepoRootHash  string
	WorkspacePath string
}

// BuildSummary selects proj's most-recently-active run and aggregates its
// recap trail, given the already-folded events (for workspace observations)
// and proj (the already-built projections) for sessionId at sessionDir.
func BuildSummary(events []event.Envelope, proj *Projected, sessionId ids.SessionId, sessionDir string, recapByteCap int) *Summary {
	s := &Summary{SessionId: sessionId, SessionDir: sessionDir}

	var bestRun *Run
	bestActivity := -1
	for _, run := range proj.RunDAG.RunsById {
		if run.PreferredTipNodeId == "" {
			continue
		}
		activity := run.lastActivity[run.PreferredTipNodeId]
		if n := run.NodesById[run.PreferredTipNodeId]; n != nil {
			// lastActivity only tracks direct touches; the tip's own
			// createdAt index is always a lower bound on its activity.
			if n.CreatedAtEventIndex > activity {
				activity = n.CreatedAtEventIndex
			}
		}
		if activity > bestActivity {
			bestRun, bestActivity = run, activity
		}
	}

	for _, ev := range events {
		if ev.Kind != event.KindObservationRecorded {
			continue
		}
		var d event.ObservationRecordedData
		if err := ev.DecodeData(&d); err != nil {
			continue
		}
		switch d.Key {
		case "git_head_sha":
			s.GitHeadSha = d.Value
		case "git_branch":
			s.GitBranch = d.Value
		case "repo_root_hash":
			s.RepoRootHash = d.Value
		case "workspace_path":
			s.WorkspacePath = d.Value
		}
	}

	if bestRun == nil {
		return s
	}
	s.RunId = bestRun.RunId
	s.TipNodeId = bestRun.PreferredTipNodeId
	s.TipActivity = bestActivity
	s.Recap = aggregateRecap(proj.Outputs, bestRun, bestRun.PreferredTipNodeId, recapByteCap)
	return s
}

// aggregateRecap walks from tipNodeId toward the root, depth-capped at
// MaxAncestorWalkDepth, concatenating each node's current recap (newest to
// oldest) until recapByteCap bytes have been collected.
func aggregateRecap(outputs *Outputs, run *Run, tipNodeId ids.NodeId, recapByteCap int) string {
	if recapByteCap <= 0 {
		recapByteCap = DefaultRecapByteCap
	}

	var chunks []string
	total := 0
	nodeId := tipNodeId
	for depth := 0; depth < MaxAncestorWalkDepth && nodeId != ""; depth++ {
		n := run.NodesById[nodeId]
		if n == nil {
			break
		}
		for _, o := range outputs.ForNode(nodeId, event.ChannelRecap).Current {
			if o.Payload.Kind != event.PayloadNotes {
				continue
			}
			if total+len(o.Payload.Notes) > recapByteCap {
				chunks = append(chunks, o.Payload.Notes[:recapByteCap-total])
				total = recapByteCap
				break
			}
			chunks = append(chunks, o.Payload.Notes)
			total += len(o.Payload.Notes)
		}
		if total >= recapByteCap {
			break
		}
		if n.ParentNodeId == nil {
			break
		}
		nodeId = *n.ParentNodeId
	}

	out := ""
	for i, c := range chunks {
		if i > 0 {
			out += "\n\n"
		}
		out += c
	}
	return out
}

// sessionDirEntry pairs a session directory's path with its mtime, for
// bounded, recency-ordered enumeration.
type sessionDirEntry struct {
	sessionId ids.SessionId
	path      string
	modTime   int64
}

// EnumerateSessionSummaries scans root for up to MaxEnumeratedSessions
// session directories (ordered by mtime desc), loads and projects each, and
// returns one Summary per session that projects healthy. An individual
// session's load or projection failure is skipped silently; a failure to
// list root at all propagates.
func EnumerateSessionSummaries(ctx context.Context, fsys fsio.FileSystem, root string, recapByteCap int) ([]*Summary, error) {
	entries, err := fsys.ListDir(ctx, root)
	if err != nil {
		return nil, err
	}

	dirs := make([]sessionDirEntry, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		// Stat the manifest file rather than the directory entry itself:
		// directories carry no reliable mtime on every FileSystem
		// implementation, but the manifest is always the most recently
		// written file in an active session.
		info, err := fsys.Stat(ctx, root+"/"+e.Name()+"/manifest.jsonl")
		if err != nil {
			continue
		}
		dirs = append(dirs, sessionDirEntry{
			sessionId: ids.SessionId(e.Name()),
			path:      root + "/" + e.Name(),
			modTime:   info.ModTime().UnixNano(),
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].modTime > dirs[j].modTime })
	if len(dirs) > MaxEnumeratedSessions {
		dirs = dirs[:MaxEnumeratedSessions]
	}

	summaries := make([]*Summary, 0, len(dirs))
	for _, d := range dirs {
		log := sessionstore.NewEventLog(fsys, d.path)
		loaded, err := log.Load(ctx)
		if err != nil || loaded.Truncated {
			continue
		}
		proj := BuildAll(loaded.Events)
		if proj.Health != SessionHealthy {
			continue
		}
		summaries = append(summaries, BuildSummary(loaded.Events, proj, d.sessionId, d.path, recapByteCap))
	}
	return summaries, nil
}
