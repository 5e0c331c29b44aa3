package engine

import (
	"context"
	"sort"
	"strings"

	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/projection"
	"github.com/dshills/workrail/sessionstore"
	"github.com/dshills/workrail/token"
)

// ResumeRequest filters the candidate set resume_session ranks. Every
// field is optional; an empty filter matches every session (§4.9).
type ResumeRequest struct {
	WorkspacePath string
	GitBranch     string
	GitHeadSha    string
	Query         string
}

// MaxResumeCandidates bounds how many ranked candidates resume_session
// returns.
const MaxResumeCandidates = 10

// ResumeCandidate is one ranked, resumable session: enough to show a
// caller what it is and a token that immediately rehydrates it.
type ResumeCandidate struct {
	SessionId     ids.SessionId
	WorkspacePath string
	GitBranch     string
	GitHeadSha    string
	Recap         string
	TipActivity   int
	StateToken    string
}

// ResumeSession ranks resumable sessions against an optional filter,
// preferring the SQLite resume index's candidate set when it is
// schema-current and non-empty, falling back to the full directory scan
// otherwise — correctness never depends on the index, only speed (§4.6
// "session summary for resume", §9 Design Notes "projection cache").
func (e *Engine) ResumeSession(ctx context.Context, req ResumeRequest) ([]ResumeCandidate, error) {
	summaries, err := e.candidateSummaries(ctx)
	if err != nil {
		return nil, internalError("enumerate session summaries", err)
	}

	type scored struct {
		summary *projection.Summary
		score   int
	}
	var matches []scored
	for _, s := range summaries {
		if req.WorkspacePath != "" && s.WorkspacePath != req.WorkspacePath {
			continue
		}
		if req.GitBranch != "" && s.GitBranch != req.GitBranch {
			continue
		}
		if req.GitHeadSha != "" && s.GitHeadSha != req.GitHeadSha {
			continue
		}
		matches = append(matches, scored{summary: s, score: lexicalAnchorScore(s.Recap, req.Query)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].summary.TipActivity > matches[j].summary.TipActivity
	})
	if len(matches) > MaxResumeCandidates {
		matches = matches[:MaxResumeCandidates]
	}

	candidates := make([]ResumeCandidate, 0, len(matches))
	for _, m := range matches {
		s := m.summary
		stateToken, err := e.rehydrateToken(ctx, s)
		if err != nil {
			// A session that summarized healthy moments ago but whose
			// workflow pin or hash ref can no longer be resolved is
			// dropped rather than surfaced half-built: §4.6 already
			// tolerates skipping individual failing sessions here.
			continue
		}
		candidates = append(candidates, ResumeCandidate{
			SessionId: s.SessionId, WorkspacePath: s.WorkspacePath, GitBranch: s.GitBranch, GitHeadSha: s.GitHeadSha,
			Recap: s.Recap, TipActivity: s.TipActivity, StateToken: stateToken,
		})
	}
	return candidates, nil
}

// candidateSummaries returns the resume index's candidate session set
// when usable, else every session the directory scan finds.
func (e *Engine) candidateSummaries(ctx context.Context) ([]*projection.Summary, error) {
	all, err := projection.EnumerateSessionSummaries(ctx, e.fsys, e.sessionsRoot(), e.opts.RecapByteCap)
	if err != nil {
		return nil, err
	}
	if e.resumeIndex == nil {
		return all, nil
	}
	recentIds, ok := e.resumeIndex.RecentSessions(ctx, MaxEnumeratedResumeRows)
	if !ok || len(recentIds) == 0 {
		return all, nil
	}
	bySessionId := make(map[string]*projection.Summary, len(all))
	for _, s := range all {
		bySessionId[string(s.SessionId)] = s
	}
	filtered := make([]*projection.Summary, 0, len(recentIds))
	for _, id := range recentIds {
		if s, ok := bySessionId[id]; ok {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// MaxEnumeratedResumeRows bounds how many rows the resume index is asked
// for before the directory scan's own result narrows the set further.
const MaxEnumeratedResumeRows = 50

// rehydrateToken mints a state token bound to s's tip node, suitable for
// an immediate continue_workflow{intent: rehydrate} call.
func (e *Engine) rehydrateToken(ctx context.Context, s *projection.Summary) (string, error) {
	log := sessionstore.NewEventLog(e.fsys, s.SessionDir)
	loaded, err := log.Load(ctx)
	if err != nil {
		return "", err
	}
	workflowHash, err := sessionWorkflowHash(loaded.Events)
	if err != nil {
		return "", err
	}
	workflowHashRef, err := ids.DeriveWorkflowHashRef(workflowHash)
	if err != nil {
		return "", err
	}
	return token.Sign(e.keyring, token.Payload{
		Kind: token.KindState, SessionId: s.SessionId, RunId: s.RunId, NodeId: s.TipNodeId,
		WorkflowHashRef: workflowHashRef,
	})
}

// recordResumeActivity upserts sessionId's resume index row after a
// successful start_workflow/continue_workflow append, keeping the cache
// warm without making any correctness path depend on it.
func (e *Engine) recordResumeActivity(ctx context.Context, sessionId ids.SessionId, workspacePath, gitBranch, gitHeadSha string, tipEventIndex int) {
	if e.resumeIndex == nil {
		return
	}
	_ = e.resumeIndex.Upsert(ctx, sessionstore.ResumeRow{
		SessionId: string(sessionId), WorkspacePath: workspacePath, GitBranch: gitBranch, GitHeadSha: gitHeadSha,
		LastTipEventIndex: tipEventIndex, LastTipAtMs: e.clock.Now().UnixMilli(),
	})
}

// lexicalAnchorScore counts case-insensitive occurrences of query's
// whitespace-separated terms inside recap, the "lexical anchor" ranking
// signal named in §4.9. An empty query scores every candidate 0, leaving
// ranking to recency alone.
func lexicalAnchorScore(recap, query string) int {
	query = strings.TrimSpace(query)
	if query == "" {
		return 0
	}
	haystack := strings.ToLower(recap)
	score := 0
	for _, term := range strings.Fields(strings.ToLower(query)) {
		score += strings.Count(haystack, term)
	}
	return score
}
