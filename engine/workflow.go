package engine

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/dshills/workrail/ids"
	"github.com/dshills/workrail/sessionstore"
)

// Workflow is the engine's in-memory, already-compiled view of a
// workflow: a linear-with-loops chain of named steps. Loading/compiling a
// workflow from JSON is explicitly out of scope for this engine (§1); a
// host program constructs a Workflow value however it likes (its own
// compiler, a hand-built registry, a different process entirely) and
// hands it to the engine already resolved. The engine only ever consumes
// this shape — it never parses one.
type Workflow struct {
	WorkflowId  string
	Description string
	RootStepId  string
	Steps       map[string]*Step
}

// Step is one node of a compiled workflow.
type Step struct {
	StepId string

	// NextStepId names the step advancing past this one leads to; empty
	// means advancing past this step completes the run.
	NextStepId string

	// OutputContract, when non-nil, requires an artifact output and
	// treats the artifact itself as the evidence (notes become optional).
	OutputContract *OutputContract

	// ValidationCriteria is checked against the supplied notes when this
	// step declares one and has no OutputContract (§4.7.7).
	ValidationCriteria *ValidationCriteria

	// RequiredContextKeys must all be present in the merged context view
	// or the advance fails MissingContext (§4.7.4).
	RequiredContextKeys []string

	// RequiredCapabilities names capabilities this step depends on; an
	// unknown or unavailable capability contributes a blocking Reason
	// (§4.7.8).
	RequiredCapabilities []string

	// UserOnlyDependencies names dependencies only a human can resolve;
	// their presence always contributes a Reason regardless of capability
	// status.
	UserOnlyDependencies []string

	// NotesOptional exempts this step from requiring notes when it has no
	// OutputContract (§4.7.7's "notes are required unless the step opts
	// out, or has an outputContract").
	NotesOptional bool
}

// OutputContract declares the shape of the artifact a step's output must
// satisfy.
type OutputContract struct {
	ContentType string
}

// ValidationCriteria is a deliberately small validation language: the
// engine's job is to enforce contracts a workflow compiler already
// resolved, not to implement a general rules engine.
type ValidationCriteria struct {
	// RequireNotesContains, when non-empty, fails validation unless the
	// supplied notes contain this substring (scenario §8.2).
	RequireNotesContains string
}

// Validate reports whether notes satisfies c. An empty ValidationCriteria
// is always satisfied.
func (c *ValidationCriteria) Validate(notes string) bool {
	if c == nil || c.RequireNotesContains == "" {
		return true
	}
	return containsSubstring(notes, c.RequireNotesContains)
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 || indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

// Step looks up a step by id.
func (w *Workflow) Step(stepId string) (*Step, bool) {
	s, ok := w.Steps[stepId]
	return s, ok
}

// SortedStepIds returns every step id in w, sorted, for deterministic
// iteration (e.g. in inspect_workflow previews).
func (w *Workflow) SortedStepIds() []string {
	stepIds := make([]string, 0, len(w.Steps))
	for id := range w.Steps {
		stepIds = append(stepIds, id)
	}
	sort.Strings(stepIds)
	return stepIds
}

// Registry is the set of workflows this engine instance can start a
// session against. It is supplied by the host program at construction;
// the engine never discovers or compiles workflows itself (§1).
type Registry struct {
	byId map[string]*Workflow
}

// NewRegistry builds a Registry from already-compiled workflows.
func NewRegistry(workflows ...*Workflow) *Registry {
	r := &Registry{byId: map[string]*Workflow{}}
	for _, w := range workflows {
		r.byId[w.WorkflowId] = w
	}
	return r
}

// Lookup returns the workflow registered under workflowId.
func (r *Registry) Lookup(workflowId string) (*Workflow, bool) {
	w, ok := r.byId[workflowId]
	return w, ok
}

// List returns every registered workflow, sorted by id, for
// list_workflows.
func (r *Registry) List() []*Workflow {
	workflowIds := make([]string, 0, len(r.byId))
	for id := range r.byId {
		workflowIds = append(workflowIds, id)
	}
	sort.Strings(workflowIds)
	out := make([]*Workflow, 0, len(workflowIds))
	for _, id := range workflowIds {
		out = append(out, r.byId[id])
	}
	return out
}

// pinnedWorkflow is the CAS-addressed, canonicalized shape a Workflow is
// pinned as: just enough to re-derive step semantics deterministically
// from a session's WorkflowHash, without re-resolving the registry.
type pinnedWorkflow struct {
	WorkflowId string                    `json:"workflowId"`
	RootStepId string                    `json:"rootStepId"`
	Steps      map[string]pinnedStepJSON `json:"steps"`
}

type pinnedStepJSON struct {
	NextStepId           string               `json:"nextStepId,omitempty"`
	OutputContract       *OutputContract      `json:"outputContract,omitempty"`
	ValidationCriteria   *ValidationCriteria  `json:"validationCriteria,omitempty"`
	RequiredContextKeys  []string             `json:"requiredContextKeys,omitempty"`
	RequiredCapabilities []string             `json:"requiredCapabilities,omitempty"`
	UserOnlyDependencies []string             `json:"userOnlyDependencies,omitempty"`
	NotesOptional        bool                 `json:"notesOptional,omitempty"`
}

func toPinned(w *Workflow) pinnedWorkflow {
	steps := make(map[string]pinnedStepJSON, len(w.Steps))
	for id, s := range w.Steps {
		steps[id] = pinnedStepJSON{
			NextStepId:           s.NextStepId,
			OutputContract:       s.OutputContract,
			ValidationCriteria:   s.ValidationCriteria,
			RequiredContextKeys:  s.RequiredContextKeys,
			RequiredCapabilities: s.RequiredCapabilities,
			UserOnlyDependencies: s.UserOnlyDependencies,
			NotesOptional:        s.NotesOptional,
		}
	}
	return pinnedWorkflow{WorkflowId: w.WorkflowId, RootStepId: w.RootStepId, Steps: steps}
}

func fromPinned(p pinnedWorkflow) *Workflow {
	steps := make(map[string]*Step, len(p.Steps))
	for id, s := range p.Steps {
		steps[id] = &Step{
			StepId:               id,
			NextStepId:           s.NextStepId,
			OutputContract:       s.OutputContract,
			ValidationCriteria:   s.ValidationCriteria,
			RequiredContextKeys:  s.RequiredContextKeys,
			RequiredCapabilities: s.RequiredCapabilities,
			UserOnlyDependencies: s.UserOnlyDependencies,
			NotesOptional:        s.NotesOptional,
		}
	}
	return &Workflow{WorkflowId: p.WorkflowId, RootStepId: p.RootStepId, Steps: steps}
}

// WorkflowStore pins compiled workflows to content-addressed storage, so
// a session's WorkflowHash always re-derives the exact workflow it
// started with, independent of registry mutation over the session's
// lifetime (§4.4, §4.7.3).
type WorkflowStore struct {
	cas *sessionstore.CAS
}

// NewWorkflowStore opens a pinned-workflow store rooted at the given CAS.
func NewWorkflowStore(cas *sessionstore.CAS) *WorkflowStore {
	return &WorkflowStore{cas: cas}
}

// Pin canonicalizes and stores w, returning its content-addressed
// WorkflowHash. Pinning the same workflow content twice yields the same
// hash and does not duplicate storage (CAS.Put's own idempotence).
func (s *WorkflowStore) Pin(ctx context.Context, w *Workflow) (ids.WorkflowHash, error) {
	ref, err := s.cas.Put(ctx, toPinned(w))
	if err != nil {
		return "", err
	}
	return ids.WorkflowHash(ref), nil
}

// Resolve re-derives the exact pinned Workflow for hash.
func (s *WorkflowStore) Resolve(ctx context.Context, hash ids.WorkflowHash) (*Workflow, error) {
	data, err := s.cas.Get(ctx, string(hash))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, notFound("pinned workflow not found for hash " + string(hash))
	}
	var p pinnedWorkflow
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, internalError("decode pinned workflow", err)
	}
	return fromPinned(p), nil
}
