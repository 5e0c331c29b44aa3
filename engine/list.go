package engine

import "context"

// WorkflowSummary is one row of list_workflows' output.
type WorkflowSummary struct {
	WorkflowId  string
	Description string
	StepCount   int
}

// ListWorkflows returns every workflow this Engine's registry knows
// about, sorted by id (§6 list_workflows).
func (e *Engine) ListWorkflows(ctx context.Context) []WorkflowSummary {
	all := e.registry.List()
	out := make([]WorkflowSummary, 0, len(all))
	for _, w := range all {
		out = append(out, WorkflowSummary{WorkflowId: w.WorkflowId, Description: w.Description, StepCount: len(w.Steps)})
	}
	return out
}

// InspectMode selects how much detail InspectWorkflow returns.
type InspectMode string

const (
	InspectMetadata InspectMode = "metadata"
	InspectPreview  InspectMode = "preview"
)

// InspectRequest is the input to InspectWorkflow (§6 inspect_workflow).
type InspectRequest struct {
	WorkflowId string
	Mode       InspectMode
}

// WorkflowDetail is inspect_workflow's output. StepIds is populated only
// in InspectPreview mode; InspectMetadata returns just the summary shape.
type WorkflowDetail struct {
	WorkflowSummary
	RootStepId string
	StepIds    []string
}

// InspectWorkflow looks up a single workflow by id, returning NOT_FOUND if
// it is not registered.
func (e *Engine) InspectWorkflow(ctx context.Context, req InspectRequest) (*WorkflowDetail, error) {
	w, ok := e.registry.Lookup(req.WorkflowId)
	if !ok {
		return nil, notFound("unknown workflowId " + req.WorkflowId)
	}
	detail := &WorkflowDetail{
		WorkflowSummary: WorkflowSummary{WorkflowId: w.WorkflowId, Description: w.Description, StepCount: len(w.Steps)},
		RootStepId:      w.RootStepId,
	}
	if req.Mode == InspectPreview {
		detail.StepIds = w.SortedStepIds()
	}
	return detail, nil
}
