package execution

import (
	"context"
	"log/slog"
	"slices"
)

// PipelineResult is the serializable outcome of one pipeline run.
type PipelineResult struct {
	Success bool                   `json:"success"`
	Result  map[string]StageResult `json:"result"`
}

// Pipeline is an ordered sequence of stages, run once per request against
// a shared environment.
type Pipeline struct {
	Stages   []*Stage
	Env      *Env
	Policies map[string]any

	// Result is shared with the environment so reply jobs can report the
	// run so far.
	Result *PipelineResult

	next                     int
	discardResponseOnFailure bool
	optional                 []string
}

// NewPipeline creates a pipeline over the given stages.
func NewPipeline(env *Env, stages ...*Stage) *Pipeline {
	return &Pipeline{
		Stages:                   stages,
		Env:                      env,
		Policies:                 map[string]any{},
		Result:                   &PipelineResult{Success: true, Result: map[string]StageResult{}},
		discardResponseOnFailure: true,
	}
}

// InitPolicies installs the pipeline policy bag. The "optional" list names
// stages whose failure does not fail the pipeline;
// "discard_response_on_failure" controls whether a body set by a job is
// replaced by the report on overall failure.
func (p *Pipeline) InitPolicies(policies map[string]any) {
	if policies == nil {
		policies = map[string]any{}
	}
	p.Policies = policies
	p.discardResponseOnFailure = true
	if v, ok := policies["discard_response_on_failure"].(bool); ok {
		p.discardResponseOnFailure = v
	}
	p.optional = stringList(policies["optional"])
}

// DiscardResponseOnFailure reports the pipeline-level response policy.
func (p *Pipeline) DiscardResponseOnFailure() bool { return p.discardResponseOnFailure }

// RunWrapped executes every stage in declaration order and derives the
// overall success: false iff any non-optional stage failed. A
// PipelineError from the machinery is absorbed into a failed result with
// an empty map.
func (p *Pipeline) RunWrapped(ctx context.Context, kwargs map[string]any) (PipelineResult, error) {
	result, err := p.all(ctx, kwargs)
	if err != nil {
		if IsPipelineError(err) {
			slog.Error("pipeline caught an exception", "error", err)
			return PipelineResult{Success: false, Result: map[string]StageResult{}}, nil
		}
		return PipelineResult{}, err
	}
	for name, stageResult := range result.Result {
		if slices.Contains(p.optional, name) {
			continue
		}
		if !stageResult.Success {
			result.Success = false
			p.Result.Success = false
			break
		}
	}
	return result, nil
}

// all executes every remaining stage, resuming from the cursor.
func (p *Pipeline) all(ctx context.Context, kwargs map[string]any) (PipelineResult, error) {
	for {
		result, err := p.one(ctx, kwargs)
		if err != nil {
			return PipelineResult{}, err
		}
		if result == nil {
			return *p.Result, nil
		}
	}
}

// one executes the next stage, or returns nil when the pipeline is
// drained.
func (p *Pipeline) one(ctx context.Context, kwargs map[string]any) (*StageResult, error) {
	if p.next >= len(p.Stages) {
		return nil, nil
	}
	stage := p.Stages[p.next]
	p.next++

	slog.Info("begin execution of stage", "stage", stage.Name)
	stageResult, err := stage.RunWrapped(ctx, kwargs)
	if err != nil {
		return nil, err
	}
	slog.Info("finished execution of stage", "stage", stage.Name)
	p.Result.Result[stage.Name] = stageResult
	return &stageResult, nil
}

// Reset rewinds the pipeline and cascades the fresh environment to every
// stage. Engines must call it before each request.
func (p *Pipeline) Reset(env *Env) {
	if env == nil {
		env = NewEnv(nil)
	}
	p.Result = &PipelineResult{Success: true, Result: map[string]StageResult{}}
	p.Env = env
	p.next = 0
	for _, stage := range p.Stages {
		stage.Reset(env)
	}
}
