package execution

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// StageResult is the serializable outcome of one stage run. Failures is -1
// when the stage machinery itself failed.
type StageResult struct {
	Success  bool                 `json:"success"`
	Result   map[string]JobResult `json:"result"`
	Failures int                  `json:"failures"`
}

// Stage is an ordered sequence of jobs. The job list is mutable: generator
// output is spliced in place at the cursor so that the first generated
// child is the very next job to run.
type Stage struct {
	Name     string
	Jobs     []*Job
	Env      *Env
	Policies map[string]any

	next          int
	fatalFailures int
	result        StageResult
	optional      []string
}

// NewStage creates a stage over the given jobs.
func NewStage(name string, env *Env, jobs ...*Job) *Stage {
	return &Stage{
		Name:     name,
		Jobs:     jobs,
		Env:      env,
		Policies: map[string]any{},
		result:   StageResult{Success: true, Result: map[string]JobResult{}},
	}
}

// InitPolicies installs the stage policy bag. The "optional" list names
// jobs whose failure does not count as fatal.
func (s *Stage) InitPolicies(policies map[string]any) {
	if policies == nil {
		policies = map[string]any{}
	}
	s.Policies = policies
	s.optional = stringList(policies["optional"])
}

// RunWrapped executes all jobs. A StageError from the machinery is
// absorbed into a failed result with Failures=-1; job-level failures only
// flip Success when a non-optional job failed.
func (s *Stage) RunWrapped(ctx context.Context, kwargs map[string]any) (StageResult, error) {
	result, err := s.all(ctx, kwargs)
	if err != nil {
		if IsStageError(err) {
			slog.Error("stage caught an exception", "stage", s.Name, "error", err)
			return StageResult{Success: false, Result: map[string]JobResult{}, Failures: -1}, nil
		}
		return StageResult{}, err
	}
	if s.fatalFailures > 0 {
		result.Success = false
	}
	return result, nil
}

// all executes every remaining job, resuming from the cursor.
func (s *Stage) all(ctx context.Context, kwargs map[string]any) (StageResult, error) {
	for {
		result, err := s.one(ctx, kwargs)
		if err != nil {
			return StageResult{}, err
		}
		if result == nil {
			return s.result, nil
		}
	}
}

// one executes the next job in line, or returns nil when the stage is
// drained.
func (s *Stage) one(ctx context.Context, kwargs map[string]any) (*JobResult, error) {
	if s.next >= len(s.Jobs) {
		return nil, nil
	}
	job := s.Jobs[s.next]
	s.next++

	slog.Info("begin execution of job", "stage", s.Name, "job", job.Name)
	jobResult, err := job.RunWrapped(ctx, kwargs)
	if err != nil {
		return nil, err
	}
	slog.Info("finished execution of job", "stage", s.Name, "job", job.Name)

	if job.Ephemeral {
		slog.Info("removing ephemeral job", "stage", s.Name, "job", job.Name)
		s.next--
		s.Jobs = slices.Delete(s.Jobs, s.next, s.next+1)
	}

	if job.IsGenerator() {
		generated := jobResult.generated
		slog.Info("job created new jobs",
			"stage", s.Name, "job", job.Name, "count", len(generated))
		for i := len(generated) - 1; i >= 0; i-- {
			s.Jobs = slices.Insert(s.Jobs, s.next, generated[i])
		}
		// Keep the stored report serializable: replace the job list with
		// the stringified list of generated names.
		names := make([]string, 0, len(generated))
		for _, child := range generated {
			names = append(names, strings.TrimPrefix(child.Name, job.Name+"."))
		}
		jobResult = JobResult{Success: jobResult.Success, Result: fmt.Sprintf("%v", names)}
	}

	s.result.Result[job.Name] = jobResult

	if !jobResult.Success {
		s.result.Failures++
		if !s.isOptional(job) {
			s.fatalFailures++
		}
	}
	return &jobResult, nil
}

// Reset rewinds the stage for a fresh run over a new environment.
func (s *Stage) Reset(env *Env) {
	if env == nil {
		env = NewEnv(nil)
	}
	s.result = StageResult{Success: true, Result: map[string]JobResult{}}
	s.Env = env
	s.next = 0
	s.fatalFailures = 0
	for _, job := range s.Jobs {
		job.Reset(env)
	}
}

// isOptional walks up the parent chain: a generated job is optional when
// its generator is.
func (s *Stage) isOptional(job *Job) bool {
	if job.Parent != nil {
		return s.isOptional(job.Parent)
	}
	return slices.Contains(s.optional, job.Name)
}

// stringList converts a policy value (JSON list) to strings.
func stringList(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
