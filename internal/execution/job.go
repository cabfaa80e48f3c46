package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/rakunlabs/anonymizer/internal/model"
)

// Runner is the body of a normal job. The returned value is stringified
// into the job report; nil becomes the empty string.
type Runner interface {
	Run(ctx context.Context, job *Job, args map[string]any) (any, error)
}

// Generator is the body of a generator job: its output is a list of new
// jobs spliced ahead of the remaining stage queue.
type Generator interface {
	Generate(ctx context.Context, job *Job, args map[string]any) ([]*Job, error)
}

// JobResult is the serializable outcome of one job run.
type JobResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`

	// generated carries a generator's children to the stage; it is
	// replaced by the stringified name list before the result is stored.
	generated []*Job
}

// Job is a single unit of work. It owns static args from the pipeline
// description, a policy bag, and a reference to the shared environment.
// Jobs produced by a generator are ephemeral, named "<parent>.<child>" and
// removed from the stage once run.
type Job struct {
	Name      string
	Args      map[string]any
	Policies  map[string]any
	Env       *Env
	Ephemeral bool
	Parent    *Job

	inheritPolicies bool
	impl            any // Runner or Generator
}

// NewJob creates a top-level job.
func NewJob(name string, env *Env, args map[string]any, impl any) *Job {
	if env == nil {
		env = NewEnv(nil)
	}
	merged := make(map[string]any, len(args))
	for k, v := range args {
		merged[k] = v
	}
	return &Job{
		Name:            name,
		Args:            merged,
		Policies:        map[string]any{},
		Env:             env,
		inheritPolicies: true,
		impl:            impl,
	}
}

// NewChildJob creates an ephemeral job owned by a generator. The child
// shares the generator's environment.
func NewChildJob(name string, parent *Job, args map[string]any, impl any) *Job {
	j := NewJob(parent.Name+"."+name, parent.Env, args, impl)
	j.Ephemeral = true
	j.Parent = parent
	return j
}

// Adopt turns an already-built job into an ephemeral child of a generator:
// prefixed name, shared environment, parent link.
func (j *Job) Adopt(parent *Job) {
	j.Name = parent.Name + "." + j.Name
	j.Ephemeral = true
	j.Parent = parent
	j.Env = parent.Env
}

// InitPolicies installs the job's policy bag.
func (j *Job) InitPolicies(policies map[string]any) {
	if policies == nil {
		policies = map[string]any{}
	}
	j.Policies = policies
	j.inheritPolicies = true
	if v, ok := policies["generated_jobs_inherit_policies"].(bool); ok {
		j.inheritPolicies = v
	}
}

// Reset rebinds the job to a fresh environment.
func (j *Job) Reset(env *Env) {
	if env == nil {
		env = NewEnv(nil)
	}
	j.Env = env
}

// RunWrapped merges the static args with the call args (dynamic wins) and
// executes the job body. A JobError is absorbed into a failed result;
// every other error propagates.
func (j *Job) RunWrapped(ctx context.Context, kwargs map[string]any) (JobResult, error) {
	rargs := make(map[string]any, len(j.Args)+len(kwargs))
	for k, v := range j.Args {
		rargs[k] = v
	}
	for k, v := range kwargs {
		rargs[k] = v
	}

	switch impl := j.impl.(type) {
	case Generator:
		generated, err := impl.Generate(ctx, j, rargs)
		if err != nil {
			if IsJobError(err) {
				slog.Error("job caught an exception", "job", j.Name, "error", err)
				return JobResult{Success: false, Result: ""}, nil
			}
			return JobResult{}, err
		}
		if j.inheritPolicies {
			for _, child := range generated {
				child.InitPolicies(j.Policies)
			}
		}
		return JobResult{Success: true, generated: generated}, nil
	case Runner:
		result, err := impl.Run(ctx, j, rargs)
		if err != nil {
			if IsJobError(err) {
				slog.Error("job caught an exception", "job", j.Name, "error", err)
				return JobResult{Success: false, Result: ""}, nil
			}
			return JobResult{}, err
		}
		out := ""
		if result != nil {
			out = fmt.Sprint(result)
		}
		return JobResult{Success: true, Result: out}, nil
	default:
		return JobResult{}, Stagef("job %q has no runnable body", j.Name)
	}
}

// IsGenerator reports whether the job body produces further jobs.
func (j *Job) IsGenerator() bool {
	_, ok := j.impl.(Generator)
	return ok
}

// GeneratorImpl returns the job's generator body when it has one.
func GeneratorImpl(j *Job) (Generator, bool) {
	g, ok := j.impl.(Generator)
	return g, ok
}

// ─── Contract helpers ───

// VerifyParameters fails with a job error when any named parameter is
// missing from args.
func (j *Job) VerifyParameters(args map[string]any, params ...string) error {
	slog.Debug("verifying parameters", "job", j.Name, "count", len(params))
	for _, param := range params {
		if _, ok := args[param]; !ok {
			slog.Error("missing parameter", "job", j.Name, "parameter", param)
			return Jobf("missing parameter %s", param)
		}
	}
	return nil
}

// ExtractAttributes filters an iterable of components down to the
// Attributes carrying all given types.
func ExtractAttributes(data []model.Component, types ...string) []*model.Attribute {
	var out []*model.Attribute
	for _, c := range data {
		att, ok := c.(*model.Attribute)
		if ok && att.Type.Is(types...) {
			out = append(out, att)
		}
	}
	return out
}

// ExtractObjects filters an iterable of components down to the Objects
// carrying all given types.
func ExtractObjects(data []model.Component, types ...string) []*model.Object {
	var out []*model.Object
	for _, c := range data {
		obj, ok := c.(*model.Object)
		if ok && obj.Type.Is(types...) {
			out = append(out, obj)
		}
	}
	return out
}

// ParseArg accepts an instance of T, a generic map/list, or a JSON string,
// and returns the value deserialized into T. Anything else fails with a
// job error.
func ParseArg[T any](arg any) (T, error) {
	var out T
	if typed, ok := arg.(T); ok {
		return typed, nil
	}
	switch v := arg.(type) {
	case string:
		if err := json.Unmarshal([]byte(v), &out); err != nil {
			return out, Jobf("not parsable as %T: %v", out, err)
		}
		return out, nil
	default:
		raw, err := json.Marshal(arg)
		if err != nil {
			return out, Jobf("not a dict, string or %T: %v", out, arg)
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, Jobf("not parsable as %T: %v", out, err)
		}
		return out, nil
	}
}

// Argument coercion helpers. Pipeline descriptions travel through JSON, so
// numbers arrive as float64 and lists as []any.

func ArgString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func ArgBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func ArgInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func ArgFloat(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func ArgFloatDefault(args map[string]any, key string, def float64) float64 {
	if _, ok := args[key]; !ok {
		return def
	}
	return ArgFloat(args, key)
}

func ArgStringList(args map[string]any, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func ArgList(args map[string]any, key string) []any {
	switch v := args[key].(type) {
	case []any:
		return v
	default:
		return nil
	}
}

// ─── Registry ───

// Factory builds a job of one registered type.
type Factory func(name string, env *Env, args map[string]any) *Job

var factories = make(map[string]Factory)

// Register adds a job factory under its pipeline-description type name.
// Called from init() functions in the jobs package.
func Register(jobType string, factory Factory) {
	factories[jobType] = factory
}

// RegisteredTypes returns all registered job type names.
func RegisteredTypes() []string {
	types := make([]string, 0, len(factories))
	for t := range factories {
		types = append(types, t)
	}
	return types
}

// FromString resolves a job type name to a concrete job. Unknown names
// collapse to a logged no-op job rather than an error.
func FromString(jobType, name string, env *Env, args map[string]any) *Job {
	factory, ok := factories[jobType]
	if !ok {
		slog.Error("unknown job type, installing no-op job", "type", jobType, "job", name)
		return NewJob("empty-job-"+uuid.NewString(), env, nil, emptyJob{})
	}
	return factory(name, env, args)
}

// emptyJob is the no-op replacement for unresolvable job types.
type emptyJob struct{}

func (emptyJob) Run(context.Context, *Job, map[string]any) (any, error) {
	return nil, nil
}
