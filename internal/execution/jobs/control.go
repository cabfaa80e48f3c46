// Package jobs holds the concrete job library. Each file covers one
// backend or concern and registers its job types via an init() function
// that calls execution.Register. Importing this package (even as a blank
// import) triggers all registrations:
//
//	import _ "github.com/rakunlabs/anonymizer/internal/execution/jobs"
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/rakunlabs/anonymizer/internal/execution"
)

func init() {
	execution.Register("RequestPong", newRunnerFactory(requestPong{}))
	execution.Register("DataPong", newRunnerFactory(dataPong{}))
	execution.Register("ResultsPong", newRunnerFactory(resultsPong{}))
	execution.Register("ModelPong", newRunnerFactory(modelPong{}))
	execution.Register("DummyJob", newRunnerFactory(dummyJob{}))
	execution.Register("DummyGeneratorJob", newGeneratorFactory(dummyGeneratorJob{}))
}

// newRunnerFactory adapts a stateless Runner into a registry factory.
func newRunnerFactory(impl execution.Runner) execution.Factory {
	return func(name string, env *execution.Env, args map[string]any) *execution.Job {
		return execution.NewJob(name, env, args, impl)
	}
}

// newGeneratorFactory adapts a stateless Generator into a registry factory.
func newGeneratorFactory(impl execution.Generator) execution.Factory {
	return func(name string, env *execution.Env, args map[string]any) *execution.Job {
		return execution.NewJob(name, env, args, impl)
	}
}

// reply installs a 200 JSON response on the environment. The body must be
// JSON-serializable.
func reply(j *execution.Job, body any) error {
	if _, err := json.Marshal(body); err != nil {
		return execution.Jobf("unserializable response body: %v", err)
	}
	j.Env.Response = &execution.Response{Status: http.StatusOK, Body: body}
	return nil
}

// requestPong replies with the raw inbound JSON payload.
type requestPong struct{}

func (requestPong) Run(_ context.Context, j *execution.Job, _ map[string]any) (any, error) {
	return nil, reply(j, j.Env.Raw)
}

// dataPong replies with the dictionary form of the internal Request.
type dataPong struct{}

func (dataPong) Run(_ context.Context, j *execution.Job, _ map[string]any) (any, error) {
	if j.Env.Data == nil {
		return nil, execution.Jobf("environment attribute not found: data")
	}
	return nil, reply(j, j.Env.Data.ToDict())
}

// resultsPong replies with the pipeline report accumulated so far.
type resultsPong struct{}

func (resultsPong) Run(_ context.Context, j *execution.Job, _ map[string]any) (any, error) {
	return nil, reply(j, j.Env.Results)
}

// modelPong replies with the JSON form of a model instance stored at
// env.<object_location>.
type modelPong struct{}

func (modelPong) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "object_location"); err != nil {
		return nil, err
	}
	location := execution.ArgString(args, "object_location")
	value, err := j.Env.Get(location)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, execution.Jobf("unserializable object at %s: %v", location, err)
	}
	var body any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, execution.Jobf("unserializable object at %s: %v", location, err)
	}
	return nil, reply(j, body)
}

// dummyJob logs a message and optionally fails. Testing aid.
type dummyJob struct{}

func (dummyJob) Run(_ context.Context, j *execution.Job, args map[string]any) (any, error) {
	if err := j.VerifyParameters(args, "message"); err != nil {
		return nil, err
	}
	slog.Info("dummy job message", "job", j.Name, "message", execution.ArgString(args, "message"))
	if execution.ArgBool(args, "fail") {
		return nil, execution.Jobf("dummy job %s failed", j.Name)
	}
	return nil, nil
}

// dummyGeneratorJob generates jobs from a declarative list. Each entry
// carries name/type/args/policies fields like the pipeline description.
type dummyGeneratorJob struct{}

func (dummyGeneratorJob) Generate(_ context.Context, j *execution.Job, args map[string]any) ([]*execution.Job, error) {
	if err := j.VerifyParameters(args, "jobs"); err != nil {
		return nil, err
	}
	if message := execution.ArgString(args, "message"); message != "" {
		slog.Info("dummy generator message", "job", j.Name, "message", message)
	}
	if execution.ArgBool(args, "fail") {
		return nil, execution.Jobf("dummy job %s failed", j.Name)
	}

	var ret []*execution.Job
	for _, entry := range execution.ArgList(args, "jobs") {
		desc, ok := entry.(map[string]any)
		if !ok {
			return nil, execution.Jobf("job description is not an object")
		}
		name, _ := desc["name"].(string)
		jobType, _ := desc["type"].(string)
		jobArgs, _ := desc["args"].(map[string]any)
		jobPolicies, _ := desc["policies"].(map[string]any)

		child := execution.FromString(jobType, name, j.Env, jobArgs)
		child.Adopt(j)
		child.InitPolicies(jobPolicies)
		ret = append(ret, child)
	}
	return ret, nil
}
