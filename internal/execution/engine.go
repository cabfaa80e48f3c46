package execution

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/rakunlabs/anonymizer/internal/model"
)

// defaultPongType is the job type installed when no pipeline description
// is available: it echoes the inbound JSON back to the caller.
const defaultPongType = "RequestPong"

// Engine is the per-request façade over the pipeline machinery. It holds
// the parsed description; every request gets its own environment and a
// freshly built pipeline so concurrent runs never share cursors.
type Engine struct {
	desc     *Description
	services *Services
}

// NewEngine loads the pipeline description from the given file. An empty
// path or an unreadable/unparsable file installs the default echo
// pipeline.
func NewEngine(pipelineFile string, services *Services) *Engine {
	e := &Engine{services: services}
	if pipelineFile == "" {
		slog.Info("unable to load pipeline: no pipeline file supplied")
		slog.Info("loading default pipeline")
		return e
	}

	slog.Info("loading pipeline from file", "file", pipelineFile)
	raw, err := os.ReadFile(pipelineFile)
	if err != nil {
		slog.Error("unable to load pipeline from file", "file", pipelineFile, "error", err)
		slog.Info("loading default pipeline")
		return e
	}
	desc, err := ParseDescription(raw)
	if err != nil {
		slog.Error("unable to parse pipeline description", "file", pipelineFile, "error", err)
		slog.Info("loading default pipeline")
		return e
	}
	e.desc = desc
	return e
}

// NewEngineFromDescription builds an engine over an in-memory description.
func NewEngineFromDescription(desc *Description, services *Services) *Engine {
	return &Engine{desc: desc, services: services}
}

// Run executes the pipeline for one request and derives the HTTP response:
// the response a job installed on the environment, or the pipeline report
// as body when none was installed; on pipeline failure, status 400 with the
// report as body (a job-set body is kept only when
// discard_response_on_failure is false); otherwise the explicit or default
// 200 code.
func (e *Engine) Run(ctx context.Context, data *model.Request, body, raw any, auditTimestamp float64) (*Response, *PipelineResult, error) {
	env := NewEnv(e.services)
	env.Data = data
	env.Body = body
	env.Raw = raw
	env.AuditTimestamp = auditTimestamp

	pipeline, err := e.pipeline(env)
	if err != nil {
		return nil, nil, Pipelinef("build pipeline: %v", err)
	}
	pipeline.Reset(env)
	env.Results = pipeline.Result

	slog.Info("execution begin")
	result, err := pipeline.RunWrapped(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("execution finished")

	// The report is the default response body; a failed run replaces a
	// job-set body with the report unless the pipeline opted out.
	response := env.Response
	if !result.Success {
		slog.Error("pipeline was not successful")
		if response == nil || pipeline.DiscardResponseOnFailure() {
			response = &Response{Body: result}
		}
		response.Status = http.StatusBadRequest
		return response, &result, nil
	}
	if response == nil {
		code := env.ResponseCode
		if code == 0 {
			code = http.StatusOK
		}
		response = &Response{Status: code, Body: result}
	}
	return response, &result, nil
}

func (e *Engine) pipeline(env *Env) (*Pipeline, error) {
	if e.desc != nil {
		return Build(e.desc, env)
	}
	return DefaultPipeline(env), nil
}

// DefaultPipeline is a single stage holding one echo job.
func DefaultPipeline(env *Env) *Pipeline {
	job := FromString(defaultPongType, "default-pong", env, nil)
	job.InitPolicies(nil)
	stage := NewStage("default-stage", env, job)
	stage.InitPolicies(nil)
	pipeline := NewPipeline(env, stage)
	pipeline.InitPolicies(nil)
	return pipeline
}
