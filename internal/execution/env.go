package execution

import (
	"context"

	"github.com/rakunlabs/anonymizer/internal/model"
)

// ContextStore is the durable Request store keyed by content hash, with
// type-set indices for AND/OR lookups.
type ContextStore interface {
	// Lookup retrieves Requests whose components carry the given types
	// (all of them when dataTypesAll, any otherwise), optionally filtered
	// by Request-level types the same way.
	Lookup(ctx context.Context, dataTypes []string, dataTypesAll bool, requestTypes []string, requestTypesAll bool) ([]*model.Request, error)
	// Record upserts a Request by its content hash.
	Record(ctx context.Context, request *model.Request) error
}

// AuditStore keeps per-request audit records ordered by timestamp.
type AuditStore interface {
	Log(ctx context.Context, audit map[string]any, timestamp float64) (float64, error)
	Update(ctx context.Context, timestamp float64, update func(map[string]any) map[string]any) (bool, error)
}

// ServiceSettings carries the default coordinates of one external service.
// Jobs may override URL/key per invocation through their args.
type ServiceSettings struct {
	URL string
	Key string
	SSL bool
}

// MQTTDefaults carries the default broker coordinates for publish jobs.
type MQTTDefaults struct {
	Host     string
	Port     int
	Username string
	Password string
	SSL      bool
	Topic    string
	ClientID string
}

// Services is the process-owned collaborator set jobs borrow during a run.
type Services struct {
	Context ContextStore
	Audits  AuditStore

	ARXlet  ServiceSettings
	FlaskDP ServiceSettings
	MISP    ServiceSettings
	STIX    ServiceSettings
	MQTT    MQTTDefaults

	// Attempts/Wait used by the retry envelope of job-issued calls.
	ConnectionAttempts int
	ConnectionWait     int // seconds

	// PGPKeyDir is the resource directory local encryption jobs read
	// public keys from.
	PGPKeyDir string
}

// Response is the HTTP reply a job may install on the environment.
type Response struct {
	Status int
	Body   any
}

// Env is the per-request mutable bag shared by every job of a pipeline
// run. The fixed fields cover the engine contract; named locations hold
// whatever jobs stash for one another (parsed policies, extracted events,
// STIX documents).
type Env struct {
	// Data is the transformed internal Request.
	Data *model.Request
	// Body is the transformer-typed inbound body.
	Body any
	// Raw is the decoded inbound JSON payload.
	Raw any
	// AuditTimestamp keys this request's audit record.
	AuditTimestamp float64
	// Results is the live pipeline report.
	Results *PipelineResult
	// Response, once set, becomes the HTTP reply.
	Response *Response
	// ResponseCode overrides the default status when no Response is set.
	ResponseCode int

	Services *Services

	values map[string]any
}

// NewEnv creates an empty environment bound to the given collaborators.
func NewEnv(services *Services) *Env {
	if services == nil {
		services = &Services{}
	}
	return &Env{Services: services, values: make(map[string]any)}
}

// Set stores a value under a named location.
func (e *Env) Set(location string, value any) {
	e.values[location] = value
}

// Get reads a named location, failing with a job error when absent. The
// fixed environment fields are addressable by their conventional names, so
// a job arg like "body" or "data" resolves the same way a stored location
// does.
func (e *Env) Get(location string) (any, error) {
	switch location {
	case "data":
		if e.Data != nil {
			return e.Data, nil
		}
	case "body":
		if e.Body != nil {
			return e.Body, nil
		}
	case "request":
		if e.Raw != nil {
			return e.Raw, nil
		}
	case "pipeline_results":
		if e.Results != nil {
			return e.Results, nil
		}
	case "audit_timestamp":
		return e.AuditTimestamp, nil
	}
	v, ok := e.values[location]
	if !ok {
		return nil, Jobf("environment attribute not found: %s", location)
	}
	return v, nil
}

// Has reports whether a named location is populated.
func (e *Env) Has(location string) bool {
	_, ok := e.values[location]
	return ok
}

// EnvAs reads a named location and asserts its kind, failing with a job
// error on mismatch.
func EnvAs[T any](e *Env, location string) (T, error) {
	var zero T
	v, err := e.Get(location)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, Jobf("environment attribute %s returned invalid object: %T", location, v)
	}
	return typed, nil
}
