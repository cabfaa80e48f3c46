package jobs

import (
	"context"

	"github.com/rakunlabs/anonymizer/internal/execution"
)

func init() {
	execution.Register("context.StoreRequest", newRunnerFactory(storeRequest{}))
}

// storeRequest persists the current Request into the context store.
type storeRequest struct{}

func (storeRequest) Run(ctx context.Context, j *execution.Job, _ map[string]any) (any, error) {
	store := j.Env.Services.Context
	if store == nil {
		return nil, execution.Jobf("no context store configured")
	}
	if j.Env.Data == nil {
		return nil, execution.Jobf("environment attribute not found: data")
	}
	if err := store.Record(ctx, j.Env.Data); err != nil {
		return nil, execution.Jobf("unable to store request: %v", err)
	}
	return nil, nil
}
