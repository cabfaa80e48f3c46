// Package memory is the in-memory context store. Data does not survive
// process restarts; useful for tests and single-shot deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rakunlabs/anonymizer/internal/model"
)

type entry struct {
	document       map[string]any
	componentTypes model.TypeSet
	requestTypes   model.TypeSet
}

type Memory struct {
	mu       sync.RWMutex
	requests map[string]entry // hash -> stored request
}

func New() *Memory {
	slog.Info("using in-memory context store (data will not persist across restarts)")
	return &Memory{requests: make(map[string]entry)}
}

func (m *Memory) Close() {}

// Record upserts a Request by hash, recomputing the type indices.
func (m *Memory) Record(_ context.Context, request *model.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[request.Hash()] = entry{
		document:       request.ToDict(),
		componentTypes: request.TypesOne(),
		requestTypes:   request.Type.Clone(),
	}
	return nil
}

// Lookup retrieves Requests matching the type filters.
func (m *Memory) Lookup(_ context.Context, dataTypes []string, dataTypesAll bool, requestTypes []string, requestTypesAll bool) ([]*model.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.Request
	for _, e := range m.requests {
		if !matches(e.componentTypes, dataTypes, dataTypesAll) {
			continue
		}
		if !matches(e.requestTypes, requestTypes, requestTypesAll) {
			continue
		}
		request, err := model.RequestFromDict(e.document)
		if err != nil {
			return nil, err
		}
		out = append(out, request)
	}
	return out, nil
}

func matches(typeSet model.TypeSet, filter []string, all bool) bool {
	if len(filter) == 0 {
		return true
	}
	if all {
		return typeSet.Is(filter...)
	}
	return typeSet.Any(filter...)
}
