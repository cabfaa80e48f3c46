// Package store provides the durable context store: Requests keyed by
// content hash with flattened type-set columns for AND/OR lookups.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rakunlabs/anonymizer/internal/config"
	"github.com/rakunlabs/anonymizer/internal/model"
	"github.com/rakunlabs/anonymizer/internal/store/memory"
	"github.com/rakunlabs/anonymizer/internal/store/postgres"
	"github.com/rakunlabs/anonymizer/internal/store/sqlite3"
)

// Context is the context store surface the execution engine borrows.
type Context interface {
	Lookup(ctx context.Context, dataTypes []string, dataTypesAll bool, requestTypes []string, requestTypesAll bool) ([]*model.Request, error)
	Record(ctx context.Context, request *model.Request) error
	Close()
}

// noContext is the provider used when no context store is configured:
// lookups come back empty and records are dropped.
type noContext struct{}

func (noContext) Lookup(context.Context, []string, bool, []string, bool) ([]*model.Request, error) {
	return nil, nil
}
func (noContext) Record(context.Context, *model.Request) error { return nil }
func (noContext) Close()                                       {}

// New creates the context store for the configured provider.
func New(ctx context.Context, cfg config.Context) (Context, error) {
	switch strings.ToUpper(cfg.Provider) {
	case config.ContextProviderPostgres:
		slog.Info("context provider is PostgreSQL")
		if cfg.Postgres == nil {
			return nil, errors.New("configuration for provider POSTGRES missing")
		}
		return postgres.New(ctx, cfg.Postgres)
	case config.ContextProviderSQLite:
		slog.Info("context provider is SQLite")
		if cfg.SQLite == nil {
			return nil, errors.New("configuration for provider SQLITE missing")
		}
		return sqlite3.New(ctx, cfg.SQLite)
	case config.ContextProviderMemory:
		slog.Info("context provider is in-memory")
		return memory.New(), nil
	case config.ContextProviderNone, "":
		slog.Warn("no context provider specified")
		return noContext{}, nil
	default:
		return nil, fmt.Errorf("unknown context provider: %q", cfg.Provider)
	}
}
