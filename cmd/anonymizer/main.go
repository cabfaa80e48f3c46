package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/anonymizer/internal/audit"
	"github.com/rakunlabs/anonymizer/internal/auth"
	"github.com/rakunlabs/anonymizer/internal/config"
	"github.com/rakunlabs/anonymizer/internal/server"
	"github.com/rakunlabs/anonymizer/internal/store"
)

var (
	name    = "anonymizer"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	authClient, err := auth.New(ctx, cfg.Auth)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	contextStore, err := store.New(ctx, cfg.Context)
	if err != nil {
		return fmt.Errorf("failed to initialize context service: %w", err)
	}
	defer contextStore.Close()

	slog.Info("initializing valkey service", "address", cfg.Valkey.Address)
	audits := audit.New(cfg.Valkey)
	defer audits.Close()

	srv, err := server.New(ctx, cfg, authClient, contextStore, audits)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Stop()

	return srv.Start(ctx)
}
