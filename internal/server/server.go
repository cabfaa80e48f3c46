package server

import (
	"context"
	"log/slog"
	"net"

	"github.com/rakunlabs/ada"

	mcors "github.com/rakunlabs/ada/middleware/cors"
	mforwardauth "github.com/rakunlabs/ada/middleware/forwardauth"
	mlog "github.com/rakunlabs/ada/middleware/log"
	mrecover "github.com/rakunlabs/ada/middleware/recover"
	mrequestid "github.com/rakunlabs/ada/middleware/requestid"
	mserver "github.com/rakunlabs/ada/middleware/server"
	mtelemetry "github.com/rakunlabs/ada/middleware/telemetry"

	"github.com/rakunlabs/anonymizer/internal/audit"
	"github.com/rakunlabs/anonymizer/internal/auth"
	"github.com/rakunlabs/anonymizer/internal/config"
	"github.com/rakunlabs/anonymizer/internal/execution"
	"github.com/rakunlabs/anonymizer/internal/store"
	"github.com/rakunlabs/anonymizer/internal/tasks"

	// Register the job library.
	_ "github.com/rakunlabs/anonymizer/internal/execution/jobs"
)

type Server struct {
	cfg *config.Config

	server *ada.Server

	engine  *execution.Engine
	auth    auth.Client
	context store.Context
	audits  *audit.Store
	tasks   *tasks.Manager
}

func New(ctx context.Context, cfg *config.Config, authClient auth.Client, contextStore store.Context, audits *audit.Store) (*Server, error) {
	mux := ada.New()
	mux.Use(
		mrecover.Middleware(),
		mserver.Middleware(config.Service),
		mcors.Middleware(),
		mrequestid.Middleware(),
		mlog.Middleware(),
		mtelemetry.Middleware(),
	)

	services := &execution.Services{
		Context:            contextStore,
		Audits:             audits,
		ConnectionAttempts: cfg.Services.Connection.Attempts,
		ConnectionWait:     int(cfg.Services.Connection.Wait.Seconds()),
		PGPKeyDir:          cfg.Services.PGPKeyDir,
	}
	if cfg.Services.ARXlet != nil {
		services.ARXlet = execution.ServiceSettings{URL: cfg.Services.ARXlet.URL}
	}
	if cfg.Services.FlaskDP != nil {
		services.FlaskDP = execution.ServiceSettings{URL: cfg.Services.FlaskDP.URL}
	}
	if cfg.Services.MISP != nil {
		services.MISP = execution.ServiceSettings{
			URL: cfg.Services.MISP.URL,
			Key: cfg.Services.MISP.Key,
			SSL: cfg.Services.MISP.SSL,
		}
	}
	if cfg.Services.STIX != nil {
		services.STIX = execution.ServiceSettings{URL: cfg.Services.STIX.URL}
	}
	if cfg.Services.MQTT != nil {
		services.MQTT = execution.MQTTDefaults{
			Host:     cfg.Services.MQTT.Host,
			Port:     cfg.Services.MQTT.Port,
			Username: cfg.Services.MQTT.Username,
			Password: cfg.Services.MQTT.Password,
			SSL:      cfg.Services.MQTT.SSL,
			Topic:    cfg.Services.MQTT.Topic,
			ClientID: cfg.Services.MQTT.ClientID,
		}
	}

	slog.Debug("pipeline file", "file", cfg.Pipeline.File)

	s := &Server{
		cfg:     cfg,
		server:  mux,
		engine:  execution.NewEngine(cfg.Pipeline.File, services),
		auth:    authClient,
		context: contextStore,
		audits:  audits,
		tasks:   tasks.NewManager(ctx, tasks.Deps{Audits: audits, Cfg: cfg}),
	}

	baseGroup := mux.Group(cfg.Server.BasePath)

	if cfg.Server.ForwardAuth != nil {
		slog.Info("forward auth enabled", "url", cfg.Server.ForwardAuth.Address)
		baseGroup.Use(mforwardauth.Middleware(mforwardauth.WithConfig(*cfg.Server.ForwardAuth)))
	}

	apiGroup := baseGroup.Group("/api")

	apiGroup.GET("/version", s.VersionAPI)
	apiGroup.GET("/anonymizer", s.protected(s.VerifyCredentialsAPI))
	apiGroup.POST("/anonymizer", s.protected(s.AnonymizeAPI))

	apiGroup.PUT("/tasks/*", s.AddTaskAPI)
	apiGroup.PATCH("/tasks/*", s.ResetTaskAPI)
	apiGroup.DELETE("/tasks/*", s.DeleteTaskAPI)

	debugGroup := apiGroup.Group("/debug")
	debugGroup.GET("/hello-world", s.HelloWorldAPI)
	debugGroup.GET("/config", s.GetConfigAPI)
	debugGroup.PUT("/config", s.SetConfigAPI)

	return s, nil
}

func (s *Server) Start(ctx context.Context) error {
	return s.server.StartWithContext(ctx, net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port))
}

// Stop tears down the periodic tasks; the HTTP listener follows its
// context.
func (s *Server) Stop() {
	s.tasks.Stop()
}
