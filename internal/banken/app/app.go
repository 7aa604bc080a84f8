// Package app wires the agent together: configuration, the audit store,
// the Docker runtime adapter, the Core client, the event watcher, and the
// HTTP API.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/bdobrica/Banken/common/version"
	"github.com/bdobrica/Banken/internal/banken/api"
	"github.com/bdobrica/Banken/internal/banken/auth"
	"github.com/bdobrica/Banken/internal/banken/config"
	"github.com/bdobrica/Banken/internal/banken/core"
	"github.com/bdobrica/Banken/internal/banken/runtime/docker"
	"github.com/bdobrica/Banken/internal/banken/store"
	"github.com/bdobrica/Banken/internal/banken/watcher"
)

// App is the main agent application.
type App struct {
	config     *config.Config
	store      *store.Store
	runtime    *docker.Adapter
	core       *core.Client
	watcher    *watcher.Watcher
	server     *Server
	instanceID string
}

// coreSink bridges the watcher's Sink to the Core client, breaking the
// import dependency between the watcher and core packages.
type coreSink struct {
	client *core.Client
}

func (s *coreSink) Relay(ctx context.Context, ev watcher.Outbound) error {
	return s.client.SendEvent(ctx, core.EventPayload{
		Name:       ev.Name,
		Kind:       ev.Kind,
		ID:         ev.ID,
		Attributes: ev.Attributes,
	})
}

// New creates the agent application from a validated configuration.
func New(cfg *config.Config) (*App, error) {
	slog.Info("opening database", "path", cfg.DatabasePath)
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	adapter, err := docker.New()
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to initialize Docker runtime: %w", err)
	}

	instanceID := uuid.NewString()
	coreClient := core.New(core.Config{
		BaseURL:    cfg.Core.URL,
		Token:      cfg.Core.Token,
		InstanceID: instanceID,
		Timeout:    cfg.Core.Timeout,
	})

	filter := watcher.Filter{}
	if cfg.Watcher.ExcludedActions != nil {
		filter = watcher.Filter{
			Kinds:           []string{watcher.KindContainer},
			ExcludedActions: cfg.Watcher.ExcludedActions,
		}
	}
	w := watcher.New(watcher.Config{
		Command:   cfg.Watcher.Command,
		Args:      cfg.Watcher.Args,
		Sink:      &coreSink{client: coreClient},
		Inspector: adapter,
		Filter:    filter,
	})

	guard := auth.New(auth.Config{
		Token:      cfg.Auth.Token,
		HMACSecret: cfg.Auth.HMACSecret,
	})
	server := NewServer(cfg.ListenAddr, guard, w, st, coreClient)
	api.New(adapter, st).RegisterRoutes(server)

	return &App{
		config:     cfg,
		store:      st,
		runtime:    adapter,
		core:       coreClient,
		watcher:    w,
		server:     server,
		instanceID: instanceID,
	}, nil
}

// Run starts the agent and blocks until an interrupt or termination signal
// arrives.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.server.Start(ctx); err != nil {
		return err
	}

	if err := a.runtime.Ping(ctx); err != nil {
		slog.Warn("Docker daemon unreachable at startup; container commands will fail until it recovers", "err", err)
	}

	// Register with Core. The client retries internally; a control plane
	// that stays down does not keep the agent from watching events.
	hostname, _ := os.Hostname()
	if err := a.core.Register(ctx, core.RegisterRequest{
		InstanceID: a.instanceID,
		Hostname:   hostname,
		Version:    version.Version,
	}); err != nil {
		slog.Warn("could not register with Core; continuing unregistered", "err", err)
	} else {
		slog.Info("registered with Core", "instance_id", a.instanceID)
	}

	if err := a.watcher.Start(); err != nil {
		slog.Warn("event watcher failed to start; a restart has been scheduled", "err", err)
	}

	slog.Info("Banken is running; press Ctrl+C to stop", "version", version.Info())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	slog.Info("shutting down")
	return nil
}

// Stop stops the agent: the watcher subprocess first (so no events are lost
// mid-line), then the HTTP server, then the database.
func (a *App) Stop() {
	slog.Info("stopping event watcher")
	a.watcher.Shutdown()

	slog.Info("stopping http server")
	a.server.Stop()

	slog.Info("closing database")
	a.store.Close()
}
