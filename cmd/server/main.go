package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/samber/do"
	"github.com/sirupsen/logrus"

	"followup-engine/backend/internal/ai"
	"followup-engine/backend/internal/api"
	"followup-engine/backend/internal/config"
	"followup-engine/backend/internal/conversation"
	"followup-engine/backend/internal/messaging"
	"followup-engine/backend/internal/prompts"
	"followup-engine/backend/internal/store"
	"followup-engine/backend/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	configureLogging(cfg.Log)

	di := do.New()
	defer func() {
		if err := di.Shutdown(); err != nil {
			logrus.WithError(err).Warn("shutdown services")
		}
	}()

	do.ProvideValue(di, cfg)
	do.Provide(di, newDatabase)
	do.Provide(di, newGateway)
	do.Provide(di, newPrompts)
	do.Provide(di, newDispatcher)
	do.Provide(di, newEventHub)
	do.Provide(di, newOrchestrator)
	do.Provide(di, newRunner)
	do.Provide(di, newServer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go do.MustInvoke[*api.EventHub](di).Run(ctx)

	server, err := do.Invoke[*api.Server](di)
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logrus.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("http server shutdown")
		}
	}()

	logrus.Infof("starting followup-engine backend on :%s", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("server exited: %v", err)
	}
}

func configureLogging(cfg config.Log) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.JSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
}

func newDatabase(i *do.Injector) (*store.Database, error) {
	cfg := do.MustInvoke[*config.Config](i)
	if cfg.Database.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.URL), 0o755); err != nil {
			return nil, err
		}
	}
	return store.Open(cfg.Database.Driver, cfg.Database.URL, cfg.Database.Silent)
}

func newGateway(i *do.Injector) (*ai.Gateway, error) {
	cfg := do.MustInvoke[*config.Config](i)
	cache := ai.WithCache(ai.NewTTLCache(cfg.Model.CacheTTL, nil))

	client, err := ai.NewClient(cfg.AI())
	if errors.Is(err, ai.ErrDisabled) {
		logrus.Info("model disabled - no API key configured, every turn uses fallback triage")
		return ai.NewGateway(nil, cache), nil
	}
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"model":   cfg.Model.Name,
		"timeout": cfg.Model.Timeout,
	}).Info("model gateway enabled")
	return ai.NewGateway(client, cache), nil
}

func newPrompts(_ *do.Injector) (*prompts.Resolver, error) {
	return prompts.NewResolver()
}

func newDispatcher(i *do.Injector) (messaging.Dispatcher, error) {
	cfg := do.MustInvoke[*config.Config](i)
	dispatcher, err := messaging.New(cfg.Dispatcher())
	if err != nil {
		return nil, err
	}
	logrus.WithField("adapter", dispatcher.Name()).Info("messaging adapter ready")
	return dispatcher, nil
}

func newEventHub(_ *do.Injector) (*api.EventHub, error) {
	return api.NewEventHub(), nil
}

func newOrchestrator(i *do.Injector) (*conversation.Orchestrator, error) {
	return conversation.New(
		do.MustInvoke[*store.Database](i),
		do.MustInvoke[*ai.Gateway](i),
		do.MustInvoke[*prompts.Resolver](i),
		do.MustInvoke[messaging.Dispatcher](i),
		conversation.WithNotifier(do.MustInvoke[*api.EventHub](i)),
	), nil
}

func newRunner(i *do.Injector) (*worker.Runner, error) {
	cfg := do.MustInvoke[*config.Config](i)
	runner := worker.New(cfg.Workers.Count, cfg.Workers.Queue)
	return runner, nil
}

func newServer(i *do.Injector) (*api.Server, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return api.NewServer(
		api.Config{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			ModelEnabled:   do.MustInvoke[*ai.Gateway](i).Enabled(),
			Dispatcher:     do.MustInvoke[messaging.Dispatcher](i).Name(),
		},
		do.MustInvoke[*store.Database](i),
		do.MustInvoke[*conversation.Orchestrator](i),
		do.MustInvoke[*worker.Runner](i),
		do.MustInvoke[*api.EventHub](i),
	)
}
