package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"harvest/harvest/agents/configs"
	"harvest/harvest/agents/core"
	"harvest/harvest/agents/monitor"
	"harvest/harvest/agents/protocols"
	"harvest/harvest/config"
	"harvest/harvest/controllers"
	"harvest/harvest/routes"
	"harvest/harvest/services/browser"
	"harvest/harvest/services/llm"
	"harvest/harvest/utils/logging"
)

func main() {
	cfg := config.LoadConfig()
	logging.InitLogger(cfg.LogDir)
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.ErrorLogger.Error("server exited with error", zap.Error(err))
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	registry, err := protocols.Default(protocols.Vars{MaxPages: cfg.MaxPages})
	if err != nil {
		return err
	}
	primary, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	planner, err := llm.New(cfg.Planner)
	if err != nil {
		return err
	}

	engine, err := browser.NewPlaywrightEngine(browser.EngineOptions{
		Headless:        cfg.Headless,
		DisableSecurity: cfg.DisableSecurity,
		Install:         cfg.InstallBrowser,
	}, logging.AppLogger)
	if err != nil {
		return err
	}
	defer engine.Close()

	opts := cfg.RunnerOptions()
	if opts.Agent, err = configs.Load(cfg.AgentConfigFile); err != nil {
		return fmt.Errorf("load agent config: %w", err)
	}
	provisioner := browser.NewProvisioner(engine, cfg.SessionConfig(), logging.AppLogger)
	runner := core.NewRunner(primary, planner, opts, logging.AppLogger)
	extractCtrl := controllers.NewExtractController(provisioner, runner,
		monitor.New(cfg.MonitorInterval, logging.AppLogger), cfg.RunTimeout, logging.AppLogger)

	r := routes.NewRouter(routes.RouterConfig{
		Token:    cfg.APIToken,
		Registry: registry,
		Extract:  extractCtrl,
	})
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.AppLogger.Info("server listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.ErrorLogger.Error("server shutdown error", zap.Error(err))
			return err
		}
		logging.AppLogger.Info("server shutdown complete",
			zap.Int64("sessions_acquired", provisioner.Stats().Acquired),
			zap.Int64("sessions_released", provisioner.Stats().Released),
		)
		return nil
	})
	return g.Wait()
}
