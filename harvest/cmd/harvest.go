// Command-line entrypoint: run one extraction without the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"harvest/harvest/agents/configs"
	"harvest/harvest/agents/core"
	"harvest/harvest/agents/monitor"
	"harvest/harvest/agents/protocols"
	"harvest/harvest/config"
	"harvest/harvest/controllers"
	"harvest/harvest/services/browser"
	"harvest/harvest/services/llm"
	"harvest/harvest/utils/color"
	"harvest/harvest/utils/jsonutils"
	"harvest/harvest/utils/logging"
	"harvest/harvest/utils/scraper"
	"harvest/harvest/utils/types"
)

func main() {
	cfg := config.LoadConfig()
	logging.InitLogger(cfg.LogDir)
	defer logging.Sync()

	args := os.Args[1:]
	var err error
	switch {
	case len(args) >= 1 && args[0] == "protocols":
		err = listProtocols(cfg)
	case len(args) == 2 && args[0] == "discover":
		err = discover(cfg, args[1])
	case len(args) >= 3 && args[0] == "run":
		err = runOnce(cfg, args[1], strings.Join(args[2:], " "))
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, color.Error("error: "+err.Error()))
		logging.Sync()
		if errors.Is(err, core.ErrCancelled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

func usage() {
	fmt.Println("Harvest CLI usage:")
	fmt.Println(`  harvest run <protocol> "<task>"   # run one extraction and print its JSON`)
	fmt.Println("  harvest protocols                 # list extraction protocols")
	fmt.Println("  harvest discover <url>            # list pagination pages over plain HTTP")
}

func listProtocols(cfg config.Config) error {
	registry, err := protocols.Default(protocols.Vars{MaxPages: cfg.MaxPages})
	if err != nil {
		return err
	}
	fmt.Println(jsonutils.ToJSON(controllers.NewProtocolsController(registry).Describe()))
	return nil
}

// discover walks pagination without a browser, for pages that render server side.
func discover(cfg config.Config, startURL string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d := &scraper.Discoverer{
		Fetcher:  scraper.HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}, UserAgent: cfg.UserAgent},
		MaxPages: cfg.MaxPages,
		Logger:   logging.AppLogger,
	}
	pages, err := d.Discover(ctx, startURL)
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, color.Success(fmt.Sprintf("found %d pages", len(pages))))
	fmt.Println(jsonutils.ToJSON(pages))
	return nil
}

func runOnce(cfg config.Config, protocolID, task string) error {
	registry, err := protocols.Default(protocols.Vars{MaxPages: cfg.MaxPages})
	if err != nil {
		return err
	}
	p, err := registry.Resolve(protocolID)
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
	ctrl := controllers.NewExtractController(
		browser.NewProvisioner(engine, cfg.SessionConfig(), logging.AppLogger),
		core.NewRunner(primary, planner, opts, logging.AppLogger),
		monitor.New(cfg.MonitorInterval, logging.AppLogger),
		cfg.RunTimeout,
		logging.AppLogger,
	)

	// Ctrl-C plays the part of a disconnecting client.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.AppLogger.Info("cli run", zap.String("protocol", p.ID), zap.String("task", task))
	out, err := ctrl.Execute(ctx, monitor.ContextLiveness{Ctx: ctx}, task, p, func(ev types.StepEvent) {
		fmt.Fprintln(os.Stderr, color.Step(ev))
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stderr, color.Success("extraction finished"))
	fmt.Println(string(out))
	return nil
}
