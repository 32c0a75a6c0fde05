package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agentcore/agentcore/config"
	"github.com/agentcore/agentcore/daemon"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/runtime"
	"github.com/agentcore/agentcore/workflow/loader"
)

// runDaemonCommand implements `agentcore daemon <file>`: it loads a
// daemon descriptor naming watch paths and cron schedules, and re-runs
// the referenced workflow every time one of those rules fires.
func runDaemonCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: agentcore daemon <file>")
	}
	descriptorPath := args[0]

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Component)

	spec, err := loader.LoadDaemonSpec(descriptorPath)
	if err != nil {
		return fmt.Errorf("load daemon spec: %w", err)
	}

	workflowPath := spec.Workflow
	if !filepath.IsAbs(workflowPath) {
		workflowPath = filepath.Join(filepath.Dir(descriptorPath), workflowPath)
	}

	s, err := openStore(cfg.StorePath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	rt, err := runtime.New(cfg, runtime.WithLogger(logger), runtime.WithStore(s))
	if err != nil {
		return fmt.Errorf("new runtime: %w", err)
	}
	defer func() {
		ctx, cancel := shutdownContext()
		defer cancel()
		rt.Shutdown(ctx)
	}()
	rt.Start()

	trigger := func(reason string) {
		runID := runtime.NewRunID()
		name, def, err := loader.LoadWorkflow(workflowPath, runID)
		if err != nil {
			logger.Error("daemon: failed to load workflow", map[string]interface{}{"reason": reason, "error": err.Error()})
			return
		}
		logger.Info("daemon: triggering workflow run", map[string]interface{}{"reason": reason, "workflow": name, "runId": runID})
		if _, err := rt.RunWorkflow(name, def); err != nil {
			logger.Error("daemon: workflow run failed", map[string]interface{}{"reason": reason, "workflow": name, "error": err.Error()})
		}
	}

	cfgD := daemon.Config{Logger: logger}
	for _, w := range spec.Watch {
		cfgD.Watch = append(cfgD.Watch, daemon.WatchRule{Path: w.Path, Trigger: trigger})
	}
	for _, c := range spec.Cron {
		cfgD.Cron = append(cfgD.Cron, daemon.CronRule{Schedule: c.Schedule, Seconds: c.Seconds, Trigger: trigger})
	}

	d, err := daemon.New(cfgD)
	if err != nil {
		return fmt.Errorf("new daemon: %w", err)
	}
	d.Start()
	defer d.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("daemon: shutting down", nil)
	return nil
}
