package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/agentcore/agentcore/config"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/runtime"
	"github.com/agentcore/agentcore/workflow/loader"
	"github.com/agentcore/agentcore/workflow/store"
)

// runWorkflowCommand dispatches `agentcore workflow <file>` (run once to
// completion) and `agentcore workflow status <runId>` (look up a prior
// run in the bbolt index).
func runWorkflowCommand(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: agentcore workflow <file> | agentcore workflow status <runId>")
	}
	if args[0] == "status" {
		if len(args) < 2 {
			return fmt.Errorf("usage: agentcore workflow status <runId>")
		}
		return runWorkflowStatus(args[1])
	}
	return runWorkflowFile(args[0])
}

func runWorkflowFile(path string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Component)

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

	runID := runtime.NewRunID()
	name, def, err := loader.LoadWorkflow(path, runID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	result, err := rt.RunWorkflow(name, def)
	if err != nil {
		return fmt.Errorf("run workflow: %w", err)
	}

	return printJSON(result)
}

func runWorkflowStatus(runID string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(cfg.StorePath)
	if err != nil {
		return fmt.Errorf("open run index: %w", err)
	}
	defer s.Close()

	rec, found, err := s.Get(runID)
	if err != nil {
		return fmt.Errorf("look up run %s: %w", runID, err)
	}
	if !found {
		return fmt.Errorf("no such run: %s", runID)
	}

	return printJSON(rec)
}

func openStore(path string, logger logging.Logger) (*store.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path %s: %w", path, err)
	}
	s, err := store.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("open run index %s: %w", abs, err)
	}
	return s, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
