package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/agentcore/agentcore/config"
	"github.com/agentcore/agentcore/ids"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/runtime"
	"github.com/agentcore/agentcore/types"
	"github.com/agentcore/agentcore/workergateway"
)

// runOneShot implements `agentcore run [<jobFile>]`: admit a single job,
// delegate it to a worker, print the result, and exit. It skips the IPC
// transport and the workflow DAG entirely — useful for smoke-testing a
// single worker task or scripting ad hoc runs.
func runOneShot(args []string) error {
	var src io.Reader = os.Stdin
	if len(args) > 0 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open job file: %w", err)
		}
		defer f.Close()
		src = f
	}

	raw, err := io.ReadAll(src)
	if err != nil {
		return fmt.Errorf("read job: %w", err)
	}

	var j types.Job
	if err := json.Unmarshal(raw, &j); err != nil {
		return fmt.Errorf("parse job: %w", err)
	}
	if j.JobID == "" {
		j.JobID = ids.NewJobID()
	}
	if err := j.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Component)

	rt, err := runtime.New(cfg, runtime.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("new runtime: %w", err)
	}
	defer func() {
		ctx, cancel := shutdownContext()
		defer cancel()
		rt.Shutdown(ctx)
	}()
	rt.Start()

	p, rejection := rt.Gate.RequestPermit(j, 0)
	if rejection != nil {
		return printJSON(rejection)
	}
	defer rt.Gate.CompletePermit(p.PermitID)

	task := workerTaskFromJob(j)
	result, err := rt.Gateway.DelegateTask(task, p.PermitID, p.DeadlineAt, p.Abort().(abortSignal), workergateway.Options{})
	if err != nil {
		rt.Escalator.RecordWorkerCrash(string(task.WorkerKind))
		return fmt.Errorf("delegate task: %w", err)
	}
	return printJSON(result)
}
