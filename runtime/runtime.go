// Package runtime composes the individually-tested subsystems —
// PermitGate, WorkerDelegationGateway, Watchdog, EscalationManager, and
// the workflow Executor — into the single CoreRuntime object
// `cmd/agentcore` drives (SPEC_FULL.md §7). It is the terminal
// integration node: every other package is a component the runtime
// wires, not a thing it reimplements.
package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/agentcore/agentcore/backpressure"
	"github.com/agentcore/agentcore/breaker"
	"github.com/agentcore/agentcore/budget"
	"github.com/agentcore/agentcore/cancel"
	"github.com/agentcore/agentcore/config"
	"github.com/agentcore/agentcore/escalation"
	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/ids"
	"github.com/agentcore/agentcore/logging"
	"github.com/agentcore/agentcore/permit"
	"github.com/agentcore/agentcore/procmanager"
	"github.com/agentcore/agentcore/telemetry"
	"github.com/agentcore/agentcore/types"
	"github.com/agentcore/agentcore/watchdog"
	"github.com/agentcore/agentcore/workeradapter"
	"github.com/agentcore/agentcore/workergateway"
	"github.com/agentcore/agentcore/workflow"
	"github.com/agentcore/agentcore/workflow/store"
	"github.com/agentcore/agentcore/workspacelock"
)

// CoreRuntime is one running agentcore process: the admission, delegation,
// health-monitoring, and escalation subsystems plus everything a workflow
// run needs from them.
type CoreRuntime struct {
	Config *config.Config
	Logger logging.Logger

	Gate      *permit.Gate
	Gateway   *workergateway.Gateway
	Watchdog  *watchdog.Watchdog
	Escalator *escalation.Manager
	Procs     *procmanager.Manager
	Store     *store.Store

	telemetry  *telemetry.Provider
	redisSink  *telemetry.RedisSink
	breakerReg *breaker.Registry
}

// Option customizes New beyond what config.Config drives directly.
type Option func(*CoreRuntime)

// WithLogger overrides the default no-op logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *CoreRuntime) { r.Logger = logger }
}

// WithStore attaches a run index; `agentcore workflow status` is a
// no-op surface without one.
func WithStore(s *store.Store) Option {
	return func(r *CoreRuntime) { r.Store = s }
}

// New composes a CoreRuntime from cfg. It registers the three built-in
// CLI worker kinds (opencode, claude, codex) as process-backed adapters
// plus the MOCK kind for tests, wires cfg.Telemetry into an OTel
// Provider, and installs breaker and watchdog metrics against it.
// Escalations and watchdog level changes are mirrored to Redis when a
// Redis URL is configured.
func New(cfg *config.Config, opts ...Option) (*CoreRuntime, error) {
	if cfg == nil {
		return nil, ferrors.New("runtime.New", "validation", ferrors.ErrMissingConfiguration)
	}

	r := &CoreRuntime{Config: cfg, Logger: logging.NoOpLogger{}}
	for _, opt := range opts {
		opt(r)
	}

	provider, err := telemetry.NewProvider(telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
	}, r.Logger)
	if err != nil {
		return nil, fmt.Errorf("runtime: telemetry provider: %w", err)
	}
	r.telemetry = provider

	breakerMetrics := telemetry.NewBreakerMetrics(provider.Meter())
	watchdogMetrics := telemetry.NewWatchdogMetrics(provider.Meter())

	r.breakerReg = breaker.NewRegistry(func(providerName string) *breaker.CircuitBreaker {
		bc := cfg.ToBreakerConfigFor(providerName)
		bc.Metrics = breakerMetrics
		bc.Logger = r.Logger
		return breaker.New(bc)
	})

	r.Procs = procmanager.New(procmanager.Config{Logger: r.Logger})

	registry := workeradapter.NewRegistry()
	registry.Register(workeradapter.NewCLIAdapter(types.WorkerOpenCode, r.Procs, workeradapter.OpenCodeCommand))
	registry.Register(workeradapter.NewCLIAdapter(types.WorkerClaudeCode, r.Procs, workeradapter.ClaudeCodeCommand))
	registry.Register(workeradapter.NewCLIAdapter(types.WorkerCodexCLI, r.Procs, workeradapter.CodexCLICommand))
	registry.Register(workeradapter.NewMockAdapter())

	r.Gateway = workergateway.New(workergateway.Config{
		Registry: registry,
		Lock:     workspacelock.New(),
	})

	r.Gate = permit.New(permit.Config{
		Budget:       budget.New(cfg.ToBudgetConfig()),
		Breakers:     r.breakerReg,
		Backpressure: backpressure.New(cfg.ToBackpressureThresholds()),
		Logger:       r.Logger,
	})

	r.Escalator = escalation.New(escalation.Config{
		CrashThreshold:      5,
		LatestWinsThreshold: 3,
	})

	onLevelChange := func(metric string, from, to watchdog.Level) {
		watchdogMetrics.Observe(metric, from, to)
		if r.redisSink != nil {
			r.redisSink.OnLevelChange(metric, from, to)
		}
	}
	r.Watchdog = watchdog.New(watchdog.Config{
		Thresholds:    cfg.ToWatchdogThresholds(),
		OnLevelChange: onLevelChange,
		Logger:        r.Logger,
		Sources: []watchdog.MetricSource{
			func() (map[string]float64, error) {
				return map[string]float64{
					"active_workers": float64(r.Gateway.GetActiveWorkerCount()),
					"active_permits": float64(r.Gate.ActiveCount()),
				}, nil
			},
		},
	})

	if cfg.Telemetry.RedisURL != "" {
		sink, err := telemetry.NewRedisSink(cfg.Telemetry.RedisURL, r.Logger)
		if err != nil {
			return nil, fmt.Errorf("runtime: redis sink: %w", err)
		}
		r.redisSink = sink
		r.Escalator.OnEscalation(sink.OnEscalation)
	}

	return r, nil
}

// Start begins the Watchdog's ticker loop. Callers invoking RunWorkflow
// directly without a daemon source still want health monitoring active.
func (r *CoreRuntime) Start() {
	r.Watchdog.Start()
}

// Shutdown tears every owned subsystem down. Safe to call once.
func (r *CoreRuntime) Shutdown(ctx context.Context) error {
	r.Watchdog.Stop()
	r.Gate.Dispose()
	r.Gateway.CancelAll()
	r.Procs.KillAll(5000)
	r.breakerReg.Dispose()
	if r.redisSink != nil {
		r.redisSink.Close()
	}
	if r.Store != nil {
		r.Store.Close()
	}
	return r.telemetry.Shutdown(ctx)
}

// StepRunner bridges workflow.Executor's StepRunnerFunc to the
// PermitGate and WorkerDelegationGateway: every step attempt is admitted
// through the gate before it reaches the gateway, and a gate rejection
// is translated into a FAILED WorkerResult rather than a panic:
// retryable for circuit-open, shed, concurrency and rate rejections,
// non-retryable otherwise.
func (r *CoreRuntime) StepRunner() workflow.StepRunnerFunc {
	return func(task types.WorkerTask, abort *cancel.Token) types.WorkerResult {
		job := jobFor(task)
		if err := job.Validate(); err != nil {
			return types.WorkerResult{Status: "FAILED", ErrorClass: string(ferrors.ClassFatal)}
		}

		p, rejection := r.Gate.RequestPermit(job, 0)
		if rejection != nil {
			r.Logger.Warn("permit rejected", map[string]interface{}{
				"workerTaskId": task.WorkerTaskID,
				"reason":       string(rejection.Reason),
				"detail":       rejection.Detail,
			})
			return types.WorkerResult{Status: "FAILED", ErrorClass: string(retryClassFor(rejection.Reason))}
		}
		defer r.Gate.CompletePermit(p.PermitID)

		result, err := r.Gateway.DelegateTask(task, p.PermitID, p.DeadlineAt, abort, workergateway.Options{})
		if err != nil {
			r.Escalator.RecordWorkerCrash(string(task.WorkerKind))
			return types.WorkerResult{Status: "FAILED", ErrorClass: string(ferrors.ClassNonRetryable)}
		}
		return result
	}
}

func jobFor(task types.WorkerTask) types.Job {
	deadline := task.Budget.DeadlineAt
	timeoutMs := int64(30000)
	if deadline > 0 {
		if d := deadline - time.Now().UnixMilli(); d > 0 {
			timeoutMs = d
		}
	}
	return types.Job{
		JobID: task.WorkerTaskID,
		Type:  types.JobWorkerTask,
		Priority: types.Priority{
			Value: 0,
			Class: types.PriorityInteractive,
		},
		Payload: map[string]any{"workerKind": string(task.WorkerKind)},
		Limits: types.Limits{
			TimeoutMs:   timeoutMs,
			MaxAttempts: 1,
		},
	}
}

func retryClassFor(reason types.RejectionReason) ferrors.ErrorClass {
	switch reason {
	case types.ReasonCircuitOpen, types.ReasonGlobalShed, types.ReasonConcurrencyLimit, types.ReasonRateLimit:
		return ferrors.ClassRetryableTransient
	default:
		return ferrors.ClassNonRetryable
	}
}

// RunWorkflow executes def to completion via workflow.Executor, wired to
// this runtime's StepRunner, and persists the outcome to Store (if
// attached) under def.RunID. name is a human label for the run (in the
// CLI, the workflow's YAML name, or its file path as given when the
// file has no name); it has no bearing on
// execution, only on the persisted record's WorkflowName field.
func (r *CoreRuntime) RunWorkflow(name string, def workflow.WorkflowDefinition) (workflow.RunResult, error) {
	exec, err := workflow.New(workflow.Config{
		Def:     def,
		RunStep: r.StepRunner(),
		Logger:  r.Logger,
	})
	if err != nil {
		return workflow.RunResult{}, fmt.Errorf("runtime: new executor: %w", err)
	}

	startedAt := time.Now().UnixMilli()
	result := exec.Run(cancel.NewToken())
	finishedAt := time.Now().UnixMilli()

	if r.Store != nil {
		rec := store.RecordOf(name, startedAt, finishedAt, result)
		if err := r.Store.Put(rec); err != nil {
			r.Logger.Warn("failed to persist run record", map[string]interface{}{"runId": result.RunID, "error": err.Error()})
		}
	}

	return result, nil
}

// NewRunID generates a fresh run identifier for callers that need one
// before constructing a WorkflowDefinition (e.g. the CLI echoing the ID
// back to the user immediately on submission).
func NewRunID() string {
	return ids.NewWorkflowRunID()
}
