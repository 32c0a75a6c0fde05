// Package loader decodes the YAML workflow and daemon descriptors named
// by the `agentcore workflow <file>` / `agentcore daemon <file>` CLI
// surface (SPEC_FULL.md §7) into workflow.WorkflowDefinition and
// daemon.Config values, following the teacher's `core/config.go`
// convention of yaml.v3 struct tags over a plain decode target rather
// than a hand-rolled parser.
package loader

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agentcore/agentcore/probe"
	"github.com/agentcore/agentcore/sentinel"
	"github.com/agentcore/agentcore/types"
	"github.com/agentcore/agentcore/workflow"
)

// WorkerTaskSpec is the YAML shape of a step's types.WorkerTask, minus
// the fields resolved at run time (WorkerTaskID, WorkspaceRef).
type WorkerTaskSpec struct {
	WorkerKind   string            `yaml:"workerKind"`
	Instructions string            `yaml:"instructions"`
	Capabilities []string          `yaml:"capabilities"`
	OutputMode   string            `yaml:"outputMode"`
	Env          map[string]string `yaml:"env"`
	Model        string            `yaml:"model"`
	MaxSteps     *int              `yaml:"maxSteps"`
	MaxCommandMs *int64            `yaml:"maxCommandMs"`
}

// InputRefSpec is the YAML shape of workflow.InputRef.
type InputRefSpec struct {
	From     string `yaml:"from"`
	Artifact string `yaml:"artifact"`
	As       string `yaml:"as"`
}

// CompletionCheckSpec is the YAML shape of workflow.CompletionCheck.
type CompletionCheckSpec struct {
	Command               []string `yaml:"command"`
	MaxIterations         int      `yaml:"maxIterations"`
	OnIterationsExhausted string   `yaml:"onIterationsExhausted"`
}

// NoOutputSpec is the YAML shape of sentinel.NoOutputConfig.
type NoOutputSpec struct {
	Enabled            bool   `yaml:"enabled"`
	PollIntervalMs     int64  `yaml:"pollIntervalMs"`
	NoOutputTimeoutMs  int64  `yaml:"noOutputTimeoutMs"`
	ActivitySource     string `yaml:"activitySource"`
	OnStall            string `yaml:"onStall"`
}

// NoProgressSpec is the YAML shape of sentinel.NoProgressConfig.
type NoProgressSpec struct {
	Enabled             bool     `yaml:"enabled"`
	Probe               []string `yaml:"probeCommand"`
	ProbeTimeoutMs      int64    `yaml:"probeTimeoutMs"`
	IntervalMs          int64    `yaml:"intervalMs"`
	StallThreshold      int      `yaml:"stallThreshold"`
	ProbeErrorThreshold int      `yaml:"probeErrorThreshold"`
	OnProbeError        string   `yaml:"onProbeError"`
	OnStall             string   `yaml:"onStall"`
	OnTerminal          string   `yaml:"onTerminal"`
}

// StepSpec is the YAML shape of one workflow.StepDefinition.
type StepSpec struct {
	StepID          string               `yaml:"stepId"`
	DependsOn       []string             `yaml:"dependsOn"`
	Inputs          []InputRefSpec       `yaml:"inputs"`
	OutputPaths     map[string]string    `yaml:"outputPaths"`
	Task            WorkerTaskSpec       `yaml:"task"`
	MaxRetries      int                  `yaml:"maxRetries"`
	OnFailure       string               `yaml:"onFailure"`
	CompletionCheck *CompletionCheckSpec `yaml:"completionCheck"`
	NoOutput        NoOutputSpec         `yaml:"noOutput"`
	NoProgress      NoProgressSpec       `yaml:"noProgress"`
}

// WorkflowSpec is the top-level YAML shape of a workflow file.
type WorkflowSpec struct {
	Name        string     `yaml:"name"`
	Concurrency int        `yaml:"concurrency"`
	TimeoutMs   int64      `yaml:"timeoutMs"`
	ContextDir  string     `yaml:"contextDir"`
	Steps       []StepSpec `yaml:"steps"`
}

// LoadWorkflow reads and decodes a workflow YAML file at path, returning
// its human-readable name (WorkflowSpec.Name, defaulting to path as
// given) and the executable definition with runID assigned.
func LoadWorkflow(path, runID string) (string, workflow.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", workflow.WorkflowDefinition{}, fmt.Errorf("loader: read %s: %w", path, err)
	}

	var spec WorkflowSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return "", workflow.WorkflowDefinition{}, fmt.Errorf("loader: parse %s: %w", path, err)
	}
	if spec.Name == "" {
		spec.Name = path
	}

	def := workflow.WorkflowDefinition{
		RunID:       runID,
		Concurrency: spec.Concurrency,
		TimeoutMs:   spec.TimeoutMs,
		ContextDir:  spec.ContextDir,
	}
	for _, s := range spec.Steps {
		step, err := toStepDefinition(s)
		if err != nil {
			return "", workflow.WorkflowDefinition{}, fmt.Errorf("loader: step %s: %w", s.StepID, err)
		}
		def.Steps = append(def.Steps, step)
	}

	return spec.Name, def, nil
}

func toStepDefinition(s StepSpec) (workflow.StepDefinition, error) {
	if s.StepID == "" {
		return workflow.StepDefinition{}, fmt.Errorf("stepId is required")
	}
	for name := range s.OutputPaths {
		if err := workflow.ValidateArtifactName(name); err != nil {
			return workflow.StepDefinition{}, err
		}
	}

	caps := make([]types.Capability, 0, len(s.Task.Capabilities))
	for _, c := range s.Task.Capabilities {
		caps = append(caps, types.Capability(c))
	}

	task := types.WorkerTask{
		WorkerKind:   types.WorkerKind(s.Task.WorkerKind),
		Instructions: s.Task.Instructions,
		Capabilities: caps,
		OutputMode:   types.OutputMode(s.Task.OutputMode),
		Env:          s.Task.Env,
		Model:        s.Task.Model,
		Budget: types.WorkerBudget{
			MaxSteps:         s.Task.MaxSteps,
			MaxCommandTimeMs: s.Task.MaxCommandMs,
		},
	}

	inputs := make([]workflow.InputRef, 0, len(s.Inputs))
	for _, i := range s.Inputs {
		inputs = append(inputs, workflow.InputRef{From: i.From, Artifact: i.Artifact, As: i.As})
	}

	var check *workflow.CompletionCheck
	if s.CompletionCheck != nil {
		check = &workflow.CompletionCheck{
			Command:               s.CompletionCheck.Command,
			MaxIterations:         s.CompletionCheck.MaxIterations,
			OnIterationsExhausted: workflow.OnIterationsExhausted(s.CompletionCheck.OnIterationsExhausted),
		}
	}

	onFailure := workflow.OnFailure(s.OnFailure)
	if onFailure == "" {
		onFailure = workflow.OnFailureAbort
	}

	return workflow.StepDefinition{
		StepID:          s.StepID,
		DependsOn:       s.DependsOn,
		Inputs:          inputs,
		OutputPaths:     s.OutputPaths,
		Task:            task,
		MaxRetries:      s.MaxRetries,
		OnFailure:       onFailure,
		CompletionCheck: check,
		NoOutput:        toNoOutputConfig(s.NoOutput),
		NoProgress:      toNoProgressConfig(s.NoProgress),
	}, nil
}

func toNoOutputConfig(s NoOutputSpec) sentinel.NoOutputConfig {
	return sentinel.NoOutputConfig{
		Enabled:         s.Enabled,
		PollInterval:    time.Duration(s.PollIntervalMs) * time.Millisecond,
		NoOutputTimeout: time.Duration(s.NoOutputTimeoutMs) * time.Millisecond,
		ActivitySource:  sentinel.ActivitySource(s.ActivitySource),
		OnStall:         sentinel.Action(s.OnStall),
	}
}

func toNoProgressConfig(s NoProgressSpec) sentinel.NoProgressConfig {
	return sentinel.NoProgressConfig{
		Enabled: s.Enabled,
		Probe: probe.Options{
			Command:         s.Probe,
			TimeoutMs:       s.ProbeTimeoutMs,
			RequireZeroExit: false,
		},
		Interval:            time.Duration(s.IntervalMs) * time.Millisecond,
		StallThreshold:      s.StallThreshold,
		ProbeErrorThreshold: s.ProbeErrorThreshold,
		OnProbeError:        sentinel.ProbeErrorAction(s.OnProbeError),
		OnStall:             sentinel.Action(s.OnStall),
		OnTerminal:          sentinel.Action(s.OnTerminal),
	}
}

// DaemonSpec is the top-level YAML shape of a daemon descriptor: the
// workflow it runs on every trigger, plus the watch/cron rules that
// trigger it.
type DaemonSpec struct {
	Workflow string          `yaml:"workflow"`
	Watch    []WatchRuleSpec `yaml:"watch"`
	Cron     []CronRuleSpec  `yaml:"cron"`
}

// WatchRuleSpec is one filesystem path to watch.
type WatchRuleSpec struct {
	Path string `yaml:"path"`
}

// CronRuleSpec is one cron schedule to trigger on.
type CronRuleSpec struct {
	Schedule string `yaml:"schedule"`
	Seconds  bool   `yaml:"seconds"`
}

// LoadDaemonSpec reads and decodes a daemon YAML file at path.
func LoadDaemonSpec(path string) (DaemonSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DaemonSpec{}, fmt.Errorf("loader: read %s: %w", path, err)
	}
	var spec DaemonSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return DaemonSpec{}, fmt.Errorf("loader: parse %s: %w", path, err)
	}
	if spec.Workflow == "" {
		return DaemonSpec{}, fmt.Errorf("loader: %s: workflow is required", path)
	}
	return spec, nil
}
