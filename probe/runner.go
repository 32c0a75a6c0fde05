// Package probe implements the ProbeRunner used by the Sentinel's
// NoProgressWatcher (spec.md §4.11): it invokes a probe command,
// decodes its stdout as a single JSON object, and validates the
// progress-classification contract the watcher depends on.
package probe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentcore/agentcore/procmanager"
)

// Class is the probe's self-reported progress classification.
type Class string

const (
	ClassProgressing Class = "progressing"
	ClassStalled     Class = "stalled"
	ClassTerminal    Class = "terminal"
)

// Result is one probe invocation's decoded outcome.
type Result struct {
	Class  Class
	Digest string
	Raw    map[string]interface{}
}

// Options configures a single probe invocation.
type Options struct {
	Command         []string
	Cwd             string
	TimeoutMs       int64
	RequireZeroExit bool
}

// Runner spawns probe commands through a procmanager.Manager.
type Runner struct {
	procs *procmanager.Manager
}

// NewRunner constructs a Runner backed by procs.
func NewRunner(procs *procmanager.Manager) *Runner {
	return &Runner{procs: procs}
}

// Run spawns the probe command, waits for it to exit, and decodes its
// stdout. Stderr is drained concurrently so the child never blocks
// writing to it. A non-JSON stdout, a missing/invalid "class" field, or
// (when RequireZeroExit is set) a non-zero exit all return an error —
// callers apply the on_probe_error policy to these.
func (r *Runner) Run(opts Options) (Result, error) {
	mp, err := r.procs.Spawn(procmanager.SpawnOptions{
		Command:      opts.Command,
		Cwd:          opts.Cwd,
		TimeoutMs:    opts.TimeoutMs,
		ProcessGroup: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("probe spawn failed: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		procmanager.DrainToString(mp.Stderr)
		close(stderrDone)
	}()

	stdout := procmanager.DrainToString(mp.Stdout)
	exitCode := <-mp.Done
	<-stderrDone

	if opts.RequireZeroExit && exitCode != 0 {
		return Result{}, fmt.Errorf("probe exited %d", exitCode)
	}

	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return Result{}, fmt.Errorf("probe produced no stdout")
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Result{}, fmt.Errorf("probe stdout is not a JSON object: %w", err)
	}

	classStr, _ := raw["class"].(string)
	class := Class(classStr)
	switch class {
	case ClassProgressing, ClassStalled, ClassTerminal:
	default:
		return Result{}, fmt.Errorf("probe returned invalid class %q", classStr)
	}

	digest, _ := raw["digest"].(string)
	if digest == "" {
		digest = computeDigest(trimmed)
	}

	return Result{Class: class, Digest: digest, Raw: raw}, nil
}

func computeDigest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
