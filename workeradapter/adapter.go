// Package workeradapter implements the WorkerAdapter contract of
// spec.md §4.6: a tagged-variant interface over external coding-agent
// CLIs, generalizing the teacher's tagged-provider pattern
// (ai/providers' kind-dispatched client shape, now expressed here as a
// registry of process-based adapters) to OpenCode/ClaudeCode/Codex/
// Custom/Mock workers.
package workeradapter

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/agentcore/cancel"
	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/procmanager"
	"github.com/agentcore/agentcore/types"
)

// EventKind tags one WorkerEvent (spec.md §4.6).
type EventKind string

const (
	EventStdout   EventKind = "stdout"
	EventStderr   EventKind = "stderr"
	EventProgress EventKind = "progress"
	EventPatch    EventKind = "patch"
)

// Event is one tagged message produced while a worker task runs.
type Event struct {
	Kind     EventKind
	Line     string
	Progress map[string]interface{}
	Patch    *types.Artifact
}

// Handle is the adapter-owned handle to a running worker task.
type Handle struct {
	HandleID   string
	WorkerKind types.WorkerKind
	Abort      *cancel.Token
}

// Adapter is the contract every worker implementation satisfies.
type Adapter interface {
	Kind() types.WorkerKind
	StartTask(task types.WorkerTask) (*Handle, error)
	StreamEvents(handle *Handle) <-chan Event
	Cancel(handle *Handle)
	AwaitResult(handle *Handle) types.WorkerResult
}

// CommandBuilder builds the argv for a process-based adapter from a
// WorkerTask (spec.md §4.6: "subcommand, output-format flag,
// model/variant overrides, instructions as final positional arg").
type CommandBuilder func(task types.WorkerTask) []string

type taskState struct {
	mp         *procmanager.ManagedProcess
	events     chan Event
	linesMu    sync.Mutex
	lines      []string
	readersWG  sync.WaitGroup
	startedAt  time.Time
}

// CLIAdapter is the process-based template shared by every
// external-CLI-backed adapter (spec.md §4.6).
type CLIAdapter struct {
	kind       types.WorkerKind
	procs      *procmanager.Manager
	buildCmd   CommandBuilder
	graceMs    int64
	nowFn      func() time.Time

	mu    sync.Mutex
	state map[string]*taskState
}

// NewCLIAdapter constructs a process-based adapter for kind, using
// procs to spawn children and buildCmd to render the CLI invocation.
func NewCLIAdapter(kind types.WorkerKind, procs *procmanager.Manager, buildCmd CommandBuilder) *CLIAdapter {
	return &CLIAdapter{
		kind:     kind,
		procs:    procs,
		buildCmd: buildCmd,
		graceMs:  5000,
		nowFn:    time.Now,
		state:    make(map[string]*taskState),
	}
}

func (a *CLIAdapter) Kind() types.WorkerKind { return a.kind }

// StartTask spawns the worker CLI per spec.md §4.6: cwd = workspaceRef,
// merged env, abort wired to the task's own abort handle, timeout
// derived from the task's deadline.
func (a *CLIAdapter) StartTask(task types.WorkerTask) (*Handle, error) {
	argv := a.buildCmd(task)

	abort := cancel.NewToken()
	timeoutMs := task.Budget.DeadlineAt - a.nowFn().UnixMilli()
	if timeoutMs < 0 {
		timeoutMs = 0
	}

	mp, err := a.procs.Spawn(procmanager.SpawnOptions{
		Command:      argv,
		Cwd:          task.WorkspaceRef,
		Env:          task.Env,
		Abort:        abort,
		TimeoutMs:    timeoutMs,
		ProcessGroup: true,
		GraceMs:      a.graceMs,
	})
	if err != nil {
		return nil, ferrors.New("workeradapter.StartTask", "worker", err)
	}

	h := &Handle{HandleID: task.WorkerTaskID, WorkerKind: a.kind, Abort: abort}

	st := &taskState{mp: mp, events: make(chan Event, 256), startedAt: a.nowFn()}
	a.mu.Lock()
	a.state[h.HandleID] = st
	a.mu.Unlock()

	st.readersWG.Add(2)
	go a.readLines(st, mp.Stdout, true)
	go a.readLines(st, mp.Stderr, false)
	go func() {
		st.readersWG.Wait()
		close(st.events)
	}()

	return h, nil
}

func (a *CLIAdapter) readLines(st *taskState, r io.Reader, isStdout bool) {
	defer st.readersWG.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if isStdout {
			st.linesMu.Lock()
			st.lines = append(st.lines, line)
			st.linesMu.Unlock()
			emitClassified(st.events, line)
		} else {
			select {
			case st.events <- Event{Kind: EventStderr, Line: line}:
			default:
			}
		}
	}
}

func emitClassified(events chan Event, line string) {
	var tagged struct {
		Type     string          `json:"type"`
		FilePath string          `json:"filePath"`
		Diff     string          `json:"diff"`
		Path     string          `json:"path"`
	}
	if json.Unmarshal([]byte(line), &tagged) == nil && tagged.Type != "" {
		switch tagged.Type {
		case "progress":
			var progress map[string]interface{}
			_ = json.Unmarshal([]byte(line), &progress)
			select {
			case events <- Event{Kind: EventProgress, Line: line, Progress: progress}:
			default:
			}
			return
		case "patch":
			select {
			case events <- Event{Kind: EventPatch, Line: line, Patch: &types.Artifact{Kind: types.ArtifactPatch, FilePath: tagged.FilePath, Diff: tagged.Diff}}:
			default:
			}
			return
		}
	}
	select {
	case events <- Event{Kind: EventStdout, Line: line}:
	default:
	}
}

// StreamEvents returns the channel of tagged events for handle. The
// channel closes once both stdout and stderr readers reach EOF.
func (a *CLIAdapter) StreamEvents(handle *Handle) <-chan Event {
	a.mu.Lock()
	st, ok := a.state[handle.HandleID]
	a.mu.Unlock()
	if !ok {
		ch := make(chan Event)
		close(ch)
		return ch
	}
	return st.events
}

// Cancel invokes the Process Manager's gracefulShutdown with the
// adapter's grace period.
func (a *CLIAdapter) Cancel(handle *Handle) {
	a.mu.Lock()
	st, ok := a.state[handle.HandleID]
	a.mu.Unlock()
	if !ok {
		return
	}
	handle.Abort.Fire("cancelled")
	a.procs.GracefulShutdown(st.mp.PID, a.graceMs)
}

// AwaitResult waits for the process to exit and classifies the outcome
// per spec.md §4.6.
func (a *CLIAdapter) AwaitResult(handle *Handle) types.WorkerResult {
	a.mu.Lock()
	st, ok := a.state[handle.HandleID]
	a.mu.Unlock()
	if !ok {
		return types.WorkerResult{Status: types.WorkerFailed, ErrorClass: string(ferrors.ClassNonRetryable)}
	}

	exitCode := <-st.mp.Done
	st.readersWG.Wait()

	st.linesMu.Lock()
	lines := append([]string(nil), st.lines...)
	st.linesMu.Unlock()

	durationMs := a.nowFn().Sub(st.startedAt).Milliseconds()

	result := types.WorkerResult{DurationMs: durationMs, Cost: types.Cost{WallTimeMs: durationMs}}

	switch {
	case exitCode == 0:
		result.Status = types.WorkerSucceeded
	case handle.Abort.Fired():
		result.Status = types.WorkerCancelled
		result.ErrorClass = string(ferrors.ClassRetryableTransient)
	case exitCode == 137 || exitCode == 143 || exitCode < 0:
		result.Status = types.WorkerFailed
		result.ErrorClass = string(ferrors.ClassRetryableTransient)
	default:
		result.Status = types.WorkerFailed
		result.ErrorClass = string(classifyByHeuristic(lines))
	}

	result.Artifacts, result.Observations = extractArtifactsAndObservations(lines)
	a.mu.Lock()
	delete(a.state, handle.HandleID)
	a.mu.Unlock()
	return result
}

func classifyByHeuristic(lines []string) ferrors.ErrorClass {
	joined := strings.ToLower(strings.Join(lines, "\n"))
	switch {
	case strings.Contains(joined, "rate limit") || strings.Contains(joined, "429"):
		return ferrors.ClassRetryableRateLimit
	case strings.Contains(joined, "econnrefused") || strings.Contains(joined, "econnreset") ||
		strings.Contains(joined, "etimedout") || strings.Contains(joined, "network") ||
		strings.Contains(joined, "socket hang up"):
		return ferrors.ClassRetryableNetwork
	default:
		return ferrors.ClassNonRetryable
	}
}

var completionMarkers = []string{"complete", "incomplete", "fail", "failed"}

func extractArtifactsAndObservations(lines []string) ([]types.Artifact, []types.Observation) {
	var artifacts []types.Artifact
	var observations []types.Observation

	for _, line := range lines {
		var tagged struct {
			Type     string      `json:"type"`
			FilePath string      `json:"filePath"`
			Diff     string      `json:"diff"`
			Path     string      `json:"path"`
			Result   interface{} `json:"result"`
			Summary  string      `json:"summary"`
		}
		if json.Unmarshal([]byte(line), &tagged) == nil && tagged.Type != "" {
			switch tagged.Type {
			case "patch":
				artifacts = append(artifacts, types.Artifact{Kind: types.ArtifactPatch, FilePath: tagged.FilePath, Diff: tagged.Diff})
				continue
			case "file_change":
				artifacts = append(artifacts, types.Artifact{Kind: types.ArtifactFileChange, FilePath: tagged.Path})
				continue
			case "result":
				b, _ := json.Marshal(tagged.Result)
				observations = append(observations, types.Observation{Summary: string(b)})
				continue
			case "observation":
				observations = append(observations, types.Observation{Summary: tagged.Summary})
				continue
			}
		}

		lower := strings.ToLower(line)
		for _, marker := range completionMarkers {
			if strings.Contains(lower, marker) {
				observations = append(observations, types.Observation{Summary: line})
				break
			}
		}
	}

	if len(observations) == 0 && len(lines) > 0 {
		observations = append(observations, types.Observation{Summary: boundedSummary(lines)})
	}

	return artifacts, observations
}

func boundedSummary(lines []string) string {
	full := strings.Join(lines, "\n")
	const maxLen = 4000
	const headTail = 1000
	if len(full) <= maxLen {
		return full
	}
	return full[:headTail] + "..." + full[len(full)-headTail:]
}
