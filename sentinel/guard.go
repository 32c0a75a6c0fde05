// Package sentinel implements the Sentinel of spec.md §4.11: per-step
// stall guards composed of a NoOutputWatcher (activity-timestamp based)
// and a NoProgressWatcher (probe based), each driving an interrupt/fail/
// ignore action when a step appears stuck.
package sentinel

import (
	"sync"
	"time"

	"github.com/agentcore/agentcore/activity"
	"github.com/agentcore/agentcore/ferrors"
	"github.com/agentcore/agentcore/probe"
)

// ProbeRunner is the minimal surface Guard needs from a probe.Runner,
// declared locally so tests can substitute a scripted fake; *probe.Runner
// satisfies this implicitly.
type ProbeRunner interface {
	Run(opts probe.Options) (probe.Result, error)
}

// ActivitySource selects which activity timestamps a NoOutputWatcher
// compares against now().
type ActivitySource string

const (
	SourceWorkerEvent ActivitySource = "worker_event"
	SourceAnyEvent    ActivitySource = "any_event"
	SourceProbeOnly   ActivitySource = "probe_only"
)

// Action is what a watcher does when it fires.
type Action string

const (
	ActionInterrupt Action = "interrupt"
	ActionFail      Action = "fail"
	ActionIgnore    Action = "ignore"
)

// Fingerprints are the fixed stall-reason tags spec.md §4.11 names.
const (
	FingerprintNoOutput        = "stall/no-output"
	FingerprintNoInitialOutput = "stall/no-initial-output"
	FingerprintNoProgress      = "stall/no-progress"
	FingerprintProbeTerminal   = "stall/probe-terminal"
	FingerprintProbeError      = "stall/probe-error"
)

// NoOutputConfig configures the activity-timestamp watcher.
type NoOutputConfig struct {
	Enabled         bool
	PollInterval    time.Duration
	NoOutputTimeout time.Duration
	ActivitySource  ActivitySource
	OnStall         Action
}

// ProbeErrorAction is applied once consecutive probe failures exceed
// ProbeErrorThreshold.
type ProbeErrorAction string

const (
	ProbeErrorIgnore   ProbeErrorAction = "ignore"
	ProbeErrorStall    ProbeErrorAction = "stall"
	ProbeErrorTerminal ProbeErrorAction = "terminal"
)

// NoProgressConfig configures the probe-based watcher.
type NoProgressConfig struct {
	Enabled             bool
	Probe               probe.Options
	Interval            time.Duration
	StallThreshold      int
	ProbeErrorThreshold int
	OnProbeError        ProbeErrorAction
	OnStall             Action
	OnTerminal          Action
}

// GuardConfig names the (stepId, phase, iteration) triple a Guard
// tracks activity and probes for, plus its two watchers.
type GuardConfig struct {
	StepID     string
	Phase      string
	Iteration  int
	NoOutput   NoOutputConfig
	NoProgress NoProgressConfig
}

// Callbacks are invoked when a watcher fires. Exactly one is called per
// firing, selected by the watcher's configured Action.
type Callbacks struct {
	Interrupt func(reason string, fingerprints []string)
	Fail      func(reason string, class ferrors.ErrorClass, fingerprints []string)
	Warn      func(reason string, fingerprints []string)
}

// Ticker is the minimal surface Guard needs from a time.Ticker, so tests
// can inject a manually-driven implementation instead of waiting on real
// intervals.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func defaultNewTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Guard owns one step phase's stall-watching goroutines. Safe for
// concurrent use; Stop is idempotent.
type Guard struct {
	cfg       GuardConfig
	tracker   *activity.Tracker
	runner    ProbeRunner
	clock     func() time.Time
	newTicker func(time.Duration) Ticker
	cb        Callbacks

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	warned  bool

	consecutiveStalls      int
	consecutiveProbeErrors int
	lastDigest             string
}

// NewGuard constructs a Guard. runner may be nil when cfg.NoProgress is
// disabled.
func NewGuard(cfg GuardConfig, tracker *activity.Tracker, runner ProbeRunner, clock func() time.Time, cb Callbacks) *Guard {
	if clock == nil {
		clock = time.Now
	}
	return &Guard{
		cfg:       cfg,
		tracker:   tracker,
		runner:    runner,
		clock:     clock,
		newTicker: defaultNewTicker,
		cb:        cb,
		stopCh:    make(chan struct{}),
	}
}

// WithTicker overrides the ticker constructor, for deterministic tests.
// Must be called before Start.
func (g *Guard) WithTicker(newTicker func(time.Duration) Ticker) *Guard {
	g.newTicker = newTicker
	return g
}

// Start launches the configured watcher goroutines. Idempotent.
func (g *Guard) Start() {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return
	}
	g.started = true
	g.mu.Unlock()

	if g.cfg.NoOutput.Enabled && g.cfg.NoOutput.ActivitySource != SourceProbeOnly {
		g.wg.Add(1)
		go g.runNoOutputWatcher()
	}
	if g.cfg.NoProgress.Enabled {
		g.wg.Add(1)
		go g.runNoProgressWatcher()
	}
}

// Stop halts every watcher goroutine. Idempotent.
func (g *Guard) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()

	close(g.stopCh)
	g.wg.Wait()
}

func (g *Guard) runNoOutputWatcher() {
	defer g.wg.Done()
	interval := g.cfg.NoOutput.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := g.newTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C():
			g.checkNoOutput()
		}
	}
}

func (g *Guard) checkNoOutput() {
	if g.tracker == nil {
		return
	}
	record, ok := g.tracker.Get(g.cfg.StepID, g.cfg.Phase, g.cfg.Iteration)
	if !ok {
		return
	}

	last := record.LastStepPhaseTs
	if g.cfg.NoOutput.ActivitySource == SourceWorkerEvent {
		last = record.LastWorkerOutputTs
	} else if g.cfg.NoOutput.ActivitySource == SourceAnyEvent {
		if record.LastWorkerOutputTs > last {
			last = record.LastWorkerOutputTs
		}
		if record.LastStepStateTs > last {
			last = record.LastStepStateTs
		}
	}

	elapsed := g.clock().Sub(time.UnixMilli(last))
	if elapsed <= g.cfg.NoOutput.NoOutputTimeout {
		return
	}

	fingerprints := []string{FingerprintNoOutput}
	if !record.HasReceivedWorkerEvent {
		fingerprints = append(fingerprints, FingerprintNoInitialOutput)
	}
	g.fire(g.cfg.NoOutput.OnStall, "no worker activity within timeout", ferrors.ClassRetryableTransient, fingerprints)
}

func (g *Guard) runNoProgressWatcher() {
	defer g.wg.Done()
	interval := g.cfg.NoProgress.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := g.newTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C():
			g.checkProgress()
		}
	}
}

func (g *Guard) checkProgress() {
	if g.runner == nil {
		return
	}
	result, err := g.runner.Run(g.cfg.NoProgress.Probe)
	if err != nil {
		g.handleProbeError()
		return
	}

	g.mu.Lock()
	g.consecutiveProbeErrors = 0
	g.mu.Unlock()

	switch result.Class {
	case probe.ClassProgressing:
		g.mu.Lock()
		g.consecutiveStalls = 0
		g.lastDigest = result.Digest
		g.mu.Unlock()
	case probe.ClassStalled:
		g.mu.Lock()
		unchanged := result.Digest == g.lastDigest
		g.lastDigest = result.Digest
		if unchanged {
			g.consecutiveStalls++
		} else {
			g.consecutiveStalls = 1
		}
		stalls := g.consecutiveStalls
		threshold := g.cfg.NoProgress.StallThreshold
		g.mu.Unlock()
		if threshold > 0 && stalls >= threshold {
			g.fire(g.cfg.NoProgress.OnStall, "probe reported no progress", ferrors.ClassRetryableTransient, []string{FingerprintNoProgress})
		}
	case probe.ClassTerminal:
		g.fire(g.cfg.NoProgress.OnTerminal, "probe reported terminal state", ferrors.ClassNonRetryable, []string{FingerprintProbeTerminal})
	}
}

func (g *Guard) handleProbeError() {
	g.mu.Lock()
	g.consecutiveProbeErrors++
	count := g.consecutiveProbeErrors
	threshold := g.cfg.NoProgress.ProbeErrorThreshold
	g.mu.Unlock()

	if threshold <= 0 || count <= threshold {
		return
	}

	switch g.cfg.NoProgress.OnProbeError {
	case ProbeErrorTerminal:
		g.fire(ActionFail, "probe failed repeatedly", ferrors.ClassNonRetryable, []string{FingerprintProbeError})
	case ProbeErrorStall:
		g.fire(g.cfg.NoProgress.OnStall, "probe failed repeatedly", ferrors.ClassRetryableTransient, []string{FingerprintProbeError})
	default: // ProbeErrorIgnore
		g.mu.Lock()
		g.consecutiveProbeErrors = 0
		g.mu.Unlock()
	}
}

// fire dispatches to the callback matching action. "ignore" emits at
// most one warning per guard, per spec.md §5's ordering guarantee.
func (g *Guard) fire(action Action, reason string, class ferrors.ErrorClass, fingerprints []string) {
	switch action {
	case ActionInterrupt:
		if g.cb.Interrupt != nil {
			g.cb.Interrupt(reason, fingerprints)
		}
	case ActionFail:
		if g.cb.Fail != nil {
			g.cb.Fail(reason, class, fingerprints)
		}
	case ActionIgnore:
		g.mu.Lock()
		already := g.warned
		g.warned = true
		g.mu.Unlock()
		if !already && g.cb.Warn != nil {
			g.cb.Warn(reason, fingerprints)
		}
	}
}
