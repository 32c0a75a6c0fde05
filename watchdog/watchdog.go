// Package watchdog implements the Watchdog of spec.md §4.9: a periodic
// ticker that samples metric sources, classifies each named metric
// against warn/critical thresholds, and derives a system-wide
// DefenseLevel from how many metrics are critical.
package watchdog

import (
	"sync"
	"time"

	"github.com/agentcore/agentcore/logging"
)

// Level is a classification, used both per-metric and as the
// system-wide DefenseLevel.
type Level string

const (
	LevelNormal      Level = "normal"
	LevelShed        Level = "shed"
	LevelThrottle    Level = "throttle"
	LevelCircuitOpen Level = "circuit_open"
	LevelEscalation  Level = "escalation"
)

// Thresholds bounds one named metric.
type Thresholds struct {
	Warn     float64
	Critical float64
}

// DefaultThresholds covers the metrics named in spec.md §4.9: worker
// inflight count, queue lag, worker timeout rate, cancel latency, and
// workspace-lock wait.
func DefaultThresholds() map[string]Thresholds {
	return map[string]Thresholds{
		"worker_inflight_count":  {Warn: 8, Critical: 16},
		"queue_lag_ms":           {Warn: 2000, Critical: 5000},
		"worker_timeout_rate":    {Warn: 0.2, Critical: 0.5},
		"cancel_latency_ms":      {Warn: 2000, Critical: 5000},
		"workspace_lock_wait_ms": {Warn: 1000, Critical: 5000},
	}
}

// MetricSource produces a snapshot of named metrics. A source that
// returns an error is skipped for that tick, not treated as fatal.
type MetricSource func() (map[string]float64, error)

// OnLevelChange is invoked once per metric whose own classification
// changed since the previous tick.
type OnLevelChange func(metric string, from, to Level)

// Config configures a Watchdog.
type Config struct {
	Interval      time.Duration // default 1s
	Thresholds    map[string]Thresholds
	Sources       []MetricSource
	OnLevelChange OnLevelChange
	Clock         func() time.Time
	Logger        logging.Logger
}

type metricMemory struct {
	level        Level
	missedTicks  int
}

// Watchdog runs a ticker goroutine started by Start and stopped by
// Stop. Safe for concurrent use.
type Watchdog struct {
	mu         sync.Mutex
	cfg        Config
	memory     map[string]*metricMemory
	stopCh     chan struct{}
	stopped    bool
	lastSystem Level
}

// New constructs a Watchdog from cfg.
func New(cfg Config) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Thresholds == nil {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}
	return &Watchdog{
		cfg:        cfg,
		memory:     make(map[string]*metricMemory),
		lastSystem: LevelNormal,
	}
}

// Start begins the periodic ticker. Calling Start again is a no-op,
// including after Stop: a stopped Watchdog does not restart.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.stopCh != nil {
		w.mu.Unlock()
		return
	}
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()

	go func() {
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				w.Tick()
			}
		}
	}()
}

// Stop halts the ticker goroutine. Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopCh == nil || w.stopped {
		return
	}
	close(w.stopCh)
	w.stopped = true
}

// Tick runs one collection+classification pass synchronously. Exposed
// directly so tests can drive the Watchdog without real timers.
func (w *Watchdog) Tick() Level {
	current := make(map[string]float64)
	for _, source := range w.cfg.Sources {
		values, err := safeCall(source)
		if err != nil {
			w.cfg.Logger.Warn("metric source failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		for name, v := range values {
			current[name] = v
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool, len(current))
	criticalCount := 0
	anyWarn := false

	for name, value := range current {
		seen[name] = true
		th, ok := w.cfg.Thresholds[name]
		if !ok {
			continue
		}
		level := classifyMetric(value, th)
		if level == LevelThrottle {
			criticalCount++
		} else if level == LevelShed {
			anyWarn = true
		}

		mem, exists := w.memory[name]
		if !exists {
			mem = &metricMemory{level: LevelNormal}
			w.memory[name] = mem
		}
		mem.missedTicks = 0
		if mem.level != level {
			from := mem.level
			mem.level = level
			if w.cfg.OnLevelChange != nil {
				w.cfg.OnLevelChange(name, from, level)
			}
		}
	}

	for name, mem := range w.memory {
		if seen[name] {
			continue
		}
		mem.missedTicks++
		if mem.missedTicks >= 3 {
			delete(w.memory, name)
		}
	}

	system := LevelNormal
	switch {
	case criticalCount >= 3:
		system = LevelEscalation
	case criticalCount == 2:
		system = LevelCircuitOpen
	case criticalCount == 1:
		system = LevelThrottle
	case anyWarn:
		system = LevelShed
	}
	w.lastSystem = system
	return system
}

// LastSystemLevel returns the DefenseLevel computed by the most recent
// Tick.
func (w *Watchdog) LastSystemLevel() Level {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSystem
}

func classifyMetric(value float64, t Thresholds) Level {
	switch {
	case value >= t.Critical:
		return LevelThrottle
	case value >= t.Warn:
		return LevelShed
	default:
		return LevelNormal
	}
}

func safeCall(source MetricSource) (m map[string]float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = panicToError(r)
		}
	}()
	return source()
}

func panicToError(r interface{}) error {
	if e, ok := r.(error); ok {
		return e
	}
	return &panicError{r}
}

type panicError struct{ v interface{} }

func (p *panicError) Error() string {
	return "metric source panicked"
}
