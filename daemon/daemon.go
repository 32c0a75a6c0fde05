// Package daemon implements the two event sources behind the
// `agentcore daemon <file>` subcommand (spec.md §6): a filesystem-watch
// source (fsnotify) and a cron source (robfig/cron), grounded on
// services/orchestrator/scheduler.go's Scheduler (cron.New +
// cron.AddFunc driving a workflow execution) generalized to also accept
// filesystem events, the other event source spec.md §6 names.
package daemon

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/agentcore/agentcore/logging"
)

// Trigger fires one daemon-driven workflow run. reason documents what
// caused it ("cron: 0 */5 * * * *", "fs: WRITE /path/to/file").
type Trigger func(reason string)

// WatchRule fires Trigger whenever a filesystem event under Path occurs.
type WatchRule struct {
	Path    string
	Trigger Trigger
}

// CronRule fires Trigger on Schedule, a robfig/cron expression (5-field
// by default; Seconds may be set to use 6-field cron.WithSeconds()
// precision, matching services/orchestrator/scheduler.go's
// NewScheduler). All cron rules share one scheduler whose field format is
// set by the first rule's Seconds; a later rule written in the other
// format fails to parse and New returns an error.
type CronRule struct {
	Schedule string
	Seconds  bool
	Trigger  Trigger
}

// Config configures a Daemon.
type Config struct {
	Watch  []WatchRule
	Cron   []CronRule
	Logger logging.Logger
}

// Daemon runs the configured watch and cron sources until Stop.
type Daemon struct {
	watcher *fsnotify.Watcher
	rules   []WatchRule
	cron    *cron.Cron
	logger  logging.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	stopped bool
}

// New constructs a Daemon from cfg. Every cfg.Watch[i].Path is added to
// the underlying fsnotify watcher immediately; a path that doesn't
// exist yet is an error, matching fsnotify's own Add semantics.
func New(cfg Config) (*Daemon, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOpLogger{}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("daemon: new fsnotify watcher: %w", err)
	}
	for _, r := range cfg.Watch {
		if err := watcher.Add(r.Path); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("daemon: watch %s: %w", r.Path, err)
		}
	}

	d := &Daemon{
		watcher: watcher,
		rules:   cfg.Watch,
		logger:  cfg.Logger,
		stopCh:  make(chan struct{}),
	}

	for _, r := range cfg.Cron {
		c := cronFor(r.Seconds)
		if d.cron == nil {
			d.cron = c
		}
		rule := r
		if _, err := d.cron.AddFunc(rule.Schedule, func() {
			rule.Trigger(fmt.Sprintf("cron: %s", rule.Schedule))
		}); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("daemon: add cron schedule %q: %w", rule.Schedule, err)
		}
	}
	if d.cron == nil {
		d.cron = cron.New()
	}

	return d, nil
}

func cronFor(seconds bool) *cron.Cron {
	if seconds {
		return cron.New(cron.WithSeconds())
	}
	return cron.New()
}

// Start begins both sources. Non-blocking: the filesystem watch loop
// runs in its own goroutine.
func (d *Daemon) Start() {
	d.cron.Start()
	go d.watchLoop()
}

func (d *Daemon) watchLoop() {
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.dispatch(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.logger.Warn("filesystem watch error", map[string]interface{}{"error": err.Error()})
		case <-d.stopCh:
			return
		}
	}
}

// dispatch fires every rule whose Path is a prefix of the event's path
// (fsnotify reports file-level events for directories added with Add).
func (d *Daemon) dispatch(event fsnotify.Event) {
	for _, r := range d.rules {
		if strings.HasPrefix(event.Name, r.Path) {
			r.Trigger(fmt.Sprintf("fs: %s %s", event.Op, event.Name))
		}
	}
}

// Stop halts both sources. Idempotent.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.stopCh)
	d.cron.Stop()
	d.watcher.Close()
}
