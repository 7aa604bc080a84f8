// Package watcher supervises the host event-source subprocess and relays
// container lifecycle events to the Core control plane.
//
// The subprocess (by default `docker events --format '{{json .}}'`) emits one
// JSON object per line on stdout. The watcher keeps that process alive —
// restarting it with exponential backoff after unplanned exits — splits its
// output into lines, decodes and filters each line, enriches
// container-creation events with metadata from the container runtime, and
// hands the result to a Sink. Sink delivery is fire-and-forget: a slow or
// failing control plane never stalls the stream reader.
package watcher

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the watcher lifecycle state. Transitions are owned exclusively by
// the watcher; callers observe it via State().
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

const (
	defaultInitialBackoff = 5 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	defaultStopGrace      = 5 * time.Second
	defaultRestartPause   = 1 * time.Second
	defaultRelayTimeout   = 10 * time.Second
)

// Sink receives outbound event payloads. Errors are reported for logging
// only; the watcher never retries a delivery.
type Sink interface {
	Relay(ctx context.Context, ev Outbound) error
}

// Config holds options for creating a Watcher.
type Config struct {
	// Command is the event-source binary. Defaults to "docker".
	Command string
	// Args are the event-source arguments.
	// Defaults to ["events", "--format", "{{json .}}"].
	Args []string
	// Sink receives filtered (and possibly enriched) events. Required.
	Sink Sink
	// Inspector is used to enrich container-creation events.
	// When nil, enrichment is skipped and raw attributes are forwarded.
	Inspector Inspector
	// Filter decides which events are forwarded. DefaultFilter() when empty.
	Filter Filter

	// InitialBackoff is the first restart delay after an unplanned exit;
	// it doubles per consecutive failure up to MaxBackoff.
	InitialBackoff time.Duration
	// MaxBackoff caps the restart delay.
	MaxBackoff time.Duration
	// StopGrace is how long a planned stop waits for the subprocess to exit
	// after SIGTERM before escalating to SIGKILL.
	StopGrace time.Duration
	// RestartPause is the fixed delay Restart waits between stop and start.
	RestartPause time.Duration
	// RelayTimeout bounds each event's enrichment-and-relay attempt.
	RelayTimeout time.Duration
}

// Watcher owns the event-source subprocess and the relay pipeline.
// All mutable state is guarded by mu: chunk arrival, process exit
// notification, and restart timers fire on different goroutines.
type Watcher struct {
	command string
	args    []string

	sink     Sink
	enricher *Enricher
	filter   Filter

	initialBackoff time.Duration
	maxBackoff     time.Duration
	stopGrace      time.Duration
	restartPause   time.Duration
	relayTimeout   time.Duration

	mu           sync.Mutex
	state        State
	cmd          *exec.Cmd
	done         chan struct{} // closed once the current process has exited
	gen          int           // spawn generation, guards stale callbacks
	retries      int           // consecutive unplanned stops since last good start
	restartTimer *time.Timer
	buf          lineBuffer
}

// New creates a Watcher in the Stopped state.
func New(cfg Config) *Watcher {
	command := cfg.Command
	if command == "" {
		command = "docker"
	}
	args := cfg.Args
	if len(args) == 0 {
		args = []string{"events", "--format", "{{json .}}"}
	}
	filter := cfg.Filter
	if len(filter.Kinds) == 0 {
		filter = DefaultFilter()
	}
	return &Watcher{
		command:        command,
		args:           args,
		sink:           cfg.Sink,
		enricher:       NewEnricher(cfg.Inspector),
		filter:         filter,
		initialBackoff: durationOr(cfg.InitialBackoff, defaultInitialBackoff),
		maxBackoff:     durationOr(cfg.MaxBackoff, defaultMaxBackoff),
		stopGrace:      durationOr(cfg.StopGrace, defaultStopGrace),
		restartPause:   durationOr(cfg.RestartPause, defaultRestartPause),
		relayTimeout:   durationOr(cfg.RelayTimeout, defaultRelayTimeout),
		state:          StateStopped,
	}
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// State returns the current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start spawns the event-source subprocess and attaches the stream pipeline.
// A no-op when the watcher is already Running or Starting. A spawn failure
// schedules a restart with backoff before returning the error.
func (w *Watcher) Start() error {
	return w.start(-1)
}

// start is Start with an optional generation guard. A non-negative expectGen
// is the generation the caller observed when it committed to starting; the
// start is abandoned when the watcher has moved on since (a restart-timer
// callback racing a Stop must not resurrect the subprocess).
func (w *Watcher) start(expectGen int) error {
	w.mu.Lock()

	if expectGen >= 0 && expectGen != w.gen {
		cur := w.gen
		w.mu.Unlock()
		slog.Debug("watcher: stale scheduled start discarded",
			"scheduled_gen", expectGen, "gen", cur)
		return nil
	}

	switch w.state {
	case StateRunning, StateStarting:
		w.mu.Unlock()
		slog.Debug("watcher: start requested while already active", "state", w.state)
		return nil
	case StateStopping:
		w.mu.Unlock()
		slog.Debug("watcher: start requested while stopping, ignored")
		return nil
	}

	w.state = StateStarting
	if w.restartTimer != nil {
		w.restartTimer.Stop()
		w.restartTimer = nil
	}
	w.gen++
	gen := w.gen

	cmd := exec.Command(w.command, w.args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.failStartLocked(err)
		w.mu.Unlock()
		return fmt.Errorf("watcher: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.failStartLocked(err)
		w.mu.Unlock()
		return fmt.Errorf("watcher: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		w.failStartLocked(err)
		w.mu.Unlock()
		return fmt.Errorf("watcher: spawn %s: %w", w.command, err)
	}

	done := make(chan struct{})
	w.cmd = cmd
	w.done = done
	w.retries = 0
	w.state = StateRunning
	slog.Info("watcher: event source started",
		"command", w.command, "pid", cmd.Process.Pid)
	w.mu.Unlock()

	readDone := make(chan struct{})
	errDone := make(chan struct{})
	go w.readLoop(stdout, gen, readDone)
	go w.logStderr(stderr, errDone)
	go func() {
		// Drain both pipes before Wait, per os/exec contract.
		<-readDone
		<-errDone
		waitErr := cmd.Wait()
		w.onExit(gen, cmd, waitErr)
		close(done)
	}()

	return nil
}

// failStartLocked records a spawn failure and schedules a restart.
// Caller must hold w.mu.
func (w *Watcher) failStartLocked(err error) {
	slog.Error("watcher: failed to start event source",
		"command", w.command, "err", err)
	w.state = StateStopped
	w.scheduleRestartLocked()
}

// Stop terminates the event-source subprocess: SIGTERM, a grace period, then
// SIGKILL. It blocks until the process has exited, clears any buffered
// partial line, and cancels a pending scheduled restart. A no-op when
// already Stopped or Stopping (a pending restart is still cancelled).
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.restartTimer != nil {
		w.restartTimer.Stop()
		w.restartTimer = nil
	}
	// A restart-timer callback may have fired already and be waiting on mu;
	// advancing the generation makes it a stale start and it gives up.
	w.gen++
	if w.state == StateStopped || w.state == StateStopping {
		w.mu.Unlock()
		return
	}
	w.state = StateStopping
	w.buf.reset()
	cmd := w.cmd
	done := w.done
	w.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		slog.Info("watcher: stopping event source", "pid", cmd.Process.Pid)
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(w.stopGrace):
			slog.Warn("watcher: event source did not exit within grace period, killing",
				"pid", cmd.Process.Pid, "grace", w.stopGrace)
			_ = cmd.Process.Kill()
			<-done
		}
	}

	w.mu.Lock()
	w.state = StateStopped
	w.cmd = nil
	w.mu.Unlock()
	slog.Info("watcher: event source stopped")
}

// Restart stops the subprocess, waits a short fixed pause, and starts it again.
func (w *Watcher) Restart() error {
	w.Stop()
	time.Sleep(w.restartPause)
	return w.Start()
}

// Shutdown stops the watcher. Alias for Stop, intended for process teardown.
func (w *Watcher) Shutdown() {
	w.Stop()
}

// onExit handles subprocess termination. Planned stops are finalized by
// Stop; unplanned exits schedule a restart with backoff.
func (w *Watcher) onExit(gen int, cmd *exec.Cmd, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen != w.gen {
		// A process from an earlier generation; its state has already been
		// superseded.
		return
	}

	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if w.state == StateStopping {
		slog.Debug("watcher: event source exited after stop request",
			"exit_code", exitCode)
		return
	}

	if err != nil {
		slog.Warn("watcher: event source exited unexpectedly",
			"exit_code", exitCode, "err", err)
	} else {
		slog.Warn("watcher: event source exited unexpectedly",
			"exit_code", exitCode)
	}
	w.state = StateStopped
	w.cmd = nil
	w.scheduleRestartLocked()
}

// scheduleRestartLocked arms the restart timer with an exponentially growing,
// ceiling-bounded delay and advances the retry counter.
// Caller must hold w.mu.
func (w *Watcher) scheduleRestartLocked() {
	delay := backoffDelay(w.retries, w.initialBackoff, w.maxBackoff)
	w.retries++
	slog.Info("watcher: scheduling event source restart",
		"delay", delay, "attempt", w.retries)
	gen := w.gen
	w.restartTimer = time.AfterFunc(delay, func() {
		if err := w.start(gen); err != nil {
			// start has already scheduled the next attempt.
			slog.Debug("watcher: scheduled restart failed", "err", err)
		}
	})
}

// backoffDelay returns min(initial * 2^retries, max).
func backoffDelay(retries int, initial, max time.Duration) time.Duration {
	d := initial
	for i := 0; i < retries && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	return d
}

// readLoop feeds stdout chunks into the line buffer until the pipe closes.
func (w *Watcher) readLoop(r io.Reader, gen int, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			w.handleChunk(buf[:n], gen)
		}
		if err != nil {
			return
		}
	}
}

// logStderr captures the subprocess's stderr line by line. Stderr is logged,
// never parsed.
func (w *Watcher) logStderr(r io.Reader, done chan struct{}) {
	defer close(done)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		slog.Warn("watcher: event source stderr", "line", sc.Text())
	}
}

// handleChunk appends a stdout chunk to the accumulation buffer and processes
// every complete line that became available. Lines are decoded in strict
// arrival order; each passing event's enrichment and relay run on their own
// goroutine and may complete out of order.
func (w *Watcher) handleChunk(chunk []byte, gen int) {
	w.mu.Lock()
	if gen != w.gen {
		// Stale reader from a superseded process; its buffer was reset.
		w.mu.Unlock()
		return
	}
	lines, dropped := w.buf.append(chunk)
	w.mu.Unlock()

	if dropped > 0 {
		slog.Warn("watcher: line buffer overflow, oldest buffered data dropped",
			"dropped_bytes", dropped)
	}
	for _, line := range lines {
		w.handleLine(line)
	}
}

// handleLine decodes, filters, and dispatches one line. Decode failures are
// logged inside decodeEvent and never affect subsequent lines.
func (w *Watcher) handleLine(line string) {
	ev, ok := decodeEvent(line)
	if !ok {
		return
	}
	if !w.filter.Forward(ev) {
		slog.Debug("watcher: event filtered", "kind", ev.Type, "action", ev.Action)
		return
	}
	if w.sink == nil {
		return
	}
	go w.deliver(ev)
}

// deliver enriches and relays a single event. Failures are logged and
// dropped: delivery is at most once, best effort.
func (w *Watcher) deliver(ev RawEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), w.relayTimeout)
	defer cancel()

	attrs := w.enricher.Attributes(ctx, ev)
	out := outboundFor(ev, attrs)
	if err := w.sink.Relay(ctx, out); err != nil {
		slog.Warn("watcher: event relay failed",
			"event", out.Name, "id", out.ID, "err", err)
	}
}
