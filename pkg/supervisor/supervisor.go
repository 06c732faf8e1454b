// Package supervisor hosts a static set of isolated, loop-based Workers,
// proxies their Config-RPC requests against a ConfigStore, restarts
// workers on error (cascading to declared dependents), and fans shutdown
// to all workers on cancellation. Grounded on the teacher's
// pkg/core/pipeline.Pipeline (one goroutine per Step, launched via
// concurrency.Submit) generalized into a supervised lifecycle host, and on
// the pack's standalone process-supervisor reference (restart/backoff,
// dependency-aware stop, events channel, panic recovery around the run
// loop).
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/rsc/pkg/corelog"
	"github.com/itohio/rsc/pkg/message"
)

// DefaultStartTimeout bounds how long Start waits for a worker's
// Initialized signal (§4.1).
const DefaultStartTimeout = 30 * time.Second

// DefaultStopTimeout bounds how long Stop waits for cooperative shutdown
// before forcibly abandoning the worker (§4.1, §5).
const DefaultStopTimeout = 5 * time.Second

// ConfigStore resolves Config-RPC requests against the INI-style store
// (internal/config.Store implements this).
type ConfigStore interface {
	Lookup(section, option string, t message.DeclaredType) (interface{}, bool)
}

// Spec describes one worker's place in the static dependency graph.
type Spec struct {
	Name      string
	New       func() Worker
	DependsOn []string // names of workers this one depends on
}

type entry struct {
	spec    Spec
	worker  Worker
	ch      message.Channel // supervisor's end
	done    chan hostResult
	running bool
	cancel  context.CancelFunc
}

// Supervisor owns the worker table and the main polling loop.
type Supervisor struct {
	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order, for deterministic startup
	config  ConfigStore
	telemetry chan<- interface{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Supervisor bound to the given ConfigStore. telemetry, if
// non-nil, receives every Data payload emitted by any worker.
func New(cfg ConfigStore, telemetry chan<- interface{}) *Supervisor {
	return &Supervisor{
		entries:   make(map[string]*entry),
		config:    cfg,
		telemetry: telemetry,
	}
}

// Register adds a worker spec to the static graph. Must be called before Run.
func (s *Supervisor) Register(spec Spec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[spec.Name] = &entry{spec: spec}
	s.order = append(s.order, spec.Name)
}

// dependents returns the names of workers that declare name in DependsOn.
func (s *Supervisor) dependents(name string) []string {
	var out []string
	for _, n := range s.order {
		e := s.entries[n]
		for _, dep := range e.spec.DependsOn {
			if dep == name {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// Start instantiates and launches a registered worker, waiting up to
// DefaultStartTimeout for its Initialized signal. While waiting, it
// services any Config requests the worker's Setup issues — otherwise
// startup deadlocks the moment a worker needs config (§4.1).
func (s *Supervisor) Start(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: unknown worker %q", name)
	}
	if e.running {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: worker %q already running", name)
	}
	workerCh, supCh := message.NewPair(16)
	w := e.spec.New()
	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan hostResult, 1)
	e.worker, e.ch, e.done, e.cancel = w, supCh, done, cancel
	s.mu.Unlock()

	go runHost(workerCtx, w, workerCh, done)

	deadline := time.After(DefaultStartTimeout)
	for {
		select {
		case m := <-supCh.In:
			switch m.Signal {
			case message.Initialized:
				s.mu.Lock()
				e.running = true
				s.mu.Unlock()
				corelog.Log.Info().Str("worker", name).Msg("started")
				return nil
			case message.Config:
				s.serviceConfigRequest(supCh, m)
			case message.Error:
				cancel()
				return fmt.Errorf("supervisor: worker %q failed to initialize: %w", name, m.Err)
			}
		case res := <-done:
			cancel()
			return fmt.Errorf("supervisor: worker %q exited during startup (code=%d): %w", name, res.code, res.err)
		case <-deadline:
			cancel()
			_ = s.awaitStop(name, e, DefaultStopTimeout)
			return fmt.Errorf("supervisor: worker %q did not initialize within %s", name, DefaultStartTimeout)
		case <-ctx.Done():
			cancel()
			return ctx.Err()
		}
	}
}

// Stop requests cooperative shutdown of a worker, falling back to
// cancellation (a hard kill of its goroutine context) if it does not exit
// within timeout. Returns the worker's exit code.
func (s *Supervisor) Stop(name string, timeout time.Duration) (ExitCode, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("supervisor: unknown worker %q", name)
	}
	if !e.running {
		return ExitSuccess, nil
	}
	if timeout <= 0 {
		timeout = DefaultStopTimeout
	}

	select {
	case e.ch.Out <- message.New(message.Stop):
	default:
	}

	code, err := s.awaitStop(name, e, timeout)

	s.mu.Lock()
	e.running = false
	s.mu.Unlock()
	return code, err
}

func (s *Supervisor) awaitStop(name string, e *entry, timeout time.Duration) (ExitCode, error) {
	select {
	case res := <-e.done:
		return res.code, res.err
	case <-time.After(timeout):
		corelog.Log.Warn().Str("worker", name).Msg("stop timeout, killing")
		e.cancel()
		select {
		case res := <-e.done:
			return res.code, res.err
		case <-time.After(timeout):
			return ExitShutdownError, fmt.Errorf("supervisor: worker %q did not terminate after kill", name)
		}
	}
}

// Restart stops a worker, then its direct dependents, then starts the
// worker back up before restarting the dependents. Dependents are
// restarted because they hold channel endpoints that become invalid once
// the principal worker is recreated (§4.1).
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	deps := s.dependents(name)

	if _, err := s.Stop(name, DefaultStopTimeout); err != nil {
		corelog.Log.Error().Err(err).Str("worker", name).Msg("stop failed during restart")
	}
	for _, d := range deps {
		if _, err := s.Stop(d, DefaultStopTimeout); err != nil {
			corelog.Log.Error().Err(err).Str("worker", d).Msg("stop (dependent) failed during restart")
		}
	}

	if err := s.Start(ctx, name); err != nil {
		return fmt.Errorf("supervisor: restart %q: %w", name, err)
	}
	for _, d := range deps {
		if err := s.Start(ctx, d); err != nil {
			return fmt.Errorf("supervisor: restart dependent %q: %w", d, err)
		}
	}
	return nil
}

// StartAll starts every registered worker in registration order.
func (s *Supervisor) StartAll(ctx context.Context) error {
	for _, name := range s.order {
		if err := s.Start(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every running worker.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	names := append([]string(nil), s.order...)
	s.mu.Unlock()
	for i := len(names) - 1; i >= 0; i-- {
		if _, err := s.Stop(names[i], DefaultStopTimeout); err != nil {
			corelog.Log.Error().Err(err).Str("worker", names[i]).Msg("stop failed")
		}
	}
}

// Run polls every running worker's channel and services Error (restart),
// Config (RPC) and Data (telemetry) messages until ctx is cancelled, then
// stops all workers.
func (s *Supervisor) Run(ctx context.Context) {
	defer s.StopAll()

	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *Supervisor) pollOnce(ctx context.Context) {
	s.mu.Lock()
	running := make([]*entry, 0, len(s.entries))
	for _, name := range s.order {
		e := s.entries[name]
		if e.running {
			running = append(running, e)
		}
	}
	s.mu.Unlock()

	for _, e := range running {
		select {
		case m := <-e.ch.In:
			s.handle(ctx, e, m)
		default:
		}
	}
}

func (s *Supervisor) handle(ctx context.Context, e *entry, m message.Message) {
	switch m.Signal {
	case message.Error:
		corelog.Log.Error().Err(m.Err).Str("worker", e.spec.Name).Msg("worker error, restarting")
		s.mu.Lock()
		e.running = false
		s.mu.Unlock()
		if err := s.Restart(ctx, e.spec.Name); err != nil {
			corelog.Log.Error().Err(err).Str("worker", e.spec.Name).Msg("restart failed")
		}
	case message.Config:
		s.serviceConfigRequest(e.ch, m)
	case message.Data:
		if s.telemetry != nil {
			select {
			case s.telemetry <- m.Data:
			default:
			}
		}
	}
}

func (s *Supervisor) serviceConfigRequest(ch message.Channel, m message.Message) {
	if m.Request == nil {
		return
	}
	var value interface{}
	if s.config != nil {
		if v, ok := s.config.Lookup(m.Request.Section, m.Request.Option, m.Request.DeclaredType); ok {
			value = v
		}
	}
	select {
	case ch.Out <- message.NewConfigResponse(m.Request.Section, m.Request.Option, value):
	default:
	}
}
