package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/itohio/rsc/pkg/message"
)

// ExitCode is the worker host's process-level exit status. Worker-specific
// codes, if any, are offset past ReservedExitCodes.
type ExitCode int

const (
	ExitSuccess       ExitCode = 0
	ExitInitError     ExitCode = 1
	ExitRuntimeError  ExitCode = 2
	ExitShutdownError ExitCode = 3
	// ReservedExitCodes is the first exit code a worker may use for its own
	// Stop() return value; anything a worker returns from Stop is added to
	// this offset.
	ReservedExitCodes ExitCode = 4
)

// DefaultConfigTimeout is how long a worker's Host.RequestConfig waits for
// the supervisor's reply before falling back to a caller-supplied default.
const DefaultConfigTimeout = 2 * time.Second

// Host is the worker-facing handle to its full-duplex channel: config-RPC
// and telemetry go through here; raw Stop/Error framing is handled by the
// lifecycle host in runHost, invisible to the Worker implementation.
type Host struct {
	ch      message.Channel
	replies chan message.ConfigResponse
	stopped atomic.Bool
}

// NewHostForTest builds a Host directly from a worker-side Channel,
// bypassing runHost's lifecycle plumbing, and starts the same Config-reply
// demultiplexing runHost would. Intended for package tests that exercise a
// Worker's Setup/Loop against a fake supervisor on the other end of ch
// without running the full host loop.
func NewHostForTest(ch message.Channel) *Host {
	h := &Host{ch: ch, replies: make(chan message.ConfigResponse, 4)}
	go func() {
		for m := range ch.In {
			if m.Signal == message.Config && m.Reply != nil {
				select {
				case h.replies <- *m.Reply:
				default:
				}
			}
		}
	}()
	return h
}

// RequestConfig sends a Config request and waits up to timeout for the
// supervisor's reply, returning nil if it times out or the option is unset;
// the caller substitutes its own default on nil.
func (h *Host) RequestConfig(ctx context.Context, section, option string, t message.DeclaredType, timeout time.Duration) interface{} {
	if timeout <= 0 {
		timeout = DefaultConfigTimeout
	}
	select {
	case h.ch.Out <- message.NewConfigRequest(section, option, t):
	case <-ctx.Done():
		return nil
	}

	select {
	case r := <-h.replies:
		if r.Section == section && r.Option == option {
			return r.Value
		}
		return nil
	case <-time.After(timeout):
		return nil
	case <-ctx.Done():
		return nil
	}
}

// SendData emits a Data (telemetry) message to the supervisor, dropping it
// if the channel is momentarily full rather than blocking the control loop.
func (h *Host) SendData(v interface{}) {
	select {
	case h.ch.Out <- message.NewData(v):
	default:
	}
}

// StopRequested reports whether the supervisor has asked this worker to
// stop. Workers with long-running internal waits may poll this to exit
// early; the lifecycle host also enforces Stop between Loop calls.
func (h *Host) StopRequested() bool { return h.stopped.Load() }

// Worker is the contract every supervised loop-based component implements.
// Setup, Loop and Stop run sequentially in the host's single goroutine for
// that worker — there is no concurrency to guard against within one Worker.
type Worker interface {
	// Name identifies the worker for logs, dependency wiring and restarts.
	Name() string
	// Setup constructs worker-local state. host is this worker's handle for
	// config-RPC and telemetry. Returning an error aborts startup with
	// ExitInitError.
	Setup(ctx context.Context, host *Host) error
	// Loop runs one iteration of the worker's steady-state behavior.
	// Returning an error aborts the worker with ExitRuntimeError and the
	// supervisor restarts it (and its dependents). A TransientChannelError
	// is retried in place after a short sleep instead.
	Loop(ctx context.Context) error
	// Stop releases resources acquired in Setup/Loop and leaves any owned
	// hardware (e.g. the frequency converter) in a safe state. The
	// returned int, if non-zero, is added to ReservedExitCodes.
	Stop(ctx context.Context) (int, error)
}

// MinLoopPeriod is the default floor on one Loop iteration's wall-clock
// cost; the host sleeps the remainder to cap CPU use (§4.1 step 5).
const MinLoopPeriod = 5 * time.Millisecond

// hostResult is returned on the done channel when a worker's host loop exits.
type hostResult struct {
	code ExitCode
	err  error
}

// runHost implements the worker lifecycle host described in §4.1: setup,
// Initialized, loop-until-Stop-or-error, minimum-period pacing, stop(). It
// owns the sole reader of ch.In so it can intercept Stop/Config-reply
// frames while giving the Worker a Host for config-RPC and telemetry.
func runHost(ctx context.Context, w Worker, ch message.Channel, done chan<- hostResult) {
	host := &Host{ch: ch, replies: make(chan message.ConfigResponse, 4)}

	stopSignal := make(chan struct{})
	demuxDone := make(chan struct{})
	go demuxIncoming(ch.In, host, stopSignal, demuxDone)

	if err := w.Setup(ctx, host); err != nil {
		select {
		case ch.Out <- message.NewError(err):
		default:
		}
		done <- hostResult{code: ExitInitError, err: err}
		<-demuxDone
		return
	}

	select {
	case ch.Out <- message.New(message.Initialized):
	case <-ctx.Done():
		done <- hostResult{code: ExitShutdownError, err: ctx.Err()}
		<-demuxDone
		return
	}

	code := ExitSuccess
	var loopErr error

loop:
	for {
		select {
		case <-stopSignal:
			break loop
		case <-ctx.Done():
			break loop
		default:
		}

		start := time.Now()
		if err := runOneIteration(w, ctx); err != nil {
			var transient TransientChannelError
			if errors.As(err, &transient) {
				time.Sleep(50 * time.Millisecond)
			} else {
				select {
				case ch.Out <- message.NewError(err):
				default:
				}
				code = ExitRuntimeError
				loopErr = err
				break loop
			}
		}

		if elapsed := time.Since(start); elapsed < MinLoopPeriod {
			time.Sleep(MinLoopPeriod - elapsed)
		}
	}

	extra, err := w.Stop(ctx)
	if err != nil {
		done <- hostResult{code: ExitShutdownError, err: err}
		<-demuxDone
		return
	}
	if extra != 0 {
		code = ReservedExitCodes + ExitCode(extra)
	}
	done <- hostResult{code: code, err: loopErr}
	<-demuxDone
}

// demuxIncoming is the sole reader of a worker's incoming channel: it
// closes stopSignal on a Stop frame and forwards Config replies into
// host.replies, so the Worker's own RequestConfig calls never race the
// lifecycle host's Stop detection.
func demuxIncoming(in <-chan message.Message, host *Host, stopSignal chan<- struct{}, done chan<- struct{}) {
	defer close(done)
	for m := range in {
		switch m.Signal {
		case message.Stop:
			host.stopped.Store(true)
			close(stopSignal)
			return
		case message.Config:
			if m.Reply != nil {
				select {
				case host.replies <- *m.Reply:
				default:
				}
			}
		}
	}
}

// runOneIteration recovers a Loop panic into an error so a worker crash
// never takes the supervisor process down with it.
func runOneIteration(w Worker, ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic recovered: %v", r)
		}
	}()
	return w.Loop(ctx)
}

// TransientChannelError marks an error that should retry the loop once
// after a short sleep rather than crash the worker (§4.1 step 4) — e.g. the
// peer end of a resource channel was momentarily disconnected.
type TransientChannelError struct{ Err error }

func (e TransientChannelError) Error() string { return "transient channel error: " + e.Err.Error() }
func (e TransientChannelError) Unwrap() error { return e.Err }
