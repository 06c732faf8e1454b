package supervisor_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/rsc/pkg/message"
	"github.com/itohio/rsc/pkg/supervisor"
)

// fakeWorker is a minimal controllable Worker for exercising the
// supervisor's lifecycle without any real hardware.
type fakeWorker struct {
	name      string
	failSetup bool
	failLoop  chan struct{} // closed to make the next Loop call return an error
	loops     chan struct{} // one send per Loop call
	host      *supervisor.Host
}

func newFakeWorker(name string) *fakeWorker {
	return &fakeWorker{
		name:     name,
		failLoop: make(chan struct{}),
		loops:    make(chan struct{}, 64),
	}
}

func (f *fakeWorker) Name() string { return f.name }

func (f *fakeWorker) Setup(ctx context.Context, host *supervisor.Host) error {
	f.host = host
	if f.failSetup {
		return errors.New("setup failed")
	}
	return nil
}

func (f *fakeWorker) Loop(ctx context.Context) error {
	select {
	case <-f.failLoop:
		return errors.New("loop failed")
	default:
	}
	select {
	case f.loops <- struct{}{}:
	default:
	}
	time.Sleep(time.Millisecond)
	return nil
}

func (f *fakeWorker) Stop(ctx context.Context) (int, error) {
	return 0, nil
}

type nopConfig struct{}

func (nopConfig) Lookup(section, option string, t message.DeclaredType) (interface{}, bool) {
	return nil, false
}

func TestStartWaitsForInitialized(t *testing.T) {
	w := newFakeWorker("alpha")
	s := supervisor.New(nopConfig{}, nil)
	s.Register(supervisor.Spec{Name: "alpha", New: func() supervisor.Worker { return w }})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "alpha"))

	select {
	case <-w.loops:
	case <-time.After(time.Second):
		t.Fatal("worker never looped")
	}

	_, err := s.Stop("alpha", 0)
	assert.NoError(t, err)
}

func TestStartReturnsErrorOnSetupFailure(t *testing.T) {
	w := newFakeWorker("beta")
	w.failSetup = true
	s := supervisor.New(nopConfig{}, nil)
	s.Register(supervisor.Spec{Name: "beta", New: func() supervisor.Worker { return w }})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Start(ctx, "beta")
	assert.Error(t, err)
}

func TestRunRestartsWorkerOnLoopError(t *testing.T) {
	w := newFakeWorker("gamma")
	s := supervisor.New(nopConfig{}, nil)
	var starts atomic.Int32
	s.Register(supervisor.Spec{Name: "gamma", New: func() supervisor.Worker {
		starts.Add(1)
		return w
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "gamma"))

	go s.Run(ctx)

	// drain the first worker's loop signals, then force an error
	select {
	case <-w.loops:
	case <-time.After(time.Second):
		t.Fatal("worker never looped before restart trigger")
	}
	close(w.failLoop)

	// the supervisor restarts the worker through Spec.New; since Spec.New
	// always returns the same *fakeWorker here, its failLoop stays closed and
	// each restarted instance fails again, so Spec.New is called repeatedly.
	time.Sleep(200 * time.Millisecond)
	assert.GreaterOrEqual(t, starts.Load(), int32(2))
}

func TestConfigRequestRoundTrips(t *testing.T) {
	cfg := configStub{values: map[string]interface{}{"motor/speed": float32(1.5)}}
	w := newFakeWorker("delta")
	s := supervisor.New(cfg, nil)
	s.Register(supervisor.Spec{Name: "delta", New: func() supervisor.Worker { return w }})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "delta"))
	go s.Run(ctx)

	got := w.host.RequestConfig(ctx, "motor", "speed", message.TypeFloat, time.Second)
	assert.Equal(t, float32(1.5), got)

	_, _ = s.Stop("delta", 0)
}

// recordingWorker is a fakeWorker that appends its name to a shared,
// mutex-guarded log every time Stop is called, so tests can assert on the
// order multiple workers were stopped in.
type recordingWorker struct {
	*fakeWorker
	mu  *sync.Mutex
	log *[]string
}

func (f recordingWorker) Stop(ctx context.Context) (int, error) {
	f.mu.Lock()
	*f.log = append(*f.log, f.name)
	f.mu.Unlock()
	return f.fakeWorker.Stop(ctx)
}

func TestRestartStopsPrincipalBeforeDependent(t *testing.T) {
	var mu sync.Mutex
	var stopLog []string

	principal := recordingWorker{fakeWorker: newFakeWorker("sensor"), mu: &mu, log: &stopLog}
	dependent := recordingWorker{fakeWorker: newFakeWorker("control"), mu: &mu, log: &stopLog}

	s := supervisor.New(nopConfig{}, nil)
	s.Register(supervisor.Spec{Name: "sensor", New: func() supervisor.Worker { return principal }})
	s.Register(supervisor.Spec{Name: "control", DependsOn: []string{"sensor"}, New: func() supervisor.Worker { return dependent }})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx, "sensor"))
	require.NoError(t, s.Start(ctx, "control"))

	require.NoError(t, s.Restart(ctx, "sensor"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stopLog, 2)
	assert.Equal(t, []string{"sensor", "control"}, stopLog)
}

type configStub struct {
	values map[string]interface{}
}

func (c configStub) Lookup(section, option string, t message.DeclaredType) (interface{}, bool) {
	v, ok := c.values[section+"/"+option]
	return v, ok
}
