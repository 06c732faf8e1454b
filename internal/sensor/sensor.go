// Package sensor implements the Sensor worker (§4.2): it owns either the
// real optical rotation sensor or the synthetic integrator exclusively,
// produces AbsoluteAngle/Speed readings at best-effort cadence, smooths
// raw speed samples through a rolling window, and trips a watchdog when
// either signal goes stale. Grounded on the teacher's
// x/devices/encoder.Device update-interval pattern (periodic recompute
// gated on elapsed time) for the windowed estimator, and on
// x/marshaller/gocv's device-capture ownership discipline for the
// exclusive-resource rule (§5).
package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/itohio/rsc/internal/converter"
	"github.com/itohio/rsc/internal/opticalsensor"
	"github.com/itohio/rsc/pkg/angle"
	"github.com/itohio/rsc/pkg/corelog"
	"github.com/itohio/rsc/pkg/message"
	"github.com/itohio/rsc/pkg/supervisor"
)

// readingsBuffer bounds how many unconsumed readings Control may lag behind
// by before Sensor starts dropping them rather than blocking its loop.
const readingsBuffer = 8

// source is the narrow capability trait both the real and synthetic
// sensors implement (§9 design note).
type source interface {
	MeasureAngle(now time.Time) (angle.Angle, bool)
	MeasureSpeed(now time.Time) (float32, bool)
}

// Reading is the atomic batch of measurements sent to Control each
// iteration (§4.2 step 4).
type Reading struct {
	Angle *angle.Angle
	Speed *float32
}

// ControlDrive lets the synthetic integrator close the simulated loop:
// in testing mode the Control worker's own motor-state-machine decisions
// are mirrored here instead of driving a real converter.
type ControlDrive interface {
	State() (forward bool, frequency float32)
}

const maxWindow = 10

// speedEstimator smooths raw speed samples over a rolling window of the
// last N ≤ 10 readings (§9 open question: window over raw speeds, not
// angles).
type speedEstimator struct {
	samples []float32
}

func (e *speedEstimator) push(v float32) float32 {
	e.samples = append(e.samples, v)
	if len(e.samples) > maxWindow {
		e.samples = e.samples[len(e.samples)-maxWindow:]
	}
	var sum float32
	for _, s := range e.samples {
		sum += s
	}
	return sum / float32(len(e.samples))
}

// Config carries the [sensors]/[DEFAULT] options the worker's Setup reads
// via Config-RPC.
type Config struct {
	Testing            bool
	CameraIndex        int
	StageDiameter      float32
	SpeedPerHz         float32
	AngleSensorTimeout time.Duration
	SpeedSensorTimeout time.Duration
}

// Worker implements supervisor.Worker.
type Worker struct {
	cfg       Config
	host      *supervisor.Host
	src       source
	closer    func() error
	drive     ControlDrive
	estimator speedEstimator
	out       chan Reading

	lastAngleAt time.Time
	lastSpeedAt time.Time
}

// New builds an unstarted Sensor worker. drive, if non-nil, is consulted
// by the synthetic integrator to mirror Control's commanded motor state
// (-t/--testing only).
func New(cfg Config, drive ControlDrive) *Worker {
	return &Worker{cfg: cfg, drive: drive, out: make(chan Reading, readingsBuffer)}
}

func (w *Worker) Name() string { return "sensor" }

// Readings is the direct peer channel Control drains each tick (§4.4.5
// step 1) — distinct from the supervisor's lifecycle channel, since
// readings are inter-worker data, not supervisor telemetry.
func (w *Worker) Readings() <-chan Reading { return w.out }

func (w *Worker) Setup(ctx context.Context, host *supervisor.Host) error {
	w.host = host

	diameter := w.cfg.StageDiameter
	if v := host.RequestConfig(ctx, "DEFAULT", "stage_diameter", message.TypeFloat, 0); v != nil {
		diameter = v.(float32)
	}
	cameraIndex := w.cfg.CameraIndex
	if v := host.RequestConfig(ctx, "sensors", "camera_index", message.TypeInt, 0); v != nil {
		cameraIndex = v.(int)
	}
	angleTimeout := w.cfg.AngleSensorTimeout
	if angleTimeout == 0 {
		angleTimeout = time.Second
	}
	if v := host.RequestConfig(ctx, "sensors", "angle_sensor_timeout", message.TypeFloat, 0); v != nil {
		angleTimeout = time.Duration(v.(float32) * float32(time.Second))
	}
	speedTimeout := w.cfg.SpeedSensorTimeout
	if speedTimeout == 0 {
		speedTimeout = time.Second
	}
	if v := host.RequestConfig(ctx, "sensors", "speed_sensor_timeout", message.TypeFloat, 0); v != nil {
		speedTimeout = time.Duration(v.(float32) * float32(time.Second))
	}
	w.cfg.StageDiameter, w.cfg.CameraIndex = diameter, cameraIndex
	w.cfg.AngleSensorTimeout, w.cfg.SpeedSensorTimeout = angleTimeout, speedTimeout

	if w.cfg.Testing {
		speedPerHz := w.cfg.SpeedPerHz
		if speedPerHz == 0 {
			speedPerHz = 1
		}
		in := opticalsensor.NewIntegrator(diameter, speedPerHz)
		if w.drive != nil {
			forward, freq := w.drive.State()
			in.Drive(forward, freq)
		}
		w.src = integratorSource{in: in, drive: w.drive}
		w.closer = func() error { return nil }
	} else {
		cam, err := opticalsensor.OpenCamera(cameraIndex, nil)
		if err != nil {
			return fmt.Errorf("sensor: setup: %w", err)
		}
		w.src = cam
		w.closer = cam.Close
	}

	now := time.Now()
	w.lastAngleAt, w.lastSpeedAt = now, now
	return nil
}

// integratorSource re-synchronizes the integrator with Control's current
// commanded state before each measurement, so the simulated loop tracks
// whatever the Control worker most recently decided.
type integratorSource struct {
	in    *opticalsensor.Integrator
	drive ControlDrive
}

func (s integratorSource) MeasureAngle(now time.Time) (angle.Angle, bool) {
	if s.drive != nil {
		forward, freq := s.drive.State()
		s.in.Drive(forward, freq)
	}
	return s.in.MeasureAngle(now)
}

func (s integratorSource) MeasureSpeed(now time.Time) (float32, bool) {
	return s.in.MeasureSpeed(now)
}

func (w *Worker) Loop(ctx context.Context) error {
	now := time.Now()
	reading := Reading{}

	if a, ok := w.src.MeasureAngle(now); ok {
		w.lastAngleAt = now
		reading.Angle = &a
	}

	if v, ok := w.src.MeasureSpeed(now); ok {
		w.lastSpeedAt = now
		smoothed := w.estimator.push(v)
		reading.Speed = &smoothed
	}

	if time.Since(w.lastAngleAt) > w.cfg.AngleSensorTimeout {
		return fmt.Errorf("sensor: no angle measurement for %s", w.cfg.AngleSensorTimeout)
	}
	if time.Since(w.lastSpeedAt) > w.cfg.SpeedSensorTimeout {
		return fmt.Errorf("sensor: no speed measurement for %s", w.cfg.SpeedSensorTimeout)
	}

	if reading.Angle != nil || reading.Speed != nil {
		select {
		case w.out <- reading:
		default:
			corelog.Log.Debug().Msg("sensor: readings channel full, dropping reading")
		}
	}
	return nil
}

func (w *Worker) Stop(ctx context.Context) (int, error) {
	if w.closer != nil {
		if err := w.closer(); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// compile-time assertion that converter.Synthetic satisfies ControlDrive,
// the typical wiring in -t/--testing runs.
var _ ControlDrive = (*converter.Synthetic)(nil)
