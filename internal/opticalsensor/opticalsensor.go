// Package opticalsensor implements the camera-backed rotation sensor
// behind the narrow measure_angle/measure_speed capability trait (§9
// design note). ArUco marker detection is explicitly out of scope (§1
// non-goals) — Detect is a pluggable stand-in a caller may wire a real
// marker detector into; with none wired the camera still opens and reads
// frames but reports no angle, which is a legitimate "no measurement this
// tick" result rather than an error. Grounded on the teacher's
// pkg/vision/reader device-capture pattern (gocv.OpenVideoCapture,
// VideoCapture.Read into a reused Mat) adapted to a capability trait
// instead of a pipeline Step.
package opticalsensor

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"
	cv "gocv.io/x/gocv"

	"github.com/itohio/rsc/pkg/angle"
)

// Detector extracts the stage's absolute angle from a captured frame. The
// real implementation (ArUco pose estimation) is out of scope; tests and
// deployments without a marker board may supply nil, in which case the
// camera runs but never reports an angle.
type Detector func(frame *cv.Mat) (angle.Angle, bool)

// Camera is the real optical rotation sensor: it owns the capture device
// exclusively (§5 — no other worker may touch it) and differentiates
// consecutive angle readings along the shortest-path direction for its
// raw, unsmoothed speed signal.
type Camera struct {
	dev     *cv.VideoCapture
	detect  Detector
	frame   cv.Mat
	prevAng *angle.Angle
	prevAt  time.Time
	lastAng *angle.Angle
	lastAt  time.Time
}

// OpenCamera opens device index and binds detect as the angle extractor.
func OpenCamera(index int, detect Detector) (*Camera, error) {
	dev, err := cv.OpenVideoCapture(index)
	if err != nil {
		return nil, fmt.Errorf("opticalsensor: open device %d: %w", index, err)
	}
	return &Camera{dev: dev, detect: detect, frame: cv.NewMat()}, nil
}

// MeasureAngle captures one frame and runs the detector over it. ok is
// false when no frame could be read or the detector found nothing — both
// are "no measurement this tick", not errors.
func (c *Camera) MeasureAngle(now time.Time) (a angle.Angle, ok bool) {
	if !c.dev.Read(&c.frame) || c.frame.Empty() {
		return angle.Angle{}, false
	}
	if c.detect == nil {
		return angle.Angle{}, false
	}
	a, ok = c.detect(&c.frame)
	if !ok {
		return angle.Angle{}, false
	}
	c.prevAng, c.prevAt = c.lastAng, c.lastAt
	c.lastAng, c.lastAt = &a, now
	return a, true
}

// MeasureSpeed reports the raw angular speed (deg/s) between the two most
// recent MeasureAngle calls, signed along the shortest-path direction of
// travel. ok is false until at least two angle samples have been taken.
func (c *Camera) MeasureSpeed(time.Time) (speed float32, ok bool) {
	if c.lastAng == nil || c.prevAng == nil {
		return 0, false
	}
	dt := c.lastAt.Sub(c.prevAt).Seconds()
	if dt <= 0 {
		return 0, false
	}
	cw := c.prevAng.SweepClockwise(*c.lastAng)
	ccw := c.prevAng.SweepCounterClockwise(*c.lastAng)
	delta := cw
	if ccw < cw {
		delta = -ccw
	}
	return float32(float64(delta) / dt), true
}

// Close releases the capture device.
func (c *Camera) Close() error {
	c.frame.Close()
	return c.dev.Close()
}

// Integrator is the synthetic sensor used in -t/--testing runs. It
// integrates angular_velocity = (speedPerHz·freq/60) / (diameter/2) over
// wall-clock time from (forward, frequency) pairs supplied by Control
// through the same loop, per §4.2. speedPerHz is the stage's calibration
// constant (m/s of rim travel per Hz of drive frequency).
type Integrator struct {
	diameter   float32 // stage diameter, meters
	speedPerHz float32
	current    angle.Angle
	lastTick   time.Time
	forward    bool
	freq       float32
}

// NewIntegrator builds a synthetic sensor for a stage of the given
// diameter (meters) and speed-per-Hz calibration, starting at angle 0.
func NewIntegrator(diameterMeters, speedPerHz float32) *Integrator {
	return &Integrator{diameter: diameterMeters, speedPerHz: speedPerHz, lastTick: time.Now()}
}

// Drive updates the simulated motor state the integrator advances
// against; the sensor worker calls this before each measurement with the
// synthetic converter's current (forward, frequency) state.
func (in *Integrator) Drive(forward bool, frequencyHz float32) {
	in.forward, in.freq = forward, frequencyHz
}

func (in *Integrator) angularVelocityDeg() float32 {
	radiansPerSec := (in.speedPerHz * in.freq / 60) / (in.diameter / 2)
	deg := radiansPerSec * (180 / math32.Pi)
	if !in.forward {
		deg = -deg
	}
	return deg
}

// MeasureAngle advances the simulation to now and returns the resulting
// absolute angle. Always ok, mirroring a sensor that never misses.
func (in *Integrator) MeasureAngle(now time.Time) (angle.Angle, bool) {
	dt := now.Sub(in.lastTick).Seconds()
	if dt < 0 {
		dt = 0
	}
	in.lastTick = now
	in.current = in.current.AddDegrees(in.angularVelocityDeg() * float32(dt))
	return in.current, true
}

// MeasureSpeed reports the instantaneous angular speed (deg/s) implied by
// the current drive state — always available in simulation.
func (in *Integrator) MeasureSpeed(time.Time) (float32, bool) {
	return in.angularVelocityDeg(), true
}
