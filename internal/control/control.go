// Package control implements the Control worker (§4.4), the cascaded
// angle→speed→motor-drive core the rest of the system exists to feed.
// A RunToAngle command drives an angleController whose signed speed
// output is forwarded each tick as the speedController's setpoint; a
// RunContinuous command sets the speed setpoint directly; a Remote command
// bypasses both controllers and writes frequency/direction straight to the
// motor state machine. Grounded on the teacher's x/devices/motor.Motor (a
// single PID1D driving a PWM plant inside a ticker loop, mutex-guarded
// state, Enable/Disable lifecycle) generalized from one motor to a cascade
// of two PIDs feeding a four-state motor-drive state machine.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/chewxy/math32"

	"github.com/itohio/rsc/internal/converter"
	"github.com/itohio/rsc/internal/sensor"
	"github.com/itohio/rsc/pkg/angle"
	"github.com/itohio/rsc/pkg/command"
	"github.com/itohio/rsc/pkg/corelog"
	"github.com/itohio/rsc/pkg/message"
	"github.com/itohio/rsc/pkg/pid"
	"github.com/itohio/rsc/pkg/supervisor"
)

// angleSamplePeriod and speedSamplePeriod are the PID sample times the
// reference design calls for (§9 design note): 100 ms for the angle loop,
// 50 ms for the speed loop.
const (
	angleSamplePeriod = 0.1
	speedSamplePeriod = 0.05
)

// angleController implements §4.4.2. Deliberately feeds the PID with
// accumulated_sweep rather than the raw measured angle — the open-question
// resolution at §9(a), since feeding raw angle breaks the moment the sweep
// crosses the 0/360 seam.
type angleController struct {
	pid          pid.PID
	active       bool
	direction    angle.Direction
	setpoint     float32 // sweep setpoint, degrees
	accumulated  float32 // accumulated_sweep, degrees
	lastMeasured *angle.Angle
	controlSpeed *float32 // signed, m/s
}

func newAngleController(kp, ki, kd, initialCap float32) *angleController {
	return &angleController{pid: pid.New(kp, ki, kd, -initialCap, initialCap)}
}

// SetSetpoint computes the signed sweep distance from the last measured
// angle to target along the chosen direction, resets accumulated_sweep,
// and re-arms the PID with its own last output as seed (§4.4.2). Fails if
// no angle measurement has ever been observed.
func (c *angleController) SetSetpoint(target angle.Angle, speedCap float32, clockwise bool) bool {
	if c.lastMeasured == nil {
		return false
	}
	dir := angle.Clockwise
	if !clockwise {
		dir = angle.CounterClockwise
	}
	sweep := c.lastMeasured.Sweep(target, dir)

	c.direction = dir
	c.setpoint = sweep
	c.accumulated = 0
	c.pid.SetLimits(-speedCap, speedCap)
	c.pid.Target = sweep
	c.pid.Rearm(c.pid.Output)
	c.active = true
	return true
}

// Deactivate disarms the controller: no further accumulated_sweep tracking
// or PID output until the next SetSetpoint.
func (c *angleController) Deactivate() {
	c.active = false
	c.controlSpeed = nil
	c.pid.Reset()
}

// ClearMeasurement forgets the last observed angle, forcing the next
// SetSetpoint to fail until a fresh measurement arrives — used whenever an
// EmergencyStop becomes the active command (§8 scenario S3).
func (c *angleController) ClearMeasurement() { c.lastMeasured = nil }

// OnMeasurement updates accumulated_sweep (while active) and feeds the PID,
// per §4.4.2.
func (c *angleController) OnMeasurement(a angle.Angle) {
	if c.active && c.lastMeasured != nil {
		prev := *c.lastMeasured
		var inc float32
		if c.direction == angle.CounterClockwise {
			if prev.Degrees() > a.Degrees() {
				inc = prev.Degrees() - a.Degrees()
			} else {
				inc = prev.Degrees() + 360 - a.Degrees()
			}
		} else {
			if a.Degrees() > prev.Degrees() {
				inc = a.Degrees() - prev.Degrees()
			} else {
				inc = 360 - prev.Degrees() + a.Degrees()
			}
		}
		c.accumulated = angle.New(c.accumulated + inc).Degrees()
	}

	m := a
	c.lastMeasured = &m

	if c.active {
		out := c.pid.Update(c.accumulated, angleSamplePeriod)
		c.controlSpeed = &out
	}
}

// speedController implements §4.4.3. The PID's gains absorb the m/s→Hz
// conversion (§9(c)): a RunContinuous command feeds the setpoint straight
// in m/s, and speed_pid_kp/ki/kd are configured in Hz per (m/s), not as a
// dimensionless gain — the unit conversion is the PID's job, not this
// controller's.
type speedController struct {
	pid              pid.PID
	active           bool
	setpoint         float32
	measured         *float32
	controlFrequency *float32
}

func newSpeedController(kp, ki, kd, maxFrequency float32) *speedController {
	return &speedController{pid: pid.New(kp, ki, kd, 0, maxFrequency)}
}

// SetSetpoint arms the controller with a new target. Fails if no speed
// measurement has ever been observed.
func (c *speedController) SetSetpoint(speed float32) bool {
	if c.measured == nil {
		return false
	}
	c.setpoint = speed
	c.pid.Target = speed
	c.pid.Rearm(c.pid.Output)
	c.active = true
	return true
}

// Retarget changes the PID's target without re-arming it — used to forward
// the angle controller's output every tick during RunToAngle (§4.4.5 step
// 4), where re-arming each tick would destroy the integral term's history.
func (c *speedController) Retarget(speed float32) {
	c.setpoint = speed
	c.pid.Target = speed
}

func (c *speedController) Deactivate() {
	c.active = false
	c.controlFrequency = nil
	c.pid.Reset()
}

// ClearMeasurement forgets the last observed speed (see angleController's
// twin method).
func (c *speedController) ClearMeasurement() { c.measured = nil }

func (c *speedController) OnMeasurement(v float32) {
	m := v
	c.measured = &m
	if c.active {
		out := c.pid.Update(v, speedSamplePeriod)
		c.controlFrequency = &out
	}
}

// motorState is one of the four states in §4.4.4.
type motorState int

const (
	Idle motorState = iota
	RunningForward
	RunningReverse
	EmergencyStopped
)

func (s motorState) String() string {
	switch s {
	case Idle:
		return "idle"
	case RunningForward:
		return "running_forward"
	case RunningReverse:
		return "running_reverse"
	case EmergencyStopped:
		return "emergency_stopped"
	default:
		return "unknown"
	}
}

// deadbandHz, floorHz and targetRateLimit are the three constants in the
// motor state machine's transition table (§4.4.4): deadbandHz prevents
// thrashing at the idle/running crossover, floorHz avoids sub-resolution
// target writes, targetRateLimit protects the Modbus bus from saturation.
const (
	deadbandHz      = float32(1.0)
	floorHz         = float32(0.5)
	targetRateLimit = 100 * time.Millisecond
)

// telemetryPeriod caps debug telemetry emission at the ≤5 Hz ceiling (§4.4.5
// step 6, §6).
const telemetryPeriod = 200 * time.Millisecond

// ControllerState is the data Control owns across ticks (§3), exported so
// tests can assert on the motor-drive invariants in §8 without reaching
// into worker internals.
type ControllerState struct {
	ActiveCommand       command.Command
	MotorRunning        bool
	MotorRunningForward bool
	MotorState          motorState
	LastMeasurementTime time.Time
	InvalidReadings     bool
}

// Telemetry is the (angle, frequency) sample Control emits as Data, ≤5 Hz,
// when debug is enabled (§6).
type Telemetry struct {
	AngleRadians float32
	FrequencyHz  float32
}

// Config carries the [control]/[motor]/[DEFAULT] options Setup resolves
// via Config-RPC.
type Config struct {
	AngleKp, AngleKi, AngleKd  float32
	SpeedKp, SpeedKi, SpeedKd  float32
	MaxFrequency, MinFrequency float32
	MaxMeasurementDuration     time.Duration
	Debug                      bool
}

// Worker implements supervisor.Worker.
type Worker struct {
	cfg       Config
	host      *supervisor.Host
	converter converter.FrequencyConverter
	sensorCh  <-chan sensor.Reading
	commandCh <-chan command.Command

	angleCtrl *angleController
	speedCtrl *speedController
	state     ControllerState

	cmdClockwise   bool
	lastTargetHz   float32
	haveLastTarget bool
	lastTargetAt   time.Time

	lastTelemetryAt time.Time
}

// New builds an unstarted Control worker. sensorCh and commandCh are the
// direct peer channels from the Sensor and View workers — distinct from
// the supervisor's lifecycle channel, since per §4.4.5 Control drains them
// itself each tick rather than receiving them relayed through the
// supervisor.
func New(cfg Config, conv converter.FrequencyConverter, sensorCh <-chan sensor.Reading, commandCh <-chan command.Command) *Worker {
	return &Worker{cfg: cfg, converter: conv, sensorCh: sensorCh, commandCh: commandCh}
}

func (w *Worker) Name() string { return "control" }

// State returns a copy of the controller's current state, for tests and
// diagnostics.
func (w *Worker) State() ControllerState { return w.state }

// AccumulatedSweep exposes the angle controller's accumulated_sweep, for
// tests asserting §8 scenario S1's monotonic-sweep property.
func (w *Worker) AccumulatedSweep() float32 { return w.angleCtrl.accumulated }

// SweepSetpoint exposes the angle controller's setpoint_sweep computed by
// the last SetSetpoint call, for tests asserting §8 scenarios S1/S2's
// signed-sweep-distance calculation.
func (w *Worker) SweepSetpoint() float32 { return w.angleCtrl.setpoint }

func (w *Worker) Setup(ctx context.Context, host *supervisor.Host) error {
	w.host = host

	angleKp, angleKi, angleKd := w.cfg.AngleKp, w.cfg.AngleKi, w.cfg.AngleKd
	if v := host.RequestConfig(ctx, "control", "angle_pid_kp", message.TypeFloat, 0); v != nil {
		angleKp = v.(float32)
	}
	if v := host.RequestConfig(ctx, "control", "angle_pid_ki", message.TypeFloat, 0); v != nil {
		angleKi = v.(float32)
	}
	if v := host.RequestConfig(ctx, "control", "angle_pid_kd", message.TypeFloat, 0); v != nil {
		angleKd = v.(float32)
	}

	speedKp, speedKi, speedKd := w.cfg.SpeedKp, w.cfg.SpeedKi, w.cfg.SpeedKd
	if v := host.RequestConfig(ctx, "control", "speed_pid_kp", message.TypeFloat, 0); v != nil {
		speedKp = v.(float32)
	}
	if v := host.RequestConfig(ctx, "control", "speed_pid_ki", message.TypeFloat, 0); v != nil {
		speedKi = v.(float32)
	}
	if v := host.RequestConfig(ctx, "control", "speed_pid_kd", message.TypeFloat, 0); v != nil {
		speedKd = v.(float32)
	}

	maxFrequency := w.cfg.MaxFrequency
	if maxFrequency == 0 {
		maxFrequency = 40
	}
	if v := host.RequestConfig(ctx, "motor", "max_frequency", message.TypeFloat, 0); v != nil {
		maxFrequency = v.(float32)
	}
	minFrequency := w.cfg.MinFrequency
	if v := host.RequestConfig(ctx, "motor", "min_frequency", message.TypeFloat, 0); v != nil {
		minFrequency = v.(float32)
	}

	maxSpeed := float32(2)
	if v := host.RequestConfig(ctx, "DEFAULT", "max_speed", message.TypeFloat, 0); v != nil {
		maxSpeed = v.(float32)
	}

	maxMeasurementDuration := w.cfg.MaxMeasurementDuration
	if maxMeasurementDuration == 0 {
		maxMeasurementDuration = 100 * time.Millisecond
	}
	if v := host.RequestConfig(ctx, "control", "max_measurement_duration", message.TypeInt, 0); v != nil {
		maxMeasurementDuration = time.Duration(v.(int)) * time.Millisecond
	}

	debug := w.cfg.Debug
	if v := host.RequestConfig(ctx, "DEFAULT", "debug", message.TypeBool, 0); v != nil {
		debug = v.(bool)
	}

	w.cfg.AngleKp, w.cfg.AngleKi, w.cfg.AngleKd = angleKp, angleKi, angleKd
	w.cfg.SpeedKp, w.cfg.SpeedKi, w.cfg.SpeedKd = speedKp, speedKi, speedKd
	w.cfg.MaxFrequency, w.cfg.MinFrequency = maxFrequency, minFrequency
	w.cfg.MaxMeasurementDuration = maxMeasurementDuration
	w.cfg.Debug = debug

	w.angleCtrl = newAngleController(angleKp, angleKi, angleKd, maxSpeed)
	w.speedCtrl = newSpeedController(speedKp, speedKi, speedKd, maxFrequency)
	w.state = ControllerState{MotorState: Idle}

	// §4.4.6 / §8 scenario S6: on (re)start the motor must be left in a
	// known-safe idle state before the cascade runs its first tick.
	if err := w.converter.Stop(); err != nil {
		return fmt.Errorf("control: setup: initial stop: %w", err)
	}

	w.state.LastMeasurementTime = time.Now()
	return nil
}

// setActivity dispatches cmd to the appropriate sub-controller (§4.4.5 step
// 3). Returns false if a dependency (e.g. no measurement yet) prevents
// honoring it right now — a boolean rejection, not an error (§7).
func (w *Worker) setActivity(cmd command.Command) bool {
	switch cmd.Action {
	case command.Stop:
		w.angleCtrl.Deactivate()
		w.speedCtrl.Deactivate()
		w.state.ActiveCommand = cmd
		return true

	case command.EmergencyStop:
		w.angleCtrl.Deactivate()
		w.speedCtrl.Deactivate()
		// Require a fresh measurement before the next Run* is accepted
		// (§8 scenario S3).
		w.angleCtrl.ClearMeasurement()
		w.speedCtrl.ClearMeasurement()
		w.state.ActiveCommand = cmd
		return true

	case command.RunContinuous:
		w.angleCtrl.Deactivate()
		if !w.speedCtrl.SetSetpoint(cmd.Speed) {
			return false
		}
		w.cmdClockwise = cmd.Direction == angle.Clockwise
		w.state.ActiveCommand = cmd
		return true

	case command.RunToAngle:
		clockwise := cmd.Direction == angle.Clockwise
		if !w.angleCtrl.SetSetpoint(cmd.TargetAngle(), cmd.Speed, clockwise) {
			return false
		}
		if !w.speedCtrl.SetSetpoint(0) {
			w.angleCtrl.Deactivate()
			return false
		}
		w.cmdClockwise = clockwise
		w.state.ActiveCommand = cmd
		return true

	case command.Remote:
		w.angleCtrl.Deactivate()
		w.speedCtrl.Deactivate()
		w.cmdClockwise = cmd.Direction == angle.Clockwise
		w.state.ActiveCommand = cmd
		return true

	default:
		return false
	}
}

// computeFrequencyAndDirection derives the commanded (signed magnitude,
// forward) pair for the current active command, per the cascade in
// §4.4.1. ok is false when the controller chain has no output yet (e.g.
// a RunToAngle/RunContinuous whose speed controller hasn't produced a
// frequency on this tick's predecessor).
func (w *Worker) computeFrequencyAndDirection() (frequency float32, forward bool, ok bool) {
	switch w.state.ActiveCommand.Action {
	case command.RunContinuous:
		if w.speedCtrl.controlFrequency == nil {
			return 0, false, false
		}
		return *w.speedCtrl.controlFrequency, w.cmdClockwise, true

	case command.RunToAngle:
		if w.speedCtrl.controlFrequency == nil {
			return 0, false, false
		}
		forward := w.cmdClockwise
		if w.angleCtrl.controlSpeed != nil && *w.angleCtrl.controlSpeed < 0 {
			forward = !forward
		}
		return *w.speedCtrl.controlFrequency, forward, true

	case command.Remote:
		cmd := w.state.ActiveCommand
		if cmd.Frequency == nil {
			return 0, false, false
		}
		return *cmd.Frequency * w.cfg.MaxFrequency, w.cmdClockwise, true

	default: // Stop, zero-value ActiveCommand
		return 0, w.state.MotorRunningForward, true
	}
}

// stepMotor runs one tick of the motor-drive state machine (§4.4.4).
func (w *Worker) stepMotor(now time.Time) error {
	if w.state.ActiveCommand.Action == command.EmergencyStop {
		if w.state.MotorState != EmergencyStopped {
			if err := w.converter.EmergencyStop(); err != nil {
				return fmt.Errorf("control: emergency_stop: %w", err)
			}
			w.state.MotorState = EmergencyStopped
			w.state.MotorRunning = false
		}
		return nil
	}

	frequency, forward, ok := w.computeFrequencyAndDirection()
	if !ok {
		return nil
	}
	absFreq := math32.Abs(frequency)
	floor := floorHz
	if w.cfg.MinFrequency > floor {
		floor = w.cfg.MinFrequency
	}

	switch {
	case absFreq < deadbandHz && w.state.MotorRunning:
		if err := w.converter.Stop(); err != nil {
			return fmt.Errorf("control: stop: %w", err)
		}
		if err := w.converter.SetTargetFrequency(0); err != nil {
			return fmt.Errorf("control: set_target_frequency(0): %w", err)
		}
		w.state.MotorRunning = false
		w.state.MotorState = Idle
		w.lastTargetHz, w.haveLastTarget, w.lastTargetAt = 0, true, now

	case absFreq >= deadbandHz && !w.state.MotorRunning:
		if err := w.converter.Run(forward); err != nil {
			return fmt.Errorf("control: run(forward=%v): %w", forward, err)
		}
		if err := w.converter.SetTargetFrequency(absFreq); err != nil {
			return fmt.Errorf("control: set_target_frequency(%.2f): %w", absFreq, err)
		}
		w.state.MotorRunning = true
		w.state.MotorRunningForward = forward
		if forward {
			w.state.MotorState = RunningForward
		} else {
			w.state.MotorState = RunningReverse
		}
		w.lastTargetHz, w.haveLastTarget, w.lastTargetAt = absFreq, true, now

	case w.state.MotorRunning && w.haveLastTarget && absFreq != w.lastTargetHz &&
		absFreq >= floor && now.Sub(w.lastTargetAt) >= targetRateLimit:
		if err := w.converter.SetTargetFrequency(absFreq); err != nil {
			return fmt.Errorf("control: set_target_frequency(%.2f): %w", absFreq, err)
		}
		w.lastTargetHz, w.lastTargetAt = absFreq, now
	}
	return nil
}

// Loop runs one control tick (§4.4.5).
func (w *Worker) Loop(ctx context.Context) error {
	now := time.Now()

	// 1. Drain the sensor channel, non-blocking.
drainSensor:
	for {
		select {
		case r := <-w.sensorCh:
			if r.Angle != nil {
				w.state.LastMeasurementTime = now
				w.angleCtrl.OnMeasurement(*r.Angle)
			}
			if r.Speed != nil {
				w.state.LastMeasurementTime = now
				w.speedCtrl.OnMeasurement(*r.Speed)
			}
		default:
			break drainSensor
		}
	}

	// 2. Watchdog.
	w.state.InvalidReadings = false
	if now.Sub(w.state.LastMeasurementTime) > w.cfg.MaxMeasurementDuration {
		w.state.InvalidReadings = true
		if w.state.ActiveCommand.Action != command.EmergencyStop {
			corelog.Log.Warn().
				Dur("gap", now.Sub(w.state.LastMeasurementTime)).
				Msg("control: measurement watchdog tripped, forcing emergency stop")
			w.setActivity(command.NewEmergencyStop())
		}
	}

	// 3. Drain the command channel.
drainCommands:
	for {
		select {
		case cmd := <-w.commandCh:
			if w.state.InvalidReadings && cmd.Action != command.EmergencyStop {
				corelog.Log.Debug().Str("action", cmd.Action.String()).Msg("control: dropping command, invalid readings")
				continue
			}
			if !w.setActivity(cmd) {
				corelog.Log.Warn().Str("action", cmd.Action.String()).Msg("control: command rejected, dependency not satisfied")
			}
		default:
			break drainCommands
		}
	}

	// 4. Forward the angle controller's output to the speed setpoint.
	if w.state.ActiveCommand.Action == command.RunToAngle && w.angleCtrl.controlSpeed != nil {
		w.speedCtrl.Retarget(*w.angleCtrl.controlSpeed)
	}

	// 5. Motor state machine.
	if err := w.stepMotor(now); err != nil {
		return err
	}

	// 6. Debug telemetry, ≤5 Hz.
	if w.cfg.Debug && now.Sub(w.lastTelemetryAt) >= telemetryPeriod {
		w.lastTelemetryAt = now
		freq, _ := w.converter.CurrentFrequency()
		var rad float32
		if w.angleCtrl.lastMeasured != nil {
			rad = w.angleCtrl.lastMeasured.Radians()
		}
		w.host.SendData(Telemetry{AngleRadians: rad, FrequencyHz: freq})
	}

	return nil
}

// Stop leaves the converter in a safe, stopped state (§4.4.6). The
// converter itself is supplied to New by the caller and outlives this
// Worker instance across restarts, so Stop does not close it — only the
// process shutdown path in cmd/rsc owns that.
func (w *Worker) Stop(ctx context.Context) (int, error) {
	if err := w.converter.Stop(); err != nil {
		return 0, fmt.Errorf("control: stop: %w", err)
	}
	return 0, nil
}
