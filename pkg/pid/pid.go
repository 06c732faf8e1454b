// Package pid implements a minimal discrete PID controller with configurable
// gains, sample time, output clamping and an auto_mode toggle that rearms
// the integral term with a seed output (§9 design note). Adapted from the
// teacher's pkg/core/math/filter/pid.PID1D, extended for rearm-on-setpoint-
// change semantics used by the angle/speed cascade.
package pid

// clamp restricts v to [min, max]. chewxy/math32 mirrors stdlib math's
// trig/sqrt/mod surface but has no clamp helper, so this follows the
// teacher's own pkg/core/math.Clamp shape instead.
func clamp(v, min, max float32) float32 {
	switch {
	case v > max:
		return max
	case v < min:
		return min
	default:
		return v
	}
}

// PID is a scalar, float32 discrete PID controller.
type PID struct {
	P, I, D  float32
	min, max float32

	input, lastInput float32
	iTerm            float32
	Output           float32
	Target           float32

	auto bool
}

// New builds a PID with the given gains and output clamp range.
func New(p, i, d, min, max float32) PID {
	return PID{P: p, I: i, D: d, min: min, max: max}
}

// SetLimits updates the output clamp range.
func (c *PID) SetLimits(min, max float32) {
	c.min, c.max = min, max
	c.Output = clamp(c.Output, min, max)
	c.iTerm = clamp(c.iTerm, min, max)
}

// SetGains updates P/I/D gains in place, without resetting accumulated state.
func (c *PID) SetGains(p, i, d float32) {
	c.P, c.I, c.D = p, i, d
}

// Reset disarms the controller: the next Update call seeds lastInput from
// the first Input it receives, and the integral term is cleared.
func (c *PID) Reset() {
	c.auto = false
	c.iTerm = 0
}

// Rearm re-enables the controller with the given seed output — the integral
// term is initialized so Output starts at seed rather than snapping, per
// §9's "re-arms PID with last output as initial state".
func (c *PID) Rearm(seed float32) {
	c.auto = true
	c.iTerm = clamp(seed, c.min, c.max)
	c.Output = c.iTerm
}

// Update runs one PID step for the given input value over samplePeriod
// seconds, returning the new clamped Output.
func (c *PID) Update(input, samplePeriod float32) float32 {
	if !c.auto {
		c.lastInput = input
		c.input = input
		c.Rearm(0)
	}

	c.lastInput, c.input = c.input, input

	e := c.Target - c.input
	d := c.input - c.lastInput

	c.iTerm = clamp(c.iTerm+c.I*e*samplePeriod, c.min, c.max)
	out := c.P*e + c.iTerm
	if samplePeriod > 0 {
		out -= c.D * d / samplePeriod
	}
	c.Output = clamp(out, c.min, c.max)
	return c.Output
}

// AutoMode reports whether the controller has been armed (via Rearm or an
// implicit first Update).
func (c *PID) AutoMode() bool { return c.auto }
