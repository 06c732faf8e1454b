// Package command implements the operator-intent tagged union and the
// mutable InputState the View worker folds OSC updates into.
package command

import (
	"errors"

	"github.com/itohio/rsc/pkg/angle"
)

// Action identifies the Command variant.
type Action int

const (
	Stop Action = iota
	EmergencyStop
	RunContinuous
	RunToAngle
	Remote
)

func (a Action) String() string {
	switch a {
	case Stop:
		return "stop"
	case EmergencyStop:
		return "emergency_stop"
	case RunContinuous:
		return "run_continuous"
	case RunToAngle:
		return "run_to_angle"
	case Remote:
		return "remote"
	default:
		return "unknown"
	}
}

var (
	// ErrDirectionRequired is returned when a run-type command lacks a direction.
	ErrDirectionRequired = errors.New("command: direction is required")
	// ErrAngleRequired is returned when RunToAngle lacks an in-range angle.
	ErrAngleRequired = errors.New("command: angle is required for run_to_angle")
	// ErrFrequencyRequired is returned when Remote lacks a frequency in [0,1].
	ErrFrequencyRequired = errors.New("command: frequency in [0,1] is required for remote")
	// ErrSpeedRange is returned when speed is outside [0, max_speed].
	ErrSpeedRange = errors.New("command: speed out of range")
)

// Command is an operator intent. Zero value is a valid Stop.
type Command struct {
	Action    Action
	Direction angle.Direction
	Speed     float32      // m/s, RunContinuous/RunToAngle
	Angle     *float32     // degrees [0,360), RunToAngle only
	Frequency *float32     // normalized [0,1], Remote only
}

// NewStop returns a Stop command.
func NewStop() Command { return Command{Action: Stop} }

// NewEmergencyStop returns an EmergencyStop command.
func NewEmergencyStop() Command { return Command{Action: EmergencyStop} }

// NewRunContinuous validates and builds a RunContinuous command.
func NewRunContinuous(dir angle.Direction, speed, maxSpeed float32) (Command, error) {
	if dir == angle.Unset {
		return Command{}, ErrDirectionRequired
	}
	if speed < 0 || speed > maxSpeed {
		return Command{}, ErrSpeedRange
	}
	return Command{Action: RunContinuous, Direction: dir, Speed: speed}, nil
}

// NewRunToAngle validates and builds a RunToAngle command.
func NewRunToAngle(dir angle.Direction, speed, maxSpeed, target float32) (Command, error) {
	if dir == angle.Unset {
		return Command{}, ErrDirectionRequired
	}
	if speed < 0 || speed > maxSpeed {
		return Command{}, ErrSpeedRange
	}
	if target < 0 || target >= 360 {
		return Command{}, ErrAngleRequired
	}
	a := target
	return Command{Action: RunToAngle, Direction: dir, Speed: speed, Angle: &a}, nil
}

// NewRemote validates and builds a Remote command. A zero frequency
// collapses to Stop per the View worker's §4.3 contract.
func NewRemote(dir angle.Direction, frequency float32) (Command, error) {
	if frequency < 0 || frequency > 1 {
		return Command{}, ErrFrequencyRequired
	}
	if frequency == 0 {
		return NewStop(), nil
	}
	if dir == angle.Unset {
		return Command{}, ErrDirectionRequired
	}
	f := frequency
	return Command{Action: Remote, Direction: dir, Frequency: &f}, nil
}

// TargetAngle returns the angle.Angle the command targets. Only valid for
// RunToAngle; callers must check Action first.
func (c Command) TargetAngle() angle.Angle {
	if c.Angle == nil {
		return angle.Angle{}
	}
	return angle.New(*c.Angle)
}

// Equal implements structural equality per variant (§3, §8 invariant 4):
// any two Stops are equal regardless of stored direction; RunToAngle
// commands are equal iff (direction, speed, angle) all match.
func (c Command) Equal(o Command) bool {
	if c.Action != o.Action {
		return false
	}
	switch c.Action {
	case Stop, EmergencyStop:
		return true
	case RunContinuous:
		return c.Direction == o.Direction && c.Speed == o.Speed
	case RunToAngle:
		if c.Direction != o.Direction || c.Speed != o.Speed {
			return false
		}
		return floatPtrEqual(c.Angle, o.Angle)
	case Remote:
		return c.Direction == o.Direction && floatPtrEqual(c.Frequency, o.Frequency)
	default:
		return false
	}
}

func floatPtrEqual(a, b *float32) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// InputState is the View worker's mutable, OSC-updated intent buffer. A
// mutex in the View worker (not here) guards it as single-producer
// (OSC dispatch)/single-consumer (worker loop).
type InputState struct {
	Action    Action
	Direction angle.Direction
	Speed     float32
	Angle     float32
	Frequency float32
}

// ToCommand folds the current InputState into a Command, validating ranges.
// Returns an error (and the caller should drop the update) on an invalid
// combination rather than mutate anything externally visible.
func (s InputState) ToCommand(maxSpeed float32) (Command, error) {
	switch s.Action {
	case Stop:
		return NewStop(), nil
	case EmergencyStop:
		return NewEmergencyStop(), nil
	case RunContinuous:
		return NewRunContinuous(s.Direction, s.Speed, maxSpeed)
	case RunToAngle:
		return NewRunToAngle(s.Direction, s.Speed, maxSpeed, s.Angle)
	case Remote:
		return NewRemote(s.Direction, s.Frequency)
	default:
		return Command{}, errors.New("command: unknown action in input state")
	}
}
