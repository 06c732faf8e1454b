// Package view implements the View worker (§4.3): it receives operator
// intent over OSC/UDP, folds it into a mutable InputState, and emits a
// Command on the channel only when the reconstructed command differs from
// the last one sent. Grounded on the teacher's options/config-struct
// dispatch conventions (x/options) for the address-table shape, adapted
// from functional options to an OSC address-to-handler map using
// github.com/hypebeast/go-osc, the ecosystem's OSC server for Go.
package view

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/hypebeast/go-osc/osc"

	"github.com/itohio/rsc/pkg/angle"
	"github.com/itohio/rsc/pkg/command"
	"github.com/itohio/rsc/pkg/corelog"
	"github.com/itohio/rsc/pkg/message"
	"github.com/itohio/rsc/pkg/supervisor"
)

// Config carries the [input]/[DEFAULT] options Setup resolves via
// Config-RPC.
type Config struct {
	IP       string
	Port     int
	MaxSpeed float32
}

// commandsBuffer bounds how many unconsumed commands Control may lag
// behind by before View starts dropping them rather than blocking.
const commandsBuffer = 8

// Worker implements supervisor.Worker.
type Worker struct {
	cfg  Config
	host *supervisor.Host

	conn   net.PacketConn
	server *osc.Server
	out    chan command.Command

	mu    sync.Mutex
	state command.InputState
	// mode is the pre-selected action from /mode, latched in by a bare
	// /run without an explicit /run/continuous or /run/to_angle suffix.
	mode command.Action

	lastActive command.Command
	haveActive bool
}

// New builds an unstarted View worker.
func New(cfg Config) *Worker {
	return &Worker{cfg: cfg, mode: command.RunContinuous, out: make(chan command.Command, commandsBuffer)}
}

func (w *Worker) Name() string { return "view" }

// Commands is the direct peer channel Control drains each tick (§4.4.5
// step 3) — distinct from the supervisor's lifecycle channel.
func (w *Worker) Commands() <-chan command.Command { return w.out }

// Addr reports the bound UDP address, useful when the [input] port option
// is 0 and the OS assigns an ephemeral port. A zero Config.Port is not
// ephemeral: Setup replaces it with the default 1337.
func (w *Worker) Addr() net.Addr {
	if w.conn == nil {
		return nil
	}
	return w.conn.LocalAddr()
}

func (w *Worker) Setup(ctx context.Context, host *supervisor.Host) error {
	w.host = host

	ip := w.cfg.IP
	if ip == "" {
		ip = "0.0.0.0"
	}
	if v := host.RequestConfig(ctx, "input", "ip", message.TypeString, 0); v != nil {
		ip = v.(string)
	}
	port := w.cfg.Port
	if port == 0 {
		port = 1337
	}
	if v := host.RequestConfig(ctx, "input", "port", message.TypeInt, 0); v != nil {
		port = v.(int)
	}
	maxSpeed := w.cfg.MaxSpeed
	if v := host.RequestConfig(ctx, "DEFAULT", "max_speed", message.TypeFloat, 0); v != nil {
		maxSpeed = v.(float32)
	}
	w.cfg.IP, w.cfg.Port, w.cfg.MaxSpeed = ip, port, maxSpeed

	addr := fmt.Sprintf("%s:%d", ip, port)
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("view: listen %s: %w", addr, err)
	}
	w.conn = conn

	dispatcher := osc.NewStandardDispatcher()
	w.registerHandlers(dispatcher)
	w.server = &osc.Server{Dispatcher: dispatcher}

	go func() {
		if err := w.server.Serve(conn); err != nil {
			corelog.Log.Debug().Err(err).Msg("view: osc server stopped")
		}
	}()

	return nil
}

func (w *Worker) registerHandlers(d *osc.StandardDispatcher) {
	handle := func(addr string, fn func(*osc.Message)) {
		if err := d.AddMsgHandler(addr, fn); err != nil {
			corelog.Log.Error().Err(err).Str("address", addr).Msg("view: failed to register handler")
		}
	}

	handle("/stop", func(*osc.Message) {
		w.mu.Lock()
		w.state.Action = command.Stop
		w.mu.Unlock()
	})

	handle("/emergencystop", func(*osc.Message) {
		w.mu.Lock()
		w.state.Action = command.EmergencyStop
		w.mu.Unlock()
	})

	handle("/run", func(*osc.Message) {
		w.mu.Lock()
		w.state.Action = w.mode
		w.mu.Unlock()
	})

	handle("/run/continuous", func(*osc.Message) {
		w.mu.Lock()
		w.mode = command.RunContinuous
		w.state.Action = command.RunContinuous
		w.mu.Unlock()
	})

	handle("/run/to_angle", func(*osc.Message) {
		w.mu.Lock()
		w.mode = command.RunToAngle
		w.state.Action = command.RunToAngle
		w.mu.Unlock()
	})

	handle("/mode", func(m *osc.Message) {
		mode, ok := parseMode(m)
		if !ok {
			corelog.Log.Debug().Msg("view: malformed /mode, dropping")
			return
		}
		w.mu.Lock()
		w.mode = mode
		w.mu.Unlock()
	})

	handle("/speed", func(m *osc.Message) {
		speed, ok := floatArg(m, 0)
		if !ok {
			corelog.Log.Debug().Msg("view: malformed /speed, dropping")
			return
		}
		w.mu.Lock()
		w.state.Speed = speed
		w.mu.Unlock()
	})

	handle("/direction", func(m *osc.Message) {
		dir, ok := parseDirection(m, 0)
		if !ok {
			corelog.Log.Debug().Msg("view: malformed /direction, dropping")
			return
		}
		w.mu.Lock()
		w.state.Direction = dir
		w.mu.Unlock()
	})

	handle("/angle", func(m *osc.Message) {
		a, ok := floatArg(m, 0)
		if !ok || a < 0 || a >= 360 {
			corelog.Log.Debug().Msg("view: malformed /angle, dropping")
			return
		}
		w.mu.Lock()
		w.state.Angle = a
		w.mu.Unlock()
	})

	handle("/remote", func(m *osc.Message) {
		if len(m.Arguments) != 2 {
			corelog.Log.Debug().Msg("view: malformed /remote, dropping")
			return
		}
		dirVal, ok := intArg(m, 0)
		if !ok || (dirVal != 0 && dirVal != 1) {
			corelog.Log.Debug().Msg("view: malformed /remote direction, dropping")
			return
		}
		freq, ok := floatArg(m, 1)
		if !ok || freq < 0 || freq > 1 {
			corelog.Log.Debug().Msg("view: malformed /remote frequency, dropping")
			return
		}
		dir := angle.CounterClockwise
		if dirVal == 1 {
			dir = angle.Clockwise
		}
		w.mu.Lock()
		w.state.Action = command.Remote
		w.state.Direction = dir
		w.state.Frequency = freq
		w.mu.Unlock()
	})
}

func parseMode(m *osc.Message) (command.Action, bool) {
	s, ok := stringArg(m, 0)
	if !ok {
		return 0, false
	}
	switch s {
	case "stop":
		return command.Stop, true
	case "continuous":
		return command.RunContinuous, true
	case "to_angle":
		return command.RunToAngle, true
	case "remote":
		return command.Remote, true
	default:
		return 0, false
	}
}

func parseDirection(m *osc.Message, i int) (angle.Direction, bool) {
	s, ok := stringArg(m, i)
	if !ok {
		return angle.Unset, false
	}
	switch s {
	case "clockwise":
		return angle.Clockwise, true
	case "counterclockwise":
		return angle.CounterClockwise, true
	default:
		return angle.Unset, false
	}
}

func stringArg(m *osc.Message, i int) (string, bool) {
	if i >= len(m.Arguments) {
		return "", false
	}
	s, ok := m.Arguments[i].(string)
	return s, ok
}

func floatArg(m *osc.Message, i int) (float32, bool) {
	if i >= len(m.Arguments) {
		return 0, false
	}
	switch v := m.Arguments[i].(type) {
	case float32:
		return v, true
	case float64:
		return float32(v), true
	default:
		return 0, false
	}
}

func intArg(m *osc.Message, i int) (int, bool) {
	if i >= len(m.Arguments) {
		return 0, false
	}
	switch v := m.Arguments[i].(type) {
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func (w *Worker) Loop(ctx context.Context) error {
	w.mu.Lock()
	state := w.state
	w.mu.Unlock()

	cmd, err := state.ToCommand(w.cfg.MaxSpeed)
	if err != nil {
		// Not yet a valid command (e.g. no direction selected) — nothing to emit.
		return nil
	}

	if w.haveActive && w.lastActive.Equal(cmd) {
		return nil
	}
	w.lastActive, w.haveActive = cmd, true
	select {
	case w.out <- cmd:
	default:
		corelog.Log.Debug().Msg("view: commands channel full, dropping command")
	}
	return nil
}

func (w *Worker) Stop(ctx context.Context) (int, error) {
	if w.conn != nil {
		_ = w.conn.Close()
	}
	return 0, nil
}
