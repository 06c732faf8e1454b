// Package converter exposes the frequency-converter capability trait
// (run/stop/set_target_frequency/get_current/emergency_stop, §9 design
// note) behind two implementations: a real Modbus RTU drive (JSLSM100
// register map, §6) and a synthetic one for -t/--testing runs. Grounded
// on the pack's Modbus reference usage of github.com/goburrow/modbus
// (client/handler construction, WriteSingleRegister/ReadHoldingRegisters)
// adapted from TCP to RTU for the serial field bus this spec assumes.
package converter

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/itohio/rsc/pkg/corelog"
)

// FrequencyConverter is the narrow capability trait Control drives the
// motor through. forward==true spins the stage clockwise.
type FrequencyConverter interface {
	Run(forward bool) error
	Stop() error
	SetTargetFrequency(hz float32) error
	CurrentFrequency() (float32, error)
	EmergencyStop() error
	Close() error
}

// JSLSM100 register map (§6).
const (
	regTargetFrequency = 0x0005 // write, centi-Hz
	regCurrentFrequency = 0x000A
	regRunStop          = 0x0006
	regState            = 0x000E
	regVersion           = 0x0003

	bitsRunForward = 0b010
	bitsRunReverse = 0b100
	bitsStop       = 0b001
	bitsEmergency  = 0xB4
)

// Modbus is the real JSLSM100 RTU drive.
type Modbus struct {
	mu      sync.Mutex
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// ModbusConfig carries the serial line parameters read from [motor] (§6).
type ModbusConfig struct {
	Port     string
	SlaveID  byte
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	Timeout  time.Duration
}

// NewModbus opens the serial line and returns a connected converter.
func NewModbus(cfg ModbusConfig) (*Modbus, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.DataBits == 0 {
		cfg.DataBits = 8
	}
	if cfg.Parity == "" {
		cfg.Parity = "N"
	}
	if cfg.StopBits == 0 {
		cfg.StopBits = 1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = cfg.DataBits
	handler.Parity = cfg.Parity
	handler.StopBits = cfg.StopBits
	handler.SlaveId = cfg.SlaveID
	handler.Timeout = cfg.Timeout

	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("converter: connect %s: %w", cfg.Port, err)
	}

	return &Modbus{handler: handler, client: modbus.NewClient(handler)}, nil
}

// Run commands the drive to spin in the given direction.
func (m *Modbus) Run(forward bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bits := uint16(bitsRunForward)
	if !forward {
		bits = bitsRunReverse
	}
	_, err := m.client.WriteSingleRegister(regRunStop, bits)
	if err != nil {
		return fmt.Errorf("converter: run(forward=%v): %w", forward, err)
	}
	return nil
}

// Stop commands a normal stop.
func (m *Modbus) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.client.WriteSingleRegister(regRunStop, bitsStop); err != nil {
		return fmt.Errorf("converter: stop: %w", err)
	}
	return nil
}

// SetTargetFrequency writes the target frequency in Hz (register units
// are centi-Hz).
func (m *Modbus) SetTargetFrequency(hz float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	centiHz := uint16(hz * 100)
	if _, err := m.client.WriteSingleRegister(regTargetFrequency, centiHz); err != nil {
		return fmt.Errorf("converter: set_target_frequency(%.2f): %w", hz, err)
	}
	return nil
}

// CurrentFrequency reads the drive's reported running frequency in Hz.
func (m *Modbus) CurrentFrequency() (float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.client.ReadHoldingRegisters(regCurrentFrequency, 1)
	if err != nil {
		return 0, fmt.Errorf("converter: get_current: %w", err)
	}
	if len(raw) < 2 {
		return 0, fmt.Errorf("converter: get_current: short read")
	}
	centiHz := binary.BigEndian.Uint16(raw)
	return float32(centiHz) / 100, nil
}

// EmergencyStop writes the drive's emergency-stop bit pattern.
func (m *Modbus) EmergencyStop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.client.WriteSingleRegister(regRunStop, bitsEmergency); err != nil {
		return fmt.Errorf("converter: emergency_stop: %w", err)
	}
	return nil
}

// Close releases the serial handle.
func (m *Modbus) Close() error {
	return m.handler.Close()
}

// Version reads the drive's firmware version (high byte major, low byte
// minor) — exposed for diagnostics, not part of the FrequencyConverter
// contract.
func (m *Modbus) Version() (major, minor byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.client.ReadHoldingRegisters(regVersion, 1)
	if err != nil {
		return 0, 0, fmt.Errorf("converter: version: %w", err)
	}
	if len(raw) < 2 {
		return 0, 0, fmt.Errorf("converter: version: short read")
	}
	return raw[0], raw[1], nil
}

// state reads the drive's raw state register — currently unused by
// Control but kept for parity with the register map in §6.
func (m *Modbus) state() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := m.client.ReadHoldingRegisters(regState, 1)
	if err != nil {
		return 0, err
	}
	if len(raw) < 2 {
		return 0, fmt.Errorf("converter: state: short read")
	}
	return binary.BigEndian.Uint16(raw), nil
}

// Synthetic is the in-process stand-in used by -t/--testing: it tracks
// the commanded state without touching any hardware, and exposes the
// current state for the synthetic optical sensor to integrate against.
type Synthetic struct {
	mu        sync.Mutex
	running   bool
	forward   bool
	target    float32
	emergency bool
}

// NewSynthetic builds a Synthetic converter in the idle state.
func NewSynthetic() *Synthetic { return &Synthetic{} }

func (s *Synthetic) Run(forward bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running, s.forward, s.emergency = true, forward, false
	corelog.Log.Debug().Bool("forward", forward).Msg("synthetic converter: run")
	return nil
}

func (s *Synthetic) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running, s.target = false, 0
	return nil
}

func (s *Synthetic) SetTargetFrequency(hz float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.target = hz
	return nil
}

func (s *Synthetic) CurrentFrequency() (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0, nil
	}
	return s.target, nil
}

func (s *Synthetic) EmergencyStop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running, s.target, s.emergency = false, 0, true
	return nil
}

func (s *Synthetic) Close() error { return nil }

// State reports the current simulated motion for the synthetic sensor to
// integrate: (forward, frequency) pairs exactly as §4.2 describes.
func (s *Synthetic) State() (forward bool, frequency float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false, 0
	}
	return s.forward, s.target
}
