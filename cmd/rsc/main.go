// Command rsc drives the rotating stage: it wires the sensor, view and
// control workers onto a supervisor, relays their debug telemetry to a
// plot goroutine when -d is set, and runs until SIGINT/SIGTERM. Grounded on cmd/manipulator/main.go's
// flag-based CLI, signal.NotifyContext shutdown pattern, and its
// sequential component-wiring style — generalized here from a one-shot
// interactive client into a long-running supervised worker host.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/rsc/internal/config"
	"github.com/itohio/rsc/internal/control"
	"github.com/itohio/rsc/internal/converter"
	"github.com/itohio/rsc/internal/sensor"
	"github.com/itohio/rsc/internal/telemetry"
	"github.com/itohio/rsc/internal/view"
	"github.com/itohio/rsc/pkg/corelog"
	"github.com/itohio/rsc/pkg/message"
	"github.com/itohio/rsc/pkg/supervisor"
)

// configPath is the fixed location of the INI configuration file (§6);
// the CLI surface is exhaustively -d/-t, so the path is not a flag.
const configPath = "rsc.ini"

func main() {
	debug := flag.Bool("debug", false, "enable debug telemetry and live polar plot")
	flag.BoolVar(debug, "d", false, "shorthand for -debug")
	testing := flag.Bool("testing", false, "replace the optical sensor and Modbus converter with in-process simulators")
	flag.BoolVar(testing, "t", false, "shorthand for -testing")
	flag.Parse()

	corelog.SetLevel(*debug)

	store, err := config.Load(configPath)
	if err != nil {
		corelog.Log.Warn().Err(err).Str("path", configPath).Msg("no config file, using built-in defaults")
		store = config.Empty()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var telemetryCh chan interface{}
	var sink telemetry.Sink = telemetry.Noop{}
	if *debug {
		telemetryCh = make(chan interface{}, 4)
		plot, err := telemetry.NewPolarPlot(ctx)
		if err != nil {
			corelog.Log.Error().Err(err).Msg("failed to start telemetry plot, continuing without it")
		} else {
			sink = plot
		}
		go relayTelemetry(ctx, telemetryCh, sink)
	}

	sup := supervisor.New(store, telemetryCh)

	conv, err := buildConverter(*testing, store)
	if err != nil {
		corelog.Log.Error().Err(err).Msg("failed to build frequency converter")
		os.Exit(int(supervisor.ExitInitError))
	}

	var sensorW *sensor.Worker
	var viewW *view.Worker

	sup.Register(supervisor.Spec{
		Name: "sensor",
		New: func() supervisor.Worker {
			var drive sensor.ControlDrive
			if synth, ok := conv.(sensor.ControlDrive); ok {
				drive = synth
			}
			sensorW = sensor.New(sensor.Config{Testing: *testing}, drive)
			return sensorW
		},
	})

	sup.Register(supervisor.Spec{
		Name: "view",
		New: func() supervisor.Worker {
			viewW = view.New(view.Config{})
			return viewW
		},
	})

	sup.Register(supervisor.Spec{
		Name:      "control",
		DependsOn: []string{"sensor", "view"},
		New: func() supervisor.Worker {
			return control.New(control.Config{Debug: *debug}, conv, sensorW.Readings(), viewW.Commands())
		},
	})

	if err := sup.StartAll(ctx); err != nil {
		corelog.Log.Error().Err(err).Msg("failed to start workers")
		os.Exit(int(supervisor.ExitInitError))
	}

	corelog.Log.Info().Bool("debug", *debug).Bool("testing", *testing).Msg("rsc running")
	sup.Run(ctx)

	if err := conv.Close(); err != nil {
		corelog.Log.Warn().Err(err).Msg("converter close failed")
	}
	if err := sink.Close(); err != nil {
		corelog.Log.Warn().Err(err).Msg("telemetry sink close failed")
	}
	corelog.Log.Info().Msg("rsc stopped")
}

// buildConverter selects the real Modbus RTU drive or the in-process
// simulator per -t/--testing (§6). The Modbus connection parameters come
// straight from the config store rather than Config-RPC, since the
// converter is built before the control worker (and its Host) exist.
func buildConverter(testing bool, store *config.Store) (converter.FrequencyConverter, error) {
	if testing {
		return converter.NewSynthetic(), nil
	}
	cfg := converter.ModbusConfig{Port: "/dev/serial0", Timeout: time.Second}
	if v, ok := store.Lookup("motor", "port", message.TypeString); ok {
		cfg.Port = v.(string)
	}
	if v, ok := store.Lookup("motor", "address", message.TypeInt); ok {
		cfg.SlaveID = byte(v.(int))
	}
	conv, err := converter.NewModbus(cfg)
	if err != nil {
		return nil, fmt.Errorf("rsc: %w", err)
	}
	return conv, nil
}

// relayTelemetry forwards the supervisor's generic Data channel to the
// debug sink, converting each payload to control.Telemetry and dropping
// anything else (§6's telemetry tuples are Control's alone).
func relayTelemetry(ctx context.Context, ch <-chan interface{}, sink telemetry.Sink) {
	for {
		select {
		case v, ok := <-ch:
			if !ok {
				return
			}
			if t, ok := v.(control.Telemetry); ok {
				sink.Push(t)
			}
		case <-ctx.Done():
			return
		}
	}
}
