package view_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/rsc/internal/view"
	"github.com/itohio/rsc/pkg/command"
	"github.com/itohio/rsc/pkg/message"
	"github.com/itohio/rsc/pkg/supervisor"
)

func oscClient(t *testing.T, addr net.Addr) *osc.Client {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr.String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return osc.NewClient(host, port)
}

func newHostForTest() (*supervisor.Host, message.Channel) {
	workerCh, testCh := message.NewPair(16)
	h := supervisor.NewHostForTest(workerCh)
	go func() {
		for m := range testCh.In {
			if m.Signal == message.Config && m.Request != nil {
				var v interface{}
				if m.Request.Section == "DEFAULT" && m.Request.Option == "max_speed" {
					v = float32(2.0)
				}
				testCh.Out <- message.NewConfigResponse(m.Request.Section, m.Request.Option, v)
			}
		}
	}()
	return h, testCh
}

func TestRunContinuousViaOSC(t *testing.T) {
	w := view.New(view.Config{IP: "127.0.0.1", Port: 0})
	host, _ := newHostForTest()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Setup(ctx, host))
	defer w.Stop(ctx)

	client := oscClient(t, w.Addr())
	send := func(m *osc.Message) {
		require.NoError(t, client.Send(m))
	}

	dirMsg := osc.NewMessage("/direction")
	dirMsg.Append("clockwise")
	send(dirMsg)

	speedMsg := osc.NewMessage("/speed")
	speedMsg.Append(float32(1.0))
	send(speedMsg)

	send(osc.NewMessage("/run/continuous"))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Loop(ctx))

	select {
	case cmd := <-w.Commands():
		assert.Equal(t, command.RunContinuous, cmd.Action)
		assert.Equal(t, float32(1.0), cmd.Speed)
	case <-time.After(time.Second):
		t.Fatal("no command emitted")
	}
}

func TestMalformedAngleIsDropped(t *testing.T) {
	w := view.New(view.Config{IP: "127.0.0.1", Port: 0})
	host, _ := newHostForTest()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Setup(ctx, host))
	defer w.Stop(ctx)

	client := oscClient(t, w.Addr())
	dirMsg := osc.NewMessage("/direction")
	dirMsg.Append("clockwise")
	require.NoError(t, client.Send(dirMsg))
	speedMsg := osc.NewMessage("/speed")
	speedMsg.Append(float32(1.0))
	require.NoError(t, client.Send(speedMsg))
	angleMsg := osc.NewMessage("/angle")
	angleMsg.Append(float32(500))
	require.NoError(t, client.Send(angleMsg))
	require.NoError(t, client.Send(osc.NewMessage("/run/to_angle")))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Loop(ctx))

	// The out-of-range angle never reached the input state, so the
	// to_angle command still carries the initial angle of 0°.
	select {
	case cmd := <-w.Commands():
		assert.Equal(t, command.RunToAngle, cmd.Action)
		require.NotNil(t, cmd.Angle)
		assert.Equal(t, float32(0), *cmd.Angle)
	case <-time.After(time.Second):
		t.Fatal("no command emitted")
	}
}
