package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeEngineScript is a minimal IPC peer: for every line of JSON it reads it
// emits one "result" envelope, enough to exercise Adapter's framing without
// depending on an actual physics engine binary.
const fakeEngineScript = `
while IFS= read -r line; do
  printf '{"type":"result","payload":{"sim_time_seconds":1,"done":false}}\n'
done
`

func TestAdapterStepRoundTrip(t *testing.T) {
	a := New("/bin/sh", "-c", fakeEngineScript)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx, InitPayload{ModelRef: "cartpole", StepHZ: 60, FrameHZ: 30}))
	defer a.Stop(100 * time.Millisecond)

	result, err := a.Step(ctx, []float64{0.1, -0.2})
	require.NoError(t, err)
	require.False(t, result.Done)
	require.Equal(t, 1.0, result.SimTimeSeconds)
}

const fakeRenderEngineScript = `
while IFS= read -r line; do
  case "$line" in
    *\"render\"*) printf '{"type":"result","payload":{"encoding":"jpeg","width":4,"height":4,"bytes":"AAAA"}}\n' ;;
    *\"state\"*)  printf '{"type":"result","payload":{"sim_time_seconds":2.5,"frame_counter":3,"nu":2}}\n' ;;
    *\"set_camera\"*) printf '{"type":"error","payload":{"kind":"NotSupported","message":"mujoco does not support set_camera"}}\n' ;;
    *) printf '{"type":"result","payload":{}}\n' ;;
  esac
done
`

func TestAdapterRenderAndStateAndSetCamera(t *testing.T) {
	a := New("/bin/sh", "-c", fakeRenderEngineScript)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, a.Start(ctx, InitPayload{ModelRef: "cartpole", StepHZ: 60, FrameHZ: 30}))
	defer a.Stop(100 * time.Millisecond)

	render, err := a.Render(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, render.Width)

	state, err := a.State(ctx)
	require.NoError(t, err)
	require.Equal(t, 2.5, state.SimTimeSeconds)
	require.Equal(t, 2, state.NU)

	err = a.SetCamera(ctx, CameraParams{Distance: 1})
	require.Error(t, err)
	require.Equal(t, NotSupported, KindOf(err))
}

func TestEnvelopeRoundTripsJSON(t *testing.T) {
	payload, err := json.Marshal(StepPayload{Action: []float64{1, 2, 3}})
	require.NoError(t, err)

	env := Envelope{Type: TypeStep, Payload: payload}
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, TypeStep, decoded.Type)

	var step StepPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &step))
	require.Equal(t, []float64{1, 2, 3}, step.Action)
}
