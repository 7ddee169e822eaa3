// Package simagent implements the Simulation Agent (spec §4.3): the
// single producer of Frames for a Session, consumer of ControlCommands, and
// the process that owns the bound EngineInstance's lifecycle. The producer
// loop and command-dispatch pattern follow the teacher's
// services/session_reconciler.go createAndDispatchCommand flow, generalized
// from agent-command persistence to live frame production.
package simagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cosimio/cosim/internal/cache"
	"github.com/cosimio/cosim/internal/engine"
	"github.com/cosimio/cosim/internal/events"
	"github.com/cosimio/cosim/internal/logger"
	"github.com/cosimio/cosim/internal/models"
	"github.com/cosimio/cosim/internal/sandbox"
)

// FrameSink receives produced frames for relay to the Media Signaling
// Plane's Room broadcaster.
type FrameSink interface {
	PublishFrame(f models.Frame) error
}

// ErrAlreadyExistsDifferent is returned by CreateSimulation when a session
// already has a running simulation with different parameters, spec §4.3/§7
// "AlreadyExistsDifferent".
var ErrAlreadyExistsDifferent = errors.New("simagent: simulation already exists with different parameters")

// CreateParams are the parameters CreateSimulation idempotency-checks
// against, spec §4.3 "CreateSimulation(session_id, engine, model_ref, dims,
// fps, headless)".
type CreateParams struct {
	Engine   models.EngineKind
	ModelRef string
	Width    int
	Height   int
	FPS      float64
	Headless bool
}

// Agent drives one Session's engine subprocess, dispatching incoming
// ControlCommands and producing Frames at FrameHZ.
type Agent struct {
	sessionID  string
	generation int

	adapter    *engine.Adapter
	sink       FrameSink
	cache      *cache.Client
	commandTTL time.Duration

	sandboxLauncher  string
	sandboxGrace     time.Duration
	sandboxStdoutCap int64

	mu           sync.Mutex
	created      bool
	createParms  CreateParams
	playing      bool
	lastAction   []float64
	faulted      bool
	faultReason  string
	pendingReset bool
	counter      uint64

	subMu       sync.Mutex
	subscribers map[string]chan models.Frame
}

// New constructs an Agent bound to a Session's current generation.
func New(sessionID string, generation int, adapter *engine.Adapter, sink FrameSink, cacheClient *cache.Client) *Agent {
	return &Agent{
		sessionID:   sessionID,
		generation:  generation,
		adapter:     adapter,
		sink:        sink,
		cache:       cacheClient,
		commandTTL:  5 * time.Minute,
		subscribers: make(map[string]chan models.Frame),
	}
}

// ConfigureSandbox wires the User-Code Sandbox launcher and its grace/output
// bounds (spec §6 SANDBOX_GRACE_MS/SANDBOX_STDOUT_CAP_BYTES), enabling
// CommandExecute dispatch.
func (a *Agent) ConfigureSandbox(launcherBinary string, grace time.Duration, stdoutCap int64) {
	a.sandboxLauncher = launcherBinary
	a.sandboxGrace = grace
	a.sandboxStdoutCap = stdoutCap
}

// CreateSimulation starts the bound engine subprocess on its first call for
// this Agent's session; further calls with identical params are a no-op
// returning the existing instance, and calls with different params fail with
// ErrAlreadyExistsDifferent (spec §4.3, §8 idempotence law).
func (a *Agent) CreateSimulation(ctx context.Context, params CreateParams) (*models.EngineInstance, error) {
	a.mu.Lock()
	if a.created {
		existing := a.createParms
		a.mu.Unlock()
		if existing != params {
			return nil, ErrAlreadyExistsDifferent
		}
		return a.instanceLocked(), nil
	}
	a.createParms = params
	a.created = true
	a.mu.Unlock()

	err := a.adapter.Start(ctx, engine.InitPayload{ModelRef: params.ModelRef, StepHZ: 60, FrameHZ: params.FPS})
	if err != nil {
		a.mu.Lock()
		a.created = false
		a.mu.Unlock()
		return nil, fmt.Errorf("start engine subprocess: %w", err)
	}
	return a.instanceLocked(), nil
}

func (a *Agent) instanceLocked() *models.EngineInstance {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &models.EngineInstance{
		ID:         a.sessionID,
		SessionID:  a.sessionID,
		Kind:       a.createParms.Engine,
		ModelRef:   a.createParms.ModelRef,
		StartedAt:  time.Now(),
		StepHZ:     60,
		FrameHZ:    a.createParms.FPS,
		Generation: a.generation,
	}
}

// GetState returns the engine's current observable state, spec §4.3
// "GetState(session_id) -> State".
func (a *Agent) GetState(ctx context.Context) (*engine.StatePayload, error) {
	return a.adapter.State(ctx)
}

// Subscribe registers a new frame subscriber sharing this Agent's single
// producer loop (spec §4.3 "Multiple subscribers share one producer loop;
// cancelling one does not affect others"). The returned cancel func
// unregisters and closes the channel; it must be called exactly once.
func (a *Agent) Subscribe() (<-chan models.Frame, func()) {
	id := uuid.NewString()
	ch := make(chan models.Frame, 8)

	a.subMu.Lock()
	a.subscribers[id] = ch
	a.subMu.Unlock()

	cancel := func() {
		a.subMu.Lock()
		if existing, ok := a.subscribers[id]; ok {
			delete(a.subscribers, id)
			close(existing)
		}
		a.subMu.Unlock()
	}
	return ch, cancel
}

// HandleCommand applies a ControlCommand, deduplicating redelivered commands
// by IdempotencyKey (spec §4.3/§8 idempotence laws) before stepping the
// engine.
func (a *Agent) HandleCommand(ctx context.Context, cmd *models.ControlCommand) (*models.CommandAck, error) {
	if cmd.Generation != a.generation {
		return &models.CommandAck{
			SessionID: a.sessionID, IdempotencyKey: cmd.IdempotencyKey,
			Accepted: false, Reason: "stale generation", AckedAt: time.Now(),
		}, nil
	}

	claimed, err := a.cache.ClaimIdempotencyKey(ctx, a.sessionID, cmd.IdempotencyKey, a.commandTTL)
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if !claimed {
		logger.Agent().Debug().Str("session_id", a.sessionID).Str("key", cmd.IdempotencyKey).Msg("duplicate command suppressed")
		return &models.CommandAck{
			SessionID: a.sessionID, IdempotencyKey: cmd.IdempotencyKey,
			Accepted: true, Reason: "duplicate", AckedAt: time.Now(),
		}, nil
	}

	switch cmd.Type {
	case models.CommandSetAction:
		var payload models.SetActionPayload
		if err := decodePayload(cmd.Payload, &payload); err != nil {
			return nil, err
		}
		result, err := a.adapter.Step(ctx, payload.Action)
		if err != nil {
			return a.ackEngineError(cmd, err), nil
		}
		a.mu.Lock()
		a.lastAction = payload.Action
		a.mu.Unlock()
		return a.ackWithState(cmd, result), nil

	case models.CommandReset:
		result, err := a.adapter.Reset(ctx)
		if err != nil {
			return a.ackEngineError(cmd, err), nil
		}
		// spec §3/§8 "no lost reset": frame_counter restarts at 0 and the next
		// published frame carries a reset marker for subscribers.
		a.mu.Lock()
		a.counter = 0
		a.pendingReset = true
		a.mu.Unlock()
		return a.ackWithState(cmd, result), nil

	case models.CommandPlay, models.CommandResume:
		a.mu.Lock()
		a.playing = true
		a.mu.Unlock()

	case models.CommandPause:
		a.mu.Lock()
		a.playing = false
		a.mu.Unlock()

	case models.CommandTerminate:
		// handled by the Orchestrator's state machine; the Agent only acks.

	case models.CommandSetCamera:
		var payload models.SetCameraPayload
		if err := decodePayload(cmd.Payload, &payload); err != nil {
			return nil, err
		}
		params := engine.CameraParams{
			Distance: payload.Distance, Yaw: payload.Yaw, Pitch: payload.Pitch,
			TargetX: payload.TargetX, TargetY: payload.TargetY, TargetZ: payload.TargetZ,
		}
		if err := a.adapter.SetCamera(ctx, params); err != nil {
			return a.ackEngineError(cmd, err), nil
		}

	case models.CommandExecute:
		var payload models.ExecutePayload
		if err := decodePayload(cmd.Payload, &payload); err != nil {
			return nil, err
		}
		result, err := a.execute(ctx, payload)
		if err != nil {
			return nil, err
		}
		return &models.CommandAck{
			SessionID: a.sessionID, IdempotencyKey: cmd.IdempotencyKey,
			Accepted: result.ErrorKind == "", SandboxResult: result, AckedAt: time.Now(),
		}, nil

	default:
		return &models.CommandAck{
			SessionID: a.sessionID, IdempotencyKey: cmd.IdempotencyKey,
			Accepted: false, Reason: "unknown command type", AckedAt: time.Now(),
		}, nil
	}

	return &models.CommandAck{
		SessionID: a.sessionID, IdempotencyKey: cmd.IdempotencyKey,
		Accepted: true, AckedAt: time.Now(),
	}, nil
}

func (a *Agent) ackWithState(cmd *models.ControlCommand, state *models.StepResult) *models.CommandAck {
	return &models.CommandAck{
		SessionID: a.sessionID, IdempotencyKey: cmd.IdempotencyKey,
		Accepted: true, State: state, AckedAt: time.Now(),
	}
}

func (a *Agent) ackEngineError(cmd *models.ControlCommand, err error) *models.CommandAck {
	return &models.CommandAck{
		SessionID: a.sessionID, IdempotencyKey: cmd.IdempotencyKey,
		Accepted: false, Reason: string(engine.KindOf(err)), AckedAt: time.Now(),
	}
}

// execute runs a CommandExecute payload through the User-Code Sandbox
// (spec §4.3 "Execute routes into the Sandbox with the Agent's sim handle
// bound").
func (a *Agent) execute(ctx context.Context, payload models.ExecutePayload) (*sandbox.Result, error) {
	timeout := time.Duration(payload.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runner, err := sandbox.NewForLanguage(payload.Language, a.sandboxLauncher, sandbox.Limits{
		Timeout:       timeout,
		Grace:         a.sandboxGrace,
		StdoutCap:     a.sandboxStdoutCap,
		MemLimitBytes: payload.MemLimitBytes,
	})
	if err != nil {
		var fault *sandbox.Fault
		if errors.As(err, &fault) {
			return &sandbox.Result{ErrorKind: fault.Kind, Stderr: []byte(fault.Message)}, nil
		}
		return nil, err
	}
	return runner.Run(ctx, []byte(payload.Code))
}

// ProduceFrames runs the single-producer frame loop at the given frame rate
// until ctx is cancelled, publishing each tick's rendered frame in strict
// (generation, counter) order (spec §8 ordering invariant). When Play is
// active it steps the engine with the last-set action before rendering;
// otherwise it renders the current state without advancing physics (spec
// §4.3 producer loop).
func (a *Agent) ProduceFrames(ctx context.Context, frameInterval time.Duration) error {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.mu.Lock()
			playing := a.playing
			action := a.lastAction
			a.mu.Unlock()

			if playing {
				if _, err := a.adapter.Step(ctx, action); err != nil {
					a.markFaulted(err)
					return fmt.Errorf("producer loop step: %w", err)
				}
			}

			rendered, err := a.adapter.Render(ctx)
			if err != nil {
				logger.Agent().Error().Err(err).Str("session_id", a.sessionID).Msg("produce frame: render failed")
				continue
			}

			a.mu.Lock()
			counter := a.counter
			a.counter++
			resetMarker := a.pendingReset
			a.pendingReset = false
			a.mu.Unlock()

			frame := models.Frame{
				SessionID:   a.sessionID,
				Generation:  a.generation,
				Counter:     counter,
				CapturedAt:  time.Now(),
				Encoding:    models.EncodingJPEG,
				Width:       rendered.Width,
				Height:      rendered.Height,
				Payload:     rendered.Bytes,
				ResetMarker: resetMarker,
			}
			if err := a.sink.PublishFrame(frame); err != nil {
				logger.Agent().Error().Err(err).Str("session_id", a.sessionID).Msg("publish frame")
			}
			a.fanOut(frame)
		}
	}
}

func (a *Agent) fanOut(frame models.Frame) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	for _, ch := range a.subscribers {
		select {
		case ch <- frame:
		default:
			logger.Agent().Warn().Str("session_id", a.sessionID).Msg("slow frame subscriber dropped")
		}
	}
}

// markFaulted marks the instance faulted and drains subscribers with a
// close-based terminator, spec §4.3 "On internal fault the Agent marks the
// instance faulted, drains subscribers with a faulted terminator, and
// exits."
func (a *Agent) markFaulted(cause error) {
	a.mu.Lock()
	a.faulted = true
	a.faultReason = cause.Error()
	a.mu.Unlock()

	a.subMu.Lock()
	for id, ch := range a.subscribers {
		close(ch)
		delete(a.subscribers, id)
	}
	a.subMu.Unlock()

	logger.Agent().Error().Err(cause).Str("session_id", a.sessionID).Msg("simulation agent instance faulted")
}

// Faulted reports whether the engine instance has been marked faulted.
func (a *Agent) Faulted() (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.faulted, a.faultReason
}

// Heartbeat writes the pod's heartbeat key to the cache with ttl and
// publishes a liveness ping onto the agent-heartbeat subject.
func (a *Agent) Heartbeat(ctx context.Context, podID string, publisher *events.Publisher, ttl time.Duration) error {
	if err := a.cache.Heartbeat(ctx, podID, ttl); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return publisher.Publish(events.SubjectAgentHeartbeat, map[string]string{
		"session_id": a.sessionID,
		"pod_id":     podID,
	})
}

func decodePayload(raw []byte, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty command payload")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode command payload: %w", err)
	}
	return nil
}
