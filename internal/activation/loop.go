// Package activation implements the kernel's ActivationLoop: the
// six-step state machine that drives a single Activation end-to-end
// through the EventLog, PolicyGate, ToolDispatcher, and ProviderAdapter,
// grounded on the teacher's agent.AgenticLoop.Run state machine.
package activation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentkernel/kernel/internal/eventlog"
	"github.com/agentkernel/kernel/internal/observability"
	"github.com/agentkernel/kernel/internal/policygate"
	"github.com/agentkernel/kernel/internal/provider"
	"github.com/agentkernel/kernel/internal/sessionstore"
	"github.com/agentkernel/kernel/internal/tooldispatch"
	"github.com/agentkernel/kernel/pkg/models"
)

// builtinTools is the fixed advertisable tool set from spec §4.3, listed
// here purely for step 2's PolicyGate pre-filter; ToolDispatcher re-gates
// every individual call regardless of what was advertised.
var builtinTools = []string{
	"vfs_read", "vfs_write", "vfs_list", "vfs_delete",
	"spawn_agent", "signal_parent", "web_search", "web_fetch",
}

// ProviderResolver picks the ProviderAdapter backend for a model name, so
// the Loop never hard-codes which of OpenAI/Anthropic/Bedrock an
// AgentProfile names.
type ProviderResolver func(model string) (provider.Provider, error)

// Spawner is notified when step 5's reflection synthesizes a follow-up
// Activation; normally backed by the Scheduler's enqueue.
type Spawner interface {
	Enqueue(ctx context.Context, act models.Activation) error
}

// PauseWaiter blocks while the kernel is paused, returning once resumed,
// killed, or ctx is cancelled; normally backed by the Scheduler itself.
type PauseWaiter interface {
	Wait(ctx context.Context) error
}

// TokenCounter receives each turn's token delta as it completes, letting
// a Scheduler's budget check stay current without re-reading every
// Session; normally backed by the Scheduler itself.
type TokenCounter interface {
	Add(delta int)
}

// Config tunes the loop's guard conditions, mirroring the teacher's
// LoopConfig/DefaultLoopConfig/sanitizeLoopConfig pattern.
type Config struct {
	// MinTurnsBeforeStop is step 6's guard: below this many turns, a
	// trivial assistant reply triggers an automatic continuation turn.
	MinTurnsBeforeStop int

	// StreamChunkThrottle batches consecutive text chunks into the
	// EventLog no more often than this interval.
	StreamChunkThrottle time.Duration
}

// DefaultConfig returns the loop's default guard settings.
func DefaultConfig() Config {
	return Config{MinTurnsBeforeStop: 1, StreamChunkThrottle: 50 * time.Millisecond}
}

func sanitizeConfig(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.MinTurnsBeforeStop <= 0 {
		cfg.MinTurnsBeforeStop = defaults.MinTurnsBeforeStop
	}
	if cfg.StreamChunkThrottle <= 0 {
		cfg.StreamChunkThrottle = defaults.StreamChunkThrottle
	}
	return cfg
}

// Loop drives one Activation through the six-step algorithm from spec
// §4.5, re-entering step 3 for each provider turn until the model stops
// emitting tool calls or an error/abort terminates the run.
type Loop struct {
	events     *eventlog.Log
	sessions   *sessionstore.Store
	dispatcher *tooldispatch.Dispatcher
	resolve    ProviderResolver
	spawner    Spawner
	config     Config
	log        *slog.Logger

	pauseGate PauseWaiter
	tokens    TokenCounter

	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// SetPauseGate wires a Scheduler's pause/resume suspension into the
// loop. Optional: a nil gate never suspends.
func (l *Loop) SetPauseGate(gate PauseWaiter) { l.pauseGate = gate }

// SetTokenCounter wires a Scheduler's budget accounting into the loop.
// Optional: a nil counter simply isn't notified.
func (l *Loop) SetTokenCounter(counter TokenCounter) { l.tokens = counter }

// SetObservability wires the kernel's shared Metrics/Tracer into the loop,
// so every activation turn and tool call is counted and spanned. Optional:
// a nil metrics/tracer simply isn't recorded against.
func (l *Loop) SetObservability(metrics *observability.Metrics, tracer *observability.Tracer) {
	l.metrics = metrics
	l.tracer = tracer
}

// New builds a Loop. spawner may be nil for a standalone loop run outside
// a Scheduler (e.g. tests), in which case step 5's autonomous reflection
// is skipped with a logged warning instead of silently dropping work.
func New(events *eventlog.Log, sessions *sessionstore.Store, dispatcher *tooldispatch.Dispatcher, resolve ProviderResolver, spawner Spawner, config Config, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		events:     events,
		sessions:   sessions,
		dispatcher: dispatcher,
		resolve:    resolve,
		spawner:    spawner,
		config:     sanitizeConfig(config),
		log:        log.With("component", "activation_loop"),
	}
}

// turnState accumulates one Run's working set across provider turns.
type turnState struct {
	messages      []models.Message
	streamingText string
	tokenCount    int
	turns         int
	modelState    json.RawMessage
	providerName  string
}

// Run drives profile's Activation act end-to-end, returning once the
// Session reaches completed/error/aborted. It wraps runTurns with a
// per-activation span and the activation counters/duration histogram;
// runTurns itself has multiple return points, so closing out
// observability once here (rather than at each return) can't be missed.
func (l *Loop) Run(ctx context.Context, act models.Activation, profile *models.AgentProfile) error {
	start := time.Now()
	if l.metrics != nil {
		l.metrics.ActivationStarted(act.AgentID)
	}

	var span trace.Span
	if l.tracer != nil {
		ctx, span = l.tracer.TraceActivation(ctx, act.AgentID, act.ActivationID)
	}

	err := l.runTurns(ctx, act, profile)

	if span != nil {
		if err != nil {
			l.tracer.RecordError(span, err)
		}
		span.End()
	}
	if l.metrics != nil {
		outcome := string(models.SessionError)
		if s, ok := l.sessions.Get(act.ActivationID); ok {
			outcome = string(s.Status)
		}
		l.metrics.ActivationFinished(act.AgentID, outcome, time.Since(start).Seconds())
	}
	return err
}

// runTurns is Run's state machine: steps 1-6 of the ActivationLoop,
// looping back to step 3 after each tool-call batch.
func (l *Loop) runTurns(ctx context.Context, act models.Activation, profile *models.AgentProfile) error {
	// Step 1: append `activation` event, set session running.
	if _, err := l.events.Append(ctx, models.EventEntry{
		ActivationID: act.ActivationID,
		AgentID:      act.AgentID,
		Type:         models.EventActivation,
		Data: models.EventData{Activation: &models.ActivationData{
			Input: act.Input, Priority: act.Priority, Depth: act.SpawnDepth,
		}},
	}); err != nil {
		return fmt.Errorf("append activation event: %w", err)
	}

	session := models.Session{
		ActivationID: act.ActivationID,
		AgentID:      act.AgentID,
		Status:       models.SessionRunning,
		Messages:     []models.Message{{Role: models.RoleUser, Content: act.Input, CreatedAt: time.Now()}},
		StartedAt:    time.Now(),
	}
	if err := l.sessions.Create(session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	llm, err := l.resolve(profile.Model)
	if err != nil {
		return l.terminateWithError(ctx, act, fmt.Sprintf("resolve provider for model %q: %v", profile.Model, err))
	}

	state := &turnState{messages: session.Messages, providerName: llm.Name()}

	for {
		// Suspend here, at the boundary between provider turns, if the
		// kernel is paused; a pause never interrupts a turn in flight.
		if l.pauseGate != nil {
			if err := l.pauseGate.Wait(ctx); err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return l.terminateAborted(ctx, act)
				}
				return l.terminateWithError(ctx, act, fmt.Sprintf("aborted while paused: %v", err))
			}
		}

		// Step 2: effective tool list, filtered through the PolicyGate.
		tools := l.effectiveTools(profile)

		// Step 3: stream one provider turn.
		toolCalls, stop, err := l.streamTurn(ctx, act, llm, profile, state, tools)
		if err != nil {
			return l.terminateWithError(ctx, act, err.Error())
		}
		if stop {
			return nil // terminal event already appended by streamTurn
		}
		state.turns++

		// Step 4: continue-vs-complete.
		if len(toolCalls) == 0 {
			if err := l.complete(ctx, act, state); err != nil {
				return err
			}
			// Step 5: autonomous reflection.
			l.maybeReflect(ctx, act, profile, state)
			// Step 6: stop-policy guard.
			if l.shouldForceContinuation(state) {
				state.messages = append(state.messages, models.Message{
					Role: models.RoleUser, Content: "Continue.", CreatedAt: time.Now(),
				})
				if _, err := l.sessions.Update(act.ActivationID, func(s *models.Session) {
					s.Status = models.SessionRunning
					s.Messages = state.messages
				}); err != nil {
					return fmt.Errorf("reopen session for stop-policy guard: %w", err)
				}
				continue
			}
			return nil
		}

		// Execute each tool call through the ToolDispatcher, append a
		// `tool` message with the result, and loop back to step 3.
		for _, call := range toolCalls {
			toolCtx := ctx
			var toolSpan trace.Span
			if l.tracer != nil {
				toolCtx, toolSpan = l.tracer.TraceToolExecution(ctx, call.Name)
			}
			toolStart := time.Now()

			result, decision := l.dispatcher.Dispatch(toolCtx, tooldispatch.DispatchInput{
				ActivationID:       act.ActivationID,
				AgentID:            act.AgentID,
				ParentActivationID: act.ParentActivationID,
				Profile:            profile,
				CallID:             call.ID,
				ToolName:           call.Name,
				Args:               call.Input,
			})
			l.recordToolCall(ctx, act, call, result, decision)

			if l.metrics != nil {
				status := "success"
				switch {
				case !decision.Allowed:
					status = "denied"
					l.metrics.RecordPolicyDenial(call.Name)
				case result.IsError:
					status = "error"
				}
				l.metrics.RecordToolExecution(call.Name, status, time.Since(toolStart).Seconds())
				if result.Spawn != nil {
					l.metrics.RecordSpawn(result.Spawn.ChildAgentID)
				}
			}
			if toolSpan != nil {
				if result.IsError {
					toolSpan.RecordError(fmt.Errorf("%s", result.Content))
				}
				toolSpan.End()
			}

			state.messages = append(state.messages, models.Message{
				Role:        models.RoleTool,
				CreatedAt:   time.Now(),
				ToolResults: []models.ToolResult{{ToolCallID: call.ID, Content: result.Content, IsError: result.IsError}},
			})
		}

		if _, err := l.sessions.Update(act.ActivationID, func(s *models.Session) {
			s.Messages = state.messages
		}); err != nil {
			return fmt.Errorf("persist tool results: %w", err)
		}
	}
}

// effectiveTools filters the fixed built-in set via the PolicyGate (rule
// order 1/2/4/5 — rule 3's path scoping is skipped here since no concrete
// path exists until a call is made) and appends declared custom tools
// that pass EvaluateCustomTool.
func (l *Loop) effectiveTools(profile *models.AgentProfile) []provider.Tool {
	var out []provider.Tool
	for _, name := range builtinTools {
		decision := policygate.Evaluate(profile.Policy, policygate.Input{Tool: name})
		if decision.Allowed {
			schema := tooldispatch.SchemaForTool(name)
			if schema == nil {
				schema = json.RawMessage(`{}`)
			}
			out = append(out, provider.Tool{Name: name, Schema: schema})
		}
	}
	for _, ct := range profile.CustomTools {
		decision := policygate.EvaluateCustomTool(profile.Policy, ct.Name, "")
		if decision.Allowed {
			out = append(out, provider.Tool{Name: ct.Name, Description: ct.Description, Schema: json.RawMessage(`{}`)})
		}
	}
	return out
}

// streamTurn runs step 3: one provider.Chat call, consuming chunks until
// `done`/`error`. stop is true once a terminal event has been appended and
// Run should return without looping further.
func (l *Loop) streamTurn(ctx context.Context, act models.Activation, llm provider.Provider, profile *models.AgentProfile, state *turnState, tools []provider.Tool) (toolCalls []models.ToolCall, stop bool, err error) {
	turnStart := time.Now()
	status := "success"
	var providerSpan trace.Span
	if l.tracer != nil {
		ctx, providerSpan = l.tracer.TraceLLMRequest(ctx, llm.Name(), profile.Model)
	}
	defer func() {
		if l.metrics != nil {
			l.metrics.RecordProviderRequest(llm.Name(), profile.Model, status, time.Since(turnStart).Seconds(), 0, state.tokenCount)
		}
		if providerSpan != nil {
			if err != nil {
				l.tracer.RecordError(providerSpan, err)
			}
			providerSpan.End()
		}
	}()

	resp, err := llm.Chat(ctx, act.ActivationID, provider.ChatRequest{
		Model:          profile.Model,
		System:         profile.SystemPrompt,
		History:        state.messages,
		Tools:          tools,
		ModelSideState: state.modelState,
	})
	if err != nil {
		status = "error"
		return nil, false, fmt.Errorf("provider chat: %w", err)
	}

	var lastFlush time.Time
	var pendingDelta string
	for chunk := range resp.Chunks {
		switch chunk.Type {
		case provider.ChunkText:
			state.streamingText += chunk.Text
			pendingDelta += chunk.Text
			if time.Since(lastFlush) >= l.config.StreamChunkThrottle {
				l.emitStreamChunk(ctx, act, pendingDelta)
				pendingDelta = ""
				lastFlush = time.Now()
			}

		case provider.ChunkToolCall:
			if state.streamingText != "" {
				state.messages = append(state.messages, models.Message{
					Role: models.RoleAssistant, Content: state.streamingText, CreatedAt: time.Now(),
				})
				state.streamingText = ""
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}

		case provider.ChunkDone:
			if state.streamingText != "" {
				state.messages = append(state.messages, models.Message{
					Role: models.RoleAssistant, Content: state.streamingText, CreatedAt: time.Now(),
				})
				state.streamingText = ""
			}
			state.tokenCount += chunk.TokenCount
			if l.tokens != nil {
				l.tokens.Add(chunk.TokenCount)
			}
			if resp.ModelSideState != nil {
				state.modelState = resp.ModelSideState()
			}
			if _, updErr := l.sessions.Update(act.ActivationID, func(s *models.Session) {
				s.Messages = state.messages
				s.TokenCount = state.tokenCount
				s.ProviderName = state.providerName
				s.ModelSideState = state.modelState
			}); updErr != nil {
				status = "error"
				return nil, false, fmt.Errorf("persist token update: %w", updErr)
			}
			if _, appendErr := l.events.Append(ctx, models.EventEntry{
				ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventTokenUpdate,
				Data: models.EventData{TokenUpdate: &models.TokenUpdateData{Delta: chunk.TokenCount, Total: state.tokenCount}},
			}); appendErr != nil {
				status = "error"
				return nil, false, fmt.Errorf("append token_update event: %w", appendErr)
			}

		case provider.ChunkError:
			if errors.Is(chunk.Err, context.Canceled) || ctx.Err() != nil {
				status = "aborted"
				return nil, true, l.terminateAborted(ctx, act)
			}
			status = "error"
			return nil, true, l.terminateWithError(ctx, act, chunk.Err.Error())
		}
	}
	return toolCalls, false, nil
}

func (l *Loop) emitStreamChunk(ctx context.Context, act models.Activation, delta string) {
	if _, err := l.events.Append(ctx, models.EventEntry{
		ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventStreamChunk,
		Data: models.EventData{StreamChunk: &models.StreamChunkData{Delta: delta}},
	}); err != nil {
		l.log.Warn("append stream_chunk event failed", "error", err, "activation_id", act.ActivationID)
	}
}

func (l *Loop) recordToolCall(ctx context.Context, act models.Activation, call models.ToolCall, result tooldispatch.Result, decision policygate.Decision) {
	if _, err := l.events.Append(ctx, models.EventEntry{
		ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventToolCall,
		Data: models.EventData{ToolCall: &models.ToolCallData{CallID: call.ID, Name: call.Name, Args: string(call.Input)}},
	}); err != nil {
		l.log.Warn("append tool_call event failed", "error", err)
	}
	if !decision.Allowed {
		if _, err := l.events.Append(ctx, models.EventEntry{
			ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventPolicyDenied,
			Severity: models.SeverityWarning,
			Data:     models.EventData{PolicyDenied: &models.PolicyDeniedData{ToolName: call.Name, Reason: decision.Reason, Escalated: decision.Escalated}},
		}); err != nil {
			l.log.Warn("append policy_denied event failed", "error", err)
		}
	}
	if _, err := l.events.Append(ctx, models.EventEntry{
		ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventToolResult,
		Data: models.EventData{ToolResult: &models.ToolResultData{CallID: call.ID, Content: result.Content, IsError: result.IsError}},
	}); err != nil {
		l.log.Warn("append tool_result event failed", "error", err)
	}
	if result.Spawn != nil {
		if _, err := l.events.Append(ctx, models.EventEntry{
			ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventSpawn,
			Data: models.EventData{Spawn: result.Spawn},
		}); err != nil {
			l.log.Warn("append spawn event failed", "error", err)
		}
	}
	if result.Signal != nil {
		if _, err := l.events.Append(ctx, models.EventEntry{
			ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventSignal,
			Data: models.EventData{Signal: result.Signal},
		}); err != nil {
			l.log.Warn("append signal event failed", "error", err)
		}
	}
}

func (l *Loop) complete(ctx context.Context, act models.Activation, state *turnState) error {
	now := time.Now()
	if _, err := l.sessions.Update(act.ActivationID, func(s *models.Session) {
		s.Status = models.SessionCompleted
		s.CompletedAt = &now
	}); err != nil {
		return fmt.Errorf("mark session completed: %w", err)
	}
	if _, err := l.events.Append(ctx, models.EventEntry{
		ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventComplete,
		Data: models.EventData{Complete: &models.CompleteData{Reason: fmt.Sprintf("%d turns, %d tokens", state.turns, state.tokenCount)}},
	}); err != nil {
		return fmt.Errorf("append complete event: %w", err)
	}
	return nil
}

// terminateAborted marks the session aborted rather than errored, per
// spec: a killed activation is not an error and gets no error event.
// It returns nil so Run's caller treats this as a clean stop (stop=true,
// err=nil) instead of routing back through terminateWithError and
// clobbering the aborted status.
func (l *Loop) terminateAborted(ctx context.Context, act models.Activation) error {
	if _, err := l.sessions.Update(act.ActivationID, func(s *models.Session) {
		s.Status = models.SessionAborted
	}); err != nil {
		l.log.Error("mark session aborted failed", "error", err, "activation_id", act.ActivationID)
	}
	return nil
}

func (l *Loop) terminateWithError(ctx context.Context, act models.Activation, message string) error {
	if _, err := l.sessions.Update(act.ActivationID, func(s *models.Session) {
		s.Status = models.SessionError
	}); err != nil {
		l.log.Error("mark session error failed", "error", err, "activation_id", act.ActivationID)
	}
	if _, err := l.events.Append(ctx, models.EventEntry{
		ActivationID: act.ActivationID, AgentID: act.AgentID, Type: models.EventError,
		Severity: models.SeverityError, Data: models.EventData{Message: message},
	}); err != nil {
		l.log.Error("append error event failed", "error", err)
	}
	return fmt.Errorf("activation %s: %s", act.ActivationID, message)
}

// maybeReflect implements step 5: if the agent's AutonomousConfig allows
// another cycle, synthesize a follow-up input and enqueue a new
// Activation of the same agent.
func (l *Loop) maybeReflect(ctx context.Context, act models.Activation, profile *models.AgentProfile, state *turnState) {
	cfg := profile.Autonomous
	if cfg.MaxCycles <= 0 {
		return
	}
	if cfg.StopWhenComplete {
		return
	}
	followUp := cfg.SeedTaskWhenIdle
	if followUp == "" {
		if !cfg.ResumeMission {
			return
		}
		followUp = "Reflect on the previous turn and continue the mission."
	}
	if l.spawner == nil {
		l.log.Warn("autonomous reflection requested but no spawner configured", "activation_id", act.ActivationID)
		return
	}
	next := models.Activation{
		ActivationID:        uuid.NewString(),
		AgentID:             act.AgentID,
		Input:               followUp,
		ParentAgentID:       act.AgentID,
		ParentActivationID:  act.ActivationID,
		SpawnDepth:          act.SpawnDepth,
		Priority:            act.Priority,
		CreatedAt:           time.Now(),
	}
	if err := l.spawner.Enqueue(ctx, next); err != nil {
		l.log.Error("enqueue autonomous cycle failed", "error", err, "activation_id", act.ActivationID)
	}
}

// shouldForceContinuation implements step 6: below MinTurnsBeforeStop
// turns, a trivial reply (empty or very short) forces a continuation turn
// rather than letting the session end prematurely.
func (l *Loop) shouldForceContinuation(state *turnState) bool {
	if state.turns >= l.config.MinTurnsBeforeStop {
		return false
	}
	if len(state.messages) == 0 {
		return false
	}
	last := state.messages[len(state.messages)-1]
	return last.Role == models.RoleAssistant && len(last.Content) < trivialReplyThreshold
}

const trivialReplyThreshold = 8
