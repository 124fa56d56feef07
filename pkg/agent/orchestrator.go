package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kskip310/luminous/internal/observability"
	"github.com/kskip310/luminous/internal/tracing"
	"github.com/kskip310/luminous/pkg/bus"
	"github.com/kskip310/luminous/pkg/session"
	"github.com/kskip310/luminous/pkg/snapshot"
	"github.com/kskip310/luminous/pkg/state"
	"github.com/kskip310/luminous/pkg/store"
	"github.com/kskip310/luminous/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Phase is the orchestrator's position in a turn.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAwaitingModel  Phase = "awaiting_model"
	PhaseExecutingTools Phase = "executing_tools"
	PhaseFinalizing     Phase = "finalizing"
	PhaseLoopExceeded   Phase = "loop_exceeded"
	PhaseFatalError     Phase = "fatal_error"
)

const (
	DefaultMaxLoops      = 10
	DefaultContextWindow = 50
	// RepeatedFailureThreshold is how many failures sharing one signature
	// trigger a warning.
	RepeatedFailureThreshold = 3
)

// DefaultSystemInstruction frames the model for the built-in tools.
const DefaultSystemInstruction = `You are Luminous, a persistent autonomous agent.
You keep goals, a knowledge graph, a journal and a self model in your state.
Use get_state before reasoning about your own state. Propose goals and code or
UI changes instead of assuming they are accepted. Prefer tools over guessing,
and answer in plain text once you have what you need.`

const (
	apologyText    = "I'm sorry, I couldn't come up with a response to that. Could you try rephrasing?"
	blockedText    = "I'm sorry, I can't respond to that (%s)."
	modelErrorText = "I ran into an error while thinking: %v"
	loopText       = "I seem to be stuck in a loop and stopped after %d steps. Could you clarify what you'd like me to do?"
)

var (
	// ErrEmptyMessage is returned for a blank user message.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNotStarted is returned before Start has loaded a session.
	ErrNotStarted = errors.New("orchestrator not started")
)

// TurnOutcome summarizes one user turn.
type TurnOutcome struct {
	Identity string
	// Phase is the terminal phase: Idle, LoopExceeded or FatalError.
	Phase  Phase
	Cycles int
	// Reply is the agent's final message, nil when the turn ended otherwise.
	Reply *state.Message
	// Saves counts state persistence attempts during the turn.
	Saves int
	// Err carries the model or storage failure that ended the turn.
	Err error
}

// Config holds orchestrator configuration
type Config struct {
	Identity          string
	Model             Model
	Tools             *toolexecutor.Executor
	Store             *store.StateStore
	Sessions          *session.Manager
	Bus               *bus.Bus
	Logger            zerolog.Logger
	MaxLoops          int
	ContextWindow     int
	SystemInstruction string
	// ModelRetry bounds retries of transient model failures.
	ModelRetry *toolexecutor.RetryPolicy
}

// Orchestrator drives the conversation loop and is the single writer of
// the agent state. All mutating operations are serialized on one mutex.
type Orchestrator struct {
	model    Model
	tools    *toolexecutor.Executor
	store    *store.StateStore
	sessions *session.Manager
	bus      *bus.Bus
	logger   zerolog.Logger
	maxLoops int
	window   int
	system   string
	retry    toolexecutor.RetryPolicy

	// mu serializes turns and UI operations.
	mu sync.Mutex

	stateMu  sync.RWMutex
	identity string
	st       state.AgentState
	phase    Phase
	started  bool
}

// New creates an Orchestrator. Call Start before running turns.
func New(cfg Config) (*Orchestrator, error) {
	observability.EnsureRegistered()

	switch {
	case cfg.Model == nil:
		return nil, errors.New("model is required")
	case cfg.Tools == nil:
		return nil, errors.New("tool executor is required")
	case cfg.Store == nil:
		return nil, errors.New("state store is required")
	case cfg.Sessions == nil:
		return nil, errors.New("session manager is required")
	case cfg.Bus == nil:
		return nil, errors.New("bus is required")
	}
	if err := session.ValidateIdentity(cfg.Identity); err != nil {
		return nil, err
	}

	o := &Orchestrator{
		model:    cfg.Model,
		tools:    cfg.Tools,
		store:    cfg.Store,
		sessions: cfg.Sessions,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		maxLoops: cfg.MaxLoops,
		window:   cfg.ContextWindow,
		system:   cfg.SystemInstruction,
		identity: cfg.Identity,
		st:       state.Default(),
		phase:    PhaseIdle,
	}
	if o.maxLoops <= 0 {
		o.maxLoops = DefaultMaxLoops
	}
	if o.window <= 0 {
		o.window = DefaultContextWindow
	}
	if o.system == "" {
		o.system = DefaultSystemInstruction
	}
	if cfg.ModelRetry != nil {
		o.retry = *cfg.ModelRetry
	} else {
		o.retry = toolexecutor.DefaultRetryPolicy("model.invoke")
	}
	if o.retry.Operation == "" {
		o.retry.Operation = "model.invoke"
	}
	o.retry.Logger = cfg.Logger
	return o, nil
}

// Start loads the configured identity's session and broadcasts it.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.load(ctx, o.Identity())
}

// Identity returns the identity whose session is loaded.
func (o *Orchestrator) Identity() string {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.identity
}

// State returns a copy of the live state.
func (o *Orchestrator) State() state.AgentState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.st.Clone()
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.stateMu.Lock()
	o.phase = p
	o.stateMu.Unlock()
}

func (o *Orchestrator) setState(identity string, st state.AgentState) {
	o.stateMu.Lock()
	o.identity = identity
	o.st = st
	o.stateMu.Unlock()
}

func (o *Orchestrator) isStarted() bool {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.started
}

// load replaces the live session with identity's persisted one.
func (o *Orchestrator) load(ctx context.Context, identity string) error {
	if err := session.ValidateIdentity(identity); err != nil {
		return err
	}
	logger := o.logger.With().Str("identity", identity).Logger()

	st, outcome := o.store.Load(ctx, identity)
	if st.SessionState == state.SessionInitializing || st.SessionState == state.SessionError {
		st.SessionState = state.SessionActive
		save := o.store.Save(ctx, identity, st)
		st.ContinuityState = save.Continuity(st.ContinuityState)
	}

	o.stateMu.Lock()
	o.identity = identity
	o.st = st
	o.started = true
	o.stateMu.Unlock()

	o.bus.Publish(bus.ReplaceEvent(identity, st))
	logger.Info().
		Str("source", string(outcome.Source)).
		Str("cloud_status", string(st.ContinuityState.CloudStatus)).
		Msg("Session loaded")
	return nil
}

// RunTurn handles one user message through to a terminal phase. It never
// returns an error: failures end the turn with a conversation message and
// are reported on the outcome.
func (o *Orchestrator) RunTurn(ctx context.Context, text string) TurnOutcome {
	o.mu.Lock()
	defer o.mu.Unlock()

	identity := o.Identity()
	ctx = tracing.NewTurnContext(ctx, identity)
	ctx, span := tracing.StartSpan(ctx, "luminous.agent", "agent.turn",
		attribute.String("identity", identity),
	)
	defer span.End()

	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, o.logger)
	out := TurnOutcome{Identity: identity}
	defer func() {
		o.setPhase(PhaseIdle)
		span.SetAttributes(
			attribute.String("phase", string(out.Phase)),
			attribute.Int("cycles", out.Cycles),
		)
		if out.Err != nil {
			tracing.Fail(span, out.Err)
		}
		observability.RecordTurn(string(out.Phase), out.Cycles, time.Since(start))
		logger.Info().
			Str("phase", string(out.Phase)).
			Int("cycles", out.Cycles).
			Int("saves", out.Saves).
			Dur("duration", time.Since(start)).
			Msg("Turn finished")
	}()

	if !o.isStarted() {
		out.Phase, out.Err = PhaseFatalError, ErrNotStarted
		return out
	}
	if strings.TrimSpace(text) == "" {
		out.Phase, out.Err = PhaseFatalError, ErrEmptyMessage
		return out
	}

	o.setPhase(PhaseAwaitingModel)
	userMsg, err := o.sessions.Append(ctx, identity, state.SenderUser, text)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to record user message")
		o.bus.Publish(bus.LogEvent(identity, bus.LevelError, "Failed to record message", map[string]any{"error": err.Error()}))
		out.Phase, out.Err = PhaseFatalError, err
		return out
	}
	o.bus.Publish(bus.MessageEvent(identity, userMsg))

	history, err := o.contextWindow(ctx, identity)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read history")
		o.say(ctx, identity, state.SenderSystem, fmt.Sprintf(modelErrorText, err))
		out.Phase, out.Err = PhaseFatalError, err
		return out
	}
	tools := o.tools.Catalog()

	for cycle := 1; cycle <= o.maxLoops; cycle++ {
		out.Cycles = cycle
		o.setPhase(PhaseAwaitingModel)
		cycleLogger := logger.With().Int("cycle", cycle).Logger()

		resp, err := o.invokeModel(ctx, ModelRequest{
			History:           history,
			Tools:             tools,
			SystemInstruction: o.system,
		})
		if err != nil {
			cycleLogger.Error().Err(err).Msg("Model invocation failed")
			o.say(ctx, identity, state.SenderSystem, fmt.Sprintf(modelErrorText, err))
			out.Phase, out.Err = PhaseIdle, err
			return out
		}

		switch resp.Kind {
		case ResponseFinal:
			o.setPhase(PhaseFinalizing)
			reply := o.say(ctx, identity, state.SenderAgent, resp.Text)
			out.Reply = &reply
			out.Phase = PhaseIdle
			return out
		case ResponseEmpty:
			msg := apologyText
			if resp.BlockReason != "" {
				msg = fmt.Sprintf(blockedText, resp.BlockReason)
			}
			cycleLogger.Warn().Str("block_reason", resp.BlockReason).Msg("Model returned an empty response")
			o.say(ctx, identity, state.SenderSystem, msg)
			out.Phase = PhaseIdle
			return out
		}

		o.setPhase(PhaseExecutingTools)
		calls := assignCallIDs(resp.ToolCalls, cycle)
		results := o.tools.ExecuteBatch(ctx, identity, calls, o.State())
		if o.foldResults(ctx, identity, results) {
			out.Saves++
		}

		history = append(history,
			Turn{Role: RoleModel, Text: resp.Text, ToolCalls: calls},
			toolTurn(results),
		)
	}

	logger.Warn().Int("max_loops", o.maxLoops).Msg("Turn exceeded the loop bound")
	o.say(ctx, identity, state.SenderSystem, fmt.Sprintf(loopText, o.maxLoops))
	out.Phase = PhaseLoopExceeded
	return out
}

// invokeModel calls the model with bounded retries of transient failures.
func (o *Orchestrator) invokeModel(ctx context.Context, req ModelRequest) (ModelResponse, error) {
	provider := o.model.Provider()
	ctx, span := tracing.StartSpan(ctx, "luminous.agent", "model.invoke",
		attribute.String("provider", provider),
		attribute.Int("history", len(req.History)),
	)
	defer span.End()

	start := time.Now()
	var resp ModelResponse
	err := toolexecutor.Retry(ctx, o.retry, func(ctx context.Context) error {
		r, err := o.model.Invoke(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	observability.RecordModelInvocation(provider, time.Since(start), err == nil)
	if err != nil {
		tracing.Fail(span, err)
		return ModelResponse{}, err
	}
	span.SetAttributes(attribute.String("kind", string(resp.Kind)))
	return resp, nil
}

// contextWindow builds model turns from the newest persisted messages.
// System messages are not shown to the model and the window always starts
// with a user turn.
func (o *Orchestrator) contextWindow(ctx context.Context, identity string) ([]Turn, error) {
	msgs, err := o.sessions.Recent(ctx, identity, o.window)
	if err != nil {
		return nil, err
	}
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		switch m.Sender {
		case state.SenderUser:
			turns = append(turns, Turn{Role: RoleUser, Text: m.Text})
		case state.SenderAgent:
			if len(turns) == 0 {
				continue
			}
			turns = append(turns, Turn{Role: RoleModel, Text: m.Text})
		}
	}
	return turns, nil
}

// foldResults merges every tool patch in call order together with the
// failure records into one patch and persists it. It reports whether a
// save happened.
func (o *Orchestrator) foldResults(ctx context.Context, identity string, results []toolexecutor.Result) bool {
	patch := toolexecutor.FoldPatches(results)

	var failures []state.ToolFailure
	for _, r := range results {
		if !r.Failed() {
			continue
		}
		failures = append(failures, state.ToolFailure{
			ToolName: r.Name,
			Error:    r.Error.Message,
			Args:     r.Error.RequestArgs,
		})
	}
	if len(failures) > 0 {
		patch = state.Fold(patch, state.RecordToolFailures(o.State(), failures...))
	}
	if len(patch) == 0 {
		return false
	}

	saved, err := o.applyPatch(ctx, identity, patch)
	if err != nil {
		return saved
	}
	o.warnRepeatedFailures(ctx, identity, failures)
	return saved
}

func (o *Orchestrator) warnRepeatedFailures(ctx context.Context, identity string, failures []state.ToolFailure) {
	current := o.State()
	seen := make(map[string]bool, len(failures))
	for _, f := range failures {
		sig := state.FailureSignature(f.ToolName, f.Error)
		if seen[sig] {
			continue
		}
		seen[sig] = true
		count := state.CountSignature(current, sig)
		if count < RepeatedFailureThreshold {
			continue
		}
		logger := tracing.LoggerFromContext(ctx, o.logger)
		logger.Warn().
			Str("tool", f.ToolName).
			Int("count", count).
			Msg("Tool keeps failing with the same error")
		o.bus.Publish(bus.LogEvent(identity, bus.LevelWarn,
			fmt.Sprintf("Tool %s failed %d times with the same error", f.ToolName, count),
			map[string]any{"tool": f.ToolName, "error": f.Error, "count": count},
		))
	}
}

// applyPatch validates patch at the merge boundary, merges it, persists the
// result and broadcasts the applied fields with the new continuity record.
func (o *Orchestrator) applyPatch(ctx context.Context, identity string, patch state.Patch) (bool, error) {
	logger := tracing.LoggerFromContext(ctx, o.logger)

	normalized, err := state.NormalizePatch(patch)
	if err != nil {
		logger.Error().Err(err).Msg("Dropping unencodable patch")
		o.bus.Publish(bus.LogEvent(identity, bus.LevelError, "Dropped an invalid state update", map[string]any{"error": err.Error()}))
		return false, err
	}
	valid, warnings := state.ValidatePatch(normalized)
	for _, w := range warnings {
		logger.Warn().Str("field", w.Field).Str("reason", w.Reason).Msg("Dropped malformed patch field")
		o.bus.Publish(bus.LogEvent(identity, bus.LevelWarn, "Dropped malformed state field "+w.Field,
			map[string]any{"field": w.Field, "reason": w.Reason},
		))
	}
	if len(valid) == 0 {
		return false, nil
	}

	next, _, err := state.Apply(o.State(), valid)
	if err != nil {
		logger.Error().Err(err).Msg("Patch does not fit the state")
		o.bus.Publish(bus.LogEvent(identity, bus.LevelError, "Dropped an invalid state update", map[string]any{"error": err.Error()}))
		return false, err
	}

	outcome := o.store.Save(ctx, identity, next)
	next.ContinuityState = outcome.Continuity(next.ContinuityState)
	o.setState(identity, next)

	continuity, err := state.NormalizePatch(state.Patch{"continuityState": next.ContinuityState})
	if err != nil {
		return true, err
	}
	o.bus.Publish(bus.PatchEvent(identity, state.Fold(valid, continuity)))
	o.reportSave(identity, outcome)
	return true, nil
}

func (o *Orchestrator) reportSave(identity string, outcome store.SaveOutcome) {
	if outcome.Tier != store.TierError {
		return
	}
	fields := map[string]any{}
	if outcome.LocalErr != nil {
		fields["local"] = outcome.LocalErr.Error()
	}
	if outcome.RemoteErr != nil {
		fields["remote"] = outcome.RemoteErr.Error()
	}
	o.bus.Publish(bus.LogEvent(identity, bus.LevelError, "State could not be saved", fields))
}

// say records a message and broadcasts it. A storage failure still
// broadcasts the message so it is never silently dropped.
func (o *Orchestrator) say(ctx context.Context, identity string, sender state.Sender, text string) state.Message {
	msg, err := o.sessions.Append(ctx, identity, sender, text)
	if err != nil {
		logger := tracing.LoggerFromContext(ctx, o.logger)
		logger.Error().Err(err).Str("sender", string(sender)).Msg("Failed to record message")
		msg = state.Message{
			ID:        "unsaved-" + tracing.NewTraceID(),
			Sender:    sender,
			Text:      text,
			Timestamp: time.Now().UnixMilli(),
		}
	}
	o.bus.Publish(bus.MessageEvent(identity, msg))
	return msg
}

// assignCallIDs fills in call ids some providers leave empty.
func assignCallIDs(calls []toolexecutor.Call, cycle int) []toolexecutor.Call {
	out := make([]toolexecutor.Call, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = fmt.Sprintf("call_%d_%d", cycle, i)
		}
		out[i] = c
	}
	return out
}

func toolTurn(results []toolexecutor.Result) Turn {
	turn := Turn{Role: RoleTool, ToolResults: make([]ToolResult, 0, len(results))}
	for _, r := range results {
		turn.ToolResults = append(turn.ToolResults, ToolResult{
			CallID:  r.CallID,
			Name:    r.Name,
			Payload: r.Payload(),
			IsError: r.Failed(),
		})
	}
	return turn
}

// Snapshot exports the live state and the full history.
func (o *Orchestrator) Snapshot(ctx context.Context) ([]byte, error) {
	identity := o.Identity()
	msgs, err := o.sessions.All(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return snapshot.Export(o.State(), msgs)
}
