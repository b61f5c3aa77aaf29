// Package dispatcher orchestrates one conversational turn end to end:
// state load, bounded history, the driver reasoning loop over the
// operation registry, and the unconditional end-of-turn persist. No
// component error escapes a turn; every failure maps to one of the fixed
// user-visible outcomes.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pranavk/stockpilot/internal/observability"
	"github.com/pranavk/stockpilot/internal/tracing"
	"github.com/pranavk/stockpilot/pkg/dispatchqueue"
	"github.com/pranavk/stockpilot/pkg/driver"
	"github.com/pranavk/stockpilot/pkg/session"
	"github.com/pranavk/stockpilot/pkg/statestore"
	"github.com/pranavk/stockpilot/pkg/toolregistry"
	"github.com/pranavk/stockpilot/pkg/workflow"
)

const (
	// DefaultMaxSteps bounds driver iterations within one turn
	DefaultMaxSteps = 100

	// DefaultHistoryLimit bounds how much history a turn sees
	DefaultHistoryLimit = 50

	// FallbackMessage is returned when a turn exhausts its step budget
	FallbackMessage = "I was unable to finish processing that. Could you repeat your last message?"

	// UnavailableMessage is returned when the reasoning driver fails
	UnavailableMessage = "Sorry, I am having trouble right now. Please try again in a moment."
)

// HostAgentName keys the host's conversation state in the state store
const HostAgentName = "host-agent"

// Reply is the outcome of one processed turn
type Reply struct {
	Message    string `json:"message"`
	EndSession bool   `json:"end_session"`
}

// Config holds dispatcher dependencies
type Config struct {
	States  statestore.Store
	History *session.HistoryStore
	Driver  driver.Driver
	Engine  *workflow.Engine
	Queue   *dispatchqueue.Queue

	// AgentSummary supplies the registered-agents block for the prompt
	AgentSummary func() string

	Model        string
	Temperature  float64
	MaxTokens    int
	MaxSteps     int
	HistoryLimit int

	Logger zerolog.Logger
}

// Dispatcher processes turns for all sessions, one at a time per session
type Dispatcher struct {
	states       statestore.Store
	history      *session.HistoryStore
	driver       driver.Driver
	engine       *workflow.Engine
	queue        *dispatchqueue.Queue
	agentSummary func() string
	model        string
	temperature  float64
	maxTokens    int
	maxSteps     int
	historyLimit int
	logger       zerolog.Logger
}

// New creates a dispatcher
func New(cfg Config) (*Dispatcher, error) {
	observability.EnsureRegistered()

	if cfg.States == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if cfg.History == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.Driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("workflow engine is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("dispatch queue is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("driver model is required")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.AgentSummary == nil {
		cfg.AgentSummary = func() string { return "No agents registered" }
	}

	return &Dispatcher{
		states:       cfg.States,
		history:      cfg.History,
		driver:       cfg.Driver,
		engine:       cfg.Engine,
		queue:        cfg.Queue,
		agentSummary: cfg.AgentSummary,
		model:        cfg.Model,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		maxSteps:     cfg.MaxSteps,
		historyLimit: cfg.HistoryLimit,
		logger:       cfg.Logger,
	}, nil
}

// ProcessTurn handles one user message for a session. Turns for the same
// session are serialized through the session's dispatch lane; the returned
// error is reserved for caller mistakes (bad session ID, cancelled
// context), never component failures.
func (d *Dispatcher) ProcessTurn(ctx context.Context, sessionID, userID, message string) (Reply, error) {
	if message == "" {
		return Reply{}, fmt.Errorf("message cannot be empty")
	}

	ctx = tracing.NewTurnContext(ctx, sessionID)
	ctx, span := tracing.StartSpan(
		ctx,
		"stockpilot.dispatcher",
		"dispatcher.process_turn",
		attribute.String("session_id", sessionID),
	)
	defer span.End()

	lane := d.queue.SessionLane(sessionID)
	result, err := d.queue.Do(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return d.executeTurn(taskCtx, sessionID, userID, message), nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Reply{}, err
	}
	return result.(Reply), nil
}

// executeTurn runs the turn body inside the session lane
func (d *Dispatcher) executeTurn(ctx context.Context, sessionID, userID, message string) Reply {
	start := time.Now()
	logger := tracing.LoggerFromContext(ctx, d.logger).With().
		Str("session_id", sessionID).
		Str("user_id", userID).
		Logger()

	state := d.loadState(ctx, sessionID, logger)

	// The state persists no matter how the turn ends. A persist failure
	// is logged and the turn proceeds on in-memory state.
	defer func() {
		if err := d.persistState(ctx, sessionID, state); err != nil {
			observability.RecordStatePersistFailure()
			logger.Error().Err(err).Msg("Failed to persist conversation state")
		}
	}()

	history, err := d.history.LoadRecent(ctx, sessionID, d.historyLimit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load history, proceeding without it")
		history = nil
	}

	if err := d.history.Append(ctx, sessionID, session.Turn{Role: "user", Content: message}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist user turn")
	}

	reply, steps, status := d.reason(ctx, state, history, message, logger)

	if err := d.history.Append(ctx, sessionID, session.Turn{
		Role:    "assistant",
		Content: reply.Message,
		Metadata: map[string]interface{}{
			"end_session": reply.EndSession,
			"steps":       steps,
		},
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist assistant turn")
	}

	observability.RecordTurn(status, time.Since(start), steps)
	logger.Info().
		Str("status", status).
		Int("steps", steps).
		Bool("end_session", reply.EndSession).
		Msg("Turn completed")

	return reply
}

// reason drives the model/operation loop for one turn
func (d *Dispatcher) reason(ctx context.Context, state *workflow.ConversationState, history []session.Turn, message string, logger zerolog.Logger) (Reply, int, string) {
	registry := toolregistry.New()
	if err := workflow.BindOperations(registry, d.engine, state); err != nil {
		logger.Error().Err(err).Msg("Failed to bind operations")
		return Reply{Message: UnavailableMessage}, 0, "bind_error"
	}

	systemPrompt, err := buildSystemPrompt(d.agentSummary(), state, time.Now())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build system prompt")
		return Reply{Message: UnavailableMessage}, 0, "prompt_error"
	}

	messages := make([]driver.Message, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, driver.Message{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, driver.Message{Role: "user", Content: message})

	tools := registry.Specs()

	for step := 1; step <= d.maxSteps; step++ {
		select {
		case <-ctx.Done():
			return Reply{Message: UnavailableMessage}, step, "cancelled"
		default:
		}

		response, err := d.driver.Call(ctx, driver.Request{
			Model:        d.model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        tools,
			Temperature:  d.temperature,
			MaxTokens:    d.maxTokens,
		})
		if err != nil {
			logger.Error().Err(err).Int("step", step).Msg("Driver call failed")
			return Reply{Message: UnavailableMessage}, step, "driver_error"
		}

		if len(response.ToolCalls) == 0 {
			text, endSession := unwrapEnvelope(response.Content)
			return Reply{Message: text, EndSession: endSession}, step, "completed"
		}

		messages = append(messages, driver.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, call := range response.ToolCalls {
			result := registry.Execute(ctx, call.Name, call.Parameters)

			// Analysis dispatch terminates the turn deterministically:
			// the reply is the operation's fixed message, not whatever
			// the driver would narrate about it.
			if reply, ok := dispatchReply(call.Name, result); ok {
				return reply, step, "dispatched"
			}

			messages = append(messages, driver.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    formatResult(result),
			})
		}
	}

	logger.Warn().Int("max_steps", d.maxSteps).Msg("Turn exhausted its step budget")
	return Reply{Message: FallbackMessage}, d.maxSteps, "step_budget_exhausted"
}

// dispatchReply detects a completed store_receiver_email dispatch
func dispatchReply(operation string, result toolregistry.Result) (Reply, bool) {
	if operation != "store_receiver_email" || !result.Success {
		return Reply{}, false
	}
	output, ok := result.Output.(map[string]interface{})
	if !ok {
		return Reply{}, false
	}
	dispatched, _ := output["dispatched"].(bool)
	if !dispatched {
		return Reply{}, false
	}
	message, _ := output["message"].(string)
	return Reply{Message: message, EndSession: true}, true
}

// formatResult renders an operation result for the driver
func formatResult(result toolregistry.Result) string {
	if !result.Success {
		return fmt.Sprintf("ERROR: %s", result.Error)
	}
	switch output := result.Output.(type) {
	case string:
		return output
	case nil:
		return "ok"
	default:
		return fmt.Sprintf("%v", output)
	}
}

// loadState fetches the session's state, defaulting when absent or corrupt
func (d *Dispatcher) loadState(ctx context.Context, sessionID string, logger zerolog.Logger) *workflow.ConversationState {
	blob, err := d.states.Get(ctx, sessionID, HostAgentName)
	if err != nil {
		if !errors.Is(err, statestore.ErrNotFound) {
			logger.Error().Err(err).Msg("Failed to load conversation state, starting fresh")
		}
		return workflow.NewConversationState()
	}

	state, err := workflow.UnmarshalConversationState(blob)
	if err != nil {
		logger.Error().Err(err).Msg("Stored conversation state is corrupt, starting fresh")
		return workflow.NewConversationState()
	}
	return state
}

func (d *Dispatcher) persistState(ctx context.Context, sessionID string, state *workflow.ConversationState) error {
	blob, err := state.Marshal()
	if err != nil {
		return err
	}

	// State I/O durations are observed inside the store implementations.
	return d.states.Put(ctx, sessionID, HostAgentName, blob)
}

// HandleWorkerResponse ingests a background worker's report into the
// session's state, out of band of any turn. Wire it as the remote
// client's response handler.
func (d *Dispatcher) HandleWorkerResponse(ctx context.Context, agentName, response string) {
	sessionID := tracing.GetSessionID(ctx)
	logger := tracing.LoggerFromContext(ctx, d.logger).With().
		Str("agent", agentName).
		Str("session_id", sessionID).
		Logger()

	if sessionID == "" {
		logger.Warn().Msg("Worker response carries no session, dropping")
		return
	}
	if response == "" {
		logger.Warn().Msg("Worker returned an empty response")
		return
	}

	state := d.loadState(ctx, sessionID, logger)
	d.engine.ApplyReportResponse(state, response)

	if err := d.persistState(ctx, sessionID, state); err != nil {
		observability.RecordStatePersistFailure()
		logger.Error().Err(err).Msg("Failed to persist worker report")
		return
	}

	logger.Info().Int("report_bytes", len(response)).Msg("Worker report stored")
}
