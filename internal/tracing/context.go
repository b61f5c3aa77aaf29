package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// TurnIDKey is the context key for the conversational turn ID
	TurnIDKey ContextKey = "turn_id"
	// SessionIDKey is the context key for the session ID
	SessionIDKey ContextKey = "session_id"
	// AgentNameKey is the context key for the remote agent name
	AgentNameKey ContextKey = "agent_name"
)

// TraceContext holds tracing information for one turn
type TraceContext struct {
	TraceID   string
	TurnID    string
	SessionID string
	AgentName string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// NewTurnID generates a new turn ID
func NewTurnID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithTurnID adds a turn ID to the context
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, TurnIDKey, turnID)
}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

// WithAgentName adds a remote agent name to the context
func WithAgentName(ctx context.Context, agentName string) context.Context {
	return context.WithValue(ctx, AgentNameKey, agentName)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetTurnID retrieves the turn ID from the context
func GetTurnID(ctx context.Context) string {
	if turnID, ok := ctx.Value(TurnIDKey).(string); ok {
		return turnID
	}
	return ""
}

// GetSessionID retrieves the session ID from the context
func GetSessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		return sessionID
	}
	return ""
}

// GetAgentName retrieves the remote agent name from the context
func GetAgentName(ctx context.Context) string {
	if agentName, ok := ctx.Value(AgentNameKey).(string); ok {
		return agentName
	}
	return ""
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:   GetTraceID(ctx),
		TurnID:    GetTurnID(ctx),
		SessionID: GetSessionID(ctx),
		AgentName: GetAgentName(ctx),
	}
}

// NewTurnContext creates a context for a new conversational turn.
// The trace ID is kept when present so delegated work stays correlated
// with the turn that triggered it.
func NewTurnContext(ctx context.Context, sessionID string) context.Context {
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, NewTraceID())
	}
	ctx = WithTurnID(ctx, NewTurnID())
	return WithSessionID(ctx, sessionID)
}

// DetachForBackground clones tracing information onto a fresh background
// context. Fire-and-forget delegation must not inherit the turn's
// cancellation, only its identifiers.
func DetachForBackground(ctx context.Context) context.Context {
	tc := FromContext(ctx)
	detached := context.Background()
	if tc.TraceID != "" {
		detached = WithTraceID(detached, tc.TraceID)
	}
	if tc.TurnID != "" {
		detached = WithTurnID(detached, tc.TurnID)
	}
	if tc.SessionID != "" {
		detached = WithSessionID(detached, tc.SessionID)
	}
	if tc.AgentName != "" {
		detached = WithAgentName(detached, tc.AgentName)
	}
	return detached
}
