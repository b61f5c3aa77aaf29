package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTurnContext(t *testing.T) {
	ctx := NewTurnContext(context.Background(), "session-1")

	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetTurnID(ctx))
	assert.Equal(t, "session-1", GetSessionID(ctx))
}

func TestNewTurnContextKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-abc")
	ctx = NewTurnContext(ctx, "session-1")

	assert.Equal(t, "trace-abc", GetTraceID(ctx))
}

func TestDetachForBackground(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx := NewTurnContext(parent, "session-9")
	ctx = WithAgentName(ctx, "StockAnalyser")

	detached := DetachForBackground(ctx)
	cancel()

	// Identifiers survive, cancellation does not.
	require.NoError(t, detached.Err())
	assert.Equal(t, GetTraceID(ctx), GetTraceID(detached))
	assert.Equal(t, GetTurnID(ctx), GetTurnID(detached))
	assert.Equal(t, "session-9", GetSessionID(detached))
	assert.Equal(t, "StockAnalyser", GetAgentName(detached))
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetTurnID(ctx))
	assert.Empty(t, GetSessionID(ctx))
	assert.Empty(t, GetAgentName(ctx))

	tc := FromContext(ctx)
	assert.Equal(t, &TraceContext{}, tc)
}
