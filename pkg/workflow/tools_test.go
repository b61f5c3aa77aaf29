package workflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranavk/stockpilot/pkg/toolregistry"
)

func newBoundRegistry(t *testing.T) (*toolregistry.Registry, *recordingDelegator, *ConversationState) {
	t.Helper()

	engine, delegator := newTestEngine(t)
	state := NewConversationState()
	reg := toolregistry.New()
	require.NoError(t, BindOperations(reg, engine, state))

	return reg, delegator, state
}

func TestBindOperationsRegistersAll(t *testing.T) {
	reg, _, _ := newBoundRegistry(t)

	expected := []string{
		"get_workflow_status",
		"get_market_preference",
		"set_market_preference",
		"get_investment_amount",
		"set_investment_amount",
		"get_diversification_preference",
		"set_diversification_preference",
		"add_existing_stocks",
		"add_new_stocks",
		"store_share_count",
		"store_receiver_email",
		"analyze_all_stocks",
	}
	assert.ElementsMatch(t, expected, reg.List())
}

func TestBoundOperationsMutateSharedState(t *testing.T) {
	reg, _, state := newBoundRegistry(t)
	ctx := context.Background()

	result := reg.Execute(ctx, "set_market_preference", map[string]interface{}{"market": "usa"})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "US", state.MarketPreference)

	result = reg.Execute(ctx, "set_investment_amount", map[string]interface{}{"amount": float64(7500)})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, float64(7500), state.InvestmentAmount)

	result = reg.Execute(ctx, "add_new_stocks", map[string]interface{}{
		"stocks": []interface{}{"apple", "nvidia"},
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, []string{"AAPL", "NVDA"}, state.NewStocks)

	result = reg.Execute(ctx, "get_workflow_status", nil)
	require.True(t, result.Success, result.Error)
	status, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "US", status["market"])
	assert.Equal(t, []string{"AAPL", "NVDA"}, status["stocks_collected"])
}

func TestValidationFailuresSurfaceAsOutput(t *testing.T) {
	reg, _, state := newBoundRegistry(t)
	ctx := context.Background()

	result := reg.Execute(ctx, "set_market_preference", map[string]interface{}{"market": "usa"})
	require.True(t, result.Success, result.Error)

	// A mixed-market batch is a conversational correction, not an
	// execution failure, so the driver receives it as output text.
	result = reg.Execute(ctx, "add_new_stocks", map[string]interface{}{
		"stocks": []interface{}{"AAPL", "RELIANCE.NS"},
	})
	require.True(t, result.Success)
	assert.Empty(t, result.Error)

	output, ok := result.Output.(string)
	require.True(t, ok)
	assert.Contains(t, output, "mixes markets")
	assert.Empty(t, state.NewStocks)
}

func TestBoundOperationsRejectBadParams(t *testing.T) {
	reg, _, _ := newBoundRegistry(t)
	ctx := context.Background()

	result := reg.Execute(ctx, "set_market_preference", nil)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	result = reg.Execute(ctx, "set_investment_amount", map[string]interface{}{"amount": "lots"})
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestStoreReceiverEmailOperation(t *testing.T) {
	engine, delegator := newTestEngine(t)
	state := completeState()
	reg := toolregistry.New()
	require.NoError(t, BindOperations(reg, engine, state))

	result := reg.Execute(context.Background(), "store_receiver_email", map[string]interface{}{
		"email": "user@example.com",
	})
	require.True(t, result.Success, result.Error)

	output, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, CompletionMessage, output["message"])
	assert.Equal(t, true, output["dispatched"])
	assert.Equal(t, 1, delegator.calls)
}

func TestStoreReceiverEmailOperationBeforeGate(t *testing.T) {
	reg, delegator, state := newBoundRegistry(t)

	result := reg.Execute(context.Background(), "store_receiver_email", map[string]interface{}{
		"email": "user@example.com",
	})
	require.True(t, result.Success, result.Error)

	output, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, output["dispatched"])
	assert.Contains(t, output["message"], "I still need")
	assert.Equal(t, "user@example.com", state.ReceiverEmail)
	assert.Zero(t, delegator.calls)
}

func operationCounterTotal(t *testing.T, operation string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != "workflow_operation_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "operation" && label.GetValue() == operation {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestAddNewStocksCountsOnceInOperationMetrics(t *testing.T) {
	reg, _, _ := newBoundRegistry(t)
	ctx := context.Background()

	result := reg.Execute(ctx, "set_market_preference", map[string]interface{}{"market": "US"})
	require.True(t, result.Success, result.Error)

	before := operationCounterTotal(t, "add_new_stocks")

	result = reg.Execute(ctx, "add_new_stocks", map[string]interface{}{
		"stocks": []interface{}{"apple"},
	})
	require.True(t, result.Success, result.Error)

	assert.Equal(t, before+1, operationCounterTotal(t, "add_new_stocks"))
}
