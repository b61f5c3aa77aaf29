package workflow

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pranavk/stockpilot/pkg/tickers"
)

type recordingDelegator struct {
	calls int
	agent string
	task  string
}

func (d *recordingDelegator) DelegateBackground(_ context.Context, agentName, task string) {
	d.calls++
	d.agent = agentName
	d.task = task
}

func newTestEngine(t *testing.T) (*Engine, *recordingDelegator) {
	t.Helper()

	directory := tickers.NewStaticDirectory()
	delegator := &recordingDelegator{}

	engine, err := NewEngine(Config{
		Resolver:    directory,
		Classifier:  directory,
		Delegator:   delegator,
		TargetAgent: "stock-analyser",
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	return engine, delegator
}

func TestNewEngineValidation(t *testing.T) {
	directory := tickers.NewStaticDirectory()

	_, err := NewEngine(Config{Classifier: directory, Delegator: &recordingDelegator{}, TargetAgent: "x"})
	assert.ErrorContains(t, err, "resolver")

	_, err = NewEngine(Config{Resolver: directory, Delegator: &recordingDelegator{}, TargetAgent: "x"})
	assert.ErrorContains(t, err, "classifier")

	_, err = NewEngine(Config{Resolver: directory, Classifier: directory, TargetAgent: "x"})
	assert.ErrorContains(t, err, "delegator")

	_, err = NewEngine(Config{Resolver: directory, Classifier: directory, Delegator: &recordingDelegator{}})
	assert.ErrorContains(t, err, "target agent")
}

func TestSetMarketPreference(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "US", want: "US"},
		{input: "usa", want: "US"},
		{input: "United States", want: "US"},
		{input: "America", want: "US"},
		{input: "  us  ", want: "US"},
		{input: "IND", want: "INDIA"},
		{input: "india", want: "INDIA"},
		{input: "Indian", want: "INDIA"},
		{input: "Bharat", want: "INDIA"},
		{input: "Germany", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			engine, _ := newTestEngine(t)
			state := NewConversationState()

			got, err := engine.SetMarketPreference(state, tt.input)
			if tt.wantErr {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, "", state.MarketPreference)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, engine.GetMarketPreference(state))
		})
	}
}

func TestGetMarketPreferenceUnset(t *testing.T) {
	engine, _ := newTestEngine(t)
	assert.Equal(t, MarketUnset, engine.GetMarketPreference(NewConversationState()))
}

func TestSetInvestmentAmount(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()

	var verr *ValidationError
	require.ErrorAs(t, engine.SetInvestmentAmount(state, 0), &verr)
	require.ErrorAs(t, engine.SetInvestmentAmount(state, -100), &verr)
	assert.Equal(t, float64(0), engine.GetInvestmentAmount(state))

	require.NoError(t, engine.SetInvestmentAmount(state, 2500.50))
	assert.Equal(t, 2500.50, engine.GetInvestmentAmount(state))
}

func TestSetDiversificationPreferenceVerbatim(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()

	var verr *ValidationError
	require.ErrorAs(t, engine.SetDiversificationPreference(state, "   "), &verr)

	text := "I want roughly 60% in large cap tech, 30% in index funds, and I am " +
		"willing to keep 10% in speculative small caps as long as nothing is leveraged."
	require.NoError(t, engine.SetDiversificationPreference(state, text))
	assert.Equal(t, text, engine.GetDiversificationPreference(state))
}

func TestAddExistingStocksDeduplicates(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()

	got := engine.AddExistingStocks(state, []string{"aapl", "AAPL", "Aapl"})
	assert.Equal(t, []string{"AAPL"}, got)

	// Repeating the call with overlap appends only the new symbol.
	got = engine.AddExistingStocks(state, []string{"AAPL", "msft"})
	assert.Equal(t, []string{"AAPL", "MSFT"}, got)
}

func TestAddExistingStocksEmptyListSatisfiesPortfolio(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()

	got := engine.AddExistingStocks(state, nil)
	assert.Empty(t, got)
	assert.True(t, state.PortfolioProvided)
}

func TestAddNewStocksRequiresMarket(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()

	_, err := engine.AddNewStocks(context.Background(), state, []string{"AAPL"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, state.NewStocks)
}

func TestAddNewStocksResolvesNames(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()
	state.MarketPreference = "US"

	got, err := engine.AddNewStocks(context.Background(), state, []string{"apple", "NVDA"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "NVDA"}, got)
}

func TestAddNewStocksRejectsMixedMarkets(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()
	state.MarketPreference = "US"
	state.NewStocks = []string{"AAPL"}

	_, err := engine.AddNewStocks(context.Background(), state, []string{"MSFT", "RELIANCE.NS"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "RELIANCE.NS")
	assert.Contains(t, verr.Error(), "mixes markets")

	// All-or-nothing: the valid half of the batch must not land either.
	assert.Equal(t, []string{"AAPL"}, state.NewStocks)
}

func TestAddNewStocksRejectsUnresolvable(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()
	state.MarketPreference = "US"

	_, err := engine.AddNewStocks(context.Background(), state, []string{"definitely not a company"})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Error(), "could not be resolved")
	assert.Empty(t, state.NewStocks)
}

func TestStoreShareCount(t *testing.T) {
	engine, _ := newTestEngine(t)
	state := NewConversationState()

	var verr *ValidationError
	require.ErrorAs(t, engine.StoreShareCount(state, "", 5), &verr)
	require.ErrorAs(t, engine.StoreShareCount(state, "AAPL", 0), &verr)

	require.NoError(t, engine.StoreShareCount(state, "aapl", 10))
	require.NoError(t, engine.StoreShareCount(state, "AAPL", 12))
	assert.Equal(t, map[string]float64{"AAPL": 12}, state.ShareCounts)
}

func completeState() *ConversationState {
	state := NewConversationState()
	state.MarketPreference = "US"
	state.PortfolioProvided = true
	state.ExistingPortfolioStocks = []string{"AAPL"}
	state.NewStocks = []string{"NVDA"}
	state.ShareCounts = map[string]float64{"AAPL": 10}
	state.InvestmentAmount = 10000
	state.DiversificationPreference = "balanced growth"
	return state
}

func TestStoreReceiverEmailRejectsInvalid(t *testing.T) {
	engine, delegator := newTestEngine(t)

	for _, email := range []string{"", "no-at-sign", "@example.com", "user@"} {
		_, _, err := engine.StoreReceiverEmail(context.Background(), completeState(), email)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, "email %q", email)
	}
	assert.Zero(t, delegator.calls)
}

func TestStoreReceiverEmailBeforeGate(t *testing.T) {
	engine, delegator := newTestEngine(t)
	state := completeState()
	state.InvestmentAmount = 0

	message, dispatched, err := engine.StoreReceiverEmail(context.Background(), state, "user@example.com")
	require.NoError(t, err)

	assert.False(t, dispatched)
	assert.Zero(t, delegator.calls)
	assert.Equal(t, "user@example.com", state.ReceiverEmail)
	assert.Contains(t, message, "investment amount")
	assert.NotContains(t, message, CompletionMessage)
}

func TestStoreReceiverEmailDispatches(t *testing.T) {
	engine, delegator := newTestEngine(t)
	state := completeState()

	message, dispatched, err := engine.StoreReceiverEmail(context.Background(), state, " user@example.com ")
	require.NoError(t, err)

	assert.True(t, dispatched)
	assert.Equal(t, CompletionMessage, message)
	assert.Equal(t, "user@example.com", state.ReceiverEmail)

	require.Equal(t, 1, delegator.calls)
	assert.Equal(t, "stock-analyser", delegator.agent)
	assert.Contains(t, delegator.task, "MARKET: US")
	assert.Contains(t, delegator.task, "TICKERS: AAPL, NVDA")
	assert.Contains(t, delegator.task, "EMAIL_TO: user@example.com")
}

func TestStoreReceiverEmailCompletesOnLastFact(t *testing.T) {
	// Facts arrive in an arbitrary order; the email being last still
	// triggers exactly one dispatch.
	engine, delegator := newTestEngine(t)
	state := NewConversationState()
	ctx := context.Background()

	_, err := engine.SetMarketPreference(state, "usa")
	require.NoError(t, err)
	require.NoError(t, engine.SetInvestmentAmount(state, 5000))
	engine.AddExistingStocks(state, nil)
	_, err = engine.AddNewStocks(ctx, state, []string{"microsoft"})
	require.NoError(t, err)
	require.NoError(t, engine.SetDiversificationPreference(state, "index heavy"))

	message, dispatched, err := engine.StoreReceiverEmail(ctx, state, "user@example.com")
	require.NoError(t, err)
	assert.True(t, dispatched)
	assert.Equal(t, CompletionMessage, message)
	assert.Equal(t, 1, delegator.calls)
	assert.Equal(t, StepDispatched, state.Step())
}

func TestAnalyzeAllStocks(t *testing.T) {
	engine, _ := newTestEngine(t)

	t.Run("no stocks", func(t *testing.T) {
		task := engine.AnalyzeAllStocks(NewConversationState())
		assert.Contains(t, task, "nothing to analyze")
	})

	t.Run("full state", func(t *testing.T) {
		state := completeState()
		state.ShareCounts["NVDA"] = 3
		state.ReceiverEmail = "user@example.com"

		task := engine.AnalyzeAllStocks(state)
		assert.Contains(t, task, "MARKET: US")
		assert.Contains(t, task, "TICKERS: AAPL, NVDA")
		assert.Contains(t, task, "INVESTMENT_AMOUNT: 10000.00")
		assert.Contains(t, task, "STRATEGY: balanced growth")
		assert.Contains(t, task, "AAPL: 10")
		assert.Contains(t, task, "NVDA: 3")
		assert.Contains(t, task, "must not receive a SELL recommendation")
		assert.Contains(t, task, "EMAIL_TO: user@example.com")
	})

	t.Run("prior report context", func(t *testing.T) {
		state := completeState()
		engine.ApplyReportResponse(state, "previous allocation: 60/40")

		task := engine.AnalyzeAllStocks(state)
		assert.Contains(t, task, "PRIOR_REPORT_CONTEXT:\nprevious allocation: 60/40")
	})
}
