// Package workflow implements the durable fact-set and the operations the
// reasoning driver may invoke against it. Every operation is a pure
// function of the passed state plus input and is safe under redundant or
// reordered invocation within and across turns.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pranavk/stockpilot/internal/observability"
	"github.com/pranavk/stockpilot/pkg/tickers"
)

// CompletionMessage is the fixed reply once the analysis is dispatched. It
// is independent of delegation outcome so user-perceived latency stays
// decoupled from worker execution time.
const CompletionMessage = "Stock analysis in progress, we will email you the stock allocation report"

const (
	// MarketUnset is the getter representation of an empty preference
	MarketUnset = "UNSET"

	marketUS    = string(tickers.MarketUS)
	marketIndia = string(tickers.MarketIndia)
)

var marketSynonyms = map[string]string{
	"US":                       marketUS,
	"USA":                      marketUS,
	"UNITED STATES":            marketUS,
	"UNITED STATES OF AMERICA": marketUS,
	"AMERICA":                  marketUS,
	"IND":                      marketIndia,
	"INDIA":                    marketIndia,
	"INDIAN":                   marketIndia,
	"BHARAT":                   marketIndia,
}

// Delegator hands an assembled analysis task to a worker without the
// caller ever awaiting the outcome.
type Delegator interface {
	DelegateBackground(ctx context.Context, agentName, task string)
}

// Engine executes workflow operations. It holds no per-session state;
// session and state are threaded explicitly through every call.
type Engine struct {
	resolver    tickers.Resolver
	classifier  tickers.Classifier
	delegator   Delegator
	targetAgent string
	logger      zerolog.Logger
}

// Config holds engine dependencies
type Config struct {
	Resolver    tickers.Resolver
	Classifier  tickers.Classifier
	Delegator   Delegator
	TargetAgent string
	Logger      zerolog.Logger
}

// NewEngine creates a workflow engine
func NewEngine(cfg Config) (*Engine, error) {
	observability.EnsureRegistered()

	if cfg.Resolver == nil {
		return nil, fmt.Errorf("ticker resolver is required")
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("market classifier is required")
	}
	if cfg.Delegator == nil {
		return nil, fmt.Errorf("delegator is required")
	}
	if cfg.TargetAgent == "" {
		return nil, fmt.Errorf("target agent name is required")
	}

	return &Engine{
		resolver:    cfg.Resolver,
		classifier:  cfg.Classifier,
		delegator:   cfg.Delegator,
		targetAgent: cfg.TargetAgent,
		logger:      cfg.Logger,
	}, nil
}

// GetMarketPreference returns the stored preference or MarketUnset
func (e *Engine) GetMarketPreference(state *ConversationState) string {
	if state.MarketPreference == "" {
		return MarketUnset
	}
	return state.MarketPreference
}

// SetMarketPreference normalizes and stores the market. Unrecognized input
// fails with a ValidationError naming the accepted options.
func (e *Engine) SetMarketPreference(state *ConversationState, input string) (string, error) {
	normalized, ok := marketSynonyms[strings.ToUpper(strings.TrimSpace(input))]
	if !ok {
		return "", newValidationError(
			"%q is not a supported market; the accepted options are US and INDIA", input)
	}

	state.MarketPreference = normalized
	return normalized, nil
}

// GetInvestmentAmount returns the amount; 0 means unset
func (e *Engine) GetInvestmentAmount(state *ConversationState) float64 {
	return state.InvestmentAmount
}

// SetInvestmentAmount stores the amount; it must be positive to count as set
func (e *Engine) SetInvestmentAmount(state *ConversationState, amount float64) error {
	if amount <= 0 {
		return newValidationError("investment amount must be greater than zero, got %v", amount)
	}
	state.InvestmentAmount = amount
	return nil
}

// GetDiversificationPreference returns the stored strategy text verbatim
func (e *Engine) GetDiversificationPreference(state *ConversationState) string {
	return state.DiversificationPreference
}

// SetDiversificationPreference stores the complete raw text. No
// paraphrasing or keyword extraction: the full user intent is preserved
// for later delegation.
func (e *Engine) SetDiversificationPreference(state *ConversationState, text string) error {
	if strings.TrimSpace(text) == "" {
		return newValidationError("diversification preference cannot be empty")
	}
	state.DiversificationPreference = text
	return nil
}

// AddExistingStocks records current holdings: uppercase, deduplicated,
// append-only. An empty list still marks the portfolio as provided, which
// is how "I hold nothing" satisfies the portfolio gate predicate.
func (e *Engine) AddExistingStocks(state *ConversationState, list []string) []string {
	state.PortfolioProvided = true
	state.ExistingPortfolioStocks = appendTickers(state.ExistingPortfolioStocks, list)
	return state.ExistingPortfolioStocks
}

// AddNewStocks resolves free-text names to tickers and validates every
// resolved ticker against the session market. Validation is all-or-nothing:
// one bad ticker rejects the entire batch with an itemized explanation and
// nothing is added.
func (e *Engine) AddNewStocks(ctx context.Context, state *ConversationState, names []string) ([]string, error) {
	if state.MarketPreference == "" {
		return nil, newValidationError("a market preference must be set before adding stocks")
	}
	if len(names) == 0 {
		return state.NewStocks, nil
	}

	resolutions, err := e.resolver.Resolve(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("symbol resolution failed: %w", err)
	}

	var symbols []string
	var unresolved []tickers.Rejection
	for _, r := range resolutions {
		if !r.Resolved {
			unresolved = append(unresolved, tickers.Rejection{
				Symbol: r.Input,
				Reason: "could not be resolved to a ticker symbol",
			})
			continue
		}
		symbols = append(symbols, r.Symbol)
	}
	if len(unresolved) > 0 {
		return nil, &ValidationError{
			Message:    "some stocks could not be added:",
			Rejections: unresolved,
		}
	}

	valid, invalid, err := e.classifier.Classify(ctx, symbols, tickers.Market(state.MarketPreference))
	if err != nil {
		return nil, fmt.Errorf("market classification failed: %w", err)
	}
	if len(invalid) > 0 {
		// Rejecting the whole batch keeps the portfolio from silently
		// mixing tickers across markets.
		return nil, &ValidationError{
			Message:    "no stocks were added because the batch mixes markets:",
			Rejections: invalid,
		}
	}

	state.NewStocks = appendTickers(state.NewStocks, valid)
	return state.NewStocks, nil
}

// StoreShareCount upserts an approximate share count for a ticker
func (e *Engine) StoreShareCount(state *ConversationState, ticker string, shares float64) error {
	symbol := strings.ToUpper(strings.TrimSpace(ticker))
	if symbol == "" {
		return newValidationError("ticker cannot be empty")
	}
	if shares <= 0 {
		return newValidationError("share count for %s must be greater than zero", symbol)
	}
	state.ShareCounts[symbol] = shares
	return nil
}

// StoreReceiverEmail stores the report destination and doubles as the
// workflow completion trigger: when every gate predicate holds it
// assembles the analysis task and requests fire-and-forget delegation.
// The returned message is fixed on completion regardless of delegation
// outcome; otherwise it lists the facts still missing.
func (e *Engine) StoreReceiverEmail(ctx context.Context, state *ConversationState, email string) (string, bool, error) {
	trimmed := strings.TrimSpace(email)
	if !strings.Contains(trimmed, "@") || strings.HasPrefix(trimmed, "@") || strings.HasSuffix(trimmed, "@") {
		return "", false, newValidationError("%q does not look like a valid email address", email)
	}

	state.ReceiverEmail = trimmed

	if !state.GateSatisfied() {
		missing := state.MissingFacts()
		return fmt.Sprintf(
			"Email saved. Before I can start the analysis I still need: %s.",
			strings.Join(missing, ", ")), false, nil
	}

	task := e.AnalyzeAllStocks(state)

	e.logger.Info().
		Str("agent", e.targetAgent).
		Int("stocks", len(state.AllStocks())).
		Msg("Completion gate satisfied, dispatching analysis")

	e.delegator.DelegateBackground(ctx, e.targetAgent, task)

	return CompletionMessage, true, nil
}

// AnalyzeAllStocks builds the delegation task text from the current state.
// When no stocks exist it returns an explanatory string rather than an
// error, matching the operation contract the driver sees.
func (e *Engine) AnalyzeAllStocks(state *ConversationState) string {
	all := state.AllStocks()
	if len(all) == 0 {
		return "No stocks have been collected yet, so there is nothing to analyze. Add portfolio or new stocks first."
	}

	var b strings.Builder
	b.WriteString("Analyze the following stocks and produce an allocation report.\n")
	fmt.Fprintf(&b, "MARKET: %s\n", state.MarketPreference)
	fmt.Fprintf(&b, "TICKERS: %s\n", strings.Join(all, ", "))
	fmt.Fprintf(&b, "INVESTMENT_AMOUNT: %.2f\n", state.InvestmentAmount)
	fmt.Fprintf(&b, "STRATEGY: %s\n", state.DiversificationPreference)

	if len(state.ShareCounts) > 0 {
		symbols := make([]string, 0, len(state.ShareCounts))
		for symbol := range state.ShareCounts {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)

		b.WriteString("SHARE_COUNTS:\n")
		for _, symbol := range symbols {
			fmt.Fprintf(&b, "  %s: %v\n", symbol, state.ShareCounts[symbol])
		}
	}
	b.WriteString("Tickers without a share count above must not receive a SELL recommendation.\n")

	if state.ReceiverEmail != "" {
		fmt.Fprintf(&b, "EMAIL_TO: %s\n", state.ReceiverEmail)
	}
	if state.StockReportResponse != "" {
		fmt.Fprintf(&b, "PRIOR_REPORT_CONTEXT:\n%s\n", state.StockReportResponse)
	}

	return b.String()
}

// ApplyReportResponse records a worker-produced report for re-delegation
// context. This runs on the worker response path, outside any turn.
func (e *Engine) ApplyReportResponse(state *ConversationState, report string) {
	state.StockReportResponse = report
}

// appendTickers uppercases, deduplicates and appends while keeping order
func appendTickers(existing []string, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, symbol := range existing {
		seen[symbol] = true
	}
	for _, raw := range incoming {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		existing = append(existing, symbol)
	}
	return existing
}
