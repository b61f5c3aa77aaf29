package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/pranavk/stockpilot/pkg/toolregistry"
)

// BindOperations registers the engine's operations on a registry, bound to
// one session's state. The dispatcher builds a fresh binding every turn so
// the driver only ever holds operation names, never state references.
//
// Validation failures surface as operation output (an itemized explanation
// the driver relays to the user), not as handler errors.
func BindOperations(reg *toolregistry.Registry, eng *Engine, state *ConversationState) error {
	defs := []toolregistry.Definition{
		{
			Name:        "get_workflow_status",
			Description: "Returns the current collection step and which facts are still missing.",
			Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
				return map[string]interface{}{
					"step":             string(state.Step()),
					"missing_facts":    state.MissingFacts(),
					"market":           eng.GetMarketPreference(state),
					"stocks_collected": state.AllStocks(),
				}, nil
			},
		},
		{
			Name:        "get_market_preference",
			Description: "Returns the user's market preference, or UNSET.",
			Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
				return eng.GetMarketPreference(state), nil
			},
		},
		{
			Name:        "set_market_preference",
			Description: "Stores the user's market preference. Accepts US or INDIA and common synonyms.",
			Parameters: []toolregistry.Parameter{
				{Name: "market", Type: "string", Description: "Market name as the user said it", Required: true},
			},
			Handler: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
				stored, err := eng.SetMarketPreference(state, stringParam(params, "market"))
				if out, handled := validationOutput(err); handled {
					return out, nil
				}
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Market preference set to %s", stored), nil
			},
		},
		{
			Name:        "get_investment_amount",
			Description: "Returns the investable amount; 0 means not set yet.",
			Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
				return eng.GetInvestmentAmount(state), nil
			},
		},
		{
			Name:        "set_investment_amount",
			Description: "Stores the amount the user wants to invest. Must be greater than zero.",
			Parameters: []toolregistry.Parameter{
				{Name: "amount", Type: "number", Description: "Investable amount", Required: true},
			},
			Handler: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
				amount := numberParam(params, "amount")
				err := eng.SetInvestmentAmount(state, amount)
				if out, handled := validationOutput(err); handled {
					return out, nil
				}
				if err != nil {
					return nil, err
				}
				return fmt.Sprintf("Investment amount set to %.2f", amount), nil
			},
		},
		{
			Name:        "get_diversification_preference",
			Description: "Returns the user's investment strategy text verbatim.",
			Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
				return eng.GetDiversificationPreference(state), nil
			},
		},
		{
			Name:        "set_diversification_preference",
			Description: "Stores the user's complete strategy text exactly as written. Do not paraphrase or shorten it.",
			Parameters: []toolregistry.Parameter{
				{Name: "text", Type: "string", Description: "The user's full strategy statement", Required: true},
			},
			Handler: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
				err := eng.SetDiversificationPreference(state, stringParam(params, "text"))
				if out, handled := validationOutput(err); handled {
					return out, nil
				}
				if err != nil {
					return nil, err
				}
				return "Strategy recorded", nil
			},
		},
		{
			Name:        "add_existing_stocks",
			Description: "Records tickers the user already holds. Pass an empty list if the user holds nothing.",
			Parameters: []toolregistry.Parameter{
				{Name: "stocks", Type: "array", Items: "string", Description: "Ticker symbols currently held", Required: true},
			},
			Handler: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
				return eng.AddExistingStocks(state, stringListParam(params, "stocks")), nil
			},
		},
		{
			Name:        "add_new_stocks",
			Description: "Adds stocks the user wants analyzed beyond their portfolio. Accepts tickers or company names; the whole batch is rejected if any stock is from the wrong market.",
			Parameters: []toolregistry.Parameter{
				{Name: "stocks", Type: "array", Items: "string", Description: "Stock names or tickers to add", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				added, err := eng.AddNewStocks(ctx, state, stringListParam(params, "stocks"))
				if out, handled := validationOutput(err); handled {
					return out, nil
				}
				if err != nil {
					return nil, err
				}
				return added, nil
			},
		},
		{
			Name:        "store_share_count",
			Description: "Records how many shares of a ticker the user holds. Approximate counts are fine.",
			Parameters: []toolregistry.Parameter{
				{Name: "ticker", Type: "string", Description: "Ticker symbol", Required: true},
				{Name: "shares", Type: "number", Description: "Approximate share count", Required: true},
			},
			Handler: func(_ context.Context, params map[string]interface{}) (interface{}, error) {
				err := eng.StoreShareCount(state, stringParam(params, "ticker"), numberParam(params, "shares"))
				if out, handled := validationOutput(err); handled {
					return out, nil
				}
				if err != nil {
					return nil, err
				}
				return "Share count recorded", nil
			},
		},
		{
			Name:        "store_receiver_email",
			Description: "Stores the email address for the report. When all facts are collected this starts the analysis and ends the conversation.",
			Parameters: []toolregistry.Parameter{
				{Name: "email", Type: "string", Description: "Destination email address", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				message, dispatched, err := eng.StoreReceiverEmail(ctx, state, stringParam(params, "email"))
				if out, handled := validationOutput(err); handled {
					return out, nil
				}
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"message":    message,
					"dispatched": dispatched,
				}, nil
			},
		},
		{
			Name:        "analyze_all_stocks",
			Description: "Builds the analysis task from everything collected so far. Informational; delegation happens automatically once the email is stored.",
			Handler: func(_ context.Context, _ map[string]interface{}) (interface{}, error) {
				return eng.AnalyzeAllStocks(state), nil
			},
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("failed to bind operation %s: %w", def.Name, err)
		}
	}
	return nil
}

// validationOutput converts a ValidationError into in-conversation output
func validationOutput(err error) (interface{}, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Error(), true
	}
	return nil, false
}

func stringParam(params map[string]interface{}, name string) string {
	if v, ok := params[name].(string); ok {
		return v
	}
	return ""
}

func numberParam(params map[string]interface{}, name string) float64 {
	switch v := params[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func stringListParam(params map[string]interface{}, name string) []string {
	raw, ok := params[name].([]interface{})
	if !ok {
		if list, ok := params[name].([]string); ok {
			return list
		}
		return nil
	}
	list := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			list = append(list, s)
		}
	}
	return list
}
