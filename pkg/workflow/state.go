package workflow

import (
	"encoding/json"
	"fmt"
)

// SchemaVersion is the current persisted state schema version
const SchemaVersion = 1

// Step is the derived position in the collection workflow. It is always
// recomputed from data and never persisted, so a crash mid-turn cannot
// desynchronize step from facts.
type Step string

const (
	StepNeedMarket           Step = "NEED_MARKET"
	StepNeedPortfolio        Step = "NEED_PORTFOLIO"
	StepNeedShareCounts      Step = "NEED_SHARE_COUNTS"
	StepNeedAmount           Step = "NEED_AMOUNT"
	StepNeedStrategy         Step = "NEED_STRATEGY"
	StepNeedAdditionalStocks Step = "NEED_ADDITIONAL_STOCKS"
	StepNeedEmail            Step = "NEED_EMAIL"
	StepDispatched           Step = "DISPATCHED"
)

// ConversationState is the durable fact-set for one session. It is owned
// exclusively by the workflow engine and persisted opaquely by the state
// store. All fields are fully defaulted on creation; none are ever nil.
type ConversationState struct {
	SchemaVersion int `json:"schema_version"`

	// MarketPreference holds a normalized market value; empty means unset.
	MarketPreference string `json:"market_preference"`

	// InvestmentAmount of 0 means unset.
	InvestmentAmount float64 `json:"investment_amount"`

	// DiversificationPreference is stored verbatim, never summarized.
	DiversificationPreference string `json:"diversification_preference"`

	// PortfolioProvided records that the user answered the portfolio
	// question, including "I hold nothing".
	PortfolioProvided bool `json:"portfolio_provided"`

	// ExistingPortfolioStocks and NewStocks are ordered, deduplicated
	// uppercase ticker sets.
	ExistingPortfolioStocks []string `json:"existing_portfolio_stocks"`
	NewStocks               []string `json:"new_stocks"`

	// ShareCounts holds per-ticker share counts, added only when the
	// user supplied one.
	ShareCounts map[string]float64 `json:"share_counts"`

	ReceiverEmail string `json:"receiver_email"`

	// StockReportResponse is the last generated report text, used as
	// context for re-delegation.
	StockReportResponse string `json:"stock_report_response"`
}

// NewConversationState returns a fully-defaulted state
func NewConversationState() *ConversationState {
	return &ConversationState{
		SchemaVersion:           SchemaVersion,
		ExistingPortfolioStocks: []string{},
		NewStocks:               []string{},
		ShareCounts:             map[string]float64{},
	}
}

// Marshal serializes the state for the state store
func (s *ConversationState) Marshal() ([]byte, error) {
	blob, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conversation state: %w", err)
	}
	return blob, nil
}

// UnmarshalConversationState restores a state blob. Missing fields load as
// defaults so older blobs keep working after schema additions.
func UnmarshalConversationState(blob []byte) (*ConversationState, error) {
	state := NewConversationState()
	if err := json.Unmarshal(blob, state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation state: %w", err)
	}
	if state.ExistingPortfolioStocks == nil {
		state.ExistingPortfolioStocks = []string{}
	}
	if state.NewStocks == nil {
		state.NewStocks = []string{}
	}
	if state.ShareCounts == nil {
		state.ShareCounts = map[string]float64{}
	}
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	return state, nil
}

// AllStocks returns the portfolio and new stocks as one ordered set
func (s *ConversationState) AllStocks() []string {
	seen := make(map[string]bool, len(s.ExistingPortfolioStocks)+len(s.NewStocks))
	all := make([]string, 0, len(s.ExistingPortfolioStocks)+len(s.NewStocks))
	for _, ticker := range s.ExistingPortfolioStocks {
		if !seen[ticker] {
			seen[ticker] = true
			all = append(all, ticker)
		}
	}
	for _, ticker := range s.NewStocks {
		if !seen[ticker] {
			seen[ticker] = true
			all = append(all, ticker)
		}
	}
	return all
}

// GateSatisfied reports whether every completion predicate holds. The four
// predicates are independently settable, so facts may arrive in any order.
func (s *ConversationState) GateSatisfied() bool {
	return s.PortfolioProvided &&
		s.InvestmentAmount > 0 &&
		len(s.AllStocks()) > 0 &&
		s.DiversificationPreference != ""
}

// MissingFacts lists the completion predicates that do not hold yet
func (s *ConversationState) MissingFacts() []string {
	var missing []string
	if !s.PortfolioProvided {
		missing = append(missing, "current portfolio holdings")
	}
	if s.InvestmentAmount <= 0 {
		missing = append(missing, "investment amount")
	}
	if len(s.AllStocks()) == 0 {
		missing = append(missing, "at least one stock to analyze")
	}
	if s.DiversificationPreference == "" {
		missing = append(missing, "investment strategy")
	}
	return missing
}

// Step derives the current workflow position from the collected facts
func (s *ConversationState) Step() Step {
	if s.ReceiverEmail != "" && s.GateSatisfied() {
		return StepDispatched
	}
	if s.MarketPreference == "" {
		return StepNeedMarket
	}
	if !s.PortfolioProvided {
		return StepNeedPortfolio
	}
	if len(s.ExistingPortfolioStocks) > 0 && len(s.ShareCounts) == 0 && s.InvestmentAmount <= 0 {
		return StepNeedShareCounts
	}
	if s.InvestmentAmount <= 0 {
		return StepNeedAmount
	}
	if s.DiversificationPreference == "" {
		return StepNeedStrategy
	}
	if len(s.AllStocks()) == 0 {
		return StepNeedAdditionalStocks
	}
	if len(s.NewStocks) == 0 && s.ReceiverEmail == "" {
		return StepNeedAdditionalStocks
	}
	return StepNeedEmail
}
