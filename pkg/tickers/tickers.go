// Package tickers defines the symbol-resolution and market-classification
// boundary consumed by the workflow engine, plus a static directory
// implementation covering the supported exchanges.
package tickers

import (
	"context"
	"fmt"
)

// Market identifies a supported exchange region
type Market string

const (
	MarketUS    Market = "US"
	MarketIndia Market = "INDIA"
)

// Resolution maps one free-text input to a ticker symbol
type Resolution struct {
	Input    string `json:"input"`
	Symbol   string `json:"symbol,omitempty"`
	Resolved bool   `json:"resolved"`
}

// Rejection explains why a symbol failed market classification
type Rejection struct {
	Symbol         string `json:"symbol"`
	ApparentMarket Market `json:"apparent_market,omitempty"`
	Reason         string `json:"reason"`
}

func (r Rejection) String() string {
	if r.ApparentMarket != "" {
		return fmt.Sprintf("%s (appears to be %s): %s", r.Symbol, r.ApparentMarket, r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Symbol, r.Reason)
}

// Resolver resolves free-text stock names to ticker symbols
type Resolver interface {
	Resolve(ctx context.Context, inputs []string) ([]Resolution, error)
}

// Classifier validates tickers against an expected market. The returned
// slices partition the input: every symbol lands in exactly one of them.
type Classifier interface {
	Classify(ctx context.Context, symbols []string, expected Market) (valid []string, invalid []Rejection, err error)
}
