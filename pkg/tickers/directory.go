package tickers

import (
	"context"
	"regexp"
	"strings"
)

// entry describes one listed security
type entry struct {
	symbol string
	market Market
}

// StaticDirectory resolves and classifies tickers from a built-in table of
// the supported US and Indian large caps plus exchange suffix rules. It
// implements both Resolver and Classifier.
type StaticDirectory struct {
	bySymbol map[string]entry
	byAlias  map[string]string
}

var symbolPattern = regexp.MustCompile(`^[A-Z0-9&]{1,10}(\.[A-Z]{2})?$`)

// NewStaticDirectory creates a directory seeded with the supported
// financial, automobile and technology listings for both markets.
func NewStaticDirectory() *StaticDirectory {
	d := &StaticDirectory{
		bySymbol: make(map[string]entry),
		byAlias:  make(map[string]string),
	}

	us := []struct {
		symbol  string
		aliases []string
	}{
		{"AAPL", []string{"apple", "apple inc"}},
		{"MSFT", []string{"microsoft"}},
		{"GOOGL", []string{"google", "alphabet"}},
		{"AMZN", []string{"amazon"}},
		{"NVDA", []string{"nvidia"}},
		{"META", []string{"meta", "facebook"}},
		{"JPM", []string{"jpmorgan", "jp morgan"}},
		{"BAC", []string{"bank of america"}},
		{"WFC", []string{"wells fargo"}},
		{"GS", []string{"goldman sachs"}},
		{"MS", []string{"morgan stanley"}},
		{"V", []string{"visa"}},
		{"TSLA", []string{"tesla"}},
		{"F", []string{"ford"}},
		{"GM", []string{"general motors"}},
		{"RIVN", []string{"rivian"}},
	}
	india := []struct {
		symbol  string
		aliases []string
	}{
		{"RELIANCE.NS", []string{"reliance", "reliance industries"}},
		{"TCS.NS", []string{"tcs", "tata consultancy", "tata consultancy services"}},
		{"INFY.NS", []string{"infosys"}},
		{"WIPRO.NS", []string{"wipro"}},
		{"HCLTECH.NS", []string{"hcl", "hcl technologies"}},
		{"HDFCBANK.NS", []string{"hdfc", "hdfc bank"}},
		{"ICICIBANK.NS", []string{"icici", "icici bank"}},
		{"SBIN.NS", []string{"sbi", "state bank of india"}},
		{"KOTAKBANK.NS", []string{"kotak", "kotak mahindra bank"}},
		{"TATAMOTORS.NS", []string{"tata motors"}},
		{"MARUTI.NS", []string{"maruti", "maruti suzuki"}},
		{"M&M.NS", []string{"mahindra", "mahindra and mahindra"}},
		{"BAJAJ-AUTO.NS", []string{"bajaj", "bajaj auto"}},
	}

	for _, e := range us {
		d.add(e.symbol, MarketUS, e.aliases)
	}
	for _, e := range india {
		d.add(e.symbol, MarketIndia, e.aliases)
	}

	return d
}

func (d *StaticDirectory) add(symbol string, market Market, aliases []string) {
	d.bySymbol[symbol] = entry{symbol: symbol, market: market}
	d.byAlias[strings.ToLower(symbol)] = symbol
	for _, a := range aliases {
		d.byAlias[a] = symbol
	}
}

// Resolve maps free-text names to ticker symbols. Inputs that already look
// like tickers pass through uppercased; unknown prose comes back unresolved.
func (d *StaticDirectory) Resolve(_ context.Context, inputs []string) ([]Resolution, error) {
	resolutions := make([]Resolution, 0, len(inputs))
	for _, input := range inputs {
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}

		if symbol, ok := d.byAlias[strings.ToLower(trimmed)]; ok {
			resolutions = append(resolutions, Resolution{Input: input, Symbol: symbol, Resolved: true})
			continue
		}

		upper := strings.ToUpper(trimmed)
		if symbolPattern.MatchString(upper) {
			resolutions = append(resolutions, Resolution{Input: input, Symbol: upper, Resolved: true})
			continue
		}

		resolutions = append(resolutions, Resolution{Input: input, Resolved: false})
	}
	return resolutions, nil
}

// Classify partitions symbols into those listed on the expected market and
// those that are not, with a reason per rejection.
func (d *StaticDirectory) Classify(_ context.Context, symbols []string, expected Market) ([]string, []Rejection, error) {
	var valid []string
	var invalid []Rejection

	for _, symbol := range symbols {
		apparent := d.apparentMarket(symbol)
		if apparent == expected {
			valid = append(valid, symbol)
			continue
		}
		invalid = append(invalid, Rejection{
			Symbol:         symbol,
			ApparentMarket: apparent,
			Reason:         "listed on a different market than the session preference " + string(expected),
		})
	}

	return valid, invalid, nil
}

// apparentMarket derives the listing market from the directory table or,
// failing that, from the exchange suffix. Plain symbols default to US.
func (d *StaticDirectory) apparentMarket(symbol string) Market {
	if e, ok := d.bySymbol[symbol]; ok {
		return e.market
	}
	if strings.HasSuffix(symbol, ".NS") || strings.HasSuffix(symbol, ".BO") {
		return MarketIndia
	}
	return MarketUS
}
