// Package ingest streams historical flat-file exports into the time-series
// store: one file per instrument pair, parsed row by row with constant
// memory, flushed in fixed-size idempotent batches.
package ingest

import (
	"sort"
	"strings"

	apperrors "fundsync/internal/errors"
)

// quoteCurrencies is the enumerated set of known quote-currency suffixes.
// Filename tokens are split by longest-suffix match against this set, so a
// variable-length base never produces an ambiguous split.
var quoteCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "CHF": {},
	"CAD": {}, "AUD": {},
	"USDT": {}, "USDC": {}, "DAI": {},
	"BTC": {}, "ETH": {}, "XBT": {},
}

// tickerAliases maps legacy exchange spellings to canonical tickers. Applied
// after the suffix split, to both sides of the pair.
var tickerAliases = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// quotesByLength holds the quote set sorted longest first, so the first
// matching suffix is always the longest one.
var quotesByLength = func() []string {
	quotes := make([]string, 0, len(quoteCurrencies))
	for q := range quoteCurrencies {
		quotes = append(quotes, q)
	}
	sort.Slice(quotes, func(i, j int) bool {
		if len(quotes[i]) != len(quotes[j]) {
			return len(quotes[i]) > len(quotes[j])
		}
		return quotes[i] < quotes[j]
	})
	return quotes
}()

// Pair is one instrument pair as split from a filename token. Base and Quote
// keep the raw spelling from the file; canonical forms go through the alias
// map.
type Pair struct {
	Base  string
	Quote string
}

// ParsePair splits a base-quote token by longest recognized quote-currency
// suffix. The base is whatever precedes the suffix and must be non-empty.
func ParsePair(token string) (Pair, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return Pair{}, apperrors.New(apperrors.ErrCodeInvalidInput, "empty pair token")
	}

	for _, quote := range quotesByLength {
		if len(token) > len(quote) && strings.HasSuffix(token, quote) {
			return Pair{
				Base:  token[:len(token)-len(quote)],
				Quote: quote,
			}, nil
		}
	}
	return Pair{}, apperrors.Newf(apperrors.ErrCodeInvalidInput,
		"no recognized quote currency suffix in %q", token)
}

// Canonical maps a legacy ticker spelling to its canonical form.
func Canonical(ticker string) string {
	if canonical, ok := tickerAliases[ticker]; ok {
		return canonical
	}
	return ticker
}

// CanonicalBase returns the base ticker in canonical spelling.
func (p Pair) CanonicalBase() string { return Canonical(p.Base) }

// CanonicalQuote returns the quote currency in canonical spelling.
func (p Pair) CanonicalQuote() string { return Canonical(p.Quote) }

func (p Pair) String() string { return p.Base + "/" + p.Quote }
