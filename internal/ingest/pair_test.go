package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePair(t *testing.T) {
	tests := []struct {
		token string
		base  string
		quote string
	}{
		{"BTCUSD", "BTC", "USD"},
		{"ETHEUR", "ETH", "EUR"},
		{"AAVEXBT", "AAVE", "XBT"},
		{"1INCHEUR", "1INCH", "EUR"},
		{"MATICUSDT", "MATIC", "USDT"},
		{"XDGUSD", "XDG", "USD"},
		{"SOLBTC", "SOL", "BTC"},
		{"linkusd", "LINK", "USD"},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			pair, err := ParsePair(tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.base, pair.Base)
			assert.Equal(t, tt.quote, pair.Quote)
		})
	}
}

func TestParsePairPrefersLongestQuoteSuffix(t *testing.T) {
	// USDT must win over USD when both are valid suffixes.
	pair, err := ParsePair("ADAUSDT")
	require.NoError(t, err)
	assert.Equal(t, "ADA", pair.Base)
	assert.Equal(t, "USDT", pair.Quote)
}

func TestParsePairRejectsUnknownSuffix(t *testing.T) {
	_, err := ParsePair("BTCXYZ")
	assert.Error(t, err)

	// A bare quote currency has an empty base.
	_, err = ParsePair("USD")
	assert.Error(t, err)

	_, err = ParsePair("")
	assert.Error(t, err)
}

func TestCanonicalAliases(t *testing.T) {
	pair, err := ParsePair("XDGXBT")
	require.NoError(t, err)
	assert.Equal(t, "XDG", pair.Base)
	assert.Equal(t, "XBT", pair.Quote)
	assert.Equal(t, "DOGE", pair.CanonicalBase())
	assert.Equal(t, "BTC", pair.CanonicalQuote())

	// Non-legacy spellings pass through unchanged.
	assert.Equal(t, "ETH", Canonical("ETH"))
}
