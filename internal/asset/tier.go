package asset

// Static tier membership lists. New tickers seen during ingestion are
// classified against these; anything unrecognized lands in Tier4.
var (
	tier1Tickers = map[string]struct{}{
		"BTC": {}, "ETH": {},
	}

	tier2Tickers = map[string]struct{}{
		"ADA": {}, "AVAX": {}, "BNB": {}, "DOT": {}, "LINK": {},
		"LTC": {}, "MATIC": {}, "SOL": {}, "XRP": {},
	}

	tier3Tickers = map[string]struct{}{
		"AAVE": {}, "ALGO": {}, "ATOM": {}, "BCH": {}, "COMP": {},
		"DOGE": {}, "EOS": {}, "ETC": {}, "FIL": {}, "GRT": {},
		"ICP": {}, "MANA": {}, "MKR": {}, "NEAR": {}, "SAND": {},
		"SNX": {}, "SUSHI": {}, "TRX": {}, "UNI": {}, "XLM": {},
		"XMR": {}, "XTZ": {}, "ZEC": {},
	}
)

// ClassifyTier returns the tier for a ticker based on the static membership
// lists. Unmatched tickers default to Tier4.
func ClassifyTier(ticker string) Tier {
	if _, ok := tier1Tickers[ticker]; ok {
		return Tier1
	}
	if _, ok := tier2Tickers[ticker]; ok {
		return Tier2
	}
	if _, ok := tier3Tickers[ticker]; ok {
		return Tier3
	}
	return Tier4
}
