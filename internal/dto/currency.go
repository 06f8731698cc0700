package dto

// iso4217 is the set of currency codes accepted on validated payloads. It
// covers the fiat currencies the providers quote in.
var iso4217 = map[string]struct{}{
	"AUD": {}, "BRL": {}, "CAD": {}, "CHF": {}, "CNY": {}, "CZK": {},
	"DKK": {}, "EUR": {}, "GBP": {}, "HKD": {}, "HUF": {}, "IDR": {},
	"ILS": {}, "INR": {}, "JPY": {}, "KRW": {}, "MXN": {}, "NOK": {},
	"NZD": {}, "PLN": {}, "RUB": {}, "SEK": {}, "SGD": {}, "THB": {},
	"TRY": {}, "TWD": {}, "USD": {}, "ZAR": {},
}

// ValidCurrency reports whether code is an accepted ISO-4217 currency code.
func ValidCurrency(code string) bool {
	_, ok := iso4217[code]
	return ok
}
