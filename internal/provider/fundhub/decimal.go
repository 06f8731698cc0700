package fundhub

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// parseDecimal converts an optional string field to a decimal, appending a
// violation instead of failing so the caller can report every bad field at
// once.
func parseDecimal(raw *string, field string, violations *[]string) *decimal.Decimal {
	if raw == nil {
		return nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		*violations = append(*violations, fmt.Sprintf("%s %q is not a valid decimal", field, *raw))
		return nil
	}
	return &d
}
