// Package dto holds the validated transfer objects that bridge raw provider
// and file data into storage-ready records. Instances are never persisted
// as-is; they are validated at construction and all monetary fields use
// fixed-point decimals. Optional fields are pointers so "unset" is explicit
// and never silently coerced to zero.
package dto

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fundsync/internal/errors"
)

// FundInfo describes one instrument as reported by a provider.
type FundInfo struct {
	Ticker        string
	Name          string
	Currency      *string
	ExpenseRatio  *decimal.Decimal
	InceptionDate *time.Time
	AUM           *decimal.Decimal
	Description   *string
}

// NewFundInfo validates and returns a FundInfo. All field violations are
// collected before failing.
func NewFundInfo(info FundInfo) (FundInfo, error) {
	var violations []string

	if info.Ticker == "" {
		violations = append(violations, "ticker is required")
	}
	if info.Name == "" {
		violations = append(violations, "name is required")
	}
	if info.Currency != nil && !ValidCurrency(*info.Currency) {
		violations = append(violations, fmt.Sprintf("currency %q is not a known ISO-4217 code", *info.Currency))
	}
	if info.ExpenseRatio != nil && info.ExpenseRatio.IsNegative() {
		violations = append(violations, "expense_ratio must not be negative")
	}
	if info.AUM != nil && info.AUM.IsNegative() {
		violations = append(violations, "aum must not be negative")
	}

	if len(violations) > 0 {
		return FundInfo{}, errors.NewInvalidDataError("FundInfo", violations)
	}
	return info, nil
}

// PerformancePoint is one historical price observation.
type PerformancePoint struct {
	Ticker string
	Date   time.Time
	Close  *decimal.Decimal
	Open   *decimal.Decimal
	High   *decimal.Decimal
	Low    *decimal.Decimal
	Volume *decimal.Decimal
}

// NewPerformancePoint validates and returns a PerformancePoint. Ticker, date
// and close price are required; OHLC extremes and volume are optional.
func NewPerformancePoint(point PerformancePoint) (PerformancePoint, error) {
	var violations []string

	if point.Ticker == "" {
		violations = append(violations, "ticker is required")
	}
	if point.Date.IsZero() {
		violations = append(violations, "date is required")
	}
	if point.Close == nil {
		violations = append(violations, "close_price is required")
	} else if !point.Close.IsPositive() {
		violations = append(violations, "close_price must be positive")
	}
	for name, v := range map[string]*decimal.Decimal{
		"open_price": point.Open,
		"high_price": point.High,
		"low_price":  point.Low,
	} {
		if v != nil && !v.IsPositive() {
			violations = append(violations, fmt.Sprintf("%s must be positive", name))
		}
	}
	if point.Volume != nil && point.Volume.IsNegative() {
		violations = append(violations, "volume must not be negative")
	}
	if point.High != nil && point.Low != nil && point.High.LessThan(*point.Low) {
		violations = append(violations, "high_price must not be below low_price")
	}

	if len(violations) > 0 {
		return PerformancePoint{}, errors.NewInvalidDataError("PerformancePoint", violations)
	}
	return point, nil
}

// Holding is one portfolio constituent of a fund.
type Holding struct {
	Ticker      string
	Name        string
	Weight      *decimal.Decimal
	Shares      *decimal.Decimal
	MarketValue *decimal.Decimal
	Sector      *string
}

// NewHolding validates and returns a Holding. Ticker, name and weight are
// required; weight is a percentage in [0,100].
func NewHolding(holding Holding) (Holding, error) {
	var violations []string

	if holding.Ticker == "" {
		violations = append(violations, "ticker is required")
	}
	if holding.Name == "" {
		violations = append(violations, "name is required")
	}
	if holding.Weight == nil {
		violations = append(violations, "weight is required")
	} else if holding.Weight.IsNegative() || holding.Weight.GreaterThan(decimal.NewFromInt(100)) {
		violations = append(violations, "weight must be between 0 and 100")
	}
	if holding.Shares != nil && holding.Shares.IsNegative() {
		violations = append(violations, "shares must not be negative")
	}
	if holding.MarketValue != nil && holding.MarketValue.IsNegative() {
		violations = append(violations, "market_value must not be negative")
	}

	if len(violations) > 0 {
		return Holding{}, errors.NewInvalidDataError("Holding", violations)
	}
	return holding, nil
}
