// Package timeseries is the high-cardinality storage port: append-mostly,
// time-partitioned OHLCV and trade records in QuestDB, addressed over the
// Postgres wire protocol. Writes are idempotent upserts enforced by the
// table-level dedup keys, so re-ingesting a file produces zero net new rows.
package timeseries

import (
	"time"

	"github.com/shopspring/decimal"
)

// OHLCVRecord is one candlestick. Uniqueness key:
// (ticker, ts, source, interval_minutes).
type OHLCVRecord struct {
	Ticker          string          `json:"ticker"`
	Timestamp       time.Time       `json:"ts"`
	Open            decimal.Decimal `json:"open"`
	High            decimal.Decimal `json:"high"`
	Low             decimal.Decimal `json:"low"`
	Close           decimal.Decimal `json:"close"`
	Volume          decimal.Decimal `json:"volume"`
	TradeCount      int64           `json:"trade_count"`
	IntervalMinutes int             `json:"interval_minutes"`
	QuoteCurrency   string          `json:"quote_currency"`
	Source          string          `json:"source"`
}

// TradeRecord is one tick. Uniqueness key: (ticker, ts, source). The
// timestamp carries sub-second precision.
type TradeRecord struct {
	Ticker        string          `json:"ticker"`
	Timestamp     time.Time       `json:"ts"`
	Price         decimal.Decimal `json:"price"`
	Volume        decimal.Decimal `json:"volume"`
	QuoteCurrency string          `json:"quote_currency"`
	Source        string          `json:"source"`
}
