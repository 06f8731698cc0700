package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	apperrors "fundsync/internal/errors"
	"fundsync/internal/timeseries"
)

const (
	ohlcvFieldCount = 7 // timestamp, open, high, low, close, volume, trade_count
	tradeFieldCount = 3 // timestamp, price, volume
)

var nanosPerSecond = decimal.NewFromInt(1e9)

// streamRows reads a CSV file one record at a time and hands each to the
// handler. The full file is never materialized; csv.Reader reuses one record
// slice across rows. Returns the number of rows handled.
func streamRows(path string, fieldCount int, handler func(line int, record []string) error) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "failed to open export file")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = fieldCount
	reader.ReuseRecord = true

	var rows int64
	line := 0
	for {
		line++
		record, err := reader.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return rows, apperrors.NewIngestionParseError(path, line, err)
		}
		if err := handler(line, record); err != nil {
			return rows, err
		}
		rows++
	}
}

// parseOHLCVRow converts one export row into an OHLCV record. Columns:
// timestamp(unix seconds), open, high, low, close, volume, trade_count.
func parseOHLCVRow(path string, line int, record []string, ticker, quote, source string, intervalMinutes int) (timeseries.OHLCVRecord, error) {
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return timeseries.OHLCVRecord{}, apperrors.NewIngestionParseError(path, line, err)
	}

	prices := make([]decimal.Decimal, 5)
	for i, field := range []string{"open", "high", "low", "close", "volume"} {
		prices[i], err = decimal.NewFromString(record[i+1])
		if err != nil {
			return timeseries.OHLCVRecord{}, apperrors.NewIngestionParseError(path, line,
				fmt.Errorf("invalid %s %q", field, record[i+1]))
		}
	}

	var tradeCount int64
	if record[6] != "" {
		count, err := decimal.NewFromString(record[6])
		if err != nil || !count.IsInteger() {
			return timeseries.OHLCVRecord{}, apperrors.NewIngestionParseError(path, line,
				fmt.Errorf("invalid trade_count %q", record[6]))
		}
		tradeCount = count.IntPart()
	}

	return timeseries.OHLCVRecord{
		Ticker:          ticker,
		Timestamp:       ts,
		Open:            prices[0],
		High:            prices[1],
		Low:             prices[2],
		Close:           prices[3],
		Volume:          prices[4],
		TradeCount:      tradeCount,
		IntervalMinutes: intervalMinutes,
		QuoteCurrency:   quote,
		Source:          source,
	}, nil
}

// parseTradeRow converts one export row into a trade record. Columns:
// timestamp(unix seconds, fractional), price, volume.
func parseTradeRow(path string, line int, record []string, ticker, quote, source string) (timeseries.TradeRecord, error) {
	ts, err := parseTimestamp(record[0])
	if err != nil {
		return timeseries.TradeRecord{}, apperrors.NewIngestionParseError(path, line, err)
	}

	price, err := decimal.NewFromString(record[1])
	if err != nil {
		return timeseries.TradeRecord{}, apperrors.NewIngestionParseError(path, line,
			fmt.Errorf("invalid price %q", record[1]))
	}
	volume, err := decimal.NewFromString(record[2])
	if err != nil {
		return timeseries.TradeRecord{}, apperrors.NewIngestionParseError(path, line,
			fmt.Errorf("invalid volume %q", record[2]))
	}

	return timeseries.TradeRecord{
		Ticker:        ticker,
		Timestamp:     ts,
		Price:         price,
		Volume:        volume,
		QuoteCurrency: quote,
		Source:        source,
	}, nil
}

// parseTimestamp parses a unix-seconds field, preserving any fractional
// part. Tick exports carry sub-second precision; decimal keeps it exact
// where float parsing would not.
func parseTimestamp(field string) (time.Time, error) {
	d, err := decimal.NewFromString(field)
	if err != nil || d.IsNegative() {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", field)
	}

	secs := d.IntPart()
	nanos := d.Sub(decimal.NewFromInt(secs)).Mul(nanosPerSecond).IntPart()
	return time.Unix(secs, nanos).UTC(), nil
}
