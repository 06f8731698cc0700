package timeseries

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fundsync/internal/config"
	apperrors "fundsync/internal/errors"
	"fundsync/internal/logger"
)

// insertChunkRows bounds the number of rows per INSERT statement so the
// parameter count stays under the wire protocol's 65535 limit.
const insertChunkRows = 1000

// Store is the QuestDB-backed time-series port. Its schema is provisioned
// exclusively through EnsureSchema/ResetSchema, never by the migration
// mechanism that manages the asset registry.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection pool to QuestDB's pgwire endpoint.
func NewStore(cfg config.QuestDBConfig) (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open questdb: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping questdb: %w", err)
	}

	logger.Infof("questdb connection established: host=%s port=%d", cfg.Host, cfg.Port)
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

const createOHLCVTable = `
CREATE TABLE IF NOT EXISTS ohlcv (
	ticker SYMBOL CAPACITY 2048 CACHE,
	ts TIMESTAMP,
	open DOUBLE,
	high DOUBLE,
	low DOUBLE,
	close DOUBLE,
	volume DOUBLE,
	trade_count LONG,
	interval_minutes INT,
	quote_currency SYMBOL,
	source SYMBOL
) TIMESTAMP(ts) PARTITION BY DAY WAL
DEDUP UPSERT KEYS(ts, ticker, source, interval_minutes)`

const createTradesTable = `
CREATE TABLE IF NOT EXISTS trades (
	ticker SYMBOL CAPACITY 2048 CACHE,
	ts TIMESTAMP,
	price DOUBLE,
	volume DOUBLE,
	quote_currency SYMBOL,
	source SYMBOL
) TIMESTAMP(ts) PARTITION BY DAY WAL
DEDUP UPSERT KEYS(ts, ticker, source)`

// EnsureSchema creates the time-series tables if they do not exist. Safe to
// run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, ddl := range []string{createOHLCVTable, createTradesTable} {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeSchemaOperation, "failed to ensure time-series schema")
		}
	}
	return nil
}

// ResetSchema drops and recreates the time-series tables. Destructive; only
// ever invoked explicitly via the schema command's --drop flag.
func (s *Store) ResetSchema(ctx context.Context) error {
	for _, table := range []string{"ohlcv", "trades"} {
		if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeSchemaOperation,
				fmt.Sprintf("failed to drop table %s", table))
		}
	}
	return s.EnsureSchema(ctx)
}

// Writer is the batch write surface used by the ingestion pipeline.
type Writer interface {
	WriteOHLCVBatch(ctx context.Context, records []OHLCVRecord) error
	WriteTradeBatch(ctx context.Context, records []TradeRecord) error
}

// Conn is a single long-lived write connection, explicitly acquired at the
// start of a bulk run and released at the end, amortizing connection setup
// over potentially hundreds of thousands of flushes.
type Conn struct {
	conn *sql.Conn
}

// AcquireConn pins one connection from the pool for a bulk run.
func (s *Store) AcquireConn(ctx context.Context) (*Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBConnection, "failed to acquire write connection")
	}
	return &Conn{conn: conn}, nil
}

// Release returns the connection to the pool.
func (c *Conn) Release() error {
	return c.conn.Close()
}

// WriteOHLCVBatch inserts a batch of candles. Duplicate keys within or
// across batches are absorbed by the dedup keys rather than erroring.
func (c *Conn) WriteOHLCVBatch(ctx context.Context, records []OHLCVRecord) error {
	for start := 0; start < len(records); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		query := buildInsert("ohlcv",
			[]string{"ticker", "ts", "open", "high", "low", "close", "volume",
				"trade_count", "interval_minutes", "quote_currency", "source"},
			len(chunk))

		args := make([]interface{}, 0, len(chunk)*11)
		for _, r := range chunk {
			args = append(args,
				r.Ticker, r.Timestamp.UTC(),
				r.Open.String(), r.High.String(), r.Low.String(), r.Close.String(),
				r.Volume.String(), r.TradeCount, r.IntervalMinutes,
				r.QuoteCurrency, r.Source)
		}

		if _, err := c.conn.ExecContext(ctx, query, args...); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to write ohlcv batch")
		}
	}
	return nil
}

// WriteTradeBatch inserts a batch of ticks, idempotent per (ticker, ts, source).
func (c *Conn) WriteTradeBatch(ctx context.Context, records []TradeRecord) error {
	for start := 0; start < len(records); start += insertChunkRows {
		end := start + insertChunkRows
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		query := buildInsert("trades",
			[]string{"ticker", "ts", "price", "volume", "quote_currency", "source"},
			len(chunk))

		args := make([]interface{}, 0, len(chunk)*6)
		for _, r := range chunk {
			args = append(args,
				r.Ticker, r.Timestamp.UTC(),
				r.Price.String(), r.Volume.String(),
				r.QuoteCurrency, r.Source)
		}

		if _, err := c.conn.ExecContext(ctx, query, args...); err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to write trade batch")
		}
	}
	return nil
}

// buildInsert renders a multi-row INSERT with positional placeholders.
func buildInsert(table string, columns []string, rows int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	n := 1
	for row := 0; row < rows; row++ {
		if row > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		for col := range columns {
			if col > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}

// RangeOHLCV returns candles for one ticker/interval ordered by timestamp.
func (s *Store) RangeOHLCV(ctx context.Context, ticker string, intervalMinutes int, start, end time.Time) ([]OHLCVRecord, error) {
	query := `
		SELECT ticker, ts, open, high, low, close, volume, trade_count, interval_minutes, quote_currency, source
		FROM ohlcv
		WHERE ticker = $1 AND interval_minutes = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, ticker, intervalMinutes, start.UTC(), end.UTC())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to query ohlcv range")
	}
	defer rows.Close()

	var records []OHLCVRecord
	for rows.Next() {
		var r OHLCVRecord
		var open, high, low, closePrice, volume float64
		if err := rows.Scan(&r.Ticker, &r.Timestamp, &open, &high, &low, &closePrice,
			&volume, &r.TradeCount, &r.IntervalMinutes, &r.QuoteCurrency, &r.Source); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan ohlcv row")
		}
		r.Open = decimal.NewFromFloat(open)
		r.High = decimal.NewFromFloat(high)
		r.Low = decimal.NewFromFloat(low)
		r.Close = decimal.NewFromFloat(closePrice)
		r.Volume = decimal.NewFromFloat(volume)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "error iterating ohlcv rows")
	}
	return records, nil
}

// RangeTrades returns ticks for one ticker ordered by timestamp.
func (s *Store) RangeTrades(ctx context.Context, ticker string, start, end time.Time) ([]TradeRecord, error) {
	query := `
		SELECT ticker, ts, price, volume, quote_currency, source
		FROM trades
		WHERE ticker = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, ticker, start.UTC(), end.UTC())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to query trade range")
	}
	defer rows.Close()

	var records []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var price, volume float64
		if err := rows.Scan(&r.Ticker, &r.Timestamp, &price, &volume, &r.QuoteCurrency, &r.Source); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan trade row")
		}
		r.Price = decimal.NewFromFloat(price)
		r.Volume = decimal.NewFromFloat(volume)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "error iterating trade rows")
	}
	return records, nil
}

// CountOHLCV returns the row count for one uniqueness key prefix.
func (s *Store) CountOHLCV(ctx context.Context, ticker, source string, intervalMinutes int) (int64, error) {
	query := `SELECT count() FROM ohlcv WHERE ticker = $1 AND source = $2 AND interval_minutes = $3`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, ticker, source, intervalMinutes).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to count ohlcv rows")
	}
	return count, nil
}
