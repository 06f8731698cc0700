// Package audit persists one record per ingestion or fetch operation:
// timing, row counts, success flag and error detail.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "fundsync/internal/errors"
)

// SyncType identifies what kind of operation a record tracks.
type SyncType string

const (
	SyncTypeInfo     SyncType = "provider_info"
	SyncTypeHistory  SyncType = "provider_history"
	SyncTypeHoldings SyncType = "provider_holdings"
	SyncTypeBulkFile SyncType = "bulk_file"
)

// SyncRecord tracks one operation. It is created at operation start,
// finalized exactly once, and immutable thereafter.
type SyncRecord struct {
	ID             string     `json:"id"`
	SyncType       SyncType   `json:"sync_type"`
	Ticker         string     `json:"ticker,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Success        bool       `json:"success"`
	RecordsFetched int64      `json:"records_fetched"`
	RecordsCreated int64      `json:"records_created"`
	RecordsUpdated int64      `json:"records_updated"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	Params         map[string]string
}

// Outcome carries the values written at finalization.
type Outcome struct {
	Success        bool
	RecordsFetched int64
	RecordsCreated int64
	RecordsUpdated int64
	ErrorMessage   string
}

// Repository persists sync records in the asset registry database.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a sync record repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Begin creates and persists a new sync record for an operation that is
// starting now.
func (r *Repository) Begin(ctx context.Context, syncType SyncType, ticker string, params map[string]string) (*SyncRecord, error) {
	record := &SyncRecord{
		ID:        uuid.New().String(),
		SyncType:  syncType,
		Ticker:    ticker,
		StartedAt: time.Now().UTC(),
		Params:    params,
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to encode sync params")
	}

	query := `
		INSERT INTO sync_records (id, sync_type, ticker, started_at, params)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query,
		record.ID, record.SyncType, record.Ticker, record.StartedAt, paramsJSON); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to create sync record")
	}
	return record, nil
}

// Finalize writes the outcome of an operation. A record can be finalized
// exactly once; a second attempt is a conflict.
func (r *Repository) Finalize(ctx context.Context, record *SyncRecord, outcome Outcome) error {
	now := time.Now().UTC()

	query := `
		UPDATE sync_records
		SET completed_at = $2, success = $3, records_fetched = $4,
		    records_created = $5, records_updated = $6, error_message = $7
		WHERE id = $1 AND completed_at IS NULL`

	result, err := r.db.ExecContext(ctx, query,
		record.ID, now, outcome.Success, outcome.RecordsFetched,
		outcome.RecordsCreated, outcome.RecordsUpdated, outcome.ErrorMessage)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to finalize sync record")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to read finalize result")
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"sync record %s already finalized", record.ID)
	}

	record.CompletedAt = &now
	record.Success = outcome.Success
	record.RecordsFetched = outcome.RecordsFetched
	record.RecordsCreated = outcome.RecordsCreated
	record.RecordsUpdated = outcome.RecordsUpdated
	record.ErrorMessage = outcome.ErrorMessage
	return nil
}

// Recent returns the latest sync records, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]*SyncRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, sync_type, ticker, started_at, completed_at, success,
		       records_fetched, records_created, records_updated, error_message
		FROM sync_records
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to query sync records")
	}
	defer rows.Close()

	var records []*SyncRecord
	for rows.Next() {
		var rec SyncRecord
		var ticker, errMsg sql.NullString
		var completed sql.NullTime
		var success sql.NullBool
		if err := rows.Scan(&rec.ID, &rec.SyncType, &ticker, &rec.StartedAt, &completed,
			&success, &rec.RecordsFetched, &rec.RecordsCreated, &rec.RecordsUpdated, &errMsg); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan sync record")
		}
		rec.Ticker = ticker.String
		rec.ErrorMessage = errMsg.String
		rec.Success = success.Bool
		if completed.Valid {
			t := completed.Time
			rec.CompletedAt = &t
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "error iterating sync records")
	}
	return records, nil
}
