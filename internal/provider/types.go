// Package provider implements the uniform contract around external
// rate-limited market-data providers: the adapter call path, the per-provider
// request budget, and the health gate in front of every outbound call.
package provider

import (
	"context"
	"database/sql"
	"time"

	apperrors "fundsync/internal/errors"
)

// Status is the lifecycle state of a provider.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusInactive    Status = "INACTIVE"
	StatusError       Status = "ERROR"
	StatusRateLimited Status = "RATE_LIMITED"
	StatusMaintenance Status = "MAINTENANCE"
)

// State is the persisted per-provider bookkeeping, mutated on every call and
// never deleted. ERROR requires a manual transition back to ACTIVE.
type State struct {
	Name                string
	BaseURL             string
	RequiresCredential  bool
	BudgetRequests      int
	BudgetWindow        time.Duration
	Status              Status
	WindowRequests      int
	LastRequestAt       *time.Time
	LastSyncAt          *time.Time
	ConsecutiveFailures int
	ReliabilityScore    float64
	LastError           string
	LastErrorAt         *time.Time
}

// StateStore persists provider state in the registry database.
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a provider state store.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Load returns the persisted state for a provider, or nil when the provider
// has never been seen.
func (s *StateStore) Load(ctx context.Context, name string) (*State, error) {
	query := `
		SELECT name, base_url, requires_credential, budget_requests, budget_window_seconds,
		       status, window_requests, last_request_at, last_sync_at,
		       consecutive_failures, reliability_score, last_error, last_error_at
		FROM provider_configs
		WHERE name = $1`

	var st State
	var windowSeconds int64
	var lastRequest, lastSync, lastErrorAt sql.NullTime
	var lastError sql.NullString

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&st.Name, &st.BaseURL, &st.RequiresCredential, &st.BudgetRequests, &windowSeconds,
		&st.Status, &st.WindowRequests, &lastRequest, &lastSync,
		&st.ConsecutiveFailures, &st.ReliabilityScore, &lastError, &lastErrorAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to load provider state")
	}

	st.BudgetWindow = time.Duration(windowSeconds) * time.Second
	if lastRequest.Valid {
		st.LastRequestAt = &lastRequest.Time
	}
	if lastSync.Valid {
		st.LastSyncAt = &lastSync.Time
	}
	if lastErrorAt.Valid {
		st.LastErrorAt = &lastErrorAt.Time
	}
	st.LastError = lastError.String
	return &st, nil
}

// Save upserts the provider state keyed by name.
func (s *StateStore) Save(ctx context.Context, st *State) error {
	query := `
		INSERT INTO provider_configs (
			name, base_url, requires_credential, budget_requests, budget_window_seconds,
			status, window_requests, last_request_at, last_sync_at,
			consecutive_failures, reliability_score, last_error, last_error_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (name) DO UPDATE SET
			base_url = EXCLUDED.base_url,
			requires_credential = EXCLUDED.requires_credential,
			budget_requests = EXCLUDED.budget_requests,
			budget_window_seconds = EXCLUDED.budget_window_seconds,
			status = EXCLUDED.status,
			window_requests = EXCLUDED.window_requests,
			last_request_at = EXCLUDED.last_request_at,
			last_sync_at = EXCLUDED.last_sync_at,
			consecutive_failures = EXCLUDED.consecutive_failures,
			reliability_score = EXCLUDED.reliability_score,
			last_error = EXCLUDED.last_error,
			last_error_at = EXCLUDED.last_error_at`

	_, err := s.db.ExecContext(ctx, query,
		st.Name, st.BaseURL, st.RequiresCredential, st.BudgetRequests,
		int64(st.BudgetWindow/time.Second), st.Status, st.WindowRequests,
		st.LastRequestAt, st.LastSyncAt, st.ConsecutiveFailures,
		st.ReliabilityScore, st.LastError, st.LastErrorAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to save provider state")
	}
	return nil
}

// SetStatus applies a manual status transition (reactivation after ERROR,
// entering or leaving MAINTENANCE).
func (s *StateStore) SetStatus(ctx context.Context, name string, status Status) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE provider_configs SET status = $2 WHERE name = $1`, name, status)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to set provider status")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to read status update result")
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrCodeNotFound, "provider not found: %s", name)
	}
	return nil
}
