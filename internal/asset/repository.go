package asset

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "fundsync/internal/errors"
)

// Repository provides asset registry persistence over Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates an asset repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const assetColumns = `id, ticker, name, category, tier, active, description, created_at, updated_at`

func scanAsset(row interface{ Scan(...interface{}) error }) (*Asset, error) {
	var a Asset
	if err := row.Scan(&a.ID, &a.Ticker, &a.Name, &a.Category, &a.Tier,
		&a.Active, &a.Description, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new asset. The ticker must be unique.
func (r *Repository) Create(ctx context.Context, a *Asset) (*Asset, error) {
	query := `
		INSERT INTO assets (ticker, name, category, tier, active, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + assetColumns

	created, err := scanAsset(r.db.QueryRowContext(ctx, query,
		a.Ticker, a.Name, a.Category, a.Tier, a.Active, a.Description))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery,
			fmt.Sprintf("failed to create asset %s", a.Ticker))
	}
	return created, nil
}

// GetByTicker returns the asset with the given ticker.
func (r *Repository) GetByTicker(ctx context.Context, ticker string) (*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE ticker = $1`

	a, err := scanAsset(r.db.QueryRowContext(ctx, query, ticker))
	if err == sql.ErrNoRows {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "asset not found: %s", ticker)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to query asset")
	}
	return a, nil
}

// GetOrCreate resolves a ticker to an asset, lazily creating it with an
// auto-classified tier on first reference. The insert is idempotent under
// concurrent callers via ON CONFLICT DO NOTHING.
func (r *Repository) GetOrCreate(ctx context.Context, ticker string, category Category) (*Asset, error) {
	query := `
		INSERT INTO assets (ticker, name, category, tier, active, description)
		VALUES ($1, $1, $2, $3, TRUE, '')
		ON CONFLICT (ticker) DO NOTHING`

	if _, err := r.db.ExecContext(ctx, query, ticker, category, ClassifyTier(ticker)); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery,
			fmt.Sprintf("failed to get-or-create asset %s", ticker))
	}
	return r.GetByTicker(ctx, ticker)
}

// List returns assets matching the filter, ordered by ticker.
func (r *Repository) List(ctx context.Context, f Filter) ([]*Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM assets WHERE 1=1`
	var args []interface{}

	if f.Category != "" {
		args = append(args, f.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if f.Tier != "" {
		args = append(args, f.Tier)
		query += fmt.Sprintf(" AND tier = $%d", len(args))
	}
	if f.Active != nil {
		args = append(args, *f.Active)
		query += fmt.Sprintf(" AND active = $%d", len(args))
	}
	query += " ORDER BY ticker ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to list assets")
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to scan asset")
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "error iterating assets")
	}
	return assets, nil
}

// Update applies admin-only mutations (name, tier, active flag, description).
// Ingestion never calls this.
func (r *Repository) Update(ctx context.Context, a *Asset) error {
	query := `
		UPDATE assets
		SET name = $2, tier = $3, active = $4, description = $5, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, a.ID, a.Name, a.Tier, a.Active, a.Description)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to update asset")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeDBQuery, "failed to read update result")
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrCodeNotFound, "asset not found: id=%d", a.ID)
	}
	return nil
}
