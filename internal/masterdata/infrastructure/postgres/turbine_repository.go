package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	masterdata "windpark-cloud/internal/masterdata/domain"
)

const defaultTurbinesTable = "turbines"

// TurbineRepository is a Postgres implementation for turbines.
type TurbineRepository struct {
	db    DBTX
	table string
}

// NewTurbineRepository constructs a repository.
func NewTurbineRepository(db DBTX, opts ...TurbineOption) *TurbineRepository {
	repo := &TurbineRepository{db: db, table: defaultTurbinesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// TurbineOption configures the repository.
type TurbineOption func(*TurbineRepository)

// WithTurbinesTable overrides the default table name.
func WithTurbinesTable(table string) TurbineOption {
	return func(repo *TurbineRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// ListByPark returns all turbines of a park ordered by id.
func (r *TurbineRepository) ListByPark(ctx context.Context, parkID string) ([]masterdata.Turbine, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("turbine repo: nil db")
	}
	if parkID == "" {
		return nil, errors.New("turbine repo: empty park id")
	}
	query := fmt.Sprintf(`
SELECT id, park_id, designation, recipient_entity_id, rated_power_kw, created_at, updated_at
FROM %s
WHERE park_id = $1
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, parkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Turbine
	for rows.Next() {
		var turbine masterdata.Turbine
		err := rows.Scan(
			&turbine.ID,
			&turbine.ParkID,
			&turbine.Designation,
			&turbine.RecipientEntityID,
			&turbine.RatedPowerKw,
			&turbine.CreatedAt,
			&turbine.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, turbine)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Save upserts a turbine.
func (r *TurbineRepository) Save(ctx context.Context, turbine masterdata.Turbine) error {
	if r == nil || r.db == nil {
		return errors.New("turbine repo: nil db")
	}
	if err := turbine.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
INSERT INTO %s (id, park_id, designation, recipient_entity_id, rated_power_kw, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
ON CONFLICT (id)
DO UPDATE SET park_id = EXCLUDED.park_id, designation = EXCLUDED.designation,
	recipient_entity_id = EXCLUDED.recipient_entity_id, rated_power_kw = EXCLUDED.rated_power_kw,
	updated_at = EXCLUDED.updated_at`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		turbine.ID, turbine.ParkID, turbine.Designation, turbine.RecipientEntityID, turbine.RatedPowerKw, now)
	return err
}
