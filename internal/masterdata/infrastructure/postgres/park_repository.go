package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	masterdata "windpark-cloud/internal/masterdata/domain"
)

// DBTX is the subset of database/sql used by the repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const defaultParksTable = "parks"

// ParkRepository is a Postgres implementation for parks.
type ParkRepository struct {
	db    DBTX
	table string
}

// NewParkRepository constructs a repository.
func NewParkRepository(db DBTX, opts ...ParkOption) *ParkRepository {
	repo := &ParkRepository{db: db, table: defaultParksTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ParkOption configures the repository.
type ParkOption func(*ParkRepository)

// WithParksTable overrides the default table name.
func WithParksTable(table string) ParkOption {
	return func(repo *ParkRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a park by id.
func (r *ParkRepository) Get(ctx context.Context, id string) (*masterdata.Park, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("park repo: nil db")
	}
	if id == "" {
		return nil, errors.New("park repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, name, grid_operator, region, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var park masterdata.Park
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&park.ID,
		&park.Name,
		&park.GridOperator,
		&park.Region,
		&park.CreatedAt,
		&park.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	park.CreatedAt = park.CreatedAt.UTC()
	park.UpdatedAt = park.UpdatedAt.UTC()
	return &park, nil
}

// ParkName resolves the display name of a park.
func (r *ParkRepository) ParkName(ctx context.Context, id string) (string, error) {
	park, err := r.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if park == nil {
		return "", fmt.Errorf("park repo: park %q not found", id)
	}
	return park.Name, nil
}

// Save upserts a park.
func (r *ParkRepository) Save(ctx context.Context, park masterdata.Park) error {
	if r == nil || r.db == nil {
		return errors.New("park repo: nil db")
	}
	if err := park.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, grid_operator, region, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (id)
DO UPDATE SET name = EXCLUDED.name, grid_operator = EXCLUDED.grid_operator,
	region = EXCLUDED.region, updated_at = EXCLUDED.updated_at`, r.table)
	_, err := r.db.ExecContext(ctx, query, park.ID, park.Name, park.GridOperator, park.Region, now)
	return err
}

// List returns all parks ordered by id.
func (r *ParkRepository) List(ctx context.Context) ([]masterdata.Park, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("park repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, name, grid_operator, region, created_at, updated_at
FROM %s
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []masterdata.Park
	for rows.Next() {
		var park masterdata.Park
		if err := rows.Scan(&park.ID, &park.Name, &park.GridOperator, &park.Region, &park.CreatedAt, &park.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, park)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
