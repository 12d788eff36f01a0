package production

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	settlement "windpark-cloud/internal/settlement/domain"
)

const defaultProductionTable = "production_statistics"

// PeriodProductionReader loads aggregated per-turbine production figures for
// a park/period from the production aggregation store.
type PeriodProductionReader struct {
	db    *sql.DB
	table string
}

// NewPeriodProductionReader constructs a reader.
func NewPeriodProductionReader(db *sql.DB, opts ...ReaderOption) *PeriodProductionReader {
	reader := &PeriodProductionReader{db: db, table: defaultProductionTable}
	for _, opt := range opts {
		opt(reader)
	}
	return reader
}

// ReaderOption configures the reader.
type ReaderOption func(*PeriodProductionReader)

// WithTable overrides the production table name.
func WithTable(table string) ReaderOption {
	return func(reader *PeriodProductionReader) {
		if reader != nil && table != "" {
			reader.table = table
		}
	}
}

// ListParkPeriodProduction returns one record per turbine for the period.
// A nil month selects the annual aggregate.
func (r *PeriodProductionReader) ListParkPeriodProduction(ctx context.Context, parkID string, year int, month *int) ([]settlement.ProductionRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("production reader: nil db")
	}
	if parkID == "" {
		return nil, errors.New("production reader: empty park id")
	}

	var rows *sql.Rows
	var err error
	if month != nil {
		query := fmt.Sprintf(`
SELECT turbine_id, recipient_entity_id, production_kwh
FROM %s
WHERE park_id = $1 AND year = $2 AND month = $3
ORDER BY turbine_id ASC`, r.table)
		rows, err = r.db.QueryContext(ctx, query, parkID, year, *month)
	} else {
		query := fmt.Sprintf(`
SELECT turbine_id, recipient_entity_id, SUM(production_kwh)
FROM %s
WHERE park_id = $1 AND year = $2
GROUP BY turbine_id, recipient_entity_id
ORDER BY turbine_id ASC`, r.table)
		rows, err = r.db.QueryContext(ctx, query, parkID, year)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.ProductionRecord
	for rows.Next() {
		var record settlement.ProductionRecord
		if err := rows.Scan(&record.TurbineID, &record.RecipientEntityID, &record.ProductionKwh); err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
