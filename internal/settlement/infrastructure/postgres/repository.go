package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	settlement "windpark-cloud/internal/settlement/domain"
)

// SettlementRepository persists settlement aggregates in Postgres.
type SettlementRepository struct {
	db *sql.DB
}

// NewSettlementRepository constructs a repository.
func NewSettlementRepository(db *sql.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Create inserts a new settlement with no items.
func (r *SettlementRepository) Create(ctx context.Context, s *settlement.Settlement) error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	if s == nil {
		return settlement.ErrNilSettlement
	}
	s.Version = 1
	_, err := r.db.ExecContext(ctx, `
INSERT INTO settlements (
	id, park_id, year, month, total_production_kwh, net_revenue_cents,
	mode, smoothing_factor, tolerance_pct, status, operator_reference, notes,
	version, created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`,
		s.ID, s.ParkID, s.Year, nullableInt(s.Month), s.TotalProductionKwh, s.NetRevenueCents,
		string(s.Mode), nullableFloat(s.SmoothingFactor), nullableFloat(s.TolerancePct), s.Status,
		s.NetOperatorReference, s.Notes, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

// GetByID fetches a settlement with its items, (nil, nil) when absent.
func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*settlement.Settlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, park_id, year, month, total_production_kwh, net_revenue_cents,
	mode, smoothing_factor, tolerance_pct, status, operator_reference, notes,
	version, created_at, updated_at
FROM settlements
WHERE id = $1
LIMIT 1`, id)

	s, err := scanSettlement(row)
	if err != nil || s == nil {
		return s, err
	}
	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Items = items
	return s, nil
}

// Save updates the settlement row and replaces the full item set in one
// transaction, guarded by an optimistic version check.
func (r *SettlementRepository) Save(ctx context.Context, s *settlement.Settlement) error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	if s == nil {
		return settlement.ErrNilSettlement
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx, `
UPDATE settlements
SET total_production_kwh = $1, net_revenue_cents = $2, mode = $3,
	smoothing_factor = $4, tolerance_pct = $5, status = $6,
	operator_reference = $7, notes = $8, version = version + 1, updated_at = $9
WHERE id = $10 AND version = $11`,
		s.TotalProductionKwh, s.NetRevenueCents, string(s.Mode),
		nullableFloat(s.SmoothingFactor), nullableFloat(s.TolerancePct), s.Status,
		s.NetOperatorReference, s.Notes, s.UpdatedAt, s.ID, s.Version,
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		exists, err := r.exists(ctx, s.ID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", settlement.ErrSettlementNotFound, s.ID)
		}
		return fmt.Errorf("%w: %s", settlement.ErrConcurrentModification, s.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM settlement_items WHERE settlement_id = $1`, s.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	for _, item := range s.Items {
		_, err := tx.ExecContext(ctx, `
INSERT INTO settlement_items (
	id, settlement_id, recipient_entity_id, turbine_id,
	production_share_kwh, production_share_pct, revenue_share_cents,
	distribution_key, invoice_ref
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			item.ID, item.SettlementID, item.RecipientEntityID, nullableString(item.TurbineID),
			item.ProductionShareKwh, item.ProductionSharePct, item.RevenueShareCents,
			item.DistributionKey, nullableString(item.InvoiceRef),
		)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	s.Version++
	return nil
}

// Delete removes the settlement and its items.
func (r *SettlementRepository) Delete(ctx context.Context, id string) error {
	if r == nil || r.db == nil {
		return errors.New("settlement repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM settlement_items WHERE settlement_id = $1`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM settlements WHERE id = $1`, id)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("%w: %s", settlement.ErrSettlementNotFound, id)
	}
	return tx.Commit()
}

// ListByPark returns all settlements of a park ordered by period, without items.
func (r *SettlementRepository) ListByPark(ctx context.Context, parkID string) ([]settlement.Settlement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("settlement repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, park_id, year, month, total_production_kwh, net_revenue_cents,
	mode, smoothing_factor, tolerance_pct, status, operator_reference, notes,
	version, created_at, updated_at
FROM settlements
WHERE park_id = $1
ORDER BY year ASC, month ASC NULLS FIRST`, parkID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []settlement.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		if s != nil {
			result = append(result, *s)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SettlementRepository) listItems(ctx context.Context, settlementID string) ([]settlement.Item, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, settlement_id, recipient_entity_id, turbine_id,
	production_share_kwh, production_share_pct, revenue_share_cents,
	distribution_key, invoice_ref
FROM settlement_items
WHERE settlement_id = $1
ORDER BY turbine_id ASC NULLS FIRST, recipient_entity_id ASC`, settlementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []settlement.Item
	for rows.Next() {
		var item settlement.Item
		var turbineID, invoiceRef sql.NullString
		err := rows.Scan(
			&item.ID, &item.SettlementID, &item.RecipientEntityID, &turbineID,
			&item.ProductionShareKwh, &item.ProductionSharePct, &item.RevenueShareCents,
			&item.DistributionKey, &invoiceRef,
		)
		if err != nil {
			return nil, err
		}
		item.TurbineID = turbineID.String
		item.InvoiceRef = invoiceRef.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *SettlementRepository) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM settlements WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (*settlement.Settlement, error) {
	var s settlement.Settlement
	var month sql.NullInt64
	var smoothing, tolerance sql.NullFloat64
	var mode string
	err := row.Scan(
		&s.ID, &s.ParkID, &s.Year, &month, &s.TotalProductionKwh, &s.NetRevenueCents,
		&mode, &smoothing, &tolerance, &s.Status, &s.NetOperatorReference, &s.Notes,
		&s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Mode = settlement.DistributionMode(mode)
	if month.Valid {
		value := int(month.Int64)
		s.Month = &value
	}
	if smoothing.Valid {
		value := smoothing.Float64
		s.SmoothingFactor = &value
	}
	if tolerance.Valid {
		value := tolerance.Float64
		s.TolerancePct = &value
	}
	return &s, nil
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
