package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

const (
	StatusDraft      = "draft"
	StatusCalculated = "calculated"
	StatusInvoiced   = "invoiced"
	StatusClosed     = "closed"
)

// Settlement is the aggregate root for one revenue distribution of a
// park/period. Identity: park id + year + optional month (nil month means an
// annual settlement). Items are owned exclusively by the settlement and are
// replaced wholesale by each calculation run.
type Settlement struct {
	ID                   string
	ParkID               string
	Year                 int
	Month                *int
	TotalProductionKwh   float64
	NetRevenueCents      int64
	Mode                 DistributionMode
	SmoothingFactor      *float64
	TolerancePct         *float64
	Status               string
	NetOperatorReference string
	Notes                string
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	Items                []Item
}

// Item is one recipient row of a settlement.
type Item struct {
	ID                 string
	SettlementID       string
	RecipientEntityID  string
	TurbineID          string
	ProductionShareKwh float64
	ProductionSharePct float64
	RevenueShareCents  int64
	DistributionKey    string
	InvoiceRef         string
}

// BuildSettlementID builds the aggregate identity from park and period.
func BuildSettlementID(parkID string, year int, month *int) (string, error) {
	if parkID == "" {
		return "", ErrEmptyParkID
	}
	if year < 2000 || year > 2200 {
		return "", fmt.Errorf("%w: year %d out of range", ErrInvalidParameter, year)
	}
	if month != nil && (*month < 1 || *month > 12) {
		return "", fmt.Errorf("%w: month %d out of range", ErrInvalidParameter, *month)
	}
	return parkID + "|" + periodKey(year, month), nil
}

func periodKey(year int, month *int) string {
	if month == nil {
		return strconv.Itoa(year)
	}
	return fmt.Sprintf("%04d-%02d", year, *month)
}

// NewSettlement creates a draft settlement with no items.
func NewSettlement(parkID string, year int, month *int, netRevenueCents int64, mode DistributionMode, params DistributionParams, reference, notes string, now time.Time) (*Settlement, error) {
	id, err := BuildSettlementID(parkID, year, month)
	if err != nil {
		return nil, err
	}
	if netRevenueCents < 0 {
		return nil, fmt.Errorf("%w: negative net revenue", ErrInvalidParameter)
	}
	if err := validateParams(mode, params); err != nil {
		return nil, err
	}

	return &Settlement{
		ID:                   id,
		ParkID:               parkID,
		Year:                 year,
		Month:                month,
		NetRevenueCents:      netRevenueCents,
		Mode:                 mode,
		SmoothingFactor:      params.SmoothingFactor,
		TolerancePct:         params.TolerancePct,
		Status:               StatusDraft,
		NetOperatorReference: reference,
		Notes:                notes,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// PeriodLabel renders the settlement period, "2026" or "2026-03".
func (s *Settlement) PeriodLabel() string {
	return periodKey(s.Year, s.Month)
}

// Params returns the mode parameters as held by the aggregate.
func (s *Settlement) Params() DistributionParams {
	return DistributionParams{SmoothingFactor: s.SmoothingFactor, TolerancePct: s.TolerancePct}
}

// EnsureRecalculable reports whether a calculation run may replace the items.
func (s *Settlement) EnsureRecalculable() error {
	switch s.Status {
	case StatusDraft, StatusCalculated:
		return nil
	default:
		return fmt.Errorf("%w: cannot calculate in status %q", ErrIllegalState, s.Status)
	}
}

// ApplyCalculation replaces the items with a fresh allocation result and
// moves the settlement to calculated. Item ids are derived from the
// settlement id and the row identity, so an unchanged input yields an
// identical item set.
func (s *Settlement) ApplyCalculation(result DistributionResult, now time.Time) error {
	if err := s.EnsureRecalculable(); err != nil {
		return err
	}
	items := make([]Item, len(result.Items))
	for i, alloc := range result.Items {
		items[i] = Item{
			ID:                 BuildItemID(s.ID, alloc.RecipientEntityID, alloc.TurbineID),
			SettlementID:       s.ID,
			RecipientEntityID:  alloc.RecipientEntityID,
			TurbineID:          alloc.TurbineID,
			ProductionShareKwh: alloc.ProductionShareKwh,
			ProductionSharePct: alloc.ProductionSharePct,
			RevenueShareCents:  alloc.RevenueShareCents,
			DistributionKey:    alloc.DistributionKey,
		}
	}
	s.Items = items
	s.TotalProductionKwh = result.TotalProductionKwh
	s.Status = StatusCalculated
	s.UpdatedAt = now
	return nil
}

// BuildItemID derives a stable item identity from the row identity.
func BuildItemID(settlementID, recipientEntityID, turbineID string) string {
	sum := sha256.Sum256([]byte(settlementID + "|" + recipientEntityID + "|" + turbineID))
	return "sitem-" + hex.EncodeToString(sum[:8])
}

// SetInvoiceRef backfills the invoice reference on one item. Setting the same
// reference again is a no-op; a different existing reference is rejected.
func (s *Settlement) SetInvoiceRef(itemID, ref string) error {
	if s.Status != StatusCalculated && s.Status != StatusInvoiced {
		return fmt.Errorf("%w: cannot set invoice reference in status %q", ErrIllegalState, s.Status)
	}
	if ref == "" {
		return fmt.Errorf("%w: empty invoice reference", ErrInvalidParameter)
	}
	for i := range s.Items {
		if s.Items[i].ID != itemID {
			continue
		}
		if existing := s.Items[i].InvoiceRef; existing != "" && existing != ref {
			return ErrAlreadyInvoiced
		}
		s.Items[i].InvoiceRef = ref
		return nil
	}
	return fmt.Errorf("%w: item %q", ErrSettlementNotFound, itemID)
}

// AllItemsInvoiced reports whether every item carries an invoice reference.
func (s *Settlement) AllItemsInvoiced() bool {
	if len(s.Items) == 0 {
		return false
	}
	for _, item := range s.Items {
		if item.InvoiceRef == "" {
			return false
		}
	}
	return true
}

// MarkInvoiced flips calculated to invoiced once every item has a reference.
func (s *Settlement) MarkInvoiced(now time.Time) error {
	if s.Status != StatusCalculated {
		return fmt.Errorf("%w: cannot invoice in status %q", ErrIllegalState, s.Status)
	}
	if !s.AllItemsInvoiced() {
		return fmt.Errorf("%w: not every item carries an invoice reference", ErrIllegalState)
	}
	s.Status = StatusInvoiced
	s.UpdatedAt = now
	return nil
}

// Close moves an invoiced settlement to its terminal state.
func (s *Settlement) Close(now time.Time) error {
	if s.Status != StatusInvoiced {
		return fmt.Errorf("%w: cannot close in status %q", ErrIllegalState, s.Status)
	}
	s.Status = StatusClosed
	s.UpdatedAt = now
	return nil
}

// EnsureDeletable reports whether the settlement may be removed entirely.
func (s *Settlement) EnsureDeletable() error {
	switch s.Status {
	case StatusDraft, StatusCalculated:
		return nil
	default:
		return fmt.Errorf("%w: cannot delete in status %q", ErrIllegalState, s.Status)
	}
}

// Clone returns a detached deep copy.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Month != nil {
		month := *s.Month
		clone.Month = &month
	}
	if s.SmoothingFactor != nil {
		factor := *s.SmoothingFactor
		clone.SmoothingFactor = &factor
	}
	if s.TolerancePct != nil {
		pct := *s.TolerancePct
		clone.TolerancePct = &pct
	}
	clone.Items = append([]Item(nil), s.Items...)
	return &clone
}
