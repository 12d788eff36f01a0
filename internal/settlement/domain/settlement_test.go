package settlement

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func testNow() time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func draftSettlement(t *testing.T) *Settlement {
	t.Helper()
	s, err := NewSettlement("park-nord", 2026, intPtr(2), 5000000, ModeProportional, DistributionParams{}, "OP-REF-77", "", testNow())
	if err != nil {
		t.Fatalf("new settlement: %v", err)
	}
	return s
}

func calculatedSettlement(t *testing.T) *Settlement {
	t.Helper()
	s := draftSettlement(t)
	result, err := Allocate(parkRecords(), s.NetRevenueCents, s.Mode, s.Params())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := s.ApplyCalculation(result, testNow()); err != nil {
		t.Fatalf("apply calculation: %v", err)
	}
	return s
}

func TestBuildSettlementID(t *testing.T) {
	annual, err := BuildSettlementID("park-nord", 2026, nil)
	if err != nil {
		t.Fatalf("build id: %v", err)
	}
	if annual != "park-nord|2026" {
		t.Fatalf("annual id = %q", annual)
	}
	monthly, err := BuildSettlementID("park-nord", 2026, intPtr(2))
	if err != nil {
		t.Fatalf("build id: %v", err)
	}
	if monthly != "park-nord|2026-02" {
		t.Fatalf("monthly id = %q", monthly)
	}

	if _, err := BuildSettlementID("", 2026, nil); !errors.Is(err, ErrEmptyParkID) {
		t.Fatalf("empty park err = %v", err)
	}
	if _, err := BuildSettlementID("park-nord", 2026, intPtr(13)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("bad month err = %v", err)
	}
}

func TestNewSettlementValidatesParams(t *testing.T) {
	if _, err := NewSettlement("park-nord", 2026, nil, 100, ModeSmoothed, DistributionParams{}, "", "", testNow()); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("missing factor err = %v", err)
	}
	if _, err := NewSettlement("park-nord", 2026, nil, 100, ModeProportional, DistributionParams{TolerancePct: floatPtr(5)}, "", "", testNow()); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("stray tolerance err = %v", err)
	}
	if _, err := NewSettlement("park-nord", 2026, nil, -1, ModeProportional, DistributionParams{}, "", "", testNow()); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("negative revenue err = %v", err)
	}
}

func TestApplyCalculationReplacesItems(t *testing.T) {
	s := calculatedSettlement(t)
	if s.Status != StatusCalculated {
		t.Fatalf("status = %q", s.Status)
	}
	if len(s.Items) != 3 {
		t.Fatalf("items = %d", len(s.Items))
	}
	if s.TotalProductionKwh != 500000 {
		t.Fatalf("total production = %v", s.TotalProductionKwh)
	}
	firstIDs := make([]string, len(s.Items))
	for i, item := range s.Items {
		if item.SettlementID != s.ID {
			t.Fatalf("item settlement id = %q", item.SettlementID)
		}
		firstIDs[i] = item.ID
	}

	// Recalculating with unchanged inputs yields an identical item set.
	result, err := Allocate(parkRecords(), s.NetRevenueCents, s.Mode, s.Params())
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	before := append([]Item(nil), s.Items...)
	if err := s.ApplyCalculation(result, testNow()); err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !reflect.DeepEqual(before, s.Items) {
		t.Fatalf("recalculation changed items: %+v vs %+v", before, s.Items)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s := calculatedSettlement(t)

	// invoiced requires every item to carry a reference
	if err := s.MarkInvoiced(testNow()); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("premature invoice err = %v", err)
	}
	for _, item := range s.Items {
		if err := s.SetInvoiceRef(item.ID, "inv-"+item.ID); err != nil {
			t.Fatalf("set invoice ref: %v", err)
		}
	}
	if err := s.MarkInvoiced(testNow()); err != nil {
		t.Fatalf("mark invoiced: %v", err)
	}
	if s.Status != StatusInvoiced {
		t.Fatalf("status = %q", s.Status)
	}

	// invoiced settlements can neither be recalculated nor deleted
	if err := s.EnsureRecalculable(); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("recalc after invoice err = %v", err)
	}
	if err := s.EnsureDeletable(); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("delete after invoice err = %v", err)
	}

	if err := s.Close(testNow()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.Status != StatusClosed {
		t.Fatalf("status = %q", s.Status)
	}
	if err := s.Close(testNow()); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("double close err = %v", err)
	}
}

func TestCloseRequiresInvoiced(t *testing.T) {
	s := calculatedSettlement(t)
	if err := s.Close(testNow()); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("close from calculated err = %v", err)
	}
	draft := draftSettlement(t)
	if err := draft.Close(testNow()); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("close from draft err = %v", err)
	}
}

func TestSetInvoiceRef(t *testing.T) {
	s := calculatedSettlement(t)
	itemID := s.Items[0].ID

	if err := s.SetInvoiceRef(itemID, "inv-001"); err != nil {
		t.Fatalf("set ref: %v", err)
	}
	// idempotent for the same reference
	if err := s.SetInvoiceRef(itemID, "inv-001"); err != nil {
		t.Fatalf("set same ref: %v", err)
	}
	if err := s.SetInvoiceRef(itemID, "inv-002"); !errors.Is(err, ErrAlreadyInvoiced) {
		t.Fatalf("overwrite ref err = %v", err)
	}
	if err := s.SetInvoiceRef("missing", "inv-003"); !errors.Is(err, ErrSettlementNotFound) {
		t.Fatalf("missing item err = %v", err)
	}

	draft := draftSettlement(t)
	if err := draft.SetInvoiceRef("x", "inv"); !errors.Is(err, ErrIllegalState) {
		t.Fatalf("draft ref err = %v", err)
	}
}

func TestCloneDetaches(t *testing.T) {
	s := calculatedSettlement(t)
	clone := s.Clone()
	clone.Items[0].InvoiceRef = "inv-x"
	clone.Notes = "changed"
	if s.Items[0].InvoiceRef != "" || s.Notes == "changed" {
		t.Fatal("clone shares state with original")
	}
	month := 12
	s.Month = &month
	if clone.Month != nil && *clone.Month == 12 {
		t.Fatal("clone shares month pointer")
	}
}

func TestPeriodLabel(t *testing.T) {
	s := draftSettlement(t)
	if s.PeriodLabel() != "2026-02" {
		t.Fatalf("label = %q", s.PeriodLabel())
	}
	annual, err := NewSettlement("park-nord", 2026, nil, 0, ModeProportional, DistributionParams{}, "", "", testNow())
	if err != nil {
		t.Fatalf("new settlement: %v", err)
	}
	if annual.PeriodLabel() != "2026" {
		t.Fatalf("label = %q", annual.PeriodLabel())
	}
}
