package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"windpark-cloud/internal/settlement/application"
	settlement "windpark-cloud/internal/settlement/domain"
	"windpark-cloud/internal/settlement/infrastructure/memory"
)

type stubProduction struct {
	records []settlement.ProductionRecord
}

func (s *stubProduction) ListParkPeriodProduction(ctx context.Context, parkID string, year int, month *int) ([]settlement.ProductionRecord, error) {
	_ = ctx
	_ = parkID
	_ = year
	_ = month
	return s.records, nil
}

type stubParks struct{}

func (stubParks) ParkName(ctx context.Context, parkID string) (string, error) {
	_ = ctx
	_ = parkID
	return "Windpark Nordkante", nil
}

type stubBridge struct {
	mu      sync.Mutex
	failFor map[string]bool
	calls   int
}

func (b *stubBridge) CreateInvoice(ctx context.Context, req application.InvoiceRequest) (string, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failFor[req.RecipientEntityID] {
		return "", errors.New("bridge unavailable")
	}
	return "inv-" + req.ItemID, nil
}

func parkProduction() []settlement.ProductionRecord {
	return []settlement.ProductionRecord{
		{RecipientEntityID: "owner-a", TurbineID: "wtg-01", ProductionKwh: 100000},
		{RecipientEntityID: "owner-b", TurbineID: "wtg-02", ProductionKwh: 150000},
		{RecipientEntityID: "owner-c", TurbineID: "wtg-03", ProductionKwh: 250000},
	}
}

func newTestHandler(t *testing.T, bridge *stubBridge) *Handler {
	t.Helper()
	repo := memory.NewSettlementRepository()
	service, err := application.NewSettlementService(
		repo,
		&stubProduction{records: parkProduction()},
		stubParks{},
		bridge,
		nil,
		nil,
		log.New(io.Discard, "", 0),
		"EUR",
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	handler, err := NewHandler(service, nil, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func doJSON(t *testing.T, handler *Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(method, path, reader))
	return recorder
}

func createSettlement(t *testing.T, handler *Handler) settlementView {
	t.Helper()
	month := 3
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/settlements", createRequest{
		ParkID:          "park-nord",
		Year:            2026,
		Month:           &month,
		NetRevenueCents: 5000000,
		Mode:            "PROPORTIONAL",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", recorder.Code, recorder.Body.String())
	}
	var view settlementView
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return view
}

func settlementPath(id string, suffix ...string) string {
	path := "/api/v1/settlements/" + url.PathEscape(id)
	for _, part := range suffix {
		path += "/" + part
	}
	return path
}

func TestHandlerCreateAndCalculate(t *testing.T) {
	handler := newTestHandler(t, &stubBridge{})
	created := createSettlement(t, handler)
	if created.Status != settlement.StatusDraft {
		t.Fatalf("expected draft status, got %q", created.Status)
	}
	if created.ID != "park-nord|2026-03" {
		t.Fatalf("unexpected id %q", created.ID)
	}

	recorder := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, "calculate"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("calculate status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response struct {
		Settlement  settlementView `json:"settlement"`
		PricePerKwh float64        `json:"price_per_kwh"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode calculate response: %v", err)
	}
	if response.PricePerKwh != 0.10 {
		t.Fatalf("price per kwh = %v, want 0.10", response.PricePerKwh)
	}
	if response.Settlement.Status != settlement.StatusCalculated {
		t.Fatalf("expected calculated status, got %q", response.Settlement.Status)
	}
	if len(response.Settlement.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(response.Settlement.Items))
	}
	var sum int64
	for _, item := range response.Settlement.Items {
		sum += item.RevenueShareCents
	}
	if sum != 5000000 {
		t.Fatalf("cent sum = %d, want 5000000", sum)
	}
}

func TestHandlerInvoicesPartialFailure(t *testing.T) {
	bridge := &stubBridge{failFor: map[string]bool{"owner-b": true}}
	handler := newTestHandler(t, bridge)
	created := createSettlement(t, handler)
	if code := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, "calculate"), nil).Code; code != http.StatusOK {
		t.Fatalf("calculate status %d", code)
	}

	recorder := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, "invoices"), nil)
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("invoices status %d, want 502: %s", recorder.Code, recorder.Body.String())
	}
	var run invoiceRunView
	if err := json.Unmarshal(recorder.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode invoices response: %v", err)
	}
	if run.Summary.Created != 2 || run.Summary.Failed != 1 {
		t.Fatalf("unexpected summary %+v", run.Summary)
	}
	if len(run.Failures) != 1 || run.Failures[0].Error == "" {
		t.Fatalf("expected one failure with message, got %+v", run.Failures)
	}
	if run.Settlement.Status != settlement.StatusCalculated {
		t.Fatalf("expected settlement to stay calculated, got %q", run.Settlement.Status)
	}

	// Retry after the bridge recovers: only the failed item is requested again.
	bridge.mu.Lock()
	bridge.failFor = nil
	callsBefore := bridge.calls
	bridge.mu.Unlock()

	recorder = doJSON(t, handler, http.MethodPost, settlementPath(created.ID, "invoices"), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("retry status %d: %s", recorder.Code, recorder.Body.String())
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode retry response: %v", err)
	}
	if run.Summary.Created != 1 || run.Summary.Skipped != 2 {
		t.Fatalf("unexpected retry summary %+v", run.Summary)
	}
	if run.Settlement.Status != settlement.StatusInvoiced {
		t.Fatalf("expected invoiced status, got %q", run.Settlement.Status)
	}
	bridge.mu.Lock()
	extraCalls := bridge.calls - callsBefore
	bridge.mu.Unlock()
	if extraCalls != 1 {
		t.Fatalf("expected exactly 1 bridge call on retry, got %d", extraCalls)
	}
}

func TestHandlerFullLifecycle(t *testing.T) {
	handler := newTestHandler(t, &stubBridge{})
	created := createSettlement(t, handler)
	for _, step := range []string{"calculate", "invoices", "close"} {
		if code := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, step), nil).Code; code != http.StatusOK {
			t.Fatalf("%s status %d", step, code)
		}
	}

	recorder := doJSON(t, handler, http.MethodGet, settlementPath(created.ID), nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get status %d", recorder.Code)
	}
	var view settlementView
	if err := json.Unmarshal(recorder.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if view.Status != settlement.StatusClosed {
		t.Fatalf("expected closed status, got %q", view.Status)
	}
	for _, item := range view.Items {
		if item.InvoiceRef == "" {
			t.Fatalf("expected invoice ref on item %s", item.ID)
		}
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	handler := newTestHandler(t, &stubBridge{})
	created := createSettlement(t, handler)

	if code := doJSON(t, handler, http.MethodGet, settlementPath("park-nord|2026-12"), nil).Code; code != http.StatusNotFound {
		t.Fatalf("get unknown: status %d, want 404", code)
	}

	// Invoicing a draft is an illegal transition.
	if code := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, "invoices"), nil).Code; code != http.StatusConflict {
		t.Fatalf("invoices on draft: status %d, want 409", code)
	}
	if code := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, "close"), nil).Code; code != http.StatusConflict {
		t.Fatalf("close on draft: status %d, want 409", code)
	}

	month := 4
	recorder := doJSON(t, handler, http.MethodPost, "/api/v1/settlements", createRequest{
		ParkID:          "park-nord",
		Year:            2026,
		Month:           &month,
		NetRevenueCents: 100,
		Mode:            "BANDED",
	})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("create with unknown mode: status %d, want 400", recorder.Code)
	}

	if code := doJSON(t, handler, http.MethodGet, "/api/v1/settlements", nil).Code; code != http.StatusBadRequest {
		t.Fatalf("list without park_id: status %d, want 400", code)
	}

	for _, step := range []string{"calculate", "invoices", "close"} {
		if code := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, step), nil).Code; code != http.StatusOK {
			t.Fatalf("%s status %d", step, code)
		}
	}
	if code := doJSON(t, handler, http.MethodPost, settlementPath(created.ID, "calculate"), nil).Code; code != http.StatusConflict {
		t.Fatalf("calculate on closed: status %d, want 409", code)
	}
	if code := doJSON(t, handler, http.MethodDelete, settlementPath(created.ID), nil).Code; code != http.StatusConflict {
		t.Fatalf("delete on closed: status %d, want 409", code)
	}
}

func TestHandlerDeleteDraft(t *testing.T) {
	handler := newTestHandler(t, &stubBridge{})
	created := createSettlement(t, handler)
	if code := doJSON(t, handler, http.MethodDelete, settlementPath(created.ID), nil).Code; code != http.StatusNoContent {
		t.Fatalf("delete draft: status %d, want 204", code)
	}
	if code := doJSON(t, handler, http.MethodGet, settlementPath(created.ID), nil).Code; code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d, want 404", code)
	}
}

func TestHandlerListByPark(t *testing.T) {
	handler := newTestHandler(t, &stubBridge{})
	created := createSettlement(t, handler)
	recorder := doJSON(t, handler, http.MethodGet, "/api/v1/settlements?park_id=park-nord", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list status %d", recorder.Code)
	}
	var views []settlementView
	if err := json.Unmarshal(recorder.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(views) != 1 || views[0].ID != created.ID {
		t.Fatalf("unexpected listing %+v", views)
	}
}
