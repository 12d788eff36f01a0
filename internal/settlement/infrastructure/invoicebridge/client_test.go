package invoicebridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"windpark-cloud/internal/settlement/application"
)

func bridgeConfig(baseURL string) application.InvoicingConfig {
	return application.InvoicingConfig{
		BridgeBaseURL:  baseURL,
		BridgeToken:    "token-1",
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  3,
		RetryBackoff:   time.Millisecond,
		Currency:       "EUR",
	}
}

func invoiceRequest() application.InvoiceRequest {
	return application.InvoiceRequest{
		SettlementID:      "park-nord|2026-03",
		ItemID:            "sitem-0011223344556677",
		RecipientEntityID: "owner-a",
		AmountCents:       1000000,
		Currency:          "EUR",
		Description:       "Revenue settlement Windpark Nordkante 2026-03, turbine wtg-01",
		IdempotencyKey:    "sitem-0011223344556677",
	}
}

func TestCreateInvoiceSendsHeadersAndPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/invoices" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "sitem-0011223344556677" {
			t.Errorf("unexpected idempotency key %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("unexpected authorization %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["amount_cents"] != float64(1000000) {
			t.Errorf("unexpected amount: %v", payload["amount_cents"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"invoice_ref": "INV-2026-0001"})
	}))
	defer server.Close()

	client, err := NewClient(bridgeConfig(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ref, err := client.CreateInvoice(context.Background(), invoiceRequest())
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if ref != "INV-2026-0001" {
		t.Fatalf("unexpected ref %q", ref)
	}
}

func TestCreateInvoiceRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"invoice_ref": "INV-2026-0002"})
	}))
	defer server.Close()

	client, err := NewClient(bridgeConfig(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ref, err := client.CreateInvoice(context.Background(), invoiceRequest())
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if ref != "INV-2026-0002" {
		t.Fatalf("unexpected ref %q", ref)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestCreateInvoiceDoesNotRetryClientError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := NewClient(bridgeConfig(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.CreateInvoice(context.Background(), invoiceRequest()); err == nil {
		t.Fatal("expected error")
	} else if !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 attempt, got %d", got)
	}
}

func TestCreateInvoiceRejectsEmptyIdempotencyKey(t *testing.T) {
	client, err := NewClient(bridgeConfig("http://bridge.invalid"))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	req := invoiceRequest()
	req.IdempotencyKey = ""
	if _, err := client.CreateInvoice(context.Background(), req); err == nil {
		t.Fatal("expected error for empty idempotency key")
	}
}

func TestCreateInvoiceRejectsEmptyReference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer server.Close()

	client, err := NewClient(bridgeConfig(server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.CreateInvoice(context.Background(), invoiceRequest()); err == nil {
		t.Fatal("expected error for empty invoice reference")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(application.InvoicingConfig{}); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
