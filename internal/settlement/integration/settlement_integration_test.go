package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	masterdata "windpark-cloud/internal/masterdata/domain"
	masterdatarepo "windpark-cloud/internal/masterdata/infrastructure/postgres"
	"windpark-cloud/internal/settlement/adapters/production"
	settlementapp "windpark-cloud/internal/settlement/application"
	settlement "windpark-cloud/internal/settlement/domain"
	"windpark-cloud/internal/settlement/infrastructure/invoicebridge"
	settlementrepo "windpark-cloud/internal/settlement/infrastructure/postgres"
	settlementhttp "windpark-cloud/internal/settlement/interfaces/http"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestSettlementLifecycle_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "settlements") ||
		!tableExists(db, "settlement_items") ||
		!tableExists(db, "production_statistics") ||
		!tableExists(db, "parks") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	parkID := "park-itest"
	year := 2026
	month := 3

	_, _ = db.ExecContext(ctx, "DELETE FROM settlement_items WHERE settlement_id LIKE $1", parkID+"|%")
	_, _ = db.ExecContext(ctx, "DELETE FROM settlements WHERE park_id = $1", parkID)
	_, _ = db.ExecContext(ctx, "DELETE FROM production_statistics WHERE park_id = $1", parkID)
	_, _ = db.ExecContext(ctx, "DELETE FROM parks WHERE id = $1", parkID)

	parkRepo := masterdatarepo.NewParkRepository(db)
	err = parkRepo.Save(ctx, masterdata.Park{
		ID:           parkID,
		Name:         "Windpark Integration",
		GridOperator: "TenneT",
		Region:       "DE-NW",
	})
	if err != nil {
		t.Fatalf("seed park: %v", err)
	}
	if err := seedProduction(ctx, db, parkID, year, month); err != nil {
		t.Fatalf("seed production: %v", err)
	}

	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"invoice_ref": "INV-" + key})
	}))
	defer bridge.Close()

	bridgeClient, err := invoicebridge.NewClient(settlementapp.InvoicingConfig{
		BridgeBaseURL:  bridge.URL,
		BridgeToken:    "itest-token",
		RequestTimeout: 5 * time.Second,
		RetryAttempts:  2,
		RetryBackoff:   time.Millisecond,
		Currency:       "EUR",
	})
	if err != nil {
		t.Fatalf("new bridge client: %v", err)
	}

	repo := settlementrepo.NewSettlementRepository(db)
	reader := production.NewPeriodProductionReader(db)
	clock := fixedClock{now: time.Date(2026, time.April, 1, 9, 0, 0, 0, time.UTC)}
	logger := log.New(io.Discard, "", 0)

	service, err := settlementapp.NewSettlementService(repo, reader, parkRepo, bridgeClient, nil, clock, logger, "EUR")
	if err != nil {
		t.Fatalf("new settlement service: %v", err)
	}

	created, err := service.Create(ctx, settlementapp.CreateSettlementInput{
		ParkID:               parkID,
		Year:                 year,
		Month:                &month,
		NetRevenueCents:      5000000,
		Mode:                 "PROPORTIONAL",
		NetOperatorReference: "NETOP-2026-03-042",
	})
	if err != nil {
		t.Fatalf("create settlement: %v", err)
	}
	if created.Status != settlement.StatusDraft {
		t.Fatalf("expected draft status, got %q", created.Status)
	}

	output, err := service.Calculate(ctx, created.ID)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(output.Settlement.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(output.Settlement.Items))
	}
	var sum int64
	for _, item := range output.Settlement.Items {
		sum += item.RevenueShareCents
	}
	if sum != 5000000 {
		t.Fatalf("expected cent-exact sum 5000000, got %d", sum)
	}

	reloaded, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("reload after calculate: %v", err)
	}
	if reloaded == nil || reloaded.Status != settlement.StatusCalculated {
		t.Fatalf("expected persisted calculated settlement, got %+v", reloaded)
	}
	if reloaded.Version != 2 {
		t.Fatalf("expected version 2 after calculate, got %d", reloaded.Version)
	}
	if len(reloaded.Items) != 3 {
		t.Fatalf("expected 3 persisted items, got %d", len(reloaded.Items))
	}

	// A repeated run against unchanged production must reproduce the same rows.
	again, err := service.Calculate(ctx, created.ID)
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	for i, item := range again.Settlement.Items {
		if item.ID != reloaded.Items[i].ID || item.RevenueShareCents != reloaded.Items[i].RevenueShareCents {
			t.Fatalf("recalculation diverged at %d: %+v vs %+v", i, item, reloaded.Items[i])
		}
	}

	run, err := service.CreateInvoices(ctx, created.ID)
	if err != nil {
		t.Fatalf("create invoices: %v", err)
	}
	if run.Summary.Created != 3 || run.Summary.Failed != 0 {
		t.Fatalf("unexpected invoice run summary: %+v", run.Summary)
	}

	invoiced, err := repo.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("reload after invoicing: %v", err)
	}
	if invoiced.Status != settlement.StatusInvoiced {
		t.Fatalf("expected invoiced status, got %q", invoiced.Status)
	}
	for _, item := range invoiced.Items {
		if item.InvoiceRef != "INV-"+item.ID {
			t.Fatalf("expected persisted invoice ref for %s, got %q", item.ID, item.InvoiceRef)
		}
	}

	handler, err := settlementhttp.NewHandler(service, nil, nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	exportPath := "/api/v1/settlements/" + url.PathEscape(created.ID) + "/export.xlsx"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, exportPath, nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("export status %d: %s", recorder.Code, recorder.Body.String())
	}
	if recorder.Body.Len() == 0 {
		t.Fatal("expected non-empty export body")
	}

	closed, err := service.Close(ctx, created.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != settlement.StatusClosed {
		t.Fatalf("expected closed status, got %q", closed.Status)
	}
	if _, err := service.Calculate(ctx, created.ID); err == nil {
		t.Fatal("expected calculate after close to fail")
	}
	if err := service.Delete(ctx, created.ID); err == nil {
		t.Fatal("expected delete after close to fail")
	}

	listed, err := service.List(ctx, parkID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Status != settlement.StatusClosed {
		t.Fatalf("unexpected listing: %+v", listed)
	}
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func seedProduction(ctx context.Context, db *sql.DB, parkID string, year, month int) error {
	type row struct {
		turbineID string
		ownerID   string
		kwh       float64
	}
	rows := []row{
		{turbineID: "wtg-01", ownerID: "owner-a", kwh: 100000},
		{turbineID: "wtg-02", ownerID: "owner-b", kwh: 150000},
		{turbineID: "wtg-03", ownerID: "owner-c", kwh: 250000},
	}
	for _, item := range rows {
		_, err := db.ExecContext(ctx, `
INSERT INTO production_statistics (park_id, turbine_id, recipient_entity_id, year, month, production_kwh)
VALUES ($1, $2, $3, $4, $5, $6)`, parkID, item.turbineID, item.ownerID, year, month, item.kwh)
		if err != nil {
			return err
		}
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
