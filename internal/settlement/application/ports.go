package application

import (
	"context"
	"time"

	settlement "windpark-cloud/internal/settlement/domain"
)

// ProductionReader supplies the per-turbine production figures for a
// park/period from the production aggregation store. The engine trusts these
// values and never mutates raw production records.
type ProductionReader interface {
	ListParkPeriodProduction(ctx context.Context, parkID string, year int, month *int) ([]settlement.ProductionRecord, error)
}

// ParkReader resolves park display names for invoice descriptions.
type ParkReader interface {
	ParkName(ctx context.Context, parkID string) (string, error)
}

// InvoiceRequest is one invoice creation order handed to the bridge.
type InvoiceRequest struct {
	SettlementID      string
	ItemID            string
	RecipientEntityID string
	AmountCents       int64
	Currency          string
	Description       string
	IdempotencyKey    string
}

// InvoiceBridge creates billing documents for settlement items and returns
// the document reference. A retried call with the same idempotency key must
// not produce a duplicate invoice.
type InvoiceBridge interface {
	CreateInvoice(ctx context.Context, req InvoiceRequest) (string, error)
}

// EventPublisher emits settlement lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
