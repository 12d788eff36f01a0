package application

import "time"

// SettlementCalculated is emitted after a calculation run replaced the items.
type SettlementCalculated struct {
	SettlementID    string    `json:"settlement_id"`
	ParkID          string    `json:"park_id"`
	Period          string    `json:"period"`
	Mode            string    `json:"mode"`
	NetRevenueCents int64     `json:"net_revenue_cents"`
	PricePerKwh     float64   `json:"price_per_kwh"`
	ItemCount       int       `json:"item_count"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// SettlementInvoiced is emitted once every item carries an invoice reference.
type SettlementInvoiced struct {
	SettlementID string    `json:"settlement_id"`
	ParkID       string    `json:"park_id"`
	Period       string    `json:"period"`
	InvoiceCount int       `json:"invoice_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// SettlementClosed is emitted when a settlement reaches its terminal state.
type SettlementClosed struct {
	SettlementID string    `json:"settlement_id"`
	ParkID       string    `json:"park_id"`
	Period       string    `json:"period"`
	OccurredAt   time.Time `json:"occurred_at"`
}
