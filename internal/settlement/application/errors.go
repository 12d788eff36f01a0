package application

import "fmt"

// InvoiceFailure describes one item whose invoice creation failed.
type InvoiceFailure struct {
	ItemID string
	Err    error
}

// InvoicePartialFailureError reports an invoice run where some items
// succeeded and some failed. The settlement stays calculated; references of
// the succeeded items are persisted so a retry only covers the failed subset.
type InvoicePartialFailureError struct {
	SettlementID string
	Succeeded    []string
	Failed       []InvoiceFailure
}

func (e *InvoicePartialFailureError) Error() string {
	return fmt.Sprintf("settlement %s: %d invoices created, %d failed", e.SettlementID, len(e.Succeeded), len(e.Failed))
}
