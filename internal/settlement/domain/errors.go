package settlement

import "errors"

var (
	// ErrEmptyInput is returned when no production records are supplied.
	ErrEmptyInput = errors.New("settlement: empty production input")
	// ErrZeroProduction is returned when the period's total production is zero.
	ErrZeroProduction = errors.New("settlement: zero total production")
	// ErrInvalidParameter is returned on a bad mode/parameter combination.
	ErrInvalidParameter = errors.New("settlement: invalid distribution parameter")
	// ErrIllegalState is returned when an operation is not valid for the current status.
	ErrIllegalState = errors.New("settlement: operation not allowed in current status")
	// ErrConcurrentModification is returned when a concurrent writer won the race.
	ErrConcurrentModification = errors.New("settlement: concurrent modification")
	// ErrSettlementNotFound is returned when a settlement is not found.
	ErrSettlementNotFound = errors.New("settlement: not found")
	// ErrNilSettlement is returned when saving a nil settlement.
	ErrNilSettlement = errors.New("settlement: nil settlement")
	// ErrEmptyParkID is returned when the park id is empty.
	ErrEmptyParkID = errors.New("settlement: empty park id")
	// ErrAlreadyInvoiced is returned when invoice creation finds an existing reference.
	ErrAlreadyInvoiced = errors.New("settlement: item already carries an invoice reference")
)
