package masterdata

import (
	"errors"
	"time"
)

// Turbine represents a single turbine and its recipient entity assignment.
// The recipient entity receives the turbine's share of settlement revenue.
type Turbine struct {
	ID                string
	ParkID            string
	Designation       string
	RecipientEntityID string
	RatedPowerKw      float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Validate checks turbine invariants.
func (t Turbine) Validate() error {
	if t.ID == "" {
		return errors.New("turbine: empty id")
	}
	if t.ParkID == "" {
		return errors.New("turbine: empty park id")
	}
	if t.RecipientEntityID == "" {
		return errors.New("turbine: empty recipient entity id")
	}
	return nil
}
