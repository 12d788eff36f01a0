package masterdata

import (
	"errors"
	"time"
)

// Park represents a wind park in masterdata.
type Park struct {
	ID           string
	Name         string
	GridOperator string
	Region       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Validate checks park invariants.
func (p Park) Validate() error {
	if p.ID == "" {
		return errors.New("park: empty id")
	}
	if p.Name == "" {
		return errors.New("park: empty name")
	}
	return nil
}
