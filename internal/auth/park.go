package auth

import (
	"context"
	"database/sql"
	"errors"

	masterdatarepo "windpark-cloud/internal/masterdata/infrastructure/postgres"
)

var (
	// ErrParkMismatch indicates the caller is scoped to a different park.
	ErrParkMismatch = errors.New("park mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// ParkAccessChecker validates park-scoped access.
type ParkAccessChecker interface {
	EnsureParkAccess(ctx context.Context, parkScope, parkID string) error
}

// ParkChecker checks park access using masterdata.
type ParkChecker struct {
	repo *masterdatarepo.ParkRepository
}

// NewParkChecker constructs a ParkChecker.
func NewParkChecker(db *sql.DB) *ParkChecker {
	if db == nil {
		return nil
	}
	return &ParkChecker{repo: masterdatarepo.NewParkRepository(db)}
}

// EnsureParkAccess verifies the park exists and matches the caller scope.
// An empty scope grants access to all parks.
func (c *ParkChecker) EnsureParkAccess(ctx context.Context, parkScope, parkID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if parkID == "" {
		return nil
	}
	park, err := c.repo.Get(ctx, parkID)
	if err != nil {
		return err
	}
	if park == nil {
		return ErrNotFound
	}
	if parkScope != "" && parkScope != parkID {
		return ErrParkMismatch
	}
	return nil
}
