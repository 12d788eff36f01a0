package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	settlement "windpark-cloud/internal/settlement/domain"
)

// SettlementRepository is an in-memory repository for settlements, used by
// unit tests. It mirrors the optimistic version semantics of the Postgres
// implementation.
type SettlementRepository struct {
	mu   sync.RWMutex
	data map[string]*settlement.Settlement
}

// NewSettlementRepository constructs a repository.
func NewSettlementRepository() *SettlementRepository {
	return &SettlementRepository{data: make(map[string]*settlement.Settlement)}
}

// Create inserts a new settlement.
func (r *SettlementRepository) Create(ctx context.Context, s *settlement.Settlement) error {
	_ = ctx
	if s == nil {
		return settlement.ErrNilSettlement
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[s.ID]; exists {
		return fmt.Errorf("settlement %s already exists", s.ID)
	}
	s.Version = 1
	r.data[s.ID] = s.Clone()
	return nil
}

// GetByID loads a settlement, (nil, nil) when absent.
func (r *SettlementRepository) GetByID(ctx context.Context, id string) (*settlement.Settlement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.data[id]
	if stored == nil {
		return nil, nil
	}
	return stored.Clone(), nil
}

// Save replaces the stored settlement and items under a version check.
func (r *SettlementRepository) Save(ctx context.Context, s *settlement.Settlement) error {
	_ = ctx
	if s == nil {
		return settlement.ErrNilSettlement
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.data[s.ID]
	if stored == nil {
		return fmt.Errorf("%w: %s", settlement.ErrSettlementNotFound, s.ID)
	}
	if stored.Version != s.Version {
		return fmt.Errorf("%w: %s", settlement.ErrConcurrentModification, s.ID)
	}
	s.Version++
	r.data[s.ID] = s.Clone()
	return nil
}

// Delete removes a settlement with its items.
func (r *SettlementRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[id]; !exists {
		return fmt.Errorf("%w: %s", settlement.ErrSettlementNotFound, id)
	}
	delete(r.data, id)
	return nil
}

// ListByPark returns all settlements of a park ordered by period.
func (r *SettlementRepository) ListByPark(ctx context.Context, parkID string) ([]settlement.Settlement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []settlement.Settlement
	for _, stored := range r.data {
		if stored.ParkID == parkID {
			result = append(result, *stored.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].PeriodLabel() < result[j].PeriodLabel()
	})
	return result, nil
}
