package settlement

import "context"

// Repository persists settlement aggregates together with their items.
//
// Save replaces the stored row and the full item set atomically and performs
// an optimistic version check: when the stored version differs from the
// aggregate's, Save fails with ErrConcurrentModification and leaves the
// stored state untouched. GetByID returns (nil, nil) when absent.
type Repository interface {
	Create(ctx context.Context, s *Settlement) error
	GetByID(ctx context.Context, id string) (*Settlement, error)
	Save(ctx context.Context, s *Settlement) error
	Delete(ctx context.Context, id string) error
	ListByPark(ctx context.Context, parkID string) ([]Settlement, error)
}
