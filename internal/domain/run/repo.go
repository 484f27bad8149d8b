package run

import (
	"context"

	"github.com/google/uuid"
)

type RunRepository interface {
	Create(ctx context.Context, r *Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*Run, error)
	List(ctx context.Context, program string, limit, offset int) ([]*Run, int, error)
}
