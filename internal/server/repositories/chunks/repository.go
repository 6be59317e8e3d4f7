package chunks

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
)

// Repository persists chunk locator rows.
type Repository interface {
	Insert(ctx context.Context, chunk *models.Chunk) error
	GetByIndex(ctx context.Context, fileID uuid.UUID, index int32) (*models.Chunk, error)
	ListByFile(ctx context.Context, fileID uuid.UUID) ([]*models.Chunk, error)
	DeleteByFile(ctx context.Context, fileID uuid.UUID) (int64, error)
}
