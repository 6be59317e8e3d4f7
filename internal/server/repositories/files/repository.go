package files

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
)

// Repository persists file rows and per-user file access edges. Like the
// folder repository it is bound to a DBTX so services can compose calls
// inside one transaction.
type Repository interface {
	Create(ctx context.Context, file *models.File) error
	Get(ctx context.Context, id uuid.UUID) (*models.File, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, encryptedMetadata []byte) error
	AddSize(ctx context.Context, id uuid.UUID, delta int64) error
	Finalize(ctx context.Context, id uuid.UUID) error
	SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error
	SetDeletedInSubtree(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListUnfinalizedOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	InsertEdge(ctx context.Context, edge *models.FileAccess) error
	UpsertShareEdge(ctx context.Context, edge *models.FileAccess) error
	GetEdge(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error)
	GetEdgeForUpdate(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error)
	DeleteEdge(ctx context.Context, fileID uuid.UUID, userID string) error
	DeleteEdgesExcept(ctx context.Context, fileID uuid.UUID, keepUserID string) (int64, error)
	CountEdges(ctx context.Context, fileID uuid.UUID) (int64, error)
	Owner(ctx context.Context, fileID uuid.UUID) (string, error)
	AcceptEdge(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error
	AcceptEdgesInSubtree(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	SetEdgeDeleted(ctx context.Context, fileID uuid.UUID, userID string, deleted bool) error
	SetEdgesDeletedInSubtree(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error)
	DeleteEdgesInSubtree(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	DeleteEdgesInSubtreeExcept(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error)
	SetEdgeAnchor(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error

	ListInFolder(ctx context.Context, userID string, folderID *uuid.UUID) ([]*models.ListedFile, error)
	ListTrashed(ctx context.Context, userID string) ([]*models.ListedFile, error)
	ListTrashedForPurge(ctx context.Context, userID string) ([]*models.ListedFile, error)
	PendingShares(ctx context.Context, userID string) ([]*models.PendingShare, error)
	SharedUsers(ctx context.Context, fileID uuid.UUID) ([]*models.SharedUser, error)
	UsageStats(ctx context.Context, userID string) (usedSpace, fileCount int64, err error)
	TrashStats(ctx context.Context, userID string) (deletedSize, deletedFiles int64, err error)
}
