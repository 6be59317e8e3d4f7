package folders

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
)

// Repository persists folder rows and per-user folder access edges.
// Implementations operate over a single DBTX, so a service can run several
// calls inside one transaction.
type Repository interface {
	Create(ctx context.Context, folder *models.Folder) error
	Get(ctx context.Context, id uuid.UUID) (*models.Folder, error)
	UpdateMetadata(ctx context.Context, id uuid.UUID, encryptedMetadata []byte) error
	Move(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error
	DeleteOrphaned(ctx context.Context) (int64, error)

	InsertEdge(ctx context.Context, edge *models.FolderAccess) error
	UpsertShareEdge(ctx context.Context, edge *models.FolderAccess) error
	GetEdge(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error)
	GetEdgeForUpdate(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error)
	DeleteEdge(ctx context.Context, folderID uuid.UUID, userID string) error
	SetEdgeRootAnchor(ctx context.Context, folderID uuid.UUID, userID string, anchored bool) error

	AcceptRootEdge(ctx context.Context, folderID uuid.UUID, userID string) error
	AcceptSubtreeEdges(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	SetSubtreeEdgesDeleted(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error)
	DeleteSubtreeEdges(ctx context.Context, rootID uuid.UUID, userID string) (int64, error)
	DeleteSubtreeEdgesExcept(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error)
	RestoreAncestorEdges(ctx context.Context, folderID uuid.UUID, userID string) error
	DeleteTrashedEdges(ctx context.Context, userID string) (int64, error)

	Subtree(ctx context.Context, rootID uuid.UUID) ([]uuid.UUID, error)
	IsInSubtree(ctx context.Context, rootID, candidate uuid.UUID) (bool, error)
	ListChildren(ctx context.Context, userID string, parentID *uuid.UUID) ([]*models.ListedFolder, error)
	Breadcrumb(ctx context.Context, folderID uuid.UUID, userID string) ([]*models.PathEntry, error)
	ListTrashed(ctx context.Context, userID string) ([]*models.ListedFolder, error)
	PendingShares(ctx context.Context, userID string) ([]*models.PendingShare, error)
	SharedUsers(ctx context.Context, folderID uuid.UUID) ([]*models.SharedUser, error)
	CountOwned(ctx context.Context, userID string) (int64, error)
	CountTrashed(ctx context.Context, userID string) (int64, error)
}
