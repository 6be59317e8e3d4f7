// Package services contains the server-side business logic of the drive:
// folder tree operations, chunked uploads and downloads, sharing and trash.
// Services compose repositories inside dbx transactions and talk to the
// blob gateway for chunk bytes.
package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/logging"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/files"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/folders"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
)

// BlobStore is the slice of the storage gateway the services use.
// *storage.Client implements it; tests substitute fakes.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// chunkKey builds the object key for one chunk. Keys are namespaced by file
// so a file's chunks can be located and removed together.
func chunkKey(fileID, chunkID uuid.UUID) string {
	return fmt.Sprintf("files/%s/%s", fileID, chunkID)
}

// requireFolderEdge loads the caller's edge on a folder and checks it is
// accepted, not trashed and at least min. Any failure collapses to
// ErrNotFound so a denied caller learns nothing about the folder.
func requireFolderEdge(ctx context.Context, repo folders.Repository, folderID uuid.UUID, userID string, min models.AccessLevel) (*models.FolderAccess, error) {
	edge, err := repo.GetEdge(ctx, folderID, userID)
	if err != nil {
		return nil, err
	}
	if !edge.IsAccepted || edge.IsDeleted || !edge.AccessLevel.AtLeast(min) {
		return nil, common.ErrNotFound
	}
	return edge, nil
}

// requireFileEdge is the file counterpart of requireFolderEdge.
func requireFileEdge(ctx context.Context, repo files.Repository, fileID uuid.UUID, userID string, min models.AccessLevel) (*models.FileAccess, error) {
	edge, err := repo.GetEdge(ctx, fileID, userID)
	if err != nil {
		return nil, err
	}
	if !edge.IsAccepted || edge.IsDeleted || !edge.AccessLevel.AtLeast(min) {
		return nil, common.ErrNotFound
	}
	return edge, nil
}

// purgeFile removes a file completely: chunk objects from the gateway, then
// the rows. Object deletion is best effort since the gateway tolerates
// re-deletion; rows go last so a crash leaves keys still findable.
func purgeFile(ctx context.Context, db *sql.DB, rm repomanager.RepositoryManager, blob BlobStore, log logging.Logger, fileID uuid.UUID) error {
	list, err := rm.Chunks(db).ListByFile(ctx, fileID)
	if err != nil {
		return err
	}
	for _, c := range list {
		if err := blob.Delete(ctx, c.ObjectKey); err != nil {
			log.Warn(ctx, "failed to delete chunk object", "key", c.ObjectKey, "error", err)
		}
	}
	return dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := rm.Chunks(tx).DeleteByFile(ctx, fileID); err != nil {
			return err
		}
		// access edges cascade with the file row
		return rm.Files(tx).Delete(ctx, fileID)
	})
}
