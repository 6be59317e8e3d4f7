package services

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/logging"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
)

// TrashService implements the reversible delete flow. A soft delete by the
// owner flags their edges and the rows; recipients drop out of the share
// instead of getting a trash entry. Data leaves the blob store only on
// EmptyTrash.
type TrashService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blob        BlobStore
	logger      logging.Logger
}

// NewTrashService constructs a TrashService.
func NewTrashService(db *sql.DB, m repomanager.RepositoryManager, blob BlobStore, log logging.Logger) *TrashService {
	return &TrashService{db: db, repomanager: m, blob: blob, logger: log}
}

// SoftDeleteFile moves a file to the caller's trash. For the owner the file
// row is flagged and every other user's edge is removed, so recipients lose
// it immediately. A non-owner just leaves the share.
func (s *TrashService) SoftDeleteFile(ctx context.Context, userID string, fileID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		edge, err := fileRepo.GetEdgeForUpdate(ctx, fileID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted {
			return common.ErrNotFound
		}
		if edge.AccessLevel != models.AccessOwner {
			return fileRepo.DeleteEdge(ctx, fileID, userID)
		}
		if err := fileRepo.SetEdgeDeleted(ctx, fileID, userID, true); err != nil {
			return err
		}
		if err := fileRepo.SetDeleted(ctx, fileID, true); err != nil {
			return err
		}
		_, err = fileRepo.DeleteEdgesExcept(ctx, fileID, userID)
		return err
	})
}

// SoftDeleteFolder moves a folder subtree to the caller's trash. The owner
// keeps flagged edges over the whole subtree so restore can bring it back;
// other users' edges below the folder are removed outright. A non-owner
// leaves the share, dropping their own subtree edges.
func (s *TrashService) SoftDeleteFolder(ctx context.Context, userID string, folderID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		fileRepo := s.repomanager.Files(tx)

		edge, err := folderRepo.GetEdgeForUpdate(ctx, folderID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted {
			return common.ErrNotFound
		}

		if edge.AccessLevel != models.AccessOwner {
			if _, err := folderRepo.DeleteSubtreeEdges(ctx, folderID, userID); err != nil {
				return err
			}
			_, err := fileRepo.DeleteEdgesInSubtree(ctx, folderID, userID)
			return err
		}

		if _, err := folderRepo.SetSubtreeEdgesDeleted(ctx, folderID, userID, true); err != nil {
			return err
		}
		if _, err := fileRepo.SetEdgesDeletedInSubtree(ctx, folderID, userID, true); err != nil {
			return err
		}
		if _, err := fileRepo.SetDeletedInSubtree(ctx, folderID, userID, true); err != nil {
			return err
		}
		if _, err := folderRepo.DeleteSubtreeEdgesExcept(ctx, folderID, userID); err != nil {
			return err
		}
		_, err = fileRepo.DeleteEdgesInSubtreeExcept(ctx, folderID, userID)
		return err
	})
}

// RestoreFile brings a trashed file back. If it was inside folders the
// caller also trashed, those ancestor edges are un-deleted too, otherwise
// the restored file would stay unreachable.
func (s *TrashService) RestoreFile(ctx context.Context, userID string, fileID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		edge, err := fileRepo.GetEdgeForUpdate(ctx, fileID, userID)
		if err != nil {
			return err
		}
		if !edge.IsDeleted {
			return common.ErrConflict
		}
		if err := fileRepo.SetEdgeDeleted(ctx, fileID, userID, false); err != nil {
			return err
		}
		if edge.AccessLevel == models.AccessOwner {
			if err := fileRepo.SetDeleted(ctx, fileID, false); err != nil {
				return err
			}
		}
		if edge.FolderID != nil {
			return s.repomanager.Folders(tx).RestoreAncestorEdges(ctx, *edge.FolderID, userID)
		}
		return nil
	})
}

// RestoreFolder brings a trashed folder subtree back, including the
// caller's deleted ancestor edges above it.
func (s *TrashService) RestoreFolder(ctx context.Context, userID string, folderID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		fileRepo := s.repomanager.Files(tx)

		edge, err := folderRepo.GetEdgeForUpdate(ctx, folderID, userID)
		if err != nil {
			return err
		}
		if !edge.IsDeleted {
			return common.ErrConflict
		}
		if _, err := folderRepo.SetSubtreeEdgesDeleted(ctx, folderID, userID, false); err != nil {
			return err
		}
		if _, err := fileRepo.SetEdgesDeletedInSubtree(ctx, folderID, userID, false); err != nil {
			return err
		}
		if edge.AccessLevel == models.AccessOwner {
			if _, err := fileRepo.SetDeletedInSubtree(ctx, folderID, userID, false); err != nil {
				return err
			}
		}
		return folderRepo.RestoreAncestorEdges(ctx, folderID, userID)
	})
}

// TrashContents lists the topmost trashed folders and files of the caller.
func (s *TrashService) TrashContents(ctx context.Context, userID string) ([]*models.ListedFolder, []*models.ListedFile, error) {
	trashedFolders, err := s.repomanager.Folders(s.db).ListTrashed(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	trashedFiles, err := s.repomanager.Files(s.db).ListTrashed(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return trashedFolders, trashedFiles, nil
}

// TrashStats summarizes the caller's trash.
func (s *TrashService) TrashStats(ctx context.Context, userID string) (*models.TrashStats, error) {
	deletedSize, deletedFiles, err := s.repomanager.Files(s.db).TrashStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	deletedFolders, err := s.repomanager.Folders(s.db).CountTrashed(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.TrashStats{
		DeletedSize:    deletedSize,
		DeletedFiles:   deletedFiles,
		DeletedFolders: deletedFolders,
	}, nil
}

// EmptyTrash irreversibly purges the caller's trash. Owned files lose their
// chunk objects and rows; files trashed as a recipient just lose the edge.
// Trashed folder edges go last, then folder rows nobody references anymore.
func (s *TrashService) EmptyTrash(ctx context.Context, userID string) error {
	fileRepo := s.repomanager.Files(s.db)
	trashed, err := fileRepo.ListTrashedForPurge(ctx, userID)
	if err != nil {
		return err
	}

	for _, f := range trashed {
		if f.AccessLevel == models.AccessOwner {
			if err := purgeFile(ctx, s.db, s.repomanager, s.blob, s.logger, f.ID); err != nil {
				return err
			}
			continue
		}
		if err := fileRepo.DeleteEdge(ctx, f.ID, userID); err != nil {
			return err
		}
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		if _, err := folderRepo.DeleteTrashedEdges(ctx, userID); err != nil {
			return err
		}
		_, err := folderRepo.DeleteOrphaned(ctx)
		return err
	})
}
