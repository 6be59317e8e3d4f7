package services

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	sc "github.com/dmitrijs2005/cipherdrive/internal/server/config"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
)

// FolderService implements tree operations: creating folders, listing,
// breadcrumbs, rename, move and usage statistics.
type FolderService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
}

// NewFolderService constructs a FolderService.
func NewFolderService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config) *FolderService {
	return &FolderService{db: db, repomanager: m, config: cfg}
}

// CreateFolder creates a folder under parentID (nil for the caller's top
// level) and grants the caller the owner edge carrying the wrapped key.
// Creating inside a folder requires at least editor there.
func (s *FolderService) CreateFolder(ctx context.Context, userID string, parentID *uuid.UUID, encryptedMetadata, encryptedKey []byte) (*models.Folder, error) {
	if len(encryptedMetadata) == 0 || len(encryptedKey) == 0 {
		return nil, common.ErrInvalidArgument
	}

	folder := &models.Folder{
		ID:                uuid.New(),
		ParentFolderID:    parentID,
		IsRoot:            parentID == nil,
		EncryptedMetadata: encryptedMetadata,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		if parentID != nil {
			if _, err := requireFolderEdge(ctx, repo, *parentID, userID, models.AccessEditor); err != nil {
				return err
			}
		}
		if err := repo.Create(ctx, folder); err != nil {
			return err
		}
		return repo.InsertEdge(ctx, &models.FolderAccess{
			ID:                 uuid.New(),
			FolderID:           folder.ID,
			UserID:             userID,
			AccessLevel:        models.AccessOwner,
			EncryptedFolderKey: encryptedKey,
			IsAccepted:         true,
			IsRootAnchor:       parentID == nil,
		})
	})
	if err != nil {
		return nil, err
	}
	return folder, nil
}

// ListChildren returns the folders and finished files the caller sees
// directly inside folderID, or at their top level when folderID is nil.
func (s *FolderService) ListChildren(ctx context.Context, userID string, folderID *uuid.UUID) ([]*models.ListedFolder, []*models.ListedFile, error) {
	folderRepo := s.repomanager.Folders(s.db)
	if folderID != nil {
		if _, err := requireFolderEdge(ctx, folderRepo, *folderID, userID, models.AccessViewer); err != nil {
			return nil, nil, err
		}
	}

	listedFolders, err := folderRepo.ListChildren(ctx, userID, folderID)
	if err != nil {
		return nil, nil, err
	}
	listedFiles, err := s.repomanager.Files(s.db).ListInFolder(ctx, userID, folderID)
	if err != nil {
		return nil, nil, err
	}
	return listedFolders, listedFiles, nil
}

// GetFullPath returns the breadcrumb from the tree root down to folderID.
// Ancestors the caller holds no edge on appear with a nil wrapped key.
func (s *FolderService) GetFullPath(ctx context.Context, userID string, folderID uuid.UUID) ([]*models.PathEntry, error) {
	repo := s.repomanager.Folders(s.db)
	if _, err := requireFolderEdge(ctx, repo, folderID, userID, models.AccessViewer); err != nil {
		return nil, err
	}
	return repo.Breadcrumb(ctx, folderID, userID)
}

// RenameFolder replaces a folder's encrypted metadata blob. The new name is
// inside the ciphertext, so the server stores it without interpretation.
func (s *FolderService) RenameFolder(ctx context.Context, userID string, folderID uuid.UUID, encryptedMetadata []byte) error {
	if len(encryptedMetadata) == 0 {
		return common.ErrInvalidArgument
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		if _, err := requireFolderEdge(ctx, repo, folderID, userID, models.AccessEditor); err != nil {
			return err
		}
		return repo.UpdateMetadata(ctx, folderID, encryptedMetadata)
	})
}

// RenameFile replaces a file's encrypted metadata blob.
func (s *FolderService) RenameFile(ctx context.Context, userID string, fileID uuid.UUID, encryptedMetadata []byte) error {
	if len(encryptedMetadata) == 0 {
		return common.ErrInvalidArgument
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)
		if _, err := requireFileEdge(ctx, repo, fileID, userID, models.AccessEditor); err != nil {
			return err
		}
		return repo.UpdateMetadata(ctx, fileID, encryptedMetadata)
	})
}

// MoveFolder reparents a folder; a nil newParentID lifts it to the caller's
// top level. Moving requires editor on the folder itself but only a live
// edge on the target parent. Moving a folder into its own subtree returns
// ErrConflict.
func (s *FolderService) MoveFolder(ctx context.Context, userID string, folderID uuid.UUID, newParentID *uuid.UUID) error {
	if newParentID != nil && *newParentID == folderID {
		return common.ErrConflict
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		if _, err := requireFolderEdge(ctx, repo, folderID, userID, models.AccessEditor); err != nil {
			return err
		}
		if newParentID != nil {
			if _, err := requireFolderEdge(ctx, repo, *newParentID, userID, models.AccessViewer); err != nil {
				return err
			}
			cycle, err := repo.IsInSubtree(ctx, folderID, *newParentID)
			if err != nil {
				return err
			}
			if cycle {
				return common.ErrConflict
			}
		}
		if err := repo.Move(ctx, folderID, newParentID); err != nil {
			return err
		}
		return repo.SetEdgeRootAnchor(ctx, folderID, userID, newParentID == nil)
	})
}

// MoveFile re-anchors a file in the caller's view; a nil newFolderID puts
// it at their top level. Editor on the file is required, the target folder
// only needs a live edge. Only the caller's own anchor moves, other
// recipients keep seeing the file where they accepted it.
func (s *FolderService) MoveFile(ctx context.Context, userID string, fileID uuid.UUID, newFolderID *uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		if _, err := requireFileEdge(ctx, fileRepo, fileID, userID, models.AccessEditor); err != nil {
			return err
		}
		if newFolderID != nil {
			folderRepo := s.repomanager.Folders(tx)
			if _, err := requireFolderEdge(ctx, folderRepo, *newFolderID, userID, models.AccessViewer); err != nil {
				return err
			}
		}
		return fileRepo.SetEdgeAnchor(ctx, fileID, userID, newFolderID)
	})
}

// UsageStats reports what the caller owns against their quota.
func (s *FolderService) UsageStats(ctx context.Context, userID string) (*models.UsageStats, error) {
	usedSpace, fileCount, err := s.repomanager.Files(s.db).UsageStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	folderCount, err := s.repomanager.Folders(s.db).CountOwned(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.UsageStats{
		UsedSpace:         usedSpace,
		FileCount:         fileCount,
		FolderCount:       folderCount,
		StorageLimitBytes: s.config.StorageLimitBytes,
	}, nil
}
