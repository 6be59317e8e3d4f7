package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
)

// ShareService implements granting, accepting, rejecting and revoking
// access. Grants are pending until the recipient accepts; keys wrapped for
// the recipient are produced client-side and stored opaquely here.
type ShareService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
}

// NewShareService constructs a ShareService.
func NewShareService(db *sql.DB, m repomanager.RepositoryManager) *ShareService {
	return &ShareService{db: db, repomanager: m}
}

// SubtreeShareItem is one item of a batch folder share: the item and its
// key wrapped for the recipient.
type SubtreeShareItem struct {
	ItemID       uuid.UUID
	IsFolder     bool
	EncryptedKey []byte
}

// ShareFolder grants a pending edge on a folder. Only the owner can share,
// the grant cannot target the owner themself, and the granted level cannot
// be owner.
func (s *ShareService) ShareFolder(ctx context.Context, userID string, folderID uuid.UUID,
	recipientID string, level models.AccessLevel, encryptedKey []byte) error {
	if err := validateGrant(userID, recipientID, level, encryptedKey); err != nil {
		return err
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Folders(tx)
		edge, err := repo.GetEdgeForUpdate(ctx, folderID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted || edge.AccessLevel != models.AccessOwner {
			return common.ErrNotFound
		}
		return repo.UpsertShareEdge(ctx, &models.FolderAccess{
			ID:                 uuid.New(),
			FolderID:           folderID,
			UserID:             recipientID,
			AccessLevel:        level,
			EncryptedFolderKey: encryptedKey,
		})
	})
}

// ShareFile grants a pending edge on a single file. The pending edge points
// at the owner's anchor folder; acceptance keeps that anchor only if the
// recipient can see it.
func (s *ShareService) ShareFile(ctx context.Context, userID string, fileID uuid.UUID,
	recipientID string, level models.AccessLevel, encryptedKey []byte) error {
	if err := validateGrant(userID, recipientID, level, encryptedKey); err != nil {
		return err
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Files(tx)
		edge, err := repo.GetEdgeForUpdate(ctx, fileID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted || edge.AccessLevel != models.AccessOwner {
			return common.ErrNotFound
		}
		return repo.UpsertShareEdge(ctx, &models.FileAccess{
			ID:               uuid.New(),
			FileID:           fileID,
			UserID:           recipientID,
			FolderID:         edge.FolderID,
			AccessLevel:      level,
			EncryptedFileKey: encryptedKey,
		})
	})
}

// ShareSubtreeBatch grants pending edges on a folder and items below it in
// one transaction. The client wraps every item key for the recipient and
// sends the whole batch; items outside the root's subtree are rejected.
// Only the topmost folder shows up in the recipient's pending list, and
// accepting it flips the entire batch.
func (s *ShareService) ShareSubtreeBatch(ctx context.Context, userID string, rootID uuid.UUID,
	recipientID string, level models.AccessLevel, items []SubtreeShareItem) error {
	if len(items) == 0 {
		return common.ErrInvalidArgument
	}
	rootIncluded := false
	for _, it := range items {
		if err := validateGrant(userID, recipientID, level, it.EncryptedKey); err != nil {
			return err
		}
		if it.IsFolder && it.ItemID == rootID {
			rootIncluded = true
		}
	}
	if !rootIncluded {
		return common.ErrInvalidArgument
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		fileRepo := s.repomanager.Files(tx)

		edge, err := folderRepo.GetEdgeForUpdate(ctx, rootID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted || edge.AccessLevel != models.AccessOwner {
			return common.ErrNotFound
		}

		subtree, err := folderRepo.Subtree(ctx, rootID)
		if err != nil {
			return err
		}
		inSubtree := make(map[uuid.UUID]bool, len(subtree))
		for _, id := range subtree {
			inSubtree[id] = true
		}

		for _, it := range items {
			if it.IsFolder {
				if !inSubtree[it.ItemID] {
					return common.ErrInvalidArgument
				}
				if err := folderRepo.UpsertShareEdge(ctx, &models.FolderAccess{
					ID:                 uuid.New(),
					FolderID:           it.ItemID,
					UserID:             recipientID,
					AccessLevel:        level,
					EncryptedFolderKey: it.EncryptedKey,
				}); err != nil {
					return err
				}
				continue
			}
			ownerEdge, err := fileRepo.GetEdge(ctx, it.ItemID, userID)
			if err != nil {
				return err
			}
			if ownerEdge.FolderID == nil || !inSubtree[*ownerEdge.FolderID] {
				return common.ErrInvalidArgument
			}
			if err := fileRepo.UpsertShareEdge(ctx, &models.FileAccess{
				ID:               uuid.New(),
				FileID:           it.ItemID,
				UserID:           recipientID,
				FolderID:         ownerEdge.FolderID,
				AccessLevel:      level,
				EncryptedFileKey: it.EncryptedKey,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// AccessGrant carries one recipient of a key push: the user and the item key
// wrapped for them.
type AccessGrant struct {
	UserID       string
	EncryptedKey []byte
}

// PropagateFileAccess hands accepted edges on a file to users who already
// see its folder, so an upload into a shared folder appears for everyone at
// once without a pending share. Each recipient inherits their folder level,
// capped at editor, and users already holding an edge are skipped.
func (s *ShareService) PropagateFileAccess(ctx context.Context, userID string, fileID uuid.UUID, grants []AccessGrant) error {
	if len(grants) == 0 {
		return common.ErrInvalidArgument
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		edge, err := fileRepo.GetEdgeForUpdate(ctx, fileID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted || edge.AccessLevel != models.AccessOwner {
			return common.ErrNotFound
		}
		if edge.FolderID == nil {
			return common.ErrInvalidArgument
		}

		folderRepo := s.repomanager.Folders(tx)
		for _, g := range grants {
			if g.UserID == "" || len(g.EncryptedKey) == 0 {
				return common.ErrInvalidArgument
			}
			if g.UserID == userID {
				return common.ErrConflict
			}
			parent, err := folderRepo.GetEdge(ctx, *edge.FolderID, g.UserID)
			if err != nil {
				return err
			}
			if !parent.IsAccepted || parent.IsDeleted {
				return common.ErrNotFound
			}
			if _, err := fileRepo.GetEdge(ctx, fileID, g.UserID); err == nil {
				continue
			} else if !errors.Is(err, common.ErrNotFound) {
				return err
			}
			level := parent.AccessLevel
			if level == models.AccessOwner {
				level = models.AccessEditor
			}
			if err := fileRepo.InsertEdge(ctx, &models.FileAccess{
				ID:               uuid.New(),
				FileID:           fileID,
				UserID:           g.UserID,
				FolderID:         edge.FolderID,
				AccessLevel:      level,
				EncryptedFileKey: g.EncryptedKey,
				IsAccepted:       true,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// PropagateFolderAccess is the folder counterpart of PropagateFileAccess: a
// folder created inside a shared folder is handed to the users who already
// see the parent, each with the folder key wrapped for them.
func (s *ShareService) PropagateFolderAccess(ctx context.Context, userID string, folderID uuid.UUID, grants []AccessGrant) error {
	if len(grants) == 0 {
		return common.ErrInvalidArgument
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		edge, err := folderRepo.GetEdgeForUpdate(ctx, folderID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted || edge.AccessLevel != models.AccessOwner {
			return common.ErrNotFound
		}
		folder, err := folderRepo.Get(ctx, folderID)
		if err != nil {
			return err
		}
		if folder.ParentFolderID == nil {
			return common.ErrInvalidArgument
		}

		for _, g := range grants {
			if g.UserID == "" || len(g.EncryptedKey) == 0 {
				return common.ErrInvalidArgument
			}
			if g.UserID == userID {
				return common.ErrConflict
			}
			parent, err := folderRepo.GetEdge(ctx, *folder.ParentFolderID, g.UserID)
			if err != nil {
				return err
			}
			if !parent.IsAccepted || parent.IsDeleted {
				return common.ErrNotFound
			}
			if _, err := folderRepo.GetEdge(ctx, folderID, g.UserID); err == nil {
				continue
			} else if !errors.Is(err, common.ErrNotFound) {
				return err
			}
			level := parent.AccessLevel
			if level == models.AccessOwner {
				level = models.AccessEditor
			}
			if err := folderRepo.InsertEdge(ctx, &models.FolderAccess{
				ID:                 uuid.New(),
				FolderID:           folderID,
				UserID:             g.UserID,
				AccessLevel:        level,
				EncryptedFolderKey: g.EncryptedKey,
				IsAccepted:         true,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// AcceptFolder accepts a pending folder share. The topmost edge becomes the
// recipient's mount point; every pending edge the recipient already holds
// below it is flipped in the same transaction. No edges are created, so
// unshared parts of the subtree stay invisible.
func (s *ShareService) AcceptFolder(ctx context.Context, userID string, folderID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		edge, err := folderRepo.GetEdgeForUpdate(ctx, folderID, userID)
		if err != nil {
			return err
		}
		if edge.IsAccepted {
			return common.ErrConflict
		}
		if err := folderRepo.AcceptRootEdge(ctx, folderID, userID); err != nil {
			return err
		}
		if _, err := folderRepo.AcceptSubtreeEdges(ctx, folderID, userID); err != nil {
			return err
		}
		_, err = s.repomanager.Files(tx).AcceptEdgesInSubtree(ctx, folderID, userID)
		return err
	})
}

// AcceptFile accepts a pending file share. The file keeps its folder anchor
// when the recipient can see that folder, otherwise it mounts at their top
// level.
func (s *ShareService) AcceptFile(ctx context.Context, userID string, fileID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		edge, err := fileRepo.GetEdgeForUpdate(ctx, fileID, userID)
		if err != nil {
			return err
		}
		if edge.IsAccepted {
			return common.ErrConflict
		}

		anchor := edge.FolderID
		if anchor != nil {
			parent, err := s.repomanager.Folders(tx).GetEdge(ctx, *anchor, userID)
			if err != nil || !parent.IsAccepted || parent.IsDeleted {
				anchor = nil
			}
		}
		return fileRepo.AcceptEdge(ctx, fileID, userID, anchor)
	})
}

// RejectFolder declines a pending folder share, dropping the recipient's
// pending edges over the whole subtree.
func (s *ShareService) RejectFolder(ctx context.Context, userID string, folderID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		edge, err := folderRepo.GetEdgeForUpdate(ctx, folderID, userID)
		if err != nil {
			return err
		}
		if edge.IsAccepted {
			return common.ErrConflict
		}
		if _, err := folderRepo.DeleteSubtreeEdges(ctx, folderID, userID); err != nil {
			return err
		}
		_, err = s.repomanager.Files(tx).DeleteEdgesInSubtree(ctx, folderID, userID)
		return err
	})
}

// RejectFile declines a pending file share.
func (s *ShareService) RejectFile(ctx context.Context, userID string, fileID uuid.UUID) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		edge, err := fileRepo.GetEdgeForUpdate(ctx, fileID, userID)
		if err != nil {
			return err
		}
		if edge.IsAccepted {
			return common.ErrConflict
		}
		return fileRepo.DeleteEdge(ctx, fileID, userID)
	})
}

// RevokeFolder removes a user's access to a folder and everything below it,
// pending or accepted. Only the owner revokes, and the owner edge itself
// cannot be revoked.
func (s *ShareService) RevokeFolder(ctx context.Context, userID string, folderID uuid.UUID, targetUserID string) error {
	if targetUserID == userID {
		return common.ErrConflict
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		folderRepo := s.repomanager.Folders(tx)
		edge, err := folderRepo.GetEdgeForUpdate(ctx, folderID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted || edge.AccessLevel != models.AccessOwner {
			return common.ErrNotFound
		}
		// The target may hold edges only deeper in the subtree, e.g. after
		// a partial batch share, so existence is judged on what the
		// deletes actually hit.
		foldersHit, err := folderRepo.DeleteSubtreeEdges(ctx, folderID, targetUserID)
		if err != nil {
			return err
		}
		filesHit, err := s.repomanager.Files(tx).DeleteEdgesInSubtree(ctx, folderID, targetUserID)
		if err != nil {
			return err
		}
		if foldersHit == 0 && filesHit == 0 {
			return common.ErrNotFound
		}
		return nil
	})
}

// RevokeFile removes a user's access to a single file.
func (s *ShareService) RevokeFile(ctx context.Context, userID string, fileID uuid.UUID, targetUserID string) error {
	if targetUserID == userID {
		return common.ErrConflict
	}
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		edge, err := fileRepo.GetEdgeForUpdate(ctx, fileID, userID)
		if err != nil {
			return err
		}
		if !edge.IsAccepted || edge.IsDeleted || edge.AccessLevel != models.AccessOwner {
			return common.ErrNotFound
		}
		return fileRepo.DeleteEdge(ctx, fileID, targetUserID)
	})
}

// PendingShares lists the caller's incoming shares awaiting a decision,
// folders first. Batch shares surface only their topmost item.
func (s *ShareService) PendingShares(ctx context.Context, userID string) ([]*models.PendingShare, error) {
	folderShares, err := s.repomanager.Folders(s.db).PendingShares(ctx, userID)
	if err != nil {
		return nil, err
	}
	fileShares, err := s.repomanager.Files(s.db).PendingShares(ctx, userID)
	if err != nil {
		return nil, err
	}
	return append(folderShares, fileShares...), nil
}

// SharedFolderUsers lists who holds access to a folder. Visible to anyone
// with a live edge on it.
func (s *ShareService) SharedFolderUsers(ctx context.Context, userID string, folderID uuid.UUID) ([]*models.SharedUser, error) {
	repo := s.repomanager.Folders(s.db)
	if _, err := requireFolderEdge(ctx, repo, folderID, userID, models.AccessViewer); err != nil {
		return nil, err
	}
	return repo.SharedUsers(ctx, folderID)
}

// SharedFileUsers lists who holds access to a file.
func (s *ShareService) SharedFileUsers(ctx context.Context, userID string, fileID uuid.UUID) ([]*models.SharedUser, error) {
	repo := s.repomanager.Files(s.db)
	if _, err := requireFileEdge(ctx, repo, fileID, userID, models.AccessViewer); err != nil {
		return nil, err
	}
	return repo.SharedUsers(ctx, fileID)
}

func validateGrant(userID, recipientID string, level models.AccessLevel, encryptedKey []byte) error {
	if recipientID == "" || len(encryptedKey) == 0 {
		return common.ErrInvalidArgument
	}
	if !level.AtLeast(models.AccessViewer) || level == models.AccessOwner {
		return common.ErrInvalidArgument
	}
	if recipientID == userID {
		return common.ErrConflict
	}
	return nil
}
