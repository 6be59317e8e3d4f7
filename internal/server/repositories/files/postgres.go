// Package files provides the PostgreSQL-backed repository for file rows and
// file access edges, including the subtree statements used by trash and
// sharing flows.
package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
)

// subtreeCTE mirrors the folder repository's walk; $1 is the subtree root.
// File edges are matched through their per-user folder anchor.
const subtreeCTE = `
	WITH RECURSIVE subtree AS (
		SELECT id FROM folders WHERE id = $1
		UNION ALL
		SELECT f.id FROM folders f JOIN subtree s ON f.parent_folder_id = s.id
	)`

// PostgresRepository implements file storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, size, encrypted_metadata, mime_type, is_fully_uploaded)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		file.ID, file.Size, file.EncryptedMetadata, file.MimeType, file.IsFullyUploaded)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*models.File, error) {
	query := `
		SELECT id, size, encrypted_metadata, mime_type, is_fully_uploaded, is_deleted, created_at, updated_at
		FROM files WHERE id = $1
	`
	var f models.File
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.Size, &f.EncryptedMetadata, &f.MimeType,
		&f.IsFullyUploaded, &f.IsDeleted, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file: %w", err)
	}
	return &f, nil
}

func (r *PostgresRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, encryptedMetadata []byte) error {
	query := `UPDATE files SET encrypted_metadata = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, encryptedMetadata)
	if err != nil {
		return fmt.Errorf("failed to update file metadata: %w", err)
	}
	return requireOneRow(res)
}

// AddSize accumulates the size of each stored chunk onto the file row, so
// finalize only needs to flip the upload flag.
func (r *PostgresRepository) AddSize(ctx context.Context, id uuid.UUID, delta int64) error {
	query := `UPDATE files SET size = size + $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to update file size: %w", err)
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) Finalize(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE files SET is_fully_uploaded = TRUE, updated_at = now() WHERE id = $1 AND NOT is_fully_uploaded`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to finalize file: %w", err)
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) SetDeleted(ctx context.Context, id uuid.UUID, deleted bool) error {
	query := `UPDATE files SET is_deleted = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, deleted)
	if err != nil {
		return fmt.Errorf("failed to flag file: %w", err)
	}
	return requireOneRow(res)
}

// SetDeletedInSubtree flags the file rows anchored for userID below rootID.
// Used by the owner's folder soft delete, where the rows themselves carry
// the deletion mark in addition to the owner's edges.
func (r *PostgresRepository) SetDeletedInSubtree(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error) {
	query := subtreeCTE + `
		UPDATE files f SET is_deleted = $3, updated_at = now()
		FROM file_access fa, subtree s
		WHERE fa.file_id = f.id AND fa.user_id = $2 AND fa.folder_id = s.id AND f.is_deleted <> $3
	`
	res, err := r.db.ExecContext(ctx, query, rootID, userID, deleted)
	if err != nil {
		return 0, fmt.Errorf("failed to flag subtree files: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM files WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return requireOneRow(res)
}

// ListUnfinalizedOlderThan returns files whose upload never finished and
// whose last activity precedes the cutoff. The reaper tears these down.
func (r *PostgresRepository) ListUnfinalizedOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	query := `SELECT id FROM files WHERE NOT is_fully_uploaded AND updated_at < $1`
	rows, err := r.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to select stale uploads: %w", err)
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) InsertEdge(ctx context.Context, edge *models.FileAccess) error {
	query := `
		INSERT INTO file_access
			(id, file_id, user_id, folder_id, access_level, encrypted_file_key, is_deleted, is_accepted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		edge.ID, edge.FileID, edge.UserID, edge.FolderID, edge.AccessLevel.String(),
		edge.EncryptedFileKey, edge.IsDeleted, edge.IsAccepted)
	if err != nil {
		return fmt.Errorf("failed to insert file access edge: %w", err)
	}
	return nil
}

// UpsertShareEdge records a file share grant, resetting any previous edge
// for the same recipient to pending with the new level and key.
func (r *PostgresRepository) UpsertShareEdge(ctx context.Context, edge *models.FileAccess) error {
	query := `
		INSERT INTO file_access
			(id, file_id, user_id, folder_id, access_level, encrypted_file_key, is_accepted)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE)
		ON CONFLICT (file_id, user_id)
		DO UPDATE SET
			folder_id = EXCLUDED.folder_id,
			access_level = EXCLUDED.access_level,
			encrypted_file_key = EXCLUDED.encrypted_file_key,
			is_accepted = FALSE,
			is_deleted = FALSE,
			updated_at = now()
	`
	_, err := r.db.ExecContext(ctx, query,
		edge.ID, edge.FileID, edge.UserID, edge.FolderID, edge.AccessLevel.String(), edge.EncryptedFileKey)
	if err != nil {
		return fmt.Errorf("failed to upsert file share edge: %w", err)
	}
	return nil
}

const selectEdge = `
	SELECT id, file_id, user_id, folder_id, access_level, encrypted_file_key,
	       is_deleted, is_accepted, created_at, updated_at
	FROM file_access WHERE file_id = $1 AND user_id = $2
`

func (r *PostgresRepository) GetEdge(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error) {
	return r.scanEdge(r.db.QueryRowContext(ctx, selectEdge, fileID, userID))
}

// GetEdgeForUpdate locks the edge row for the rest of the transaction.
func (r *PostgresRepository) GetEdgeForUpdate(ctx context.Context, fileID uuid.UUID, userID string) (*models.FileAccess, error) {
	return r.scanEdge(r.db.QueryRowContext(ctx, selectEdge+` FOR UPDATE`, fileID, userID))
}

func (r *PostgresRepository) scanEdge(row *sql.Row) (*models.FileAccess, error) {
	var e models.FileAccess
	var level string
	err := row.Scan(&e.ID, &e.FileID, &e.UserID, &e.FolderID, &level, &e.EncryptedFileKey,
		&e.IsDeleted, &e.IsAccepted, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select file access edge: %w", err)
	}
	e.AccessLevel, err = models.ParseAccessLevel(level)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresRepository) DeleteEdge(ctx context.Context, fileID uuid.UUID, userID string) error {
	query := `DELETE FROM file_access WHERE file_id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, fileID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete file access edge: %w", err)
	}
	return requireOneRow(res)
}

// DeleteEdgesExcept removes every other user's edges on a file. The owner's
// soft delete uses it so recipients lose the file immediately.
func (r *PostgresRepository) DeleteEdgesExcept(ctx context.Context, fileID uuid.UUID, keepUserID string) (int64, error) {
	query := `DELETE FROM file_access WHERE file_id = $1 AND user_id <> $2`
	res, err := r.db.ExecContext(ctx, query, fileID, keepUserID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete file access edges: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) CountEdges(ctx context.Context, fileID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM file_access WHERE file_id = $1`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count file access edges: %w", err)
	}
	return n, nil
}

// Owner returns the user holding the owner edge on the file.
func (r *PostgresRepository) Owner(ctx context.Context, fileID uuid.UUID) (string, error) {
	query := `SELECT user_id FROM file_access WHERE file_id = $1 AND access_level = 'owner'`
	var userID string
	err := r.db.QueryRowContext(ctx, query, fileID).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to select file owner: %w", err)
	}
	return userID, nil
}

// AcceptEdge accepts a pending file share and anchors it. A nil anchorID
// mounts the file at the recipient's top level, which is the fallback when
// the parent folder was never shared with them.
func (r *PostgresRepository) AcceptEdge(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error {
	query := `
		UPDATE file_access SET is_accepted = TRUE, folder_id = $3, updated_at = now()
		WHERE file_id = $1 AND user_id = $2 AND NOT is_accepted
	`
	res, err := r.db.ExecContext(ctx, query, fileID, userID, anchorID)
	if err != nil {
		return fmt.Errorf("failed to accept file share: %w", err)
	}
	return requireOneRow(res)
}

// AcceptEdgesInSubtree flips the user's pending file edges anchored below
// rootID, completing a folder share acceptance.
func (r *PostgresRepository) AcceptEdgesInSubtree(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	query := subtreeCTE + `
		UPDATE file_access fa SET is_accepted = TRUE, updated_at = now()
		FROM subtree s
		WHERE fa.folder_id = s.id AND fa.user_id = $2 AND NOT fa.is_accepted
	`
	res, err := r.db.ExecContext(ctx, query, rootID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to accept subtree file edges: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) SetEdgeDeleted(ctx context.Context, fileID uuid.UUID, userID string, deleted bool) error {
	query := `
		UPDATE file_access SET is_deleted = $3, updated_at = now()
		WHERE file_id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, fileID, userID, deleted)
	if err != nil {
		return fmt.Errorf("failed to flag file access edge: %w", err)
	}
	return requireOneRow(res)
}

func (r *PostgresRepository) SetEdgesDeletedInSubtree(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error) {
	query := subtreeCTE + `
		UPDATE file_access fa SET is_deleted = $3, updated_at = now()
		FROM subtree s
		WHERE fa.folder_id = s.id AND fa.user_id = $2 AND fa.is_deleted <> $3
	`
	res, err := r.db.ExecContext(ctx, query, rootID, userID, deleted)
	if err != nil {
		return 0, fmt.Errorf("failed to flag subtree file edges: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeleteEdgesInSubtree(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	query := subtreeCTE + `
		DELETE FROM file_access fa
		USING subtree s
		WHERE fa.folder_id = s.id AND fa.user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, rootID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subtree file edges: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeleteEdgesInSubtreeExcept(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error) {
	query := subtreeCTE + `
		DELETE FROM file_access fa
		USING subtree s
		WHERE fa.folder_id = s.id AND fa.user_id <> $2
	`
	res, err := r.db.ExecContext(ctx, query, rootID, keepUserID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subtree file edges: %w", err)
	}
	return res.RowsAffected()
}

// SetEdgeAnchor reparents a file within the user's own view.
func (r *PostgresRepository) SetEdgeAnchor(ctx context.Context, fileID uuid.UUID, userID string, anchorID *uuid.UUID) error {
	query := `
		UPDATE file_access SET folder_id = $3, updated_at = now()
		WHERE file_id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, fileID, userID, anchorID)
	if err != nil {
		return fmt.Errorf("failed to update file anchor: %w", err)
	}
	return requireOneRow(res)
}

const selectListed = `
	SELECT f.id, f.size, f.encrypted_metadata, f.mime_type, f.is_fully_uploaded, f.is_deleted,
	       f.created_at, f.updated_at, fa.folder_id, fa.encrypted_file_key, fa.access_level
	FROM files f
	JOIN file_access fa ON fa.file_id = f.id AND fa.user_id = $1
`

// ListInFolder returns the finished files the user sees inside folderID,
// or at the top level when folderID is nil. Files mid-upload stay hidden.
func (r *PostgresRepository) ListInFolder(ctx context.Context, userID string, folderID *uuid.UUID) ([]*models.ListedFile, error) {
	base := selectListed + ` WHERE fa.is_accepted AND NOT fa.is_deleted AND f.is_fully_uploaded AND NOT f.is_deleted`

	var rows *sql.Rows
	var err error
	if folderID == nil {
		rows, err = r.db.QueryContext(ctx, base+` AND fa.folder_id IS NULL ORDER BY f.created_at`, userID)
	} else {
		rows, err = r.db.QueryContext(ctx, base+` AND fa.folder_id = $2 ORDER BY f.created_at`, userID, *folderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	defer rows.Close()
	return scanListedFiles(rows)
}

// ListTrashed returns the topmost files in the user's trash: deleted edges
// whose anchor folder is not itself deleted for this user.
func (r *PostgresRepository) ListTrashed(ctx context.Context, userID string) ([]*models.ListedFile, error) {
	query := selectListed + `
		WHERE fa.is_deleted AND NOT EXISTS (
			SELECT 1 FROM folder_access pa
			WHERE pa.folder_id = fa.folder_id AND pa.user_id = $1 AND pa.is_deleted
		)
		ORDER BY fa.updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trashed files: %w", err)
	}
	defer rows.Close()
	return scanListedFiles(rows)
}

// ListTrashedForPurge returns every deleted file edge of the user, topmost
// or not. Empty trash walks this list; the edge's access level decides
// between a hard delete and just dropping the edge.
func (r *PostgresRepository) ListTrashedForPurge(ctx context.Context, userID string) ([]*models.ListedFile, error) {
	query := selectListed + ` WHERE fa.is_deleted ORDER BY f.created_at`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trashed files: %w", err)
	}
	defer rows.Close()
	return scanListedFiles(rows)
}

// PendingShares returns pending file shares whose anchor folder is not
// itself pending for the user; those arrive as part of a folder share.
func (r *PostgresRepository) PendingShares(ctx context.Context, userID string) ([]*models.PendingShare, error) {
	query := `
		SELECT f.id, f.encrypted_metadata, fa.encrypted_file_key, fa.access_level, fa.updated_at
		FROM files f
		JOIN file_access fa ON fa.file_id = f.id AND fa.user_id = $1
			AND NOT fa.is_accepted AND NOT fa.is_deleted
		WHERE NOT EXISTS (
			SELECT 1 FROM folder_access pa
			WHERE pa.folder_id = fa.folder_id AND pa.user_id = $1 AND NOT pa.is_accepted
		)
		ORDER BY fa.updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending file shares: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingShare
	for rows.Next() {
		var s models.PendingShare
		var level string
		if err := rows.Scan(&s.ItemID, &s.EncryptedMetadata, &s.EncryptedKey, &level, &s.SharedAt); err != nil {
			return nil, err
		}
		var err error
		if s.AccessLevel, err = models.ParseAccessLevel(level); err != nil {
			return nil, err
		}
		result = append(result, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) SharedUsers(ctx context.Context, fileID uuid.UUID) ([]*models.SharedUser, error) {
	query := `
		SELECT user_id, access_level FROM file_access
		WHERE file_id = $1 AND NOT is_deleted
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared users: %w", err)
	}
	defer rows.Close()

	var result []*models.SharedUser
	for rows.Next() {
		var u models.SharedUser
		var level string
		if err := rows.Scan(&u.UserID, &level); err != nil {
			return nil, err
		}
		var err error
		if u.AccessLevel, err = models.ParseAccessLevel(level); err != nil {
			return nil, err
		}
		result = append(result, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UsageStats sums what the user owns outside the trash. Unfinished uploads
// count toward usage since their chunks already occupy storage.
func (r *PostgresRepository) UsageStats(ctx context.Context, userID string) (int64, int64, error) {
	query := `
		SELECT COALESCE(SUM(f.size), 0), COUNT(*)
		FROM files f
		JOIN file_access fa ON fa.file_id = f.id AND fa.user_id = $1
			AND fa.access_level = 'owner' AND NOT fa.is_deleted
	`
	var size, count int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&size, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to select usage stats: %w", err)
	}
	return size, count, nil
}

func (r *PostgresRepository) TrashStats(ctx context.Context, userID string) (int64, int64, error) {
	query := `
		SELECT COALESCE(SUM(f.size), 0), COUNT(*)
		FROM files f
		JOIN file_access fa ON fa.file_id = f.id AND fa.user_id = $1 AND fa.is_deleted
	`
	var size, count int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&size, &count); err != nil {
		return 0, 0, fmt.Errorf("failed to select trash stats: %w", err)
	}
	return size, count, nil
}

func scanListedFiles(rows *sql.Rows) ([]*models.ListedFile, error) {
	var result []*models.ListedFile
	for rows.Next() {
		var item models.ListedFile
		var level string
		if err := rows.Scan(
			&item.ID, &item.Size, &item.EncryptedMetadata, &item.MimeType,
			&item.IsFullyUploaded, &item.IsDeleted, &item.CreatedAt, &item.UpdatedAt,
			&item.FolderID, &item.EncryptedFileKey, &level,
		); err != nil {
			return nil, err
		}
		var err error
		if item.AccessLevel, err = models.ParseAccessLevel(level); err != nil {
			return nil, err
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
