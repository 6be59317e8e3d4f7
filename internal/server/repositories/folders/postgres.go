// Package folders provides the PostgreSQL-backed repository for folder rows,
// folder access edges and the recursive tree queries built on them.
package folders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
)

// subtreeCTE selects the IDs of $1 and every folder below it.
// Statements that touch whole subtrees prepend it so the walk and the
// mutation run as one statement under the same snapshot.
const subtreeCTE = `
	WITH RECURSIVE subtree AS (
		SELECT id FROM folders WHERE id = $1
		UNION ALL
		SELECT f.id FROM folders f JOIN subtree s ON f.parent_folder_id = s.id
	)`

// PostgresRepository implements folder storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, folder *models.Folder) error {
	query := `
		INSERT INTO folders (id, parent_folder_id, is_root, encrypted_metadata)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query,
		folder.ID, folder.ParentFolderID, folder.IsRoot, folder.EncryptedMetadata)
	if err != nil {
		return fmt.Errorf("failed to insert folder: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*models.Folder, error) {
	query := `
		SELECT id, parent_folder_id, is_root, encrypted_metadata, created_at, updated_at
		FROM folders WHERE id = $1
	`
	var f models.Folder
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&f.ID, &f.ParentFolderID, &f.IsRoot, &f.EncryptedMetadata, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select folder: %w", err)
	}
	return &f, nil
}

func (r *PostgresRepository) UpdateMetadata(ctx context.Context, id uuid.UUID, encryptedMetadata []byte) error {
	query := `UPDATE folders SET encrypted_metadata = $2, updated_at = now() WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, encryptedMetadata)
	if err != nil {
		return fmt.Errorf("failed to update folder metadata: %w", err)
	}
	return requireOneRow(res)
}

// Move reparents a folder. A nil parentID lifts the folder to the top level
// and sets is_root accordingly.
func (r *PostgresRepository) Move(ctx context.Context, id uuid.UUID, parentID *uuid.UUID) error {
	query := `
		UPDATE folders SET parent_folder_id = $2, is_root = ($2 IS NULL), updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, parentID)
	if err != nil {
		return fmt.Errorf("failed to move folder: %w", err)
	}
	return requireOneRow(res)
}

// DeleteOrphaned removes folder rows that no access edge references anymore.
// Rows become orphaned when the last holder empties their trash.
func (r *PostgresRepository) DeleteOrphaned(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM folders f
		WHERE NOT EXISTS (SELECT 1 FROM folder_access fa WHERE fa.folder_id = f.id)
	`
	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphaned folders: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) InsertEdge(ctx context.Context, edge *models.FolderAccess) error {
	query := `
		INSERT INTO folder_access
			(id, folder_id, user_id, access_level, encrypted_folder_key, is_deleted, is_accepted, is_root_anchor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		edge.ID, edge.FolderID, edge.UserID, edge.AccessLevel.String(), edge.EncryptedFolderKey,
		edge.IsDeleted, edge.IsAccepted, edge.IsRootAnchor)
	if err != nil {
		return fmt.Errorf("failed to insert folder access edge: %w", err)
	}
	return nil
}

// UpsertShareEdge records a share grant. Re-sharing to the same user resets
// the edge to pending with the new level and key, so a stale grant can be
// replaced without the recipient losing their anchor row.
func (r *PostgresRepository) UpsertShareEdge(ctx context.Context, edge *models.FolderAccess) error {
	query := `
		INSERT INTO folder_access
			(id, folder_id, user_id, access_level, encrypted_folder_key, is_accepted)
		VALUES ($1, $2, $3, $4, $5, FALSE)
		ON CONFLICT (folder_id, user_id)
		DO UPDATE SET
			access_level = EXCLUDED.access_level,
			encrypted_folder_key = EXCLUDED.encrypted_folder_key,
			is_accepted = FALSE,
			is_deleted = FALSE,
			updated_at = now()
	`
	_, err := r.db.ExecContext(ctx, query,
		edge.ID, edge.FolderID, edge.UserID, edge.AccessLevel.String(), edge.EncryptedFolderKey)
	if err != nil {
		return fmt.Errorf("failed to upsert folder share edge: %w", err)
	}
	return nil
}

const selectEdge = `
	SELECT id, folder_id, user_id, access_level, encrypted_folder_key,
	       is_deleted, is_accepted, is_root_anchor, created_at, updated_at
	FROM folder_access WHERE folder_id = $1 AND user_id = $2
`

func (r *PostgresRepository) GetEdge(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error) {
	return r.scanEdge(r.db.QueryRowContext(ctx, selectEdge, folderID, userID))
}

// GetEdgeForUpdate locks the edge row for the rest of the transaction.
// Services lock before mutating share or trash state so that concurrent
// accept/revoke pairs serialize.
func (r *PostgresRepository) GetEdgeForUpdate(ctx context.Context, folderID uuid.UUID, userID string) (*models.FolderAccess, error) {
	return r.scanEdge(r.db.QueryRowContext(ctx, selectEdge+` FOR UPDATE`, folderID, userID))
}

func (r *PostgresRepository) scanEdge(row *sql.Row) (*models.FolderAccess, error) {
	var e models.FolderAccess
	var level string
	err := row.Scan(&e.ID, &e.FolderID, &e.UserID, &level, &e.EncryptedFolderKey,
		&e.IsDeleted, &e.IsAccepted, &e.IsRootAnchor, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select folder access edge: %w", err)
	}
	e.AccessLevel, err = models.ParseAccessLevel(level)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *PostgresRepository) DeleteEdge(ctx context.Context, folderID uuid.UUID, userID string) error {
	query := `DELETE FROM folder_access WHERE folder_id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, folderID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete folder access edge: %w", err)
	}
	return requireOneRow(res)
}

// SetEdgeRootAnchor flips whether the folder shows at the user's top level.
// Move updates the mover's anchor when a folder crosses the top-level boundary.
func (r *PostgresRepository) SetEdgeRootAnchor(ctx context.Context, folderID uuid.UUID, userID string, anchored bool) error {
	query := `
		UPDATE folder_access SET is_root_anchor = $3, updated_at = now()
		WHERE folder_id = $1 AND user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, folderID, userID, anchored)
	if err != nil {
		return fmt.Errorf("failed to update root anchor: %w", err)
	}
	return requireOneRow(res)
}

// AcceptRootEdge accepts a pending share and mounts the folder at the
// recipient's top level. Only the topmost edge of the shared subtree gets
// the anchor; descendants are flipped by AcceptSubtreeEdges.
func (r *PostgresRepository) AcceptRootEdge(ctx context.Context, folderID uuid.UUID, userID string) error {
	query := `
		UPDATE folder_access SET is_accepted = TRUE, is_root_anchor = TRUE, updated_at = now()
		WHERE folder_id = $1 AND user_id = $2 AND NOT is_accepted
	`
	res, err := r.db.ExecContext(ctx, query, folderID, userID)
	if err != nil {
		return fmt.Errorf("failed to accept folder share: %w", err)
	}
	return requireOneRow(res)
}

// AcceptSubtreeEdges marks every pending edge the user holds below rootID as
// accepted. It never creates edges, so items shared individually deeper in
// the tree keep their own lifecycle.
func (r *PostgresRepository) AcceptSubtreeEdges(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	query := subtreeCTE + `
		UPDATE folder_access fa SET is_accepted = TRUE, updated_at = now()
		FROM subtree s
		WHERE fa.folder_id = s.id AND fa.user_id = $2 AND NOT fa.is_accepted
	`
	res, err := r.db.ExecContext(ctx, query, rootID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to accept subtree edges: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) SetSubtreeEdgesDeleted(ctx context.Context, rootID uuid.UUID, userID string, deleted bool) (int64, error) {
	query := subtreeCTE + `
		UPDATE folder_access fa SET is_deleted = $3, updated_at = now()
		FROM subtree s
		WHERE fa.folder_id = s.id AND fa.user_id = $2 AND fa.is_deleted <> $3
	`
	res, err := r.db.ExecContext(ctx, query, rootID, userID, deleted)
	if err != nil {
		return 0, fmt.Errorf("failed to flag subtree edges: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeleteSubtreeEdges(ctx context.Context, rootID uuid.UUID, userID string) (int64, error) {
	query := subtreeCTE + `
		DELETE FROM folder_access fa
		USING subtree s
		WHERE fa.folder_id = s.id AND fa.user_id = $2
	`
	res, err := r.db.ExecContext(ctx, query, rootID, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subtree edges: %w", err)
	}
	return res.RowsAffected()
}

// DeleteSubtreeEdgesExcept removes every other user's edges below rootID.
// The owner's soft delete uses this so recipients lose the subtree
// immediately instead of seeing it in their own trash.
func (r *PostgresRepository) DeleteSubtreeEdgesExcept(ctx context.Context, rootID uuid.UUID, keepUserID string) (int64, error) {
	query := subtreeCTE + `
		DELETE FROM folder_access fa
		USING subtree s
		WHERE fa.folder_id = s.id AND fa.user_id <> $2
	`
	res, err := r.db.ExecContext(ctx, query, rootID, keepUserID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subtree edges: %w", err)
	}
	return res.RowsAffected()
}

// RestoreAncestorEdges clears the deletion flag on the user's edges for the
// folder and every ancestor. Restoring an item inside a deleted folder has
// to surface the whole chain, otherwise the restored item stays unreachable.
func (r *PostgresRepository) RestoreAncestorEdges(ctx context.Context, folderID uuid.UUID, userID string) error {
	query := `
		WITH RECURSIVE ancestors AS (
			SELECT id, parent_folder_id FROM folders WHERE id = $1
			UNION ALL
			SELECT f.id, f.parent_folder_id FROM folders f JOIN ancestors a ON f.id = a.parent_folder_id
		)
		UPDATE folder_access fa SET is_deleted = FALSE, updated_at = now()
		FROM ancestors a
		WHERE fa.folder_id = a.id AND fa.user_id = $2 AND fa.is_deleted
	`
	_, err := r.db.ExecContext(ctx, query, folderID, userID)
	if err != nil {
		return fmt.Errorf("failed to restore ancestor edges: %w", err)
	}
	return nil
}

// DeleteTrashedEdges drops every deleted folder edge the user holds.
// Empty trash calls it after the files below those folders were purged.
func (r *PostgresRepository) DeleteTrashedEdges(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM folder_access WHERE user_id = $1 AND is_deleted`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete trashed folder edges: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Subtree(ctx context.Context, rootID uuid.UUID) ([]uuid.UUID, error) {
	query := subtreeCTE + ` SELECT id FROM subtree`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("failed to select subtree: %w", err)
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

// IsInSubtree reports whether candidate sits at or below rootID. Move uses
// it to reject reparenting a folder into its own subtree.
func (r *PostgresRepository) IsInSubtree(ctx context.Context, rootID, candidate uuid.UUID) (bool, error) {
	query := subtreeCTE + ` SELECT EXISTS (SELECT 1 FROM subtree WHERE id = $2)`
	var found bool
	if err := r.db.QueryRowContext(ctx, query, rootID, candidate).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check subtree membership: %w", err)
	}
	return found, nil
}

// folderSizeLateral sums the sizes of finished files the user can see below
// each listed folder. $1 is the user ID in both listing queries.
const folderSizeLateral = `
	LEFT JOIN LATERAL (
		WITH RECURSIVE sub AS (
			SELECT f.id AS id
			UNION ALL
			SELECT c.id FROM folders c JOIN sub s ON c.parent_folder_id = s.id
		)
		SELECT COALESCE(SUM(fl.size), 0) AS total
		FROM sub
		JOIN file_access fia ON fia.folder_id = sub.id AND fia.user_id = $1 AND NOT fia.is_deleted
		JOIN files fl ON fl.id = fia.file_id AND fl.is_fully_uploaded AND NOT fl.is_deleted
	) sz ON TRUE
`

// ListChildren returns the folders directly under parentID that the user
// holds an accepted, live edge on; a nil parentID lists the user's top level
// (anchored edges). Size aggregates the visible files of each subtree.
func (r *PostgresRepository) ListChildren(ctx context.Context, userID string, parentID *uuid.UUID) ([]*models.ListedFolder, error) {
	base := `
		SELECT f.id, f.parent_folder_id, f.is_root, f.encrypted_metadata, f.created_at, f.updated_at,
		       fa.encrypted_folder_key, fa.access_level, COALESCE(sz.total, 0)
		FROM folders f
		JOIN folder_access fa ON fa.folder_id = f.id AND fa.user_id = $1
			AND fa.is_accepted AND NOT fa.is_deleted
	` + folderSizeLateral

	var rows *sql.Rows
	var err error
	if parentID == nil {
		rows, err = r.db.QueryContext(ctx, base+` WHERE fa.is_root_anchor ORDER BY f.created_at`, userID)
	} else {
		rows, err = r.db.QueryContext(ctx, base+` WHERE f.parent_folder_id = $2 ORDER BY f.created_at`, userID, *parentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()
	return scanListedFolders(rows)
}

// Breadcrumb returns the path from the tree root down to folderID, top
// first. The walk follows parent pointers all the way up; on ancestors the
// user holds no live edge (e.g. above a share mount) the wrapped key comes
// back nil.
func (r *PostgresRepository) Breadcrumb(ctx context.Context, folderID uuid.UUID, userID string) ([]*models.PathEntry, error) {
	query := `
		WITH RECURSIVE up AS (
			SELECT f.id, f.parent_folder_id, 0 AS depth FROM folders f WHERE f.id = $1
			UNION ALL
			SELECT p.id, p.parent_folder_id, up.depth + 1
			FROM folders p
			JOIN up ON p.id = up.parent_folder_id
		)
		SELECT up.id, f.encrypted_metadata, fa.encrypted_folder_key
		FROM up
		JOIN folders f ON f.id = up.id
		LEFT JOIN folder_access fa ON fa.folder_id = up.id AND fa.user_id = $2
			AND fa.is_accepted AND NOT fa.is_deleted
		ORDER BY up.depth DESC
	`
	rows, err := r.db.QueryContext(ctx, query, folderID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to select breadcrumb: %w", err)
	}
	defer rows.Close()

	var result []*models.PathEntry
	for rows.Next() {
		var e models.PathEntry
		if err := rows.Scan(&e.FolderID, &e.EncryptedMetadata, &e.EncryptedFolderKey); err != nil {
			return nil, err
		}
		e.PathIndex = int32(len(result))
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListTrashed returns the topmost folders in the user's trash: deleted edges
// whose parent folder is not itself deleted for this user.
func (r *PostgresRepository) ListTrashed(ctx context.Context, userID string) ([]*models.ListedFolder, error) {
	query := `
		SELECT f.id, f.parent_folder_id, f.is_root, f.encrypted_metadata, f.created_at, f.updated_at,
		       fa.encrypted_folder_key, fa.access_level, 0
		FROM folders f
		JOIN folder_access fa ON fa.folder_id = f.id AND fa.user_id = $1 AND fa.is_deleted
		WHERE NOT EXISTS (
			SELECT 1 FROM folder_access pa
			WHERE pa.folder_id = f.parent_folder_id AND pa.user_id = $1 AND pa.is_deleted
		)
		ORDER BY fa.updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trashed folders: %w", err)
	}
	defer rows.Close()
	return scanListedFolders(rows)
}

// PendingShares returns the user's pending folder shares, topmost only:
// a pending edge whose parent also has a pending edge is part of a batch
// share and gets accepted together with its root.
func (r *PostgresRepository) PendingShares(ctx context.Context, userID string) ([]*models.PendingShare, error) {
	query := `
		SELECT f.id, f.encrypted_metadata, fa.encrypted_folder_key, fa.access_level, fa.updated_at
		FROM folders f
		JOIN folder_access fa ON fa.folder_id = f.id AND fa.user_id = $1
			AND NOT fa.is_accepted AND NOT fa.is_deleted
		WHERE NOT EXISTS (
			SELECT 1 FROM folder_access pa
			WHERE pa.folder_id = f.parent_folder_id AND pa.user_id = $1 AND NOT pa.is_accepted
		)
		ORDER BY fa.updated_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending folder shares: %w", err)
	}
	defer rows.Close()

	var result []*models.PendingShare
	for rows.Next() {
		s := models.PendingShare{IsFolder: true}
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

func (r *PostgresRepository) SharedUsers(ctx context.Context, folderID uuid.UUID) ([]*models.SharedUser, error) {
	query := `
		SELECT user_id, access_level FROM folder_access
		WHERE folder_id = $1 AND NOT is_deleted
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, folderID)
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

func (r *PostgresRepository) CountOwned(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*) FROM folder_access
		WHERE user_id = $1 AND access_level = 'owner' AND NOT is_deleted
	`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count owned folders: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) CountTrashed(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COUNT(*) FROM folder_access WHERE user_id = $1 AND is_deleted`
	var n int64
	if err := r.db.QueryRowContext(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count trashed folders: %w", err)
	}
	return n, nil
}

func scanListedFolders(rows *sql.Rows) ([]*models.ListedFolder, error) {
	var result []*models.ListedFolder
	for rows.Next() {
		var item models.ListedFolder
		var level string
		if err := rows.Scan(
			&item.ID, &item.ParentFolderID, &item.IsRoot, &item.EncryptedMetadata,
			&item.CreatedAt, &item.UpdatedAt,
			&item.EncryptedFolderKey, &level, &item.Size,
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

// requireOneRow maps a zero-row mutation to ErrNotFound so callers can treat
// "no such row" uniformly with lookups.
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
