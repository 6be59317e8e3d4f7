// Package chunks provides the PostgreSQL-backed repository for chunk
// locator rows. Chunk bytes live in the blob gateway; rows only map a file
// position to an object key.
package chunks

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

// PostgresRepository implements chunk storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores one chunk locator. The unique (file_id, chunk_index) pair
// rejects a duplicate index at the database level.
func (r *PostgresRepository) Insert(ctx context.Context, chunk *models.Chunk) error {
	query := `
		INSERT INTO chunks (id, file_id, chunk_index, object_key)
		VALUES ($1, $2, $3, $4)
	`
	_, err := r.db.ExecContext(ctx, query, chunk.ID, chunk.FileID, chunk.Index, chunk.ObjectKey)
	if err != nil {
		return fmt.Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// GetByIndex returns the chunk at one position of a file.
func (r *PostgresRepository) GetByIndex(ctx context.Context, fileID uuid.UUID, index int32) (*models.Chunk, error) {
	query := `
		SELECT id, file_id, chunk_index, object_key, created_at
		FROM chunks WHERE file_id = $1 AND chunk_index = $2
	`
	var c models.Chunk
	err := r.db.QueryRowContext(ctx, query, fileID, index).Scan(
		&c.ID, &c.FileID, &c.Index, &c.ObjectKey, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select chunk: %w", err)
	}
	return &c, nil
}

// ListByFile returns a file's chunks in ascending index order, which is the
// byte order of the reassembled file.
func (r *PostgresRepository) ListByFile(ctx context.Context, fileID uuid.UUID) ([]*models.Chunk, error) {
	query := `
		SELECT id, file_id, chunk_index, object_key, created_at
		FROM chunks WHERE file_id = $1
		ORDER BY chunk_index ASC
	`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to select chunks: %w", err)
	}
	defer rows.Close()

	var result []*models.Chunk
	for rows.Next() {
		var c models.Chunk
		if err := rows.Scan(&c.ID, &c.FileID, &c.Index, &c.ObjectKey, &c.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) DeleteByFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	query := `DELETE FROM chunks WHERE file_id = $1`
	res, err := r.db.ExecContext(ctx, query, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.RowsAffected()
}
