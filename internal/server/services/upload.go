package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/dbx"
	"github.com/dmitrijs2005/cipherdrive/internal/logging"
	"github.com/dmitrijs2005/cipherdrive/internal/metrics"
	"github.com/dmitrijs2005/cipherdrive/internal/server/admission"
	sc "github.com/dmitrijs2005/cipherdrive/internal/server/config"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
)

// pgUniqueViolation is the PostgreSQL error code for a unique constraint hit.
const pgUniqueViolation = "23505"

// UploadService implements the chunked upload flow: initialize, upload
// chunks under admission control, finalize or abort.
type UploadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	blob        BlobStore
	admission   *admission.Controller
	metrics     *metrics.Metrics
	logger      logging.Logger
}

// NewUploadService constructs an UploadService.
func NewUploadService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config,
	blob BlobStore, adm *admission.Controller, mt *metrics.Metrics, log logging.Logger) *UploadService {
	return &UploadService{
		db:          db,
		repomanager: m,
		config:      cfg,
		blob:        blob,
		admission:   adm,
		metrics:     mt,
		logger:      log,
	}
}

// InitializeFile registers a new upload. The file row starts unfinalized
// and stays out of listings until FinalizeUpload. The caller becomes owner
// and the wrapped file key is recorded on their edge.
func (s *UploadService) InitializeFile(ctx context.Context, userID string, folderID *uuid.UUID,
	encryptedMetadata, encryptedKey []byte, mimeType string) (*models.File, error) {
	if len(encryptedMetadata) == 0 || len(encryptedKey) == 0 {
		return nil, common.ErrInvalidArgument
	}

	file := &models.File{
		ID:                uuid.New(),
		EncryptedMetadata: encryptedMetadata,
		MimeType:          mimeType,
	}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if folderID != nil {
			folderRepo := s.repomanager.Folders(tx)
			if _, err := requireFolderEdge(ctx, folderRepo, *folderID, userID, models.AccessEditor); err != nil {
				return err
			}
		}
		fileRepo := s.repomanager.Files(tx)
		if err := fileRepo.Create(ctx, file); err != nil {
			return err
		}
		return fileRepo.InsertEdge(ctx, &models.FileAccess{
			ID:               uuid.New(),
			FileID:           file.ID,
			UserID:           userID,
			FolderID:         folderID,
			AccessLevel:      models.AccessOwner,
			EncryptedFileKey: encryptedKey,
			IsAccepted:       true,
		})
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// UploadChunk stores one chunk of an open upload. When all admission slots
// are taken the request is rejected with ErrBusy immediately; the client
// retries rather than queueing on the server. A duplicate index returns
// ErrConflict, and the quota check rejects chunks that would exceed the
// file owner's storage limit.
func (s *UploadService) UploadChunk(ctx context.Context, userID string, fileID uuid.UUID, index int32, data []byte) (uuid.UUID, error) {
	if len(data) == 0 {
		return uuid.Nil, common.ErrInvalidArgument
	}
	if err := s.admission.Acquire(); err != nil {
		s.metrics.UploadsRejected.Inc()
		return uuid.Nil, err
	}
	defer s.admission.Release()

	fileRepo := s.repomanager.Files(s.db)
	edge, err := requireFileEdge(ctx, fileRepo, fileID, userID, models.AccessEditor)
	if err != nil {
		return uuid.Nil, err
	}
	file, err := fileRepo.Get(ctx, edge.FileID)
	if err != nil {
		return uuid.Nil, err
	}
	if file.IsFullyUploaded {
		return uuid.Nil, common.ErrConflict
	}

	// Uploaded bytes count against the file owner's quota, also when an
	// editor is the one uploading.
	quotaUser := userID
	if edge.AccessLevel != models.AccessOwner {
		if quotaUser, err = fileRepo.Owner(ctx, fileID); err != nil {
			return uuid.Nil, err
		}
	}
	// Quota is checked against committed sizes, so parallel chunks can
	// overshoot slightly; the limit is advisory, not byte-exact.
	usedSpace, _, err := fileRepo.UsageStats(ctx, quotaUser)
	if err != nil {
		return uuid.Nil, err
	}
	if usedSpace+int64(len(data)) > s.config.StorageLimitBytes {
		return uuid.Nil, common.ErrQuotaExceeded
	}

	chunk := &models.Chunk{
		ID:     uuid.New(),
		FileID: fileID,
		Index:  index,
	}
	chunk.ObjectKey = chunkKey(fileID, chunk.ID)

	start := time.Now()
	if err := s.blob.Upload(ctx, chunk.ObjectKey, data); err != nil {
		s.metrics.ChunkUploadDuration.WithLabelValues(metrics.Success(false)).Observe(time.Since(start).Seconds())
		return uuid.Nil, err
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Chunks(tx).Insert(ctx, chunk); err != nil {
			return err
		}
		return s.repomanager.Files(tx).AddSize(ctx, fileID, int64(len(data)))
	})
	if err != nil {
		// the orphaned object would never be referenced, remove it now
		if delErr := s.blob.Delete(ctx, chunk.ObjectKey); delErr != nil {
			s.logger.Warn(ctx, "failed to delete orphaned chunk object", "key", chunk.ObjectKey, "error", delErr)
		}
		s.metrics.ChunkUploadDuration.WithLabelValues(metrics.Success(false)).Observe(time.Since(start).Seconds())
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return uuid.Nil, common.ErrConflict
		}
		return uuid.Nil, err
	}

	s.metrics.ChunkUploadDuration.WithLabelValues(metrics.Success(true)).Observe(time.Since(start).Seconds())
	s.metrics.BytesUploaded.Add(float64(len(data)))
	return chunk.ID, nil
}

// FinalizeUpload marks the file complete, making it visible in listings and
// downloadable. Finalizing twice returns ErrConflict.
func (s *UploadService) FinalizeUpload(ctx context.Context, userID string, fileID uuid.UUID) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		fileRepo := s.repomanager.Files(tx)
		if _, err := requireFileEdge(ctx, fileRepo, fileID, userID, models.AccessEditor); err != nil {
			return err
		}
		file, err := fileRepo.Get(ctx, fileID)
		if err != nil {
			return err
		}
		if file.IsFullyUploaded {
			return common.ErrConflict
		}
		return fileRepo.Finalize(ctx, fileID)
	})
	if err != nil {
		return err
	}
	s.metrics.FileUploads.WithLabelValues(metrics.Success(true)).Inc()
	return nil
}

// AbortUpload tears down an unfinalized upload: stored chunk objects, chunk
// rows, edges and the file row. When other users still hold edges on the
// file only the caller's edge is removed. Aborting a finalized file returns
// ErrConflict; soft delete is the way to remove finished files.
func (s *UploadService) AbortUpload(ctx context.Context, userID string, fileID uuid.UUID) error {
	fileRepo := s.repomanager.Files(s.db)
	if _, err := requireFileEdge(ctx, fileRepo, fileID, userID, models.AccessEditor); err != nil {
		return err
	}
	file, err := fileRepo.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if file.IsFullyUploaded {
		return common.ErrConflict
	}
	edges, err := fileRepo.CountEdges(ctx, fileID)
	if err != nil {
		return err
	}
	s.metrics.FileUploads.WithLabelValues(metrics.Success(false)).Inc()
	if edges > 1 {
		return fileRepo.DeleteEdge(ctx, fileID, userID)
	}
	return purgeFile(ctx, s.db, s.repomanager, s.blob, s.logger, fileID)
}
