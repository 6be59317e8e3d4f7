package services

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/cipherdrive/internal/common"
	"github.com/dmitrijs2005/cipherdrive/internal/logging"
	"github.com/dmitrijs2005/cipherdrive/internal/metrics"
	sc "github.com/dmitrijs2005/cipherdrive/internal/server/config"
	"github.com/dmitrijs2005/cipherdrive/internal/server/models"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
)

// DownloadService implements whole-file and single-chunk reads.
type DownloadService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	config      *sc.Config
	blob        BlobStore
	metrics     *metrics.Metrics
	logger      logging.Logger
}

// NewDownloadService constructs a DownloadService.
func NewDownloadService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config,
	blob BlobStore, mt *metrics.Metrics, log logging.Logger) *DownloadService {
	return &DownloadService{
		db:          db,
		repomanager: m,
		config:      cfg,
		blob:        blob,
		metrics:     mt,
		logger:      log,
	}
}

// FileInfo returns the file together with the caller's wrapped key, so a
// client can set up decryption before the first chunk arrives. Unfinalized
// files are reported as absent.
func (s *DownloadService) FileInfo(ctx context.Context, userID string, fileID uuid.UUID) (*models.ListedFile, error) {
	fileRepo := s.repomanager.Files(s.db)
	edge, err := requireFileEdge(ctx, fileRepo, fileID, userID, models.AccessViewer)
	if err != nil {
		return nil, err
	}
	file, err := fileRepo.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if !file.IsFullyUploaded || file.IsDeleted {
		return nil, common.ErrNotFound
	}
	return &models.ListedFile{
		File:             *file,
		FolderID:         edge.FolderID,
		EncryptedFileKey: edge.EncryptedFileKey,
		AccessLevel:      edge.AccessLevel,
	}, nil
}

// DownloadChunk returns the ciphertext of one chunk by index.
func (s *DownloadService) DownloadChunk(ctx context.Context, userID string, fileID uuid.UUID, index int32) ([]byte, error) {
	if _, err := requireFileEdge(ctx, s.repomanager.Files(s.db), fileID, userID, models.AccessViewer); err != nil {
		return nil, err
	}
	chunk, err := s.repomanager.Chunks(s.db).GetByIndex(ctx, fileID, index)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	data, err := s.blob.Download(ctx, chunk.ObjectKey)
	s.metrics.ChunkDownloadDuration.WithLabelValues(metrics.Success(err == nil)).Observe(time.Since(start).Seconds())
	return data, err
}

type fetchResult struct {
	data []byte
	err  error
}

// DownloadFile streams the file's chunks into w in index order. Up to the
// configured prefetch window of chunks is fetched ahead of the writer. The
// first failed fetch or write aborts the whole download with an error; a
// silently shortened file would be indistinguishable from a complete one.
func (s *DownloadService) DownloadFile(ctx context.Context, userID string, fileID uuid.UUID, w io.Writer) error {
	fileRepo := s.repomanager.Files(s.db)
	if _, err := requireFileEdge(ctx, fileRepo, fileID, userID, models.AccessViewer); err != nil {
		return err
	}
	file, err := fileRepo.Get(ctx, fileID)
	if err != nil {
		return err
	}
	if !file.IsFullyUploaded || file.IsDeleted {
		return common.ErrNotFound
	}

	list, err := s.repomanager.Chunks(s.db).ListByFile(ctx, fileID)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefetch := s.config.DownloadPrefetch
	if prefetch < 1 {
		prefetch = 1
	}

	// Fetches are started in index order; the bounded channel of futures
	// caps how far the producer runs ahead of the writer. Each fetch
	// delivers into its own buffered channel, so a fetch never blocks on
	// a consumer that already gave up.
	futures := make(chan chan fetchResult, prefetch)
	go func() {
		defer close(futures)
		for _, c := range list {
			c := c
			ch := make(chan fetchResult, 1)
			go func() {
				start := time.Now()
				data, err := s.blob.Download(ctx, c.ObjectKey)
				s.metrics.ChunkDownloadDuration.WithLabelValues(metrics.Success(err == nil)).Observe(time.Since(start).Seconds())
				if err != nil {
					err = fmt.Errorf("chunk %d: %w", c.Index, err)
				}
				ch <- fetchResult{data: data, err: err}
			}()
			select {
			case futures <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()

	for ch := range futures {
		res := <-ch
		if res.err != nil {
			cancel()
			s.metrics.FileDownloads.WithLabelValues(metrics.Success(false)).Inc()
			return res.err
		}
		if _, err := w.Write(res.data); err != nil {
			cancel()
			s.metrics.FileDownloads.WithLabelValues(metrics.Success(false)).Inc()
			return fmt.Errorf("failed to write chunk: %w", err)
		}
	}

	s.metrics.FileDownloads.WithLabelValues(metrics.Success(true)).Inc()
	return nil
}
