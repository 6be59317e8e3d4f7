package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/cipherdrive/internal/logging"
	sc "github.com/dmitrijs2005/cipherdrive/internal/server/config"
	"github.com/dmitrijs2005/cipherdrive/internal/server/repositories/repomanager"
)

// Reaper periodically purges uploads that were initialized but never
// finalized or aborted, e.g. because the client crashed mid-transfer.
// Without it, orphaned chunks would hold storage forever.
type Reaper struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	blob        BlobStore
	ttl         time.Duration
	interval    time.Duration
	logger      logging.Logger
}

// NewReaper constructs a Reaper with the TTL and scan interval from config.
func NewReaper(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config, blob BlobStore, log logging.Logger) *Reaper {
	return &Reaper{
		db:          db,
		repomanager: m,
		blob:        blob,
		ttl:         cfg.UploadAbandonTTL,
		interval:    cfg.ReaperInterval,
		logger:      log,
	}
}

// Run scans on every tick until the context is cancelled. Meant to be
// started as a goroutine next to the server.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.ReapOnce(ctx); err != nil {
				r.logger.Error(ctx, "reaper pass failed", "error", err)
			}
		}
	}
}

// ReapOnce purges every unfinalized upload older than the TTL. Failures on
// individual files are logged and do not stop the pass.
func (r *Reaper) ReapOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-r.ttl)
	stale, err := r.repomanager.Files(r.db).ListUnfinalizedOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if err := purgeFile(ctx, r.db, r.repomanager, r.blob, r.logger, id); err != nil {
			r.logger.Warn(ctx, "failed to reap stale upload", "file_id", id, "error", err)
			continue
		}
		r.logger.Info(ctx, "reaped stale upload", "file_id", id)
	}
	return nil
}
