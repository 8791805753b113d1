package services

import (
	"context"
	"time"

	"github.com/driftbox/backend/internal/config"
	"github.com/driftbox/backend/pkg/logger"
)

// Sweeper runs the retention sweep and the stale-upload cleanup on
// fixed tickers, concurrently with live requests. Both entry points
// are idempotent, so overlapping with a user-initiated purge is safe.
type Sweeper struct {
	Trash *TrashService
	cfg   config.TrashConfig
	stop  chan struct{}
}

func NewSweeper(trash *TrashService, cfg config.TrashConfig) *Sweeper {
	return &Sweeper{
		Trash: trash,
		cfg:   cfg,
		stop:  make(chan struct{}),
	}
}

func (s *Sweeper) Start() {
	go s.runSweep()
	go s.runStaleUploadCleanup()
}

func (s *Sweeper) Stop() {
	close(s.stop)
}

func (s *Sweeper) runSweep() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			result, err := s.Trash.SweepExpired(context.Background())
			if err != nil {
				logger.Error("trash_sweep_failed", err, nil)
				continue
			}
			logger.Info("trash_sweep_completed", map[string]interface{}{
				"purged_files":   result.PurgedFiles,
				"purged_folders": result.PurgedFolders,
				"failed":         result.Failed,
			})
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) runStaleUploadCleanup() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			reaped, err := s.Trash.CleanupStaleUploads(context.Background(), s.cfg.StaleUploadAge)
			if err != nil {
				logger.Error("stale_upload_sweep_failed", err, nil)
				continue
			}
			if reaped > 0 {
				logger.Info("stale_uploads_reaped", map[string]interface{}{
					"count": reaped,
				})
			}
		case <-s.stop:
			return
		}
	}
}
