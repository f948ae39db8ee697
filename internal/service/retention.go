package service

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/infrastructure/metrics"
	"github.com/bnema/transcoder/internal/port"
)

const sweepBatch = 100

// Retention deletes files whose retention period has passed, along with the
// finished jobs that reference them.
type Retention struct {
	store port.RetentionStore
	files port.FileStore
	now   func() time.Time
}

func NewRetention(store port.RetentionStore, files port.FileStore) *Retention {
	return &Retention{store: store, files: files, now: time.Now}
}

// Sweep removes every currently expired file and reports how many went.
func (r *Retention) Sweep(ctx context.Context) (int, error) {
	removed := 0
	for {
		expired, err := r.store.ListExpiredFiles(ctx, r.now(), sweepBatch)
		if err != nil {
			return removed, err
		}
		purged := 0
		for _, f := range expired {
			if err := r.purge(ctx, f); err != nil {
				if errors.Is(err, domain.ErrFileInUse) {
					continue
				}
				return removed, err
			}
			purged++
		}
		removed += purged
		if len(expired) < sweepBatch || purged == 0 {
			return removed, nil
		}
	}
}

func (r *Retention) purge(ctx context.Context, f *domain.File) error {
	thumb := ""
	if meta, err := r.files.GetMetadata(ctx, f.ID); err == nil {
		thumb = meta.ThumbnailPath
	}

	// Record first, then bytes.
	if err := r.store.PurgeFile(ctx, f.ID); err != nil {
		return err
	}
	for _, path := range []string{f.StoragePath, thumb} {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Warn.Printf("remove expired %s: %v", path, err)
		}
	}
	metrics.FilesExpired.Inc()
	logger.Debug.Printf("expired file %s (%s)", f.ID, logger.SanitizeForLog(f.OriginalName))
	return nil
}

// Run sweeps every interval until ctx is done.
func (r *Retention) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				logger.Error.Printf("retention sweep failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Info.Printf("retention sweep removed %d expired files", n)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
