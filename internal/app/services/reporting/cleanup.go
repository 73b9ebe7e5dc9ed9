package reporting

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/carbonledger/platform/internal/app/domain/carbon"
	"github.com/carbonledger/platform/internal/app/storage"
	"github.com/carbonledger/platform/pkg/logger"
)

// CleanupWorker periodically deletes report files past their expiry and
// marks the corresponding Report row expired.
type CleanupWorker struct {
	reports storage.ReportStore
	log     *logger.Logger
}

// NewCleanupWorker builds the TTL sweep worker.
func NewCleanupWorker(reports storage.ReportStore, log *logger.Logger) *CleanupWorker {
	if log == nil {
		log = logger.NewDefault("reporting-cleanup")
	}
	return &CleanupWorker{reports: reports, log: log}
}

// Sweep deletes every report file whose ExpiresAt has passed, as of now.
func (w *CleanupWorker) Sweep(ctx context.Context) error {
	expired, err := w.reports.ListExpiredReports(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("list expired reports: %w", err)
	}
	for _, r := range expired {
		if r.FilePath != "" {
			if err := os.Remove(r.FilePath); err != nil && !os.IsNotExist(err) {
				w.log.WithError(err).WithField("report_id", r.ID).Warn("delete expired report file failed")
			}
		}
		r.Status = carbon.ReportStatusExpired
		if _, err := w.reports.UpdateReport(ctx, r); err != nil {
			w.log.WithError(err).WithField("report_id", r.ID).Error("mark report expired failed")
		}
	}
	return nil
}
