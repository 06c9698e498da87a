package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultRetention = 24 * time.Hour

// StagingCleaner purges staging that was abandoned or left behind by failed ingests.
type StagingCleaner interface {
	CleanupExpired(ctx context.Context, retention time.Duration) (int, error)
}

type StagingCleanupJob struct {
	cleaner   StagingCleaner
	retention time.Duration
}

func NewStagingCleanupJob(cleaner StagingCleaner, retention time.Duration) *StagingCleanupJob {
	return &StagingCleanupJob{cleaner: cleaner, retention: retention}
}

func (j *StagingCleanupJob) Name() string {
	return "staging_cleanup"
}

func (j *StagingCleanupJob) Run(ctx context.Context) error {
	if j.cleaner == nil {
		return nil
	}
	retention := j.retention
	if retention <= 0 {
		retention = defaultRetention
	}
	removed, err := j.cleaner.CleanupExpired(ctx, retention)
	if removed > 0 {
		logutil.GetLogger(ctx).Info("expired staging removed", zap.Int("uploads", removed), zap.Duration("retention", retention))
	}
	return err
}
