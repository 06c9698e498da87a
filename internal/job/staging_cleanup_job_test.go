package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCleaner struct {
	retention time.Duration
	removed   int
	err       error
}

func (f *fakeCleaner) CleanupExpired(ctx context.Context, retention time.Duration) (int, error) {
	f.retention = retention
	return f.removed, f.err
}

func TestStagingCleanupJob(t *testing.T) {
	cleaner := &fakeCleaner{removed: 2}
	j := NewStagingCleanupJob(cleaner, 0)
	require.Equal(t, "staging_cleanup", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, defaultRetention, cleaner.retention)

	cleaner.err = errors.New("disk gone")
	j = NewStagingCleanupJob(cleaner, time.Hour)
	require.Error(t, j.Run(context.Background()))
	require.Equal(t, time.Hour, cleaner.retention)

	require.NoError(t, NewStagingCleanupJob(nil, time.Hour).Run(context.Background()))
}
