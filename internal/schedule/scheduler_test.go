package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countJob struct {
	runs  int32
	panic bool
}

func (j *countJob) Name() string { return "count" }

func (j *countJob) Run(ctx context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	if j.panic {
		panic("boom")
	}
	return nil
}

func TestCronScheduler_AddJob(t *testing.T) {
	s := NewCronScheduler()
	job := &countJob{}
	require.NoError(t, s.AddJob(job, "*/30 * * * *"))
	require.Error(t, s.AddJob(job, "*/5 * * * *"))
	require.Error(t, s.AddJob(&countJob{}, "not a spec"))

	s.Start(context.Background())
	defer s.Stop()
	next, ok := s.Next("count")
	require.True(t, ok)
	require.True(t, next.After(time.Now()))
	_, ok = s.Next("missing")
	require.False(t, ok)
}

func TestCronScheduler_WrapRecoversPanics(t *testing.T) {
	s := NewCronScheduler()
	job := &countJob{panic: true}
	run := s.wrap(job, "@every 1m")
	require.NotPanics(t, run)
	require.NotPanics(t, run)
	require.Equal(t, int32(2), atomic.LoadInt32(&job.runs))
}
