package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

func newReconciler(env *testEnv, maxAttempts int) *Reconciler {
	return NewReconciler(env.jobRepo, env.timelineRepo,
		time.Second, 10*time.Millisecond, time.Hour, maxAttempts, 10)
}

func TestReconcilerPurgesDeletedPost(t *testing.T) {
	env := newTestEnv(t, 10000)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	fans := env.seedFollowers(t, author, 3)

	postID, err := env.publisher.Publish(ctx, author, "doomed")
	require.NoError(t, err)
	env.drainFanout(t)
	require.EqualValues(t, 4, env.countEntries(t, postID))

	require.NoError(t, env.publisher.Delete(ctx, postID))

	rec := newReconciler(env, 5)
	report, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.PurgedJobs)
	assert.EqualValues(t, 4, report.EntriesFreed)
	assert.EqualValues(t, 0, env.countEntries(t, postID))

	// 每个粉丝的时间线都不再包含该帖
	for _, fan := range fans {
		posts, err := env.reader.GetTimeline(ctx, fan, time.Time{}, 50)
		require.NoError(t, err)
		for _, p := range posts {
			assert.NotEqual(t, postID, p.ID)
		}
	}

	job, err := env.jobRepo.GetByPost(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, model.FanoutStatusPurged, job.Status)
}

func TestReconcilerRequeuesStaleJob(t *testing.T) {
	env := newTestEnv(t, 10000)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	env.seedFollowers(t, author, 10)

	postID, err := env.publisher.Publish(ctx, author, "stalled")
	require.NoError(t, err)

	// 模拟 worker 领取后崩溃：任务卡在 processing
	job, err := env.jobRepo.GetByPost(ctx, postID)
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&model.FanoutJob{}).Where("id = ?", job.ID).
		Updates(map[string]any{"status": model.FanoutStatusProcessing, "attempts": 1}).Error)

	time.Sleep(20 * time.Millisecond)
	rec := newReconciler(env, 5)
	report, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Requeued)

	env.drainFanout(t)
	assert.EqualValues(t, 11, env.countEntries(t, postID))
}

func TestReconcilerGivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, 10000)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	postID, err := env.publisher.Publish(ctx, author, "poison")
	require.NoError(t, err)

	job, err := env.jobRepo.GetByPost(ctx, postID)
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&model.FanoutJob{}).Where("id = ?", job.ID).
		Updates(map[string]any{"status": model.FanoutStatusProcessing, "attempts": 5}).Error)

	time.Sleep(20 * time.Millisecond)
	rec := newReconciler(env, 5)
	report, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Failed)

	job, err = env.jobRepo.GetByPost(ctx, postID)
	require.NoError(t, err)
	assert.Equal(t, model.FanoutStatusFailed, job.Status)
}

func TestReconcilerAuditRepairsIncompleteFanout(t *testing.T) {
	env := newTestEnv(t, 10000)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	env.seedFollowers(t, author, 20)

	postID, err := env.publisher.Publish(ctx, author, "short-changed")
	require.NoError(t, err)
	env.drainFanout(t)
	require.EqualValues(t, 21, env.countEntries(t, postID))

	// 人为丢掉一部分条目并清断点，模拟标记 done 但落盘不完整
	job, err := env.jobRepo.GetByPost(ctx, postID)
	require.NoError(t, err)
	require.NoError(t, env.db.Where("post_id = ?", postID).
		Delete(&model.TimelineEntry{}).Error)
	require.NoError(t, env.db.Model(&model.FanoutJob{}).Where("id = ?", job.ID).
		Updates(map[string]any{"checkpoint": "", "attempts": 1}).Error)

	rec := newReconciler(env, 5)
	report, err := rec.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.Repaired)

	env.drainFanout(t)
	assert.EqualValues(t, 21, env.countEntries(t, postID))
}
