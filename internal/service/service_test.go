package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
)

// testEnv 共享测试装配：sqlite 内存库 + 全套仓储与服务
type testEnv struct {
	db           *gorm.DB
	userRepo     repository.UserRepository
	postRepo     repository.PostRepository
	followRepo   repository.FollowRepository
	fanRepo      repository.FanRepository
	timelineRepo repository.TimelineRepository
	jobRepo      repository.FanoutJobRepository
	counter      *FollowerCounter
	publisher    *Publisher
	worker       *FanoutWorker
	reader       *TimelineService
}

func newTestEnv(t *testing.T, threshold int) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	// :memory: 每个连接是独立库，收紧到单连接
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.Post{}, &model.Follow{}, &model.Fan{},
		&model.TimelineEntry{}, &model.FanoutJob{},
	))

	env := &testEnv{
		db:           db,
		userRepo:     repository.NewUserRepository(db),
		postRepo:     repository.NewPostRepository(db),
		followRepo:   repository.NewFollowRepository(db),
		fanRepo:      repository.NewFanRepository(db),
		timelineRepo: repository.NewTimelineRepository(db),
		jobRepo:      repository.NewFanoutJobRepository(db),
	}
	env.counter = NewFollowerCounter(env.fanRepo, nil, time.Minute, threshold)
	env.publisher = NewPublisher(db, env.postRepo, env.jobRepo, env.counter)
	// sqlite 内存库单连接，页并发压到 1
	env.worker = NewFanoutWorker(env.fanRepo, env.timelineRepo, env.jobRepo, 1, 50, 1, 16, time.Millisecond, 0)
	env.reader = NewTimelineService(env.timelineRepo, env.postRepo, env.followRepo, env.counter, nil)
	return env
}

// seedUser 创建用户并返回 id
func (e *testEnv) seedUser(t *testing.T, id string) string {
	t.Helper()
	u := model.User{ID: id, Username: id, Email: id + "@example.com", Password: "p"}
	require.NoError(t, e.db.Create(&u).Error)
	return u.ID
}

// seedFollowers 给 author 挂 n 个粉丝（follows + fans 双写）
func (e *testEnv) seedFollowers(t *testing.T, authorID string, n int) []string {
	t.Helper()
	ctx := context.Background()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("fan%05d", i)
		ids[i] = e.seedUser(t, id)
		require.NoError(t, e.followRepo.Create(ctx, id, authorID))
		require.NoError(t, e.fanRepo.Create(ctx, authorID, id))
	}
	return ids
}

func (e *testEnv) countEntries(t *testing.T, postID string) int64 {
	t.Helper()
	n, err := e.timelineRepo.CountByPost(context.Background(), postID)
	require.NoError(t, err)
	return n
}

// drainFanout 反复处理直到没有待领任务
func (e *testEnv) drainFanout(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, e.worker.ProcessOnce(ctx))
		var pending int64
		require.NoError(t, e.db.Model(&model.FanoutJob{}).
			Where("status IN ?", []string{model.FanoutStatusPending, model.FanoutStatusProcessing}).
			Count(&pending).Error)
		if pending == 0 {
			return
		}
	}
	t.Fatal("fanout did not drain")
}
