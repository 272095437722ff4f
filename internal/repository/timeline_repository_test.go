package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.Post{}, &model.Follow{}, &model.Fan{},
		&model.TimelineEntry{}, &model.FanoutJob{},
	))
	return db
}

func TestBulkInsertIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTimelineRepository(db)
	ctx := context.Background()

	now := time.Now()
	entries := []model.TimelineEntry{
		{UserID: "u1", PostID: "p1", AuthorID: "a1", CreatedAt: now},
		{UserID: "u2", PostID: "p1", AuthorID: "a1", CreatedAt: now},
	}
	n, err := repo.BulkInsert(ctx, entries)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// 重跑同一批：唯一键冲突静默跳过，不算失败
	dup := []model.TimelineEntry{
		{UserID: "u1", PostID: "p1", AuthorID: "a1", CreatedAt: now},
		{UserID: "u3", PostID: "p1", AuthorID: "a1", CreatedAt: now},
	}
	n, err = repo.BulkInsert(ctx, dup)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	total, err := repo.CountByPost(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
}

func TestListByOwnerOrderAndBoundary(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTimelineRepository(db)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	var entries []model.TimelineEntry
	for i := 0; i < 5; i++ {
		entries = append(entries, model.TimelineEntry{
			UserID: "u1", PostID: fmt.Sprintf("p%d", i), AuthorID: "a1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	// 同一时刻的两条，post_id 破序
	entries = append(entries,
		model.TimelineEntry{UserID: "u1", PostID: "pz", AuthorID: "a1", CreatedAt: base},
	)
	_, err := repo.BulkInsert(ctx, entries)
	require.NoError(t, err)

	got, err := repo.ListByOwner(ctx, "u1", base.Add(10*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, got, 6)
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		ok := prev.CreatedAt.After(cur.CreatedAt) ||
			(prev.CreatedAt.Equal(cur.CreatedAt) && prev.PostID > cur.PostID)
		assert.True(t, ok, "not descending at %d", i)
	}

	// before 为排他边界
	got, err = repo.ListByOwner(ctx, "u1", base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, got, 3) // p0, p1, pz
}

func TestDeleteByPostBatched(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTimelineRepository(db)
	ctx := context.Background()

	now := time.Now()
	var entries []model.TimelineEntry
	for i := 0; i < 25; i++ {
		entries = append(entries, model.TimelineEntry{
			UserID: fmt.Sprintf("u%d", i), PostID: "p1", AuthorID: "a1", CreatedAt: now,
		})
	}
	_, err := repo.BulkInsert(ctx, entries)
	require.NoError(t, err)

	var rounds int
	for {
		n, err := repo.DeleteByPost(ctx, "p1", 10)
		require.NoError(t, err)
		rounds++
		if n < 10 {
			break
		}
	}
	assert.Equal(t, 3, rounds)
	left, err := repo.CountByPost(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, left)
}

func TestFanoutJobClaimAndCheckpoint(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFanoutJobRepository(db)
	ctx := context.Background()

	job := &model.FanoutJob{
		ID: "j1", PostID: "p1", AuthorID: "a1",
		Mode: model.FanoutModePush, Status: model.FanoutStatusPending, Expected: 10,
	}
	require.NoError(t, db.Create(job).Error)

	batch, err := repo.Claim(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)

	got, err := repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.FanoutStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)

	// 已领取的任务不会被再次领取
	batch, err = repo.Claim(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, batch)

	require.NoError(t, repo.SaveCheckpoint(ctx, "j1", "fan42", 42))
	got, err = repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "fan42", got.Checkpoint)
	assert.EqualValues(t, 42, got.Delivered)

	require.NoError(t, repo.MarkDone(ctx, "j1"))
	got, err = repo.Get(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, model.FanoutStatusDone, got.Status)
	require.NotNil(t, got.ProcessedAt)
}
