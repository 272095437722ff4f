package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

func TestFollowerCacheListFansDetailed(t *testing.T) {
	env := newTestEnv(t, 10000)
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	env.seedFollowers(t, author, 12)

	fc := NewFollowerCache(env.db, rdb, time.Minute)
	page1, err := fc.ListFansDetailed(ctx, author, 1, 5)
	require.NoError(t, err)
	require.Len(t, page1, 5)
	assert.Equal(t, "fan00000", page1[0].ID)
	assert.NotEmpty(t, page1[0].Username)

	page3, err := fc.ListFansDetailed(ctx, author, 3, 5)
	require.NoError(t, err)
	require.Len(t, page3, 2)

	// 越界页返回空
	page4, err := fc.ListFansDetailed(ctx, author, 4, 5)
	require.NoError(t, err)
	assert.Empty(t, page4)
}

func TestFollowerCacheServesFromIndex(t *testing.T) {
	env := newTestEnv(t, 10000)
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	env.seedFollowers(t, author, 6)

	fc := NewFollowerCache(env.db, rdb, time.Minute)
	_, err := fc.ListFansDetailed(ctx, author, 1, 5)
	require.NoError(t, err)

	// 清库后命中 redis 索引与快照，读仍然成功
	require.NoError(t, env.db.Where("1 = 1").Delete(&model.Fan{}).Error)
	page, err := fc.ListFansDetailed(ctx, author, 1, 5)
	require.NoError(t, err)
	assert.Len(t, page, 5)

	// 失效后回源，库已清空
	fc.Invalidate(ctx, author)
	page, err = fc.ListFansDetailed(ctx, author, 1, 5)
	require.NoError(t, err)
	assert.Empty(t, page)
}
