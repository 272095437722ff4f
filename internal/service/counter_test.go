package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestFollowerCounterCachesCount(t *testing.T) {
	env := newTestEnv(t, 10000)
	mr, rdb := newTestRedis(t)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	env.seedFollowers(t, author, 7)

	counter := NewFollowerCounter(env.fanRepo, rdb, time.Minute, 10000)
	n, err := counter.Count(ctx, author)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	// 缓存命中：库里再加粉丝，TTL 内读到的还是旧值（有界陈旧）
	require.NoError(t, env.fanRepo.Create(ctx, author, env.seedUser(t, "late")))
	n, err = counter.Count(ctx, author)
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)

	// TTL 过期后重算
	mr.FastForward(2 * time.Minute)
	n, err = counter.Count(ctx, author)
	require.NoError(t, err)
	assert.EqualValues(t, 8, n)
}

func TestFollowerCounterInvalidate(t *testing.T) {
	env := newTestEnv(t, 10000)
	_, rdb := newTestRedis(t)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	env.seedFollowers(t, author, 3)

	counter := NewFollowerCounter(env.fanRepo, rdb, time.Minute, 10000)
	n, err := counter.Count(ctx, author)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	require.NoError(t, env.fanRepo.Create(ctx, author, env.seedUser(t, "new")))
	counter.Invalidate(ctx, author)

	n, err = counter.Count(ctx, author)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestIsCelebrityThreshold(t *testing.T) {
	env := newTestEnv(t, 10000)
	ctx := context.Background()

	small := env.seedUser(t, "small")
	big := env.seedUser(t, "big")
	for i := 0; i < 5; i++ {
		id := env.seedUser(t, "bigfan"+string(rune('a'+i)))
		require.NoError(t, env.fanRepo.Create(ctx, big, id))
	}

	counter := NewFollowerCounter(env.fanRepo, nil, time.Minute, 5)
	celeb, err := counter.IsCelebrity(ctx, small)
	require.NoError(t, err)
	assert.False(t, celeb)

	celeb, err = counter.IsCelebrity(ctx, big)
	require.NoError(t, err)
	assert.True(t, celeb)
}
