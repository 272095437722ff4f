package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

const fanCountKeyPrefix = "fanout:fans:"

// FollowerCounter 粉丝数的有界陈旧缓存
// 推/拉阈值判断不需要精确值，TTL 内的陈旧读可接受，避免每次 follow/unfollow 锁全局计数
type FollowerCounter struct {
	fanRepo   repository.FanRepository
	cache     *redis.Client // 可为 nil，退化为每次查库
	ttl       time.Duration
	threshold int
}

func NewFollowerCounter(fanRepo repository.FanRepository, cache *redis.Client, ttl time.Duration, threshold int) *FollowerCounter {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if threshold <= 0 {
		threshold = 10000
	}
	return &FollowerCounter{fanRepo: fanRepo, cache: cache, ttl: ttl, threshold: threshold}
}

func (c *FollowerCounter) Threshold() int { return c.threshold }

// Count 返回粉丝数，最多陈旧 ttl
func (c *FollowerCounter) Count(ctx context.Context, userID string) (int64, error) {
	key := fanCountKeyPrefix + userID
	if c.cache != nil {
		if v, err := c.cache.Get(ctx, key).Result(); err == nil {
			if n, perr := strconv.ParseInt(v, 10, 64); perr == nil {
				return n, nil
			}
		}
	}
	n, err := c.fanRepo.Count(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("count fans: %w", err)
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, key, strconv.FormatInt(n, 10), c.ttl).Err(); err != nil {
			logger.Warn("fan count cache set failed", zap.String("user", userID), zap.Error(err))
		}
	}
	return n, nil
}

// IsCelebrity 粉丝数达到阈值即走拉模式
func (c *FollowerCounter) IsCelebrity(ctx context.Context, userID string) (bool, error) {
	n, err := c.Count(ctx, userID)
	if err != nil {
		return false, err
	}
	return n >= int64(c.threshold), nil
}

// Invalidate 关注关系变化后使缓存失效，下次读重算
func (c *FollowerCounter) Invalidate(ctx context.Context, userID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, fanCountKeyPrefix+userID).Err(); err != nil {
		logger.Warn("fan count cache invalidate failed", zap.String("user", userID), zap.Error(err))
	}
}
