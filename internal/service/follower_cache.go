package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

// FanSnapshot 粉丝列表页所需的最小用户信息
type FanSnapshot struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// FollowerCache 粉丝明细页的两级缓存：
// redis list 存 fan_id 索引（LRANGE 取页），user:<id> 存快照（MGET 批取）
type FollowerCache struct {
	db    *gorm.DB
	cache *redis.Client
	ttl   time.Duration
}

func NewFollowerCache(db *gorm.DB, cache *redis.Client, ttl time.Duration) *FollowerCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &FollowerCache{db: db, cache: cache, ttl: ttl}
}

func fanIndexKey(userID string) string { return "followers:index:" + userID }

// ListFansDetailed 分页返回粉丝快照
func (s *FollowerCache) ListFansDetailed(ctx context.Context, userID string, page, size int) ([]FanSnapshot, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	start := (page - 1) * size
	end := start + size - 1

	var ids []string
	if exists, _ := s.cache.Exists(ctx, fanIndexKey(userID)).Result(); exists > 0 {
		ids, _ = s.cache.LRange(ctx, fanIndexKey(userID), int64(start), int64(end)).Result()
	}
	if len(ids) == 0 {
		allIDs, err := s.loadFanIDsAndCache(ctx, userID)
		if err != nil {
			return nil, err
		}
		if start >= len(allIDs) {
			return []FanSnapshot{}, nil
		}
		endIdx := start + size
		if endIdx > len(allIDs) {
			endIdx = len(allIDs)
		}
		ids = allIDs[start:endIdx]
	}
	return s.loadSnapshots(ctx, ids)
}

// Invalidate 粉丝集合变化后丢弃索引
func (s *FollowerCache) Invalidate(ctx context.Context, userID string) {
	_ = s.cache.Del(ctx, fanIndexKey(userID)).Err()
}

func (s *FollowerCache) loadFanIDsAndCache(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).
		Model(&model.Fan{}).
		Where("user_id = ?", userID).
		Order("fan_id").
		Pluck("fan_id", &ids).Error; err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		vals := make([]interface{}, len(ids))
		for i, id := range ids {
			vals[i] = id
		}
		pipe := s.cache.Pipeline()
		pipe.Del(ctx, fanIndexKey(userID))
		pipe.RPush(ctx, fanIndexKey(userID), vals...)
		pipe.Expire(ctx, fanIndexKey(userID), s.ttl)
		_, _ = pipe.Exec(ctx)
	}
	return ids, nil
}

func (s *FollowerCache) loadSnapshots(ctx context.Context, ids []string) ([]FanSnapshot, error) {
	if len(ids) == 0 {
		return []FanSnapshot{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "user:" + id
	}
	cached := make(map[string]FanSnapshot, len(ids))
	if vals, err := s.cache.MGet(ctx, keys...).Result(); err == nil {
		for i, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var snap FanSnapshot
			if json.Unmarshal([]byte(str), &snap) == nil {
				cached[ids[i]] = snap
			}
		}
	}

	missing := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := cached[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		var users []model.User
		if err := s.db.WithContext(ctx).Where("id IN ?", missing).Find(&users).Error; err != nil {
			return nil, fmt.Errorf("bulk load users: %w", err)
		}
		for _, u := range users {
			snap := FanSnapshot{ID: u.ID, Username: u.Username, Email: u.Email}
			cached[u.ID] = snap
			if payload, err := json.Marshal(snap); err == nil {
				_ = s.cache.Set(ctx, "user:"+u.ID, payload, s.ttl).Err()
			}
		}
	}

	result := make([]FanSnapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := cached[id]; ok {
			result = append(result, snap)
		}
	}
	return result, nil
}
