package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/pkg/logger"
)

const (
	timelineKeyPrefix    = "timeline:first:"
	timelineCacheTTL     = 10 * time.Second
	DefaultTimelineLimit = 50
)

// TimelineService 读端：合并推送条目与拉模式作者的帖子
type TimelineService struct {
	timelineRepo repository.TimelineRepository
	postRepo     repository.PostRepository
	followRepo   repository.FollowRepository
	counter      *FollowerCounter
	cache        *redis.Client // 首页缓存，可为 nil
}

func NewTimelineService(
	timelineRepo repository.TimelineRepository,
	postRepo repository.PostRepository,
	followRepo repository.FollowRepository,
	counter *FollowerCounter,
	cache *redis.Client,
) *TimelineService {
	return &TimelineService{
		timelineRepo: timelineRepo,
		postRepo:     postRepo,
		followRepo:   followRepo,
		counter:      counter,
		cache:        cache,
	}
}

// GetTimeline 返回 before 之前最多 limit 条帖子，(created_at, post_id) 双降序
// 推送条目与拉模式（大 V）作者的近期帖子在读时归并，按 post_id 去重：
// 作者在推/拉模式间切换的历史里同一帖子可能两路都出现
func (s *TimelineService) GetTimeline(ctx context.Context, userID string, before time.Time, limit int) ([]*model.Post, error) {
	if limit <= 0 || limit > 200 {
		limit = DefaultTimelineLimit
	}
	firstPage := before.IsZero()
	if firstPage {
		before = time.Now().Add(time.Second)
		if cached := s.readCache(ctx, userID, limit); cached != nil {
			return cached, nil
		}
	}

	entries, err := s.timelineRepo.ListByOwner(ctx, userID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list timeline entries: %w", err)
	}
	pushed, err := s.hydrate(ctx, entries)
	if err != nil {
		return nil, err
	}

	pulled, err := s.pullCelebrityPosts(ctx, userID, before, limit)
	if err != nil {
		return nil, err
	}

	merged := mergeFeeds(pushed, pulled, limit)
	if firstPage {
		s.writeCache(ctx, userID, limit, merged)
	}
	return merged, nil
}

// InvalidateTimeline 关注关系变化后丢弃首页缓存
func (s *TimelineService) InvalidateTimeline(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	iter := s.cache.Scan(ctx, 0, timelineKeyPrefix+userID+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.cache.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("timeline cache invalidate failed", zap.String("user", userID), zap.Error(err))
		}
	}
}

// hydrate 按条目补齐帖子实体；软删的帖子查不到，自然从结果剔除
func (s *TimelineService) hydrate(ctx context.Context, entries []*model.TimelineEntry) ([]*model.Post, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.PostID
	}
	posts, err := s.postRepo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate timeline posts: %w", err)
	}
	byID := make(map[string]*model.Post, len(posts))
	for _, p := range posts {
		byID[p.ID] = p
	}
	res := make([]*model.Post, 0, len(entries))
	for _, e := range entries {
		if p, ok := byID[e.PostID]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// pullCelebrityPosts 取关注列表中拉模式作者的近期帖子
func (s *TimelineService) pullCelebrityPosts(ctx context.Context, userID string, before time.Time, limit int) ([]*model.Post, error) {
	followees, err := s.followRepo.ListFolloweeIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list followees: %w", err)
	}
	var pullAuthors []string
	for _, id := range followees {
		celeb, err := s.counter.IsCelebrity(ctx, id)
		if err != nil {
			return nil, err
		}
		if celeb {
			pullAuthors = append(pullAuthors, id)
		}
	}
	if len(pullAuthors) == 0 {
		return nil, nil
	}
	return s.postRepo.ListRecentByAuthors(ctx, pullAuthors, before, limit)
}

// mergeFeeds 两路均已按 (created_at, id) 降序，归并后按 post id 去重并截断
func mergeFeeds(pushed, pulled []*model.Post, limit int) []*model.Post {
	merged := make([]*model.Post, 0, len(pushed)+len(pulled))
	merged = append(merged, pushed...)
	merged = append(merged, pulled...)
	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].CreatedAt.Equal(merged[j].CreatedAt) {
			return merged[i].CreatedAt.After(merged[j].CreatedAt)
		}
		return merged[i].ID > merged[j].ID
	})
	seen := make(map[string]struct{}, len(merged))
	out := make([]*model.Post, 0, limit)
	for _, p := range merged {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *TimelineService) cacheKey(userID string, limit int) string {
	return fmt.Sprintf("%s%s:%d", timelineKeyPrefix, userID, limit)
}

func (s *TimelineService) readCache(ctx context.Context, userID string, limit int) []*model.Post {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, s.cacheKey(userID, limit)).Bytes()
	if err != nil {
		return nil
	}
	var posts []*model.Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil
	}
	return posts
}

func (s *TimelineService) writeCache(ctx context.Context, userID string, limit int, posts []*model.Post) {
	if s.cache == nil || len(posts) == 0 {
		return
	}
	payload, err := json.Marshal(posts)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(userID, limit), payload, timelineCacheTTL).Err(); err != nil {
		logger.Warn("timeline cache set failed", zap.String("user", userID), zap.Error(err))
	}
}
