package service

import (
	"context"

	"github.com/d60-Lab/timeline-engine/internal/repository"
)

// RelationshipService 关系链服务，follows 为关注关系的唯一事实来源
type RelationshipService interface {
	Follow(ctx context.Context, fromUserID, toUserID string) error
	Unfollow(ctx context.Context, fromUserID, toUserID string) error
	ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error)
	// ListFansAfter 游标分页的粉丝枚举，fan_id 升序，cursor 为空从头开始
	// 返回下一页游标，空串表示已到末尾
	ListFansAfter(ctx context.Context, userID, cursor string, limit int) ([]string, string, error)
}

type relationshipService struct {
	userRepo     repository.UserRepository
	followRepo   repository.FollowRepository
	fanRepo      repository.FanRepository
	timelineRepo repository.TimelineRepository
	replicator   *FanReplicator
	counter      *FollowerCounter
	reader       *TimelineService
	// 取关是否清理该作者的历史时间线条目（策略开关，默认保留）
	purgeOnUnfollow bool
}

func NewRelationshipService(
	userRepo repository.UserRepository,
	followRepo repository.FollowRepository,
	fanRepo repository.FanRepository,
	timelineRepo repository.TimelineRepository,
	replicator *FanReplicator,
	counter *FollowerCounter,
	reader *TimelineService,
	purgeOnUnfollow bool,
) RelationshipService {
	return &relationshipService{
		userRepo:        userRepo,
		followRepo:      followRepo,
		fanRepo:         fanRepo,
		timelineRepo:    timelineRepo,
		replicator:      replicator,
		counter:         counter,
		reader:          reader,
		purgeOnUnfollow: purgeOnUnfollow,
	}
}

func (s *relationshipService) Follow(ctx context.Context, fromUserID, toUserID string) error {
	if fromUserID == toUserID {
		return ErrFollowSelf
	}
	for _, id := range []string{fromUserID, toUserID} {
		ok, err := s.userRepo.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotFound
		}
	}
	exists, err := s.followRepo.Exists(ctx, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if exists {
		return ErrAlreadyFollowing
	}
	if err := s.followRepo.Create(ctx, fromUserID, toUserID); err != nil {
		return err
	}
	if s.replicator != nil {
		s.replicator.EnqueueAdd(toUserID, fromUserID)
	}
	if s.reader != nil {
		s.reader.InvalidateTimeline(ctx, fromUserID)
	}
	return nil
}

func (s *relationshipService) Unfollow(ctx context.Context, fromUserID, toUserID string) error {
	deleted, err := s.followRepo.Delete(ctx, fromUserID, toUserID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFollowing
	}
	if s.replicator != nil {
		s.replicator.EnqueueRemove(toUserID, fromUserID)
	}
	if s.purgeOnUnfollow {
		if _, err := s.timelineRepo.DeleteByOwnerAuthor(ctx, fromUserID, toUserID); err != nil {
			return err
		}
	}
	if s.reader != nil {
		s.reader.InvalidateTimeline(ctx, fromUserID)
	}
	return nil
}

func (s *relationshipService) ListFollowing(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	items, err := s.followRepo.ListFollowings(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FolloweeID
	}
	return res, nil
}

func (s *relationshipService) ListFans(ctx context.Context, userID string, page, pageSize int) ([]string, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize
	items, err := s.fanRepo.ListFans(ctx, userID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FanID
	}
	return res, nil
}

func (s *relationshipService) ListFansAfter(ctx context.Context, userID, cursor string, limit int) ([]string, string, error) {
	if limit < 1 {
		limit = 100
	}
	items, err := s.fanRepo.ListFansAfter(ctx, userID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	res := make([]string, len(items))
	for i, it := range items {
		res[i] = it.FanID
	}
	next := ""
	if len(items) == limit {
		next = items[len(items)-1].FanID
	}
	return res, next, nil
}
