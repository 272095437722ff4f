package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

type TimelineRepository interface {
	// BulkInsert 批量写入条目，(user_id, post_id) 冲突静默跳过，返回实际新增数
	BulkInsert(ctx context.Context, entries []model.TimelineEntry) (int64, error)
	// ListByOwner 取 before 之前的条目，(created_at, post_id) 双降序
	ListByOwner(ctx context.Context, userID string, before time.Time, limit int) ([]*model.TimelineEntry, error)
	CountByPost(ctx context.Context, postID string) (int64, error)
	// DeleteByPost 限批删除某帖的条目，返回本批删除数，循环调用直到为 0
	DeleteByPost(ctx context.Context, postID string, limit int) (int64, error)
	DeleteByOwnerAuthor(ctx context.Context, userID, authorID string) (int64, error)
}

type timelineRepository struct{ db *gorm.DB }

func NewTimelineRepository(db *gorm.DB) TimelineRepository { return &timelineRepository{db: db} }

func (r *timelineRepository) BulkInsert(ctx context.Context, entries []model.TimelineEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.New().String()
		}
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&entries)
	return res.RowsAffected, res.Error
}

func (r *timelineRepository) ListByOwner(ctx context.Context, userID string, before time.Time, limit int) ([]*model.TimelineEntry, error) {
	var res []*model.TimelineEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND created_at < ?", userID, before).
		Order("created_at DESC, post_id DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *timelineRepository) CountByPost(ctx context.Context, postID string) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.TimelineEntry{}).Where("post_id = ?", postID).Count(&cnt).Error
	return cnt, err
}

func (r *timelineRepository) DeleteByPost(ctx context.Context, postID string, limit int) (int64, error) {
	// 子查询限批，避免单条长事务扫全表
	res := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&model.TimelineEntry{}).
			Select("id").Where("post_id = ?", postID).Limit(limit)).
		Delete(&model.TimelineEntry{})
	return res.RowsAffected, res.Error
}

func (r *timelineRepository) DeleteByOwnerAuthor(ctx context.Context, userID, authorID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("user_id = ? AND author_id = ?", userID, authorID).
		Delete(&model.TimelineEntry{})
	return res.RowsAffected, res.Error
}
