package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

type PostRepository interface {
	GetByID(ctx context.Context, id string) (*model.Post, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.Post, error)
	// ListRecentByAuthors 按作者集合取 before 之前的最新帖子，(created_at, id) 双降序
	ListRecentByAuthors(ctx context.Context, authorIDs []string, before time.Time, limit int) ([]*model.Post, error)
}

type postRepository struct{ db *gorm.DB }

func NewPostRepository(db *gorm.DB) PostRepository { return &postRepository{db: db} }

func (r *postRepository) GetByID(ctx context.Context, id string) (*model.Post, error) {
	var p model.Post
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *postRepository) GetByIDs(ctx context.Context, ids []string) ([]*model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var res []*model.Post
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&res).Error
	return res, err
}

func (r *postRepository) ListRecentByAuthors(ctx context.Context, authorIDs []string, before time.Time, limit int) ([]*model.Post, error) {
	if len(authorIDs) == 0 {
		return nil, nil
	}
	var res []*model.Post
	err := r.db.WithContext(ctx).
		Where("author_id IN ? AND created_at < ?", authorIDs, before).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}
