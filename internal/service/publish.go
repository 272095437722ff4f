package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/d60-Lab/timeline-engine/internal/model"
	"github.com/d60-Lab/timeline-engine/internal/repository"
)

// Publisher 发布入口：事务内落地 Post 与 FanoutJob
// 调用返回即代表任务已持久化，实际扇出由 FanoutWorker 异步完成
type Publisher struct {
	db      *gorm.DB
	posts   repository.PostRepository
	jobs    repository.FanoutJobRepository
	counter *FollowerCounter
}

func NewPublisher(db *gorm.DB, posts repository.PostRepository, jobs repository.FanoutJobRepository, counter *FollowerCounter) *Publisher {
	return &Publisher{db: db, posts: posts, jobs: jobs, counter: counter}
}

// Publish 创建帖子并按作者粉丝数决定投递模式
// 拉模式（大 V）不写任何时间线条目，任务直接落为 done，读端按 author+time 合并
func (p *Publisher) Publish(ctx context.Context, authorID, body string) (string, error) {
	if body == "" {
		return "", ErrEmptyPost
	}
	if utf8.RuneCountInString(body) > model.MaxPostLength {
		return "", ErrPostTooLong
	}
	fans, err := p.counter.Count(ctx, authorID)
	if err != nil {
		return "", err
	}
	mode := model.FanoutModePush
	status := model.FanoutStatusPending
	if fans >= int64(p.counter.Threshold()) {
		mode = model.FanoutModePull
		status = model.FanoutStatusDone
	}

	postID := uuid.New().String()
	now := time.Now()
	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post := &model.Post{ID: postID, AuthorID: authorID, Body: body, CreatedAt: now, UpdatedAt: now}
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		job := &model.FanoutJob{
			ID:       uuid.New().String(),
			PostID:   postID,
			AuthorID: authorID,
			Mode:     mode,
			Status:   status,
			Expected: fans,
		}
		if mode == model.FanoutModePull {
			job.ProcessedAt = &now
		}
		return tx.Create(job).Error
	})
	if err != nil {
		return "", err
	}
	return postID, nil
}

// Delete 软删帖子并取消在途扇出
// 取消只阻止新页派发，在途写入允许完成，残留条目由 Reconciler 级联清理
func (p *Publisher) Delete(ctx context.Context, postID string) error {
	post, err := p.posts.GetByID(ctx, postID)
	if err != nil {
		return err
	}
	if post == nil {
		return ErrPostNotFound
	}
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.Post{}, "id = ?", postID).Error; err != nil {
			return err
		}
		return p.jobs.CancelByPost(ctx, tx, postID)
	})
}
