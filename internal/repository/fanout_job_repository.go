package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/timeline-engine/internal/model"
)

type FanoutJobRepository interface {
	// Claim 领取一批 pending 任务并置为 processing
	Claim(ctx context.Context, limit int) ([]*model.FanoutJob, error)
	Get(ctx context.Context, id string) (*model.FanoutJob, error)
	GetByPost(ctx context.Context, postID string) (*model.FanoutJob, error)
	// SaveCheckpoint 单调推进断点（仅在整波落盘后调用）
	SaveCheckpoint(ctx context.Context, jobID, checkpoint string, delivered int64) error
	MarkDone(ctx context.Context, jobID string) error
	UpdateStatus(ctx context.Context, jobID, status string) error
	CancelByPost(ctx context.Context, tx *gorm.DB, postID string) error
	// ListStale 停滞超时的 pending/processing 任务
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.FanoutJob, error)
	// ListDoneSince 回查窗口内完成的 push 任务
	ListDoneSince(ctx context.Context, since time.Time, limit int) ([]*model.FanoutJob, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*model.FanoutJob, error)
	Requeue(ctx context.Context, jobID string) error
	Fail(ctx context.Context, jobID string) error
}

type fanoutJobRepository struct{ db *gorm.DB }

func NewFanoutJobRepository(db *gorm.DB) FanoutJobRepository { return &fanoutJobRepository{db: db} }

func (r *fanoutJobRepository) Claim(ctx context.Context, limit int) ([]*model.FanoutJob, error) {
	var batch []*model.FanoutJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", model.FanoutStatusPending).
			Order("created_at").
			Limit(limit)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]string, len(batch))
		for i, b := range batch {
			ids[i] = b.ID
		}
		return tx.Model(&model.FanoutJob{}).
			Where("id IN ?", ids).
			Updates(map[string]any{"status": model.FanoutStatusProcessing, "attempts": gorm.Expr("attempts + 1")}).Error
	})
	return batch, err
}

func (r *fanoutJobRepository) Get(ctx context.Context, id string) (*model.FanoutJob, error) {
	var j model.FanoutJob
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *fanoutJobRepository) GetByPost(ctx context.Context, postID string) (*model.FanoutJob, error) {
	var j model.FanoutJob
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).First(&j).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *fanoutJobRepository) SaveCheckpoint(ctx context.Context, jobID, checkpoint string, delivered int64) error {
	return r.db.WithContext(ctx).Model(&model.FanoutJob{}).
		Where("id = ? AND status = ?", jobID, model.FanoutStatusProcessing).
		Updates(map[string]any{"checkpoint": checkpoint, "delivered": gorm.Expr("delivered + ?", delivered)}).Error
}

func (r *fanoutJobRepository) MarkDone(ctx context.Context, jobID string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.FanoutJob{}).
		Where("id = ? AND status = ?", jobID, model.FanoutStatusProcessing).
		Updates(map[string]any{"status": model.FanoutStatusDone, "processed_at": &now}).Error
}

func (r *fanoutJobRepository) UpdateStatus(ctx context.Context, jobID, status string) error {
	return r.db.WithContext(ctx).Model(&model.FanoutJob{}).
		Where("id = ?", jobID).
		Update("status", status).Error
}

// CancelByPost 在删帖事务内把任务置为 cancelled，worker 停止派发新页
func (r *fanoutJobRepository) CancelByPost(ctx context.Context, tx *gorm.DB, postID string) error {
	return tx.WithContext(ctx).Model(&model.FanoutJob{}).
		Where("post_id = ?", postID).
		Update("status", model.FanoutStatusCancelled).Error
}

func (r *fanoutJobRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.FanoutJob, error) {
	var res []*model.FanoutJob
	err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []string{model.FanoutStatusPending, model.FanoutStatusProcessing}, olderThan).
		Order("updated_at").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *fanoutJobRepository) ListDoneSince(ctx context.Context, since time.Time, limit int) ([]*model.FanoutJob, error) {
	var res []*model.FanoutJob
	err := r.db.WithContext(ctx).
		Where("status = ? AND mode = ? AND processed_at > ?", model.FanoutStatusDone, model.FanoutModePush, since).
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *fanoutJobRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*model.FanoutJob, error) {
	var res []*model.FanoutJob
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("updated_at").
		Limit(limit).
		Find(&res).Error
	return res, err
}

// Requeue 置回 pending，worker 会从 checkpoint 续传
func (r *fanoutJobRepository) Requeue(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Model(&model.FanoutJob{}).
		Where("id = ?", jobID).
		Update("status", model.FanoutStatusPending).Error
}

func (r *fanoutJobRepository) Fail(ctx context.Context, jobID string) error {
	return r.db.WithContext(ctx).Model(&model.FanoutJob{}).
		Where("id = ?", jobID).
		Update("status", model.FanoutStatusFailed).Error
}
