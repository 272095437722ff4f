package model

import "time"

// 扇出任务状态机：
// pending -> processing -> done
//                       -> cancelled -> purged （帖子删除后由 reconciler 级联清理）
// pending/processing 停滞超时由 reconciler 置回 pending；超过重试上限置 failed
const (
	FanoutStatusPending    = "pending"
	FanoutStatusProcessing = "processing"
	FanoutStatusDone       = "done"
	FanoutStatusCancelled  = "cancelled"
	FanoutStatusPurged     = "purged"
	FanoutStatusFailed     = "failed"
)

// 投递模式：push 预写粉丝时间线；pull 读时合并（大 V）
const (
	FanoutModePush = "push"
	FanoutModePull = "pull"
)

// FanoutJob 扇出任务（outbox），发布事务内落地，一帖一条
type FanoutJob struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	PostID      string    `gorm:"type:varchar(36);uniqueIndex;not null"`
	AuthorID    string    `gorm:"type:varchar(36);index:idx_fanout_author;not null"`
	Mode        string    `gorm:"type:varchar(8);not null"`
	Status      string    `gorm:"type:varchar(16);index;not null"`
	Checkpoint  string    `gorm:"type:varchar(36)"` // 最后完成投递的 fan_id，续传起点
	Delivered   int64     // 已写入的时间线条目数
	Expected    int64     // 发布时刻的粉丝数快照，供回查比对
	Attempts    int
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time `gorm:"index"`
	ProcessedAt *time.Time
}

func (FanoutJob) TableName() string { return "fanout_jobs" }
