package model

import "time"

// TimelineEntry 物化时间线条目，一条代表 (owner, post) 的一次投递
// 复合唯一键 ux_timeline_user_post = (user_id, post_id)，防止重复投递
type TimelineEntry struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    string    `gorm:"type:varchar(36);index:idx_timeline_user_created;uniqueIndex:ux_timeline_user_post;not null"`
	PostID    string    `gorm:"type:varchar(36);index:idx_timeline_post;uniqueIndex:ux_timeline_user_post;not null"`
	AuthorID  string    `gorm:"type:varchar(36);not null"`
	CreatedAt time.Time `gorm:"index:idx_timeline_user_created,sort:desc"` // 取帖子的发布时间，供分页排序
}

func (TimelineEntry) TableName() string { return "user_timeline" }
