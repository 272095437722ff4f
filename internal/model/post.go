package model

import (
	"time"

	"gorm.io/gorm"
)

// MaxPostLength 正文长度上限
const MaxPostLength = 280

// Post 内容主体
type Post struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	AuthorID  string    `gorm:"type:varchar(36);index:idx_post_author_created;not null"`
	Body      string    `gorm:"type:varchar(280);not null"`
	CreatedAt time.Time `gorm:"index:idx_post_author_created;index:idx_post_created"`
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Post) TableName() string { return "posts" }
