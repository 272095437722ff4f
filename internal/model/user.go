package model

import "time"

// User 用户（由外部用户服务管理，这里只消费 id 与时间戳）
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null"`
	Email     string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	Password  string    `gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }
