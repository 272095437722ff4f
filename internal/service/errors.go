package service

import "errors"

// 逻辑错误直接返回调用方，不重试；存储瞬时错误在调用点退避重试
var (
	ErrFollowSelf       = errors.New("cannot follow self")
	ErrAlreadyFollowing = errors.New("already following")
	ErrNotFollowing     = errors.New("not following")
	ErrUserNotFound     = errors.New("user not found")
	ErrPostNotFound     = errors.New("post not found")
	ErrEmptyPost        = errors.New("post body is required")
	ErrPostTooLong      = errors.New("post body exceeds 280 characters")
)
