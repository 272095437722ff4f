package handler

import (
	"github.com/d60-Lab/timeline-engine/internal/repository"
	"github.com/d60-Lab/timeline-engine/internal/service"
)

// Handler 聚合各服务供路由注册
type Handler struct {
	relService    service.RelationshipService
	publisher     *service.Publisher
	timeline      *service.TimelineService
	followerCache *service.FollowerCache
	userRepo      repository.UserRepository
}

func NewHandler(
	relService service.RelationshipService,
	publisher *service.Publisher,
	timeline *service.TimelineService,
	followerCache *service.FollowerCache,
	userRepo repository.UserRepository,
) *Handler {
	return &Handler{
		relService:    relService,
		publisher:     publisher,
		timeline:      timeline,
		followerCache: followerCache,
		userRepo:      userRepo,
	}
}
