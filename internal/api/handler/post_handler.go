package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-engine/internal/service"
	"github.com/d60-Lab/timeline-engine/pkg/response"
)

type createPostRequest struct {
	AuthorID string `json:"author_id" binding:"required"`
	Body     string `json:"body" binding:"required"`
}

// CreatePost 发布帖子，返回即代表扇出任务已持久化，投递异步完成
// @Summary 发布帖子
// @Tags 帖子
// @Accept json
// @Produce json
// @Param request body createPostRequest true "帖子内容"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/posts [post]
func (h *Handler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	postID, err := h.publisher.Publish(c.Request.Context(), req.AuthorID, req.Body)
	switch {
	case err == nil:
		response.Success(c, gin.H{"post_id": postID})
	case errors.Is(err, service.ErrEmptyPost), errors.Is(err, service.ErrPostTooLong):
		response.BadRequest(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}

// DeletePost 删除帖子并取消在途扇出，时间线条目由后台级联清理
// @Summary 删除帖子
// @Tags 帖子
// @Param id path string true "帖子ID"
// @Success 200 {object} response.Response
// @Failure 404 {object} response.Response
// @Router /api/v1/posts/{id} [delete]
func (h *Handler) DeletePost(c *gin.Context) {
	err := h.publisher.Delete(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		response.Success(c, nil)
	case errors.Is(err, service.ErrPostNotFound):
		response.NotFound(c, err.Error())
	default:
		response.InternalError(c, err)
	}
}
