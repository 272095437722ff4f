package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-engine/pkg/response"
)

type createUserRequest struct {
	Username string `json:"username" binding:"required,min=1,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

// CreateUser 创建用户（最小用户目录，完整用户管理属外部服务）
// @Summary 创建用户
// @Tags 用户
// @Accept json
// @Produce json
// @Param request body createUserRequest true "用户信息"
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Failure 400 {object} response.Response
// @Router /api/v1/users [post]
func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.userRepo.Create(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Success(c, gin.H{"id": u.ID, "username": u.Username})
}
