package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/d60-Lab/timeline-engine/pkg/response"
)

// GetTimeline 查询用户时间线（推送条目 + 大 V 读时合并）
// @Summary 查询时间线
// @Tags 时间线
// @Param user_id path string true "用户ID"
// @Param before query string false "取此时刻之前的帖子（RFC3339）"
// @Param limit query int false "条数" default(50)
// @Success 200 {object} response.Response{data=map[string]interface{}}
// @Router /api/v1/timeline/{user_id} [get]
func (h *Handler) GetTimeline(c *gin.Context) {
	userID := c.Param("user_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	var before time.Time
	if s := c.Query("before"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			response.BadRequest(c, "invalid before timestamp")
			return
		}
		before = t
	}

	posts, err := h.timeline.GetTimeline(c.Request.Context(), userID, before, limit)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	next := ""
	if len(posts) > 0 {
		next = posts[len(posts)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	response.Success(c, gin.H{"list": posts, "next_before": next})
}
