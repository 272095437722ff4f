package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/timeline-engine/internal/api/handler"
)

// NewRouter 注册全部路由
func NewRouter(mode string, h *handler.Handler) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("timeline-engine"))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })

	v1 := r.Group("/api/v1")
	{
		v1.POST("/users", h.CreateUser)
		v1.POST("/posts", h.CreatePost)
		v1.DELETE("/posts/:id", h.DeletePost)
		v1.GET("/timeline/:user_id", h.GetTimeline)

		rel := v1.Group("/relations")
		{
			rel.POST("/follow", h.Follow)
			rel.POST("/unfollow", h.Unfollow)
			rel.GET("/:user_id/following", h.ListFollowing)
			rel.GET("/:user_id/fans", h.ListFans)
			rel.GET("/:user_id/fans/detail", h.ListFansDetailed)
		}
	}
	return r
}
