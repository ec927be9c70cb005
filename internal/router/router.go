package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/reelshelf/internal/handler"
	"github.com/user/reelshelf/internal/logger"
	"github.com/user/reelshelf/internal/middleware"
)

// NewEngine 创建带公共中间件的 gin 实例
func NewEngine(env string, log *logger.Logger) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))

	// 启用 gzip，默认压缩级别
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	return r
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		// 条目与评分
		api.POST("/items", h.CreateItem)
		api.PATCH("/items/:id/metadata", h.FillItemMetadata)
		api.POST("/items/:id/ratings", h.AddRating)

		// 永不推荐
		api.GET("/exclusions", h.ListExclusions)
		api.POST("/exclusions", h.AddExclusion)
		api.DELETE("/exclusions/:id", h.DeleteExclusion)

		// 打标
		api.POST("/items/:id/tags", h.TagItem)
		api.POST("/tags/backfill", h.BackfillTags)

		// 口味画像
		api.GET("/taste-profile", h.TasteProfile)

		// 推荐网格
		api.GET("/recommendations", h.GetGrid)
		api.POST("/recommendations", h.GenerateGrid)
		api.POST("/recommendations/:batch/slots/:slot/refresh", h.RefreshSlot)

		// 维度向量
		api.POST("/items/:id/dimensions", h.ScoreItem)
		api.POST("/dimensions/backfill", h.BackfillDimensions)
		api.GET("/items/:id/similar", h.SimilarItems)
	}
}
