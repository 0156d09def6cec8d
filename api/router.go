package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter 注册全部路由
func NewRouter(h *Handler, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Logger(log))

	r.GET("/healthz", h.Health)

	g := r.Group("/api")
	{
		g.GET("/models", h.Models)
		g.GET("/capabilities", h.Capabilities)
		g.GET("/stats", h.Stats)
		g.POST("/image", h.SetImage)
		g.POST("/segment", h.Segment)
		g.POST("/overlay", h.Overlay)
	}
	return r
}
