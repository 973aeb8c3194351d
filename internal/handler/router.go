package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, internalToken string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 竞拍服务、支付服务调用
	internal := r.Group("/internal/v1", InternalTokenMiddleware(internalToken))
	{
		internal.POST("/holds", h.PlaceHold)
		internal.POST("/holds/:bid_id/resolve", h.ResolveHold)
		internal.POST("/purchases", h.Purchase)
	}

	api := r.Group("/api/v1", IdentityMiddleware())
	{
		account := api.Group("/account")
		{
			account.GET("/balance", h.GetBalance)
			account.GET("/transactions", h.ListTransactions)
		}

		// 角色校验在 AdminService 内完成
		admin := api.Group("/admin")
		{
			admin.GET("/stats", h.GetStats)
			admin.GET("/users/:user_id", h.GetUserDetail)
			admin.GET("/users/:user_id/audit", h.AuditUser)
			admin.POST("/users/:user_id/adjust", h.AdjustUser)
			admin.GET("/holds/open", h.ListOpenHolds)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
