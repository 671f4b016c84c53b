package api

import (
	"github.com/gin-gonic/gin"

	"github.com/b0ase/bsv20-treasury/metrics"
)

// SetupRoutes configures all routes. Writes that move tokens or value
// require an API key.
func SetupRoutes(router *gin.Engine, handler *Handler, authCfg AuthConfig) {
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := Auth(authCfg)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/token", handler.GetToken)
		v1.GET("/treasury", handler.GetTreasury)
		v1.GET("/reconcile", handler.Reconcile)
		v1.GET("/stats", handler.GetStats)
		v1.GET("/cap-table", handler.GetCapTable)

		v1.GET("/holders", handler.ListHolders)
		v1.GET("/holders/:id", handler.GetHolder)
		v1.POST("/holders/:id/stake", auth, handler.Stake)
		v1.POST("/holders/:id/unstake", auth, handler.Unstake)
		v1.GET("/holders/:id/dividends", handler.GetDividends)
		v1.POST("/holders/:id/dividends/claim", auth, handler.ClaimDividends)

		v1.POST("/purchases", handler.CreatePurchase)
		v1.GET("/purchases/:id", handler.GetPurchase)
		v1.POST("/purchases/:id/confirm", auth, handler.ConfirmPurchase)

		v1.POST("/transfers", auth, handler.CreateTransfer)
		v1.POST("/dividends", auth, handler.DistributeDividends)
	}
}
