package router

import (
	"github.com/ldtteam/rewardsync/internal/middleware"
	"github.com/ldtteam/rewardsync/internal/rest"

	"github.com/labstack/echo/v4"
)

func SetupRewardRoutes(api *echo.Group, handler *rest.RewardHandler, authRequired echo.MiddlewareFunc, adminOnly echo.MiddlewareFunc) {
	rewards := api.Group("/rewards")

	rewards.GET("", handler.ListRewards)
	rewards.GET("/:type/:name", handler.GetReward)

	rewards.POST("", handler.CreateReward, authRequired, adminOnly)
	rewards.PUT("/:type/:name", handler.UpdateRule, authRequired, adminOnly)
	rewards.POST("/resync/:userId", handler.Resync, authRequired, adminOnly)
}

func SetupFactsRoutes(api *echo.Group, handler *rest.FactsHandler) {
	facts := api.Group("/facts", middleware.AuthMiddleware())
	facts.PUT("/:provider", handler.UpsertFacts)

	identities := api.Group("/identities", middleware.AuthMiddleware())
	identities.POST("", handler.LinkIdentity)
}

func SetupQueryRoutes(api *echo.Group, handler *rest.QueryHandler) {
	query := api.Group("/query")
	query.GET("/:provider/:key/rewards/:name", handler.HoldsReward)
}
