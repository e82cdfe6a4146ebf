package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ldtteam/rewardsync/business/rewards"
	"github.com/ldtteam/rewardsync/pkg/logger"

	"github.com/labstack/echo/v4"
)

type QueryService interface {
	HoldsReward(ctx context.Context, provider, providerKey, rewardName string) (bool, error)
}

type QueryHandler struct {
	queryService QueryService
	timeout      time.Duration
}

func NewQueryHandler(queryService QueryService) *QueryHandler {
	return &QueryHandler{
		queryService: queryService,
		timeout:      10 * time.Second,
	}
}

// HoldsReward answers whether an externally-identified user currently holds
// a reward, e.g. GET /query/:provider/:key/rewards/:name.
func (h *QueryHandler) HoldsReward(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	holds, err := h.queryService.HoldsReward(ctx, c.Param("provider"), c.Param("key"), c.Param("name"))
	if err != nil {
		if errors.Is(err, rewards.ErrIdentityNotLinked) {
			return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
		}
		logger.Error("Failed to query reward holding", err)
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"provider":     c.Param("provider"),
		"provider_key": c.Param("key"),
		"reward_name":  c.Param("name"),
		"holds":        holds,
	})
}
