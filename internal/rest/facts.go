package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ldtteam/rewardsync/domain"
	"github.com/ldtteam/rewardsync/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type FactsService interface {
	UpsertFacts(ctx context.Context, userID uint, rewardType string, facts map[string]any) error
	LinkIdentity(ctx context.Context, identity *domain.LinkedIdentity) error
}

type FactsHandler struct {
	factsService FactsService
	validator    *validator.Validate
	timeout      time.Duration
}

func NewFactsHandler(factsService FactsService) *FactsHandler {
	return &FactsHandler{
		factsService: factsService,
		validator:    validator.New(),
		timeout:      10 * time.Second,
	}
}

type FactsUpsertRequest struct {
	UserID uint           `json:"user_id" validate:"required"`
	Facts  map[string]any `json:"facts" validate:"required"`
}

type IdentityLinkRequest struct {
	UserID      uint   `json:"user_id" validate:"required"`
	Provider    string `json:"provider" validate:"required"`
	ProviderKey string `json:"provider_key" validate:"required"`
}

// UpsertFacts is the ingest edge: a collaborator pushes a user's fact bag
// for one provider namespace, which enqueues the recompute trigger.
func (h *FactsHandler) UpsertFacts(c echo.Context) error {
	var req FactsUpsertRequest

	if err := c.Bind(&req); err != nil {
		logger.Error("Invalid request body", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	if err := h.validator.Struct(&req); err != nil {
		logger.Error("Failed to validate facts upsert", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	if err := h.factsService.UpsertFacts(ctx, req.UserID, c.Param("provider"), req.Facts); err != nil {
		logger.Error("Failed to upsert facts", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Facts stored, recompute enqueued",
	})
}

func (h *FactsHandler) LinkIdentity(c echo.Context) error {
	var req IdentityLinkRequest

	if err := c.Bind(&req); err != nil {
		logger.Error("Invalid request body", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	if err := h.validator.Struct(&req); err != nil {
		logger.Error("Failed to validate identity link", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	identity := domain.LinkedIdentity{
		UserID:      req.UserID,
		Provider:    req.Provider,
		ProviderKey: req.ProviderKey,
	}
	if err := h.factsService.LinkIdentity(ctx, &identity); err != nil {
		logger.Error("Failed to link identity", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusCreated, identity)
}

func parseUserID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}

	return uint(id), nil
}
