package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ldtteam/rewardsync/business/rules"
	"github.com/ldtteam/rewardsync/domain"
	"github.com/ldtteam/rewardsync/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type RewardService interface {
	CreateReward(ctx context.Context, reward *domain.Reward) (domain.Reward, error)
	UpdateRule(ctx context.Context, rewardType, name, rule string) error
	GetReward(ctx context.Context, rewardType, name string) (domain.Reward, error)
	ListRewards(ctx context.Context) ([]domain.Reward, error)
	Resync(ctx context.Context, userID uint) error
}

type RewardHandler struct {
	rewardService RewardService
	validator     *validator.Validate
	timeout       time.Duration
}

func NewRewardHandler(rewardService RewardService) *RewardHandler {
	return &RewardHandler{
		rewardService: rewardService,
		validator:     validator.New(),
		timeout:       10 * time.Second,
	}
}

type RewardCreateRequest struct {
	Type string `json:"type" validate:"required"`
	Name string `json:"name" validate:"required"`
	Rule string `json:"rule" validate:"required"`
}

type RewardUpdateRequest struct {
	Rule string `json:"rule" validate:"required"`
}

// ResponseError represent the response error struct
type ResponseError struct {
	Message string `json:"message"`
}

func (h *RewardHandler) CreateReward(c echo.Context) error {
	var req RewardCreateRequest

	if err := c.Bind(&req); err != nil {
		logger.Error("Invalid request body", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	if err := h.validator.Struct(&req); err != nil {
		logger.Error("Failed to validate reward create", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	reward, err := h.rewardService.CreateReward(ctx, &domain.Reward{
		Type: req.Type,
		Name: req.Name,
		Rule: req.Rule,
	})
	if err != nil {
		var invalid *rules.InvalidRuleError
		if errors.As(err, &invalid) {
			return c.JSON(http.StatusUnprocessableEntity, ResponseError{Message: invalid.Error()})
		}
		logger.Error("Failed to create reward", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message": "Reward created",
		"reward":  reward,
	})
}

func (h *RewardHandler) UpdateRule(c echo.Context) error {
	var req RewardUpdateRequest

	if err := c.Bind(&req); err != nil {
		logger.Error("Invalid request body", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	if err := h.validator.Struct(&req); err != nil {
		logger.Error("Failed to validate rule update", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	err := h.rewardService.UpdateRule(ctx, c.Param("type"), c.Param("name"), req.Rule)
	if err != nil {
		var invalid *rules.InvalidRuleError
		if errors.As(err, &invalid) {
			return c.JSON(http.StatusUnprocessableEntity, ResponseError{Message: invalid.Error()})
		}
		logger.Error("Failed to update rule", err)
		return c.JSON(http.StatusBadRequest, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Rule updated",
	})
}

func (h *RewardHandler) GetReward(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	reward, err := h.rewardService.GetReward(ctx, c.Param("type"), c.Param("name"))
	if err != nil {
		return c.JSON(http.StatusNotFound, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusOK, reward)
}

func (h *RewardHandler) ListRewards(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	rewardList, err := h.rewardService.ListRewards(ctx)
	if err != nil {
		logger.Error("Failed to list rewards", err)
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusOK, rewardList)
}

func (h *RewardHandler) Resync(c echo.Context) error {
	userID, err := parseUserID(c.Param("userId"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, ResponseError{Message: "invalid user id"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	if err := h.rewardService.Resync(ctx, userID); err != nil {
		logger.Error("Failed to enqueue resync", err)
		return c.JSON(http.StatusInternalServerError, ResponseError{Message: err.Error()})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Resync enqueued",
	})
}
