package handlers

import (
	"errors"

	"github.com/commentpilot/user-service/internal/dto"
	"github.com/commentpilot/user-service/internal/middleware"
	"github.com/commentpilot/user-service/internal/plans"
	"github.com/commentpilot/user-service/internal/services"
	"github.com/gofiber/fiber/v2"
)

type TrialHandler struct {
	authService  *services.AuthService
	trialService *services.TrialService
}

func NewTrialHandler(authService *services.AuthService, trialService *services.TrialService) *TrialHandler {
	return &TrialHandler{authService: authService, trialService: trialService}
}

// Start captures the caller's LinkedIn profile and starts the trial when
// eligible. Denials are 200 responses with a reason, so the extension can call
// this on every popup open.
func (h *TrialHandler) Start(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	var req dto.StartTrialRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid request body",
		})
	}

	user, err := h.authService.CurrentUser(c.UserContext(), userID)
	if err != nil {
		return userLookupError(c, err)
	}

	result, err := h.trialService.StartTrial(c.UserContext(), user, req.LinkedInProfileID)
	if err != nil {
		if errors.Is(err, services.ErrEmptyProfileID) {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
				Error: true, Message: err.Error(),
			})
		}
		return err
	}

	return c.JSON(dto.StartTrialResponse{
		Granted:         result.Granted(),
		AlreadyCaptured: result.AlreadyCaptured(),
		Reason:          string(result.Outcome),
		Plan:            result.Plan,
		TrialStartedAt:  result.TrialStartedAt,
		TrialEndsAt:     result.TrialEndsAt,
		GraceEndsAt:     result.GraceEndsAt,
	})
}

func (h *TrialHandler) Status(c *fiber.Ctx) error {
	userID, err := middleware.UserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
			Error: true, Message: "Unauthorized",
		})
	}

	user, err := h.authService.CurrentUser(c.UserContext(), userID)
	if err != nil {
		return userLookupError(c, err)
	}

	return c.JSON(trialStatusResponse{
		TrialStatus: h.trialService.Status(user),
		Limits:      plans.LimitsFor(user.Plan),
	})
}

type trialStatusResponse struct {
	services.TrialStatus
	Limits plans.Limits `json:"limits"`
}

// Plans lists every tier with its limits, lowest first.
func (h *TrialHandler) Plans(c *fiber.Ctx) error {
	all := plans.All()
	out := make([]dto.PlanResponse, 0, len(all))
	for _, p := range all {
		out = append(out, dto.PlanResponse{Plan: p, Rank: p.Rank(), Limits: plans.LimitsFor(p)})
	}
	return c.JSON(fiber.Map{"plans": out})
}

func userLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "User not found",
		})
	}
	return err
}
