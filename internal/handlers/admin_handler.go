package handlers

import (
	"github.com/commentpilot/user-service/internal/dto"
	"github.com/commentpilot/user-service/internal/middleware"
	"github.com/commentpilot/user-service/internal/models"
	"github.com/commentpilot/user-service/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AdminHandler struct {
	db       *gorm.DB
	recorder *services.RoleRecorder
	trials   *services.TrialService
	sweeper  *services.TrialSweeper
}

func NewAdminHandler(db *gorm.DB, recorder *services.RoleRecorder, trials *services.TrialService, sweeper *services.TrialSweeper) *AdminHandler {
	return &AdminHandler{db: db, recorder: recorder, trials: trials, sweeper: sweeper}
}

func (h *AdminHandler) RoleHistory(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid user id",
		})
	}

	entries, err := h.recorder.History(c.UserContext(), userID, c.QueryInt("limit", 0))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"user_id": userID, "history": entries})
}

// TrialStatus is a read-only view: unlike the user endpoint it does not
// reconcile.
func (h *AdminHandler) TrialStatus(c *fiber.Ctx) error {
	userID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Error: true, Message: "Invalid user id",
		})
	}

	var user models.User
	if err := h.db.WithContext(c.UserContext()).Unscoped().First(&user, "id = ?", userID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Error: true, Message: "User not found",
		})
	}
	return c.JSON(h.trials.Status(&user))
}

// RunSweep runs the expiration sweep synchronously.
func (h *AdminHandler) RunSweep(c *fiber.Ctx) error {
	stats := h.sweeper.Sweep(c.UserContext())
	return c.JSON(fiber.Map{"triggered_by": middleware.AdminActor(c), "stats": stats})
}
