package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"notekeeper/middleware"
	"notekeeper/services"
	"notekeeper/utils"
)

type AssignTeamRequest struct {
	TeamID *uint `json:"team_id"`
}

type TeamRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// AdminController serves the account review and team management screens.
// Every route is mounted behind middleware.AdminOnly.
type AdminController struct {
	Admin  *services.AdminService
	Logger *logrus.Logger
}

func NewAdminController(admin *services.AdminService, logger *logrus.Logger) *AdminController {
	return &AdminController{Admin: admin, Logger: logger}
}

func (ac *AdminController) ListUsers(c *fiber.Ctx) error {
	users, err := ac.Admin.ListUsers()
	if err != nil {
		return respondError(c, ac.Logger, "admin_list_users", err)
	}
	return c.JSON(users)
}

func (ac *AdminController) ListPendingUsers(c *fiber.Ctx) error {
	users, err := ac.Admin.ListPending()
	if err != nil {
		return respondError(c, ac.Logger, "admin_list_pending", err)
	}
	return c.JSON(users)
}

func (ac *AdminController) ApproveUser(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid user ID")
	}
	if err := ac.Admin.Approve(id); err != nil {
		return respondError(c, ac.Logger, "admin_approve_user", err)
	}

	utils.LogEvent("user_approved", map[string]interface{}{
		"user_id":  id,
		"admin_id": c.Locals("userID"),
	})
	return c.JSON(fiber.Map{
		"message": "User approved",
	})
}

func (ac *AdminController) RejectUser(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid user ID")
	}
	if err := ac.Admin.Reject(id); err != nil {
		return respondError(c, ac.Logger, "admin_reject_user", err)
	}

	utils.LogEvent("user_rejected", map[string]interface{}{
		"user_id":  id,
		"admin_id": c.Locals("userID"),
	})
	return c.JSON(fiber.Map{
		"message": "User rejected",
	})
}

// AssignUserTeam moves a user and the content they authored to a team, or
// back to personal scope when team_id is null
func (ac *AdminController) AssignUserTeam(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid user ID")
	}

	var req AssignTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if req.TeamID != nil && *req.TeamID == 0 {
		req.TeamID = nil
	}

	if err := ac.Admin.AssignTeam(id, req.TeamID); err != nil {
		return respondError(c, ac.Logger, "admin_assign_team", err)
	}
	return c.JSON(fiber.Map{
		"message": "Team updated",
	})
}

func (ac *AdminController) DeleteUser(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid user ID")
	}
	if err := ac.Admin.DeleteUser(middleware.RequestContext(c), id); err != nil {
		return respondError(c, ac.Logger, "admin_delete_user", err)
	}

	utils.LogEvent("user_deleted", map[string]interface{}{
		"user_id":  id,
		"admin_id": c.Locals("userID"),
	})
	return c.JSON(fiber.Map{
		"message": "User deleted",
	})
}

func (ac *AdminController) ListTeams(c *fiber.Ctx) error {
	teams, err := ac.Admin.ListTeams()
	if err != nil {
		return respondError(c, ac.Logger, "admin_list_teams", err)
	}
	return c.JSON(teams)
}

func (ac *AdminController) CreateTeam(c *fiber.Ctx) error {
	var req TeamRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	team, err := ac.Admin.CreateTeam(req.Name)
	if err != nil {
		return respondError(c, ac.Logger, "admin_create_team", err)
	}
	return c.Status(fiber.StatusCreated).JSON(team)
}

func (ac *AdminController) UpdateTeam(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid team ID")
	}

	var req TeamRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	team, err := ac.Admin.UpdateTeam(id, req.Name)
	if err != nil {
		return respondError(c, ac.Logger, "admin_update_team", err)
	}
	return c.JSON(team)
}

// DeleteTeam detaches members and team content before removing the team
func (ac *AdminController) DeleteTeam(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid team ID")
	}
	if err := ac.Admin.DeleteTeam(id); err != nil {
		return respondError(c, ac.Logger, "admin_delete_team", err)
	}
	return c.JSON(fiber.Map{
		"message": "Team deleted",
	})
}
