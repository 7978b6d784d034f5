package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"notekeeper/middleware"
	"notekeeper/services"
	"notekeeper/utils"
)

type GroupRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

type GroupController struct {
	Groups *services.GroupService
	Logger *logrus.Logger
}

func NewGroupController(groups *services.GroupService, logger *logrus.Logger) *GroupController {
	return &GroupController{Groups: groups, Logger: logger}
}

func (gc *GroupController) ListGroups(c *fiber.Ctx) error {
	groups, err := gc.Groups.List(middleware.RequestContext(c))
	if err != nil {
		return respondError(c, gc.Logger, "list_groups", err)
	}
	return c.JSON(groups)
}

func (gc *GroupController) CreateGroup(c *fiber.Ctx) error {
	var req GroupRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	group, err := gc.Groups.Create(middleware.RequestContext(c), req.Name)
	if err != nil {
		return respondError(c, gc.Logger, "create_group", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         group.ID,
		"name":       group.Name,
		"team_id":    group.TeamID,
		"created_at": group.CreatedAt,
		"message":    "Group created successfully",
	})
}

func (gc *GroupController) UpdateGroup(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group ID")
	}

	var req GroupRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	group, err := gc.Groups.Update(middleware.RequestContext(c), id, req.Name)
	if err != nil {
		return respondError(c, gc.Logger, "update_group", err)
	}
	return c.JSON(fiber.Map{
		"id":      group.ID,
		"name":    group.Name,
		"message": "Group updated successfully",
	})
}

// DeleteGroup removes the group with all of its notes and images
func (gc *GroupController) DeleteGroup(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid group ID")
	}

	if err := gc.Groups.Delete(middleware.RequestContext(c), id); err != nil {
		return respondError(c, gc.Logger, "delete_group", err)
	}
	return c.JSON(fiber.Map{
		"message": "Group deleted successfully",
	})
}
