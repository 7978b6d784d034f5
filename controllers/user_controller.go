package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"notekeeper/middleware"
	"notekeeper/services"
)

type UserController struct {
	Users  *services.UserService
	Logger *logrus.Logger
}

func NewUserController(users *services.UserService, logger *logrus.Logger) *UserController {
	return &UserController{Users: users, Logger: logger}
}

func (uc *UserController) GetUserInfo(c *fiber.Ctx) error {
	info, err := uc.Users.Info(middleware.RequestContext(c))
	if err != nil {
		return respondError(c, uc.Logger, "user_info", err)
	}
	return c.JSON(info)
}
