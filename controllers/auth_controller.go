package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"notekeeper/middleware"
	"notekeeper/models"
	"notekeeper/services"
	"notekeeper/utils"
)

type RegisterRequest struct {
	Username        string `json:"username" validate:"required,max=64"`
	Password        string `json:"password" validate:"required,min=4"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=4"`
}

type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	SessionID   string       `json:"session_id,omitempty"`
	User        *models.User `json:"user"`
}

type AuthController struct {
	Users         *services.UserService
	Tokens        *utils.TokenIssuer
	Logger        *logrus.Logger
	SecureCookies bool
}

func NewAuthController(users *services.UserService, tokens *utils.TokenIssuer, logger *logrus.Logger, secureCookies bool) *AuthController {
	return &AuthController{
		Users:         users,
		Tokens:        tokens,
		Logger:        logger,
		SecureCookies: secureCookies,
	}
}

// Register creates an account that waits for admin approval
func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	user, err := ac.Users.Register(req.Username, req.Password)
	if err != nil {
		return respondError(c, ac.Logger, "register", err)
	}

	utils.LogEvent("user_registered", map[string]interface{}{
		"user_id": user.ID,
		"ip":      c.IP(),
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful, please wait for admin approval",
		"user":    user,
	})
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	user, err := ac.Users.Authenticate(req.Username, req.Password)
	if err != nil {
		ac.Logger.WithFields(logrus.Fields{
			"username": req.Username,
			"ip":       c.IP(),
		}).Warn("Failed login attempt")
		return respondError(c, ac.Logger, "login", err)
	}

	token, claims, err := ac.Tokens.GenerateJWTToken(user)
	if err != nil {
		utils.LogError("token_generation", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate token")
	}
	expiresAt := claims.ExpiresAt.Time

	accessCookie := new(fiber.Cookie)
	accessCookie.Name = "access_token"
	accessCookie.Value = token
	accessCookie.Expires = expiresAt
	accessCookie.HTTPOnly = true
	accessCookie.Secure = ac.SecureCookies
	accessCookie.SameSite = "Lax"
	c.Cookie(accessCookie)

	utils.LogEvent("user_login", map[string]interface{}{
		"user_id":    user.ID,
		"session_id": claims.SessionID,
		"ip":         c.IP(),
	})
	return c.JSON(AuthResponse{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		SessionID:   claims.SessionID,
		User:        user,
	})
}

func (ac *AuthController) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    "",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   ac.SecureCookies,
		SameSite: "Lax",
	})
	return c.JSON(fiber.Map{
		"message": "Logged out",
	})
}

func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	var req ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, err.Error())
	}

	if err := ac.Users.ChangePassword(middleware.RequestContext(c), req.OldPassword, req.NewPassword); err != nil {
		return respondError(c, ac.Logger, "change_password", err)
	}
	return c.JSON(fiber.Map{
		"message": "Password changed successfully",
	})
}
