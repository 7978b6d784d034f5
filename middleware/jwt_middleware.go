package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"notekeeper/models"
	"notekeeper/services"
	"notekeeper/utils"
)

// AuthError is returned by the guards and written as {error: Message}
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

func unauthorized(msg string) *AuthError {
	return &AuthError{Status: fiber.StatusUnauthorized, Message: msg}
}

// RequireAuth resolves the request's token to an approved account. The
// token comes from "Authorization: Bearer" or the access_token cookie.
func RequireAuth(c *fiber.Ctx, db *gorm.DB, tokens *utils.TokenIssuer) (*models.User, *utils.Claims, *AuthError) {
	var token string
	authHeader := c.Get("Authorization")
	if authHeader != "" {
		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			return nil, nil, unauthorized("Invalid authorization format")
		}
		token = tokenParts[1]
	} else {
		token = c.Cookies("access_token")
		if token == "" {
			return nil, nil, unauthorized("Authorization required")
		}
	}

	claims, err := tokens.ParseJWTToken(token)
	if err != nil {
		return nil, nil, unauthorized("Invalid or expired token")
	}

	var user models.User
	if err := db.First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, unauthorized("User not found")
		}
		return nil, nil, &AuthError{Status: fiber.StatusInternalServerError, Message: "Failed to load account"}
	}

	if err := services.CheckStatus(&user); err != nil {
		return nil, nil, &AuthError{Status: fiber.StatusForbidden, Message: services.PublicMessage(err)}
	}
	return &user, claims, nil
}

// RequireAdmin allows only admin accounts
func RequireAdmin(user *models.User) *AuthError {
	if user == nil {
		return unauthorized("Authorization required")
	}
	if !user.IsAdmin() {
		return &AuthError{Status: fiber.StatusForbidden, Message: "Admin privileges required"}
	}
	return nil
}

// Protected runs RequireAuth and stores the account for the handlers
func Protected(db *gorm.DB, tokens *utils.TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, claims, authErr := RequireAuth(c, db, tokens)
		if authErr != nil {
			return utils.ErrorResponse(c, authErr.Status, authErr.Message)
		}

		c.Locals("user", user)
		c.Locals("userID", user.ID)
		c.Locals("sessionID", claims.SessionID)
		return c.Next()
	}
}

// AdminOnly must be mounted after Protected
func AdminOnly() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if authErr := RequireAdmin(CurrentUser(c)); authErr != nil {
			return utils.ErrorResponse(c, authErr.Status, authErr.Message)
		}
		return c.Next()
	}
}

// CurrentUser returns the account stored by Protected, or nil
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals("user").(*models.User)
	return user
}

// RequestContext builds the service context for the current account
func RequestContext(c *fiber.Ctx) services.RequestContext {
	user := CurrentUser(c)
	if user == nil {
		return services.RequestContext{}
	}
	return services.ContextFor(user)
}
