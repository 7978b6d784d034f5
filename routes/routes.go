package routes

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	controller "notekeeper/controllers"
	"notekeeper/metrics"
	"notekeeper/middleware"
	"notekeeper/services"
	"notekeeper/utils"
)

const accessLogFormat = "[${time}] ${status} - ${latency} ${method} ${path}\n"

// Dependencies carries everything the handlers are built from
type Dependencies struct {
	DB        *gorm.DB
	Tokens    *utils.TokenIssuer
	Logger    *logrus.Logger
	Files     *services.FileStore
	Assembler *services.Assembler

	UploadRateLimit int
	LimiterStorage  fiber.Storage
	SecureCookies   bool
	AccessLog       bool
}

func (d Dependencies) group(router fiber.Router, prefix string, handlers ...fiber.Handler) fiber.Router {
	if d.AccessLog {
		handlers = append([]fiber.Handler{logger.New(logger.Config{Format: accessLogFormat})}, handlers...)
	}
	return router.Group(prefix, handlers...)
}

func SetupAuthRoutes(app *fiber.App, deps Dependencies, users *services.UserService) {
	authController := controller.NewAuthController(users, deps.Tokens, deps.Logger, deps.SecureCookies)

	// Public auth endpoints
	auth := deps.group(app, "/api/auth")
	auth.Post("/register", authController.Register)
	auth.Post("/login", authController.Login)
	auth.Post("/logout", authController.Logout)

	protected := deps.group(app, "/api/change-password", middleware.Protected(deps.DB, deps.Tokens))
	protected.Post("/", authController.ChangePassword)

	deps.Logger.Debug("Authentication routes initialized")
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies, users *services.UserService) {
	groupController := controller.NewGroupController(services.NewGroupService(deps.DB, deps.Files, deps.Logger), deps.Logger)
	noteController := controller.NewNoteController(services.NewNoteService(deps.DB, deps.Files, deps.Logger), deps.Logger)
	uploadController := controller.NewUploadController(deps.Assembler, deps.Logger)
	userController := controller.NewUserController(users, deps.Logger)
	adminController := controller.NewAdminController(services.NewAdminService(deps.DB, deps.Files, deps.Logger), deps.Logger)

	api := deps.group(app, "/api", middleware.Protected(deps.DB, deps.Tokens))

	// Chunked uploads
	upload := api.Group("/upload", middleware.UploadRateLimiter(deps.UploadRateLimit, deps.LimiterStorage))
	upload.Post("/chunk", uploadController.UploadChunk)
	upload.Post("/merge", uploadController.MergeChunks)

	// Group routes
	groups := api.Group("/groups")
	groups.Get("/", groupController.ListGroups)
	groups.Post("/", groupController.CreateGroup)
	groups.Put("/:id", groupController.UpdateGroup)
	groups.Delete("/:id", groupController.DeleteGroup)

	// Note routes
	notes := api.Group("/notes")
	notes.Get("/", noteController.ListNotes)
	notes.Post("/", noteController.CreateNote)
	notes.Put("/:id", noteController.UpdateNote)
	notes.Delete("/:id", noteController.DeleteNote)
	notes.Delete("/:id/images/:image_id", noteController.DeleteNoteImage)

	api.Get("/user/info", userController.GetUserInfo)

	// Admin routes
	admin := api.Group("/admin", middleware.AdminOnly())
	admin.Get("/users", adminController.ListUsers)
	admin.Get("/users/pending", adminController.ListPendingUsers)
	admin.Post("/users/:id/approve", adminController.ApproveUser)
	admin.Post("/users/:id/reject", adminController.RejectUser)
	admin.Put("/users/:id/team", adminController.AssignUserTeam)
	admin.Delete("/users/:id", adminController.DeleteUser)
	admin.Get("/teams", adminController.ListTeams)
	admin.Post("/teams", adminController.CreateTeam)
	admin.Put("/teams/:id", adminController.UpdateTeam)
	admin.Delete("/teams/:id", adminController.DeleteTeam)

	deps.Logger.Debug("API routes initialized")
}

// SetupStaticRoutes serves stored uploads to signed-in users who can see
// them. Chunk sessions under temp/ are never served.
func SetupStaticRoutes(app *fiber.App, deps Dependencies) {
	noteController := controller.NewNoteController(services.NewNoteService(deps.DB, deps.Files, deps.Logger), deps.Logger)

	uploads := deps.group(app, "/static/uploads", middleware.Protected(deps.DB, deps.Tokens))
	uploads.Get("/*", noteController.ServeImage)
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	users := services.NewUserService(deps.DB, deps.Logger)

	app.Use(metrics.Middleware())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", metrics.Handler())

	SetupAuthRoutes(app, deps, users)
	SetupAPIRoutes(app, deps, users)
	SetupStaticRoutes(app, deps)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "The requested resource was not found")
	})
}

// ErrorHandler renders errors that escape the handlers, such as an
// oversized body, in the {error} envelope
func ErrorHandler(log *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}
		if code >= fiber.StatusInternalServerError {
			utils.LogError("unhandled_error", err, map[string]interface{}{
				"path":   c.Path(),
				"method": c.Method(),
			})
		} else {
			log.WithFields(logrus.Fields{"path": c.Path(), "status": code}).Debug(message)
		}
		return utils.ErrorResponse(c, code, message)
	}
}
