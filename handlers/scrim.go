package handlers

import (
	"scrim-coordination-system/middleware"
	"scrim-coordination-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupScrimRoutes(app *fiber.App, scrimService *services.ScrimService) {
	// 🔓 Public routes
	app.Get("/scrims", scrimService.GetAllScrims)
	app.Get("/scrims/:id", scrimService.GetScrimByID)
	app.Get("/scrims/:id/channels", scrimService.GetScrimChannels)

	// 🔐 Authenticated routes
	secured := app.Group("/", middleware.UserContextMiddleware())

	secured.Post("/scrims", scrimService.CreateScrim)
	secured.Post("/scrims/:id/join", scrimService.JoinScrim)
	secured.Delete("/scrims/:id/teams/:team_id", scrimService.LeaveScrim)

	// Lifecycle management (creator only, enforced in the service)
	secured.Post("/scrims/:id/start", scrimService.StartMatch)
	secured.Post("/scrims/:id/results", scrimService.RecordResults)
	secured.Post("/scrims/:id/cancel", scrimService.CancelScrim)

	// 🔒 Admin-only routes
	admin := secured.Group("/admin", middleware.RequireAdmin())
	admin.Get("/orchestration/stats", scrimService.OrchestrationStats)
}
