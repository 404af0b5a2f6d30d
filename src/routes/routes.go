package routes

import (
	"github.com/gofiber/fiber/v2"

	"stock-exchange/src/config"
	"stock-exchange/src/handlers"
	"stock-exchange/src/middleware"
)

func SetupRoutes(app *fiber.App, orderHandler *handlers.OrderHandler, cfg *config.Config) *middleware.ServiceAvailability {
	serviceAvailability := middleware.NewServiceAvailability(cfg.MaxConcurrentRequests, cfg.MaintenanceMode)
	app.Use(serviceAvailability.Middleware())
	app.Use(middleware.RequestLogger(cfg.RequestLoggingDisabled))

	api := app.Group("/api/v1")

	if !cfg.RateLimitDisabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
		api.Use(rateLimiter.Middleware())
	}

	api.Post("/orders", orderHandler.SubmitOrder)
	api.Delete("/orders/:id", orderHandler.CancelOrder)
	api.Get("/orders/:id", orderHandler.GetOrderStatus)
	api.Get("/users/:userId/orders", orderHandler.GetUserOrders)

	api.Get("/symbols", orderHandler.ListSymbols)
	api.Get("/symbols/:symbol/orders", orderHandler.GetOpenOrders)
	api.Get("/symbols/:symbol/trades", orderHandler.GetTrades)
	api.Get("/symbols/:symbol/bbo", orderHandler.GetBestPrices)
	api.Post("/symbols/:symbol/match", orderHandler.MatchSymbol)
	api.Get("/orderbook/:symbol", orderHandler.GetOrderBook)

	app.Get("/health", orderHandler.HealthCheck)
	app.Get("/metrics", orderHandler.Metrics)

	return serviceAvailability
}
