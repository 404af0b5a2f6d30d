package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"stock-exchange/src/config"
	"stock-exchange/src/engine"
	"stock-exchange/src/handlers"
	"stock-exchange/src/logger"
	"stock-exchange/src/models"
	"stock-exchange/src/publisher"
	"stock-exchange/src/routes"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.InitLogger(logger.Options{})
		log := logger.GetLogger()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	logger.InitLogger(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	log := logger.GetLogger()

	log.Info().
		Strs("symbols", cfg.Symbols).
		Str("self_trade_policy", cfg.SelfTradePolicy).
		Msg("Initializing Order Matching Engine")

	feed := engine.NewTradeFeed(cfg.TradeFeedBuffer, logger.Component("trade_feed"))
	feed.Subscribe("trade_log", engine.TradeHandlerFunc(func(_ context.Context, t engine.Trade) error {
		log.Debug().
			Str("trade_id", t.ID.String()).
			Str("symbol", t.Symbol).
			Str("price", t.Price.String()).
			Int64("quantity", t.Quantity).
			Str("aggressor", t.AggressorSide.String()).
			Msg("Trade executed")
		return nil
	}))

	sinks, err := publisher.New(cfg, logger.Component("publisher"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize trade publishers")
	}
	sinks.Register(feed)

	// validated by config.Load
	policy, _ := engine.ParseSelfTradePolicy(cfg.SelfTradePolicy)
	matcher := engine.NewEngine(
		engine.WithSymbols(cfg.Symbols...),
		engine.WithSelfTradePolicy(policy),
		engine.WithTradeFeed(feed),
		engine.WithLogger(logger.Component("engine")),
		engine.WithInvariantChecks(cfg.InvariantChecks),
	)
	feed.Start(context.Background())

	orderHandler := handlers.NewOrderHandler(matcher, handlers.Options{
		DefaultDepth: cfg.OrderBookDefaultDepth,
		MaxDepth:     cfg.OrderBookMaxDepth,
		MaxLatencies: cfg.MetricsMaxLatencies,
	})

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}

			log.Error().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Str("error", err.Error()).
				Msg("Request error")

			return c.Status(code).JSON(models.ErrorResponse{
				Error: err.Error(),
			})
		},
	})

	app.Use(recover.New())
	routes.SetupRoutes(app, orderHandler, cfg)

	port := ":" + cfg.Port

	serverError := make(chan error, 1)

	go func() {
		if err := app.Listen(port); err != nil {
			serverError <- err
		}
	}()

	log.Info().
		Str("port", port).
		Strs("sinks", sinks.Names()).
		Msg("Order Matching Engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case err := <-serverError:
		log.Error().
			Err(err).
			Str("port", port).
			Str("hint", "Port may be already in use. Try: PORT=3000 go run main.go").
			Msg("Server failed to start")
	case <-quit:
		log.Info().Msg("Received shutdown signal, shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		// edge case: timeout during shutdown is acceptable
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn().
				Dur("timeout", cfg.ShutdownTimeout).
				Msg("Timeout exceeded, shutting down...")
		} else {
			log.Error().
				Err(err).
				Msg("Error during shutdown")
		}
	}

	// the HTTP server is drained, so no more trades can be published
	if err := feed.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Trade feed did not drain before timeout")
	}
	if err := sinks.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing trade publishers")
	}

	s := matcher.Stats()
	log.Info().
		Int64("orders_received", s.OrdersReceived).
		Int64("trades_executed", s.TradesExecuted).
		Msg("Shutdown complete")

	logger.CloseLogger()
}
