package routes

import (
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clinton-khozah/website-sub002/internal/clock"
	"github.com/clinton-khozah/website-sub002/internal/config"
	"github.com/clinton-khozah/website-sub002/internal/currency"
	"github.com/clinton-khozah/website-sub002/internal/handlers"
	"github.com/clinton-khozah/website-sub002/internal/middleware"
	"github.com/clinton-khozah/website-sub002/internal/repository"
	"github.com/clinton-khozah/website-sub002/internal/services"
	sessionws "github.com/clinton-khozah/website-sub002/internal/websocket"
)

func RegisterRoutes(
	app *fiber.App,
	cfg *config.Config,
	db *pgxpool.Pool,
	cache redis.UniversalClient,
	log zerolog.Logger,
) {
	sessionRepo := repository.NewSessionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	userRepo := repository.NewUserRepository(db)

	clk := clock.System()
	converter := currency.NewExchangeConverter(cfg.ExchangeRateURL, cfg.FetchTimeout, cache, log)
	sessionService := services.NewSessionService(
		sessionRepo,
		paymentRepo,
		userRepo,
		converter,
		clk,
		cfg.FetchTimeout,
		log,
	)

	sessionHandler := handlers.NewSessionHandler(sessionService)
	paymentHandler := handlers.NewPaymentHandler(sessionService, cfg.WebhookSecret)

	watchHub := sessionws.NewHub(sessionService, cfg.WatchInterval, clk, log)
	go watchHub.Run()
	watchHandler := handlers.NewWatchHandler(watchHub, cfg.JWTSecret)

	api := app.Group("/api")

	// Public: anonymous viewers browse open slots as guests.
	api.Get("/slots", middleware.AuthOptional(cfg.JWTSecret), sessionHandler.ListOpenSlots)

	// Payment processor callback, authenticated by shared secret.
	api.Post("/v1/payments/webhook", paymentHandler.Webhook)

	// Registered ahead of the auth-required group: watchers resolve
	// their own identity and may connect as guests.
	api.Use("/v1/sessions/:id/watch", watchHandler.WebSocketAuth)
	api.Get("/v1/sessions/:id/watch", websocket.New(watchHandler.HandleWatch))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	sessions := authProtected.Group("/sessions")
	sessions.Get("", sessionHandler.ListSessions)
	sessions.Get("/:id", sessionHandler.GetSession)
	sessions.Put("/:id/status", sessionHandler.UpdateStatus)
}
