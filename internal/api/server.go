// Package api assembles the HTTP front end.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/zettel-agent/backend/internal/api/handlers"
	"github.com/zettel-agent/backend/internal/metrics"
	"github.com/zettel-agent/backend/internal/middleware/ratelimit"
	"github.com/zettel-agent/backend/internal/middleware/security"
	"github.com/zettel-agent/backend/internal/middleware/validation"
	"github.com/zettel-agent/backend/internal/responder"
	"github.com/zettel-agent/backend/pkg/config"
)

// Services are the components the routes are served from. History and
// Ready may be nil.
type Services struct {
	Notes     handlers.NoteService
	Processor handlers.SourceProcessor
	Resolver  handlers.QueryResolver
	History   handlers.HistoryReader
	Sessions  *responder.Sessions
	Novelty   config.NoveltyConfig
	Ready     func(ctx context.Context) error
}

// Server is the fiber app plus the background resources it owns.
type Server struct {
	App     *fiber.App
	limiter *ratelimit.RateLimiter
}

func NewServer(cfg config.ServerConfig, svc Services) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(cfg.WriteTimeout) * time.Second,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if cfg.Development {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{IsDevelopment: cfg.Development}))

	server := &Server{App: app}

	app.Get("/metrics", metrics.MetricsHandler())
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	app.Get("/ready", func(c *fiber.Ctx) error {
		if svc.Ready != nil {
			if err := svc.Ready(c.UserContext()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "unavailable",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	api := app.Group("/api/v1")
	if cfg.RequestsPerMinute > 0 {
		server.limiter = ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: cfg.RequestsPerMinute})
		api.Use(server.limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{
		MaxQueryLength:  cfg.MaxQueryLength,
		MaxDocumentSize: cfg.BodyLimit,
	}))

	notes := handlers.NewNotesHandler(svc.Notes, svc.Processor, svc.Novelty)
	api.Post("/notes", notes.Ingest)
	api.Get("/notes", notes.Search)
	api.Get("/notes/:id", notes.Get)
	api.Get("/notes/:id/related", notes.Related)
	api.Get("/notes/:id/similar", notes.Similar)
	api.Get("/notes/:id/novelty", notes.Novelty)

	queries := handlers.NewQueryHandler(svc.Resolver, svc.History)
	api.Post("/query", queries.HandleQuery)
	api.Get("/query/history", queries.GetQueryHistory)

	chat := handlers.NewChatHandler(svc.Sessions)
	api.Post("/chat", chat.Chat)
	api.Delete("/chat/:session", chat.ClearSession)

	ws := handlers.NewWebSocketHandler(svc.Sessions)
	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/chat", websocket.New(ws.HandleConnection))

	return server
}

func (s *Server) Listen(addr string) error {
	return s.App.Listen(addr)
}

func (s *Server) Shutdown() error {
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.App.Shutdown()
}
