package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"casino/internal/cache"
	"casino/internal/config"
	"casino/internal/crash"
	"casino/internal/database"
)

// RoundFinder looks up a settled round outside the in-memory history.
type RoundFinder interface {
	FindRound(ctx context.Context, roundID string) (crash.SettledRound, error)
}

type FiberServer struct {
	*fiber.App

	cfg     *config.Config
	manager *crash.Manager
	db      database.Service
	cache   cache.Service
	finders []RoundFinder
}

// New builds the HTTP app around a running manager. db and cache may be nil
// when the service runs without them.
func New(cfg *config.Config, manager *crash.Manager, db database.Service, redis cache.Service, finders ...RoundFinder) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader: "casino",
			AppName:      "casino",
			ReadTimeout:  10 * time.Second,
			// Event streams stay open for the whole session.
			WriteTimeout:  0,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		cfg:     cfg,
		manager: manager,
		db:      db,
		cache:   redis,
		finders: finders,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			// Long-lived streams are not counted against the request budget.
			return c.Path() == "/api/v1/crash/stream" || c.Path() == "/ws"
		},
	}))

	return server
}

// Shutdown stops the HTTP listener, then the round manager, then closes
// the storage connections.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	log.Println("[SERVER] Shutting down...")

	err := s.App.ShutdownWithContext(ctx)

	if s.manager != nil {
		s.manager.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return err
}
