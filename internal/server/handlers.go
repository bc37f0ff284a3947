package server

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"casino/internal/crash"
)

const LOOKUP_TIMEOUT = 3 * time.Second

type cashoutRequest struct {
	PlayerID string `json:"player_id"`
}

type verifyRequest struct {
	ServerSeed      string  `json:"server_seed"`
	RoundID         string  `json:"round_id"`
	CrashMultiplier float64 `json:"crash_multiplier"`
}

type verifyResponse struct {
	Valid           bool    `json:"valid"`
	CrashMultiplier float64 `json:"crash_multiplier"`
	Commitment      string  `json:"commitment"`
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	game := fiber.Map{
		"status":            "running",
		"connected_clients": s.manager.SubscriberCount(),
	}
	if err := s.manager.LastError(); err != nil {
		game["last_error"] = err.Error()
	}

	health := fiber.Map{
		"database": fiber.Map{"status": "disabled"},
		"cache":    fiber.Map{"status": "disabled"},
		"game":     game,
	}
	if s.db != nil {
		health["database"] = s.db.Health()
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) joinHandler(c *fiber.Ctx) error {
	if !c.Is("json") {
		return badRequest(c, "Content-Type must be application/json")
	}
	var req crash.JoinRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return badRequest(c, "Username is required")
	}

	res, err := s.manager.Join(req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	if !c.Is("json") {
		return badRequest(c, "Content-Type must be application/json")
	}
	var req cashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.PlayerID == "" {
		return badRequest(c, "Player ID is required")
	}

	res, err := s.manager.Cashout(req.PlayerID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(res)
}

func (s *FiberServer) statusHandler(c *fiber.Ctx) error {
	return c.JSON(s.manager.Status())
}

func (s *FiberServer) historyHandler(c *fiber.Ctx) error {
	return c.JSON(s.manager.History())
}

// verifyHandler recomputes a crash point from a revealed seed.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	if !c.Is("json") {
		return badRequest(c, "Content-Type must be application/json")
	}
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if req.ServerSeed == "" || req.RoundID == "" {
		return badRequest(c, "Server seed and round ID are required")
	}

	edge := s.manager.Config().HouseEdge
	return c.JSON(verifyResponse{
		Valid:           crash.VerifyRound(req.ServerSeed, req.RoundID, edge, req.CrashMultiplier),
		CrashMultiplier: crash.CrashPoint(req.ServerSeed, req.RoundID, edge),
		Commitment:      crash.HashCommitment(req.ServerSeed),
	})
}

// roundHandler serves a settled round from the archives, falling back to
// the in-memory history entry.
func (s *FiberServer) roundHandler(c *fiber.Ctx) error {
	roundID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), LOOKUP_TIMEOUT)
	defer cancel()

	for _, f := range s.finders {
		round, err := f.FindRound(ctx, roundID)
		if err == nil {
			return c.JSON(round)
		}
		if !errors.Is(err, crash.ErrRoundNotFound) {
			log.Printf("[SERVER] Round lookup failed for %s: %v", roundID, err)
		}
	}

	if entry, ok := s.manager.FindHistory(roundID); ok {
		return c.JSON(entry)
	}
	return writeError(c, crash.ErrRoundNotFound)
}
