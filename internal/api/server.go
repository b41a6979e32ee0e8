// Package api exposes the match service over HTTP.
package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"jobscout/match-service/internal/coordinator"
	"jobscout/match-service/internal/match"
	"jobscout/match-service/internal/model"
	"jobscout/match-service/internal/ranking"
	"jobscout/match-service/internal/store"
)

const version = "0.1.0"

// Server registers the HTTP surface: one match endpoint, a cache analytics
// endpoint and a health probe.
type Server struct {
	app     *fiber.App
	matcher *match.Matcher
	store   store.Store
	logger  *zap.Logger
}

// New constructs the server and registers all routes.
func New(matcher *match.Matcher, st store.Store, logger *zap.Logger) *Server {
	s := &Server{
		app:     fiber.New(fiber.Config{DisableStartupMessage: true}),
		matcher: matcher,
		store:   st,
		logger:  logger.Named("api"),
	}

	s.app.Get("/health", s.handleHealth)

	v1 := s.app.Group("/api/v1")
	v1.Post("/match", s.handleMatch)
	v1.Get("/queries", s.handleQueries)

	return s
}

// Listen serves until Shutdown is called.
func (s *Server) Listen(addr string) error { return s.app.Listen(addr) }

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown() error { return s.app.Shutdown() }

type matchRequest struct {
	model.CandidateProfile
	TopK int `json:"topK"`
}

type matchResponse struct {
	Count   int                    `json:"count"`
	Results []model.Recommendation `json:"results"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func (s *Server) handleMatch(c *fiber.Ctx) error {
	var req matchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid request body"})
	}
	if len(req.Skills) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "skills must not be empty"})
	}

	recs, err := s.matcher.Match(c.Context(), req.CandidateProfile, req.TopK)
	if err != nil {
		return s.matchError(c, err)
	}

	return c.JSON(matchResponse{Count: len(recs), Results: recs})
}

func (s *Server) matchError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, coordinator.ErrSourceUnavailable):
		// Recoverable: the job board is down or rate limited; try again.
		return c.Status(fiber.StatusServiceUnavailable).JSON(errorResponse{
			Error:     "job source unavailable, retry later",
			Retryable: true,
		})
	case errors.Is(err, match.ErrEmbeddingUnavailable):
		return c.Status(fiber.StatusBadGateway).JSON(errorResponse{
			Error:     "embedding provider unavailable",
			Retryable: true,
		})
	case errors.Is(err, ranking.ErrDimensionMismatch):
		s.logger.Error("ranking contract violation", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	default:
		s.logger.Error("match failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}
}

func (s *Server) handleQueries(c *fiber.Ctx) error {
	recs, err := s.store.ListQueries(c.Context())
	if err != nil {
		s.logger.Error("list queries failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: "internal error"})
	}
	return c.JSON(fiber.Map{"count": len(recs), "queries": recs})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"service": "match-service",
		"version": version,
	})
}
