// Package rest exposes the broker over HTTP. All routes except /health
// live under /api/v1 and require bearer auth when an API key is
// configured.
package rest

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/vthunder/temple/internal/broker"
	"github.com/vthunder/temple/internal/logging"
	"github.com/vthunder/temple/internal/scope"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the REST API server.
type Server struct {
	broker *broker.Broker
	apiKey string
	app    *fiber.App
}

// NewServer builds the route table. apiKey may be empty, which disables
// authentication.
func NewServer(b *broker.Broker, apiKey string) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		broker: b,
		apiKey: apiKey,
		app:    app,
	}

	app.Get("/health", s.handleHealth)

	v1 := app.Group("/api/v1", s.requireAuth)

	v1.Post("/memories", s.handleStoreMemory)
	v1.Post("/memories/retrieve", s.handleRetrieveMemories)
	v1.Post("/memories/search", s.handleSearchMemories)
	v1.Get("/memories/:id", s.handleGetMemory)
	v1.Delete("/memories/:id", s.handleDeleteMemory)

	v1.Post("/entities", s.handleCreateEntities)
	v1.Get("/entities", s.handleSearchEntities)
	v1.Get("/entities/:name", s.handleGetEntity)
	v1.Patch("/entities/:name", s.handleUpdateEntity)
	v1.Delete("/entities/:name", s.handleDeleteEntity)
	v1.Post("/entities/:name/observations", s.handleAddObservations)
	v1.Delete("/entities/:name/observations", s.handleRemoveObservations)

	v1.Post("/relations", s.handleCreateRelations)
	v1.Delete("/relations", s.handleDeleteRelation)
	v1.Get("/relations/:name", s.handleGetRelations)
	v1.Get("/relationship-map/:name", s.handleRelationshipMap)
	v1.Get("/path", s.handleFindPath)

	v1.Post("/ingest", s.handleSubmitIngest)
	v1.Get("/ingest/jobs", s.handleListJobs)
	v1.Get("/ingest/jobs/:id", s.handleGetJob)
	v1.Get("/ingest/reviews", s.handleListReviews)
	v1.Post("/ingest/reviews/:id", s.handleDecideReview)

	v1.Get("/context", s.handleGetContext)
	v1.Put("/context", s.handleSetContext)
	v1.Get("/projects", s.handleListProjects)
	v1.Get("/sessions", s.handleListSessions)

	v1.Get("/admin/stats", s.handleStats)
	v1.Get("/admin/export", s.handleExportGraph)
	v1.Get("/admin/graph-schema", s.handleGraphSchema)
	v1.Post("/admin/migrate", s.handleMigrate)
	v1.Get("/admin/audit", s.handleReadAudit)
	v1.Post("/admin/compact-audit", s.handleCompactAudit)

	return s
}

// Run serves on addr until shutdown.
func (s *Server) Run(addr string) error {
	logging.Info("rest", "listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for in-process testing.
func (s *Server) App() *fiber.App {
	return s.app
}

// requireAuth checks the bearer token when an API key is configured.
func (s *Server) requireAuth(c *fiber.Ctx) error {
	if s.apiKey == "" {
		return c.Next()
	}
	header := c.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token != s.apiKey {
		return c.Status(fiber.StatusUnauthorized).JSON(errorResponse{Error: "invalid or missing API key"})
	}
	return c.Next()
}

// respondError maps broker errors onto HTTP statuses.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, scope.ErrInvalidScope):
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	case errors.Is(err, broker.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	default:
		logging.Error("rest", "%s %s: %v", c.Method(), c.Path(), err)
		return c.Status(fiber.StatusInternalServerError).JSON(errorResponse{Error: err.Error()})
	}
}

// malformed rejects an unparseable request body.
func malformed(c *fiber.Ctx, err error) error {
	return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "malformed request body: " + err.Error()})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	health := s.broker.CheckHealth()
	status := fiber.StatusOK
	if health.Status != "ok" {
		status = fiber.StatusServiceUnavailable
	}
	return c.Status(status).JSON(health)
}
