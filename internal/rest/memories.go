package rest

import (
	"github.com/gofiber/fiber/v2"
)

type storeMemoryRequest struct {
	Content  string            `json:"content"`
	Tags     []string          `json:"tags"`
	Metadata map[string]string `json:"metadata"`
	Scope    string            `json:"scope"`
}

func (s *Server) handleStoreMemory(c *fiber.Ctx) error {
	var req storeMemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if req.Content == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "content is required"})
	}

	mem, created, err := s.broker.StoreMemory(req.Content, req.Tags, req.Metadata, req.Scope)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{"memory": mem, "created": created})
}

type retrieveRequest struct {
	Query    string   `json:"query"`
	NResults int      `json:"n_results"`
	Tags     []string `json:"tags"`
}

func (s *Server) handleRetrieveMemories(c *fiber.Ctx) error {
	var req retrieveRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if req.Query == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "query is required"})
	}

	mems, err := s.broker.RetrieveMemories(req.Query, req.NResults, req.Tags)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"memories": mems, "count": len(mems)})
}

type tagSearchRequest struct {
	Tags     []string `json:"tags"`
	NResults int      `json:"n_results"`
}

func (s *Server) handleSearchMemories(c *fiber.Ctx) error {
	var req tagSearchRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if len(req.Tags) == 0 {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "at least one tag is required"})
	}

	mems, err := s.broker.SearchByTags(req.Tags, req.NResults)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"memories": mems, "count": len(mems)})
}

func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	mem, err := s.broker.GetMemory(c.Params("id"), c.Query("scope"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(mem)
}

func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	deleted, err := s.broker.DeleteMemory(c.Params("id"), c.Query("scope"))
	if err != nil {
		return respondError(c, err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(errorResponse{Error: "not found"})
	}
	return c.JSON(fiber.Map{"deleted": true})
}
