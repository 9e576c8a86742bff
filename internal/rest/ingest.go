package rest

import (
	"github.com/gofiber/fiber/v2"
)

type submitIngestRequest struct {
	ItemType       string `json:"item_type"`
	ActorID        string `json:"actor_id"`
	Source         string `json:"source"`
	SourceID       string `json:"source_id"`
	Content        string `json:"content"`
	Scope          string `json:"scope"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (s *Server) handleSubmitIngest(c *fiber.Ctx) error {
	var req submitIngestRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if req.Content == "" {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(errorResponse{Error: "content is required"})
	}
	if req.ItemType == "" {
		req.ItemType = "note"
	}

	result, err := s.broker.SubmitIngestItem(
		req.ItemType, req.ActorID, req.Source, req.SourceID,
		req.Content, req.Scope, req.IdempotencyKey)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusAccepted
	if result.Duplicate {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(result)
}

func (s *Server) handleListJobs(c *fiber.Ctx) error {
	jobs := s.broker.ListIngestJobs(c.Query("status"), c.QueryInt("limit"))
	return c.JSON(fiber.Map{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetJob(c *fiber.Ctx) error {
	job, err := s.broker.GetIngestJob(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(job)
}

func (s *Server) handleListReviews(c *fiber.Ctx) error {
	reviews := s.broker.ListReviews(c.Query("status"), c.QueryInt("limit"))
	return c.JSON(fiber.Map{"reviews": reviews, "count": len(reviews)})
}

type decideReviewRequest struct {
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer"`
	Notes    string `json:"notes"`
}

func (s *Server) handleDecideReview(c *fiber.Ctx) error {
	var req decideReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}

	review, err := s.broker.ReviewIngestRelation(c.Params("id"), req.Approve, req.Reviewer, req.Notes)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(review)
}
