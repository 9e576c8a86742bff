package rest

import (
	"github.com/gofiber/fiber/v2"
)

type setContextRequest struct {
	Project *string `json:"project"`
	Session *string `json:"session"`
}

func (s *Server) handleSetContext(c *fiber.Ctx) error {
	var req setContextRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	return c.JSON(s.broker.SetContext(req.Project, req.Session))
}

func (s *Server) handleGetContext(c *fiber.Ctx) error {
	return c.JSON(s.broker.GetContext())
}

func (s *Server) handleListProjects(c *fiber.Ctx) error {
	projects, err := s.broker.ListProjects()
	if err != nil {
		return respondError(c, err)
	}
	if projects == nil {
		projects = []string{}
	}
	return c.JSON(fiber.Map{"projects": projects})
}

func (s *Server) handleListSessions(c *fiber.Ctx) error {
	sessions, err := s.broker.ListSessions()
	if err != nil {
		return respondError(c, err)
	}
	if sessions == nil {
		sessions = []string{}
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats, err := s.broker.GetStats()
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}

func (s *Server) handleExportGraph(c *fiber.Ctx) error {
	export, err := s.broker.ExportGraph(c.Query("scope"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(export)
}

func (s *Server) handleGraphSchema(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"schema": s.broker.Graph().Schema().String(),
		"legacy": s.broker.Graph().IsLegacySchema(),
	})
}

type migrateRequest struct {
	BackupPath string `json:"backup_path"`
}

func (s *Server) handleMigrate(c *fiber.Ctx) error {
	var req migrateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return malformed(c, err)
		}
	}
	return c.JSON(s.broker.MigrateGraph(req.BackupPath))
}

func (s *Server) handleReadAudit(c *fiber.Ctx) error {
	scopeName := c.Query("scope", "global")
	entries, err := s.broker.AuditLog().Read(scopeName, c.QueryInt("limit", 100))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"entries": entries, "count": len(entries)})
}

type compactAuditRequest struct {
	Scope string `json:"scope"`
	Keep  int    `json:"keep"`
}

func (s *Server) handleCompactAudit(c *fiber.Ctx) error {
	var req compactAuditRequest
	if err := c.BodyParser(&req); err != nil {
		return malformed(c, err)
	}
	if req.Scope == "" {
		req.Scope = "global"
	}

	dropped, err := s.broker.CompactAuditLog(req.Scope, req.Keep)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"dropped": dropped})
}
