package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/storage/sqlite"
	"github.com/gtm-intel/backend/pkg/logger"
)

// HistoryHandler serves finished runs out of sqlite, surviving process
// restarts where the in-memory job registry does not.
type HistoryHandler struct {
	store *sqlite.Client
}

func NewHistoryHandler(store *sqlite.Client) *HistoryHandler {
	return &HistoryHandler{store: store}
}

func (h *HistoryHandler) ListHistory(c *fiber.Ctx) error {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 500 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "limit must be an integer between 1 and 500",
			})
		}
		limit = parsed
	}

	records, err := h.store.ListJobs(limit)
	if err != nil {
		logger.Error("Failed to list research history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load research history",
		})
	}

	items := make([]fiber.Map, 0, len(records))
	for _, rec := range records {
		items = append(items, fiber.Map{
			"research_id":     rec.ID,
			"goal":            rec.Goal,
			"search_depth":    rec.SearchDepth,
			"status":          rec.Status,
			"iteration_count": rec.IterationCount,
			"entity_count":    rec.EntityCount,
			"finding_count":   rec.FindingCount,
			"coverage_score":  rec.CoverageScore,
			"quality_score":   rec.QualityScore,
			"created_at":      rec.CreatedAt,
			"updated_at":      rec.UpdatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"history": items,
		"count":   len(items),
	})
}

func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	id := c.Params("id")

	job, err := h.store.GetJob(id)
	if err != nil {
		logger.Error("Failed to load research record", zap.String("job_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load research record",
		})
	}
	if job == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Research job not found",
		})
	}

	entities, err := h.store.GetEntities(id)
	if err != nil {
		logger.Error("Failed to load entities", zap.String("job_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load research record",
		})
	}

	findings, err := h.store.GetFindings(id)
	if err != nil {
		logger.Error("Failed to load findings", zap.String("job_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load research record",
		})
	}

	reports, err := h.store.GetQualityReports(id)
	if err != nil {
		logger.Error("Failed to load quality reports", zap.String("job_id", id), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load research record",
		})
	}

	return c.JSON(fiber.Map{
		"research_id":     job.ID,
		"goal":            job.Goal,
		"search_depth":    job.SearchDepth,
		"status":          job.Status,
		"error":           job.Error,
		"iteration_count": job.IterationCount,
		"coverage_score":  job.CoverageScore,
		"quality_score":   job.QualityScore,
		"entities":        entities,
		"findings":        findings,
		"quality_reports": reports,
		"created_at":      job.CreatedAt,
		"updated_at":      job.UpdatedAt,
	})
}
