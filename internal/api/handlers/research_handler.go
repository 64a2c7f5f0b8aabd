package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/jobs"
	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/pkg/config"
	"github.com/gtm-intel/backend/pkg/logger"
)

type ResearchHandler struct {
	manager  *jobs.Manager
	defaults config.ResearchConfig
}

func NewResearchHandler(manager *jobs.Manager, defaults config.ResearchConfig) *ResearchHandler {
	return &ResearchHandler{
		manager:  manager,
		defaults: defaults,
	}
}

type submitRequest struct {
	Goal             string  `json:"research_goal"`
	SearchDepth      string  `json:"search_depth"`
	MaxConcurrency   int     `json:"max_parallel_searches"`
	QualityThreshold float64 `json:"quality_threshold"`
	MaxIterations    int     `json:"max_iterations"`
}

func (h *ResearchHandler) StartResearch(c *fiber.Ctx) error {
	var req submitRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse research request", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Goal == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "research_goal is required",
		})
	}

	if req.SearchDepth == "" {
		req.SearchDepth = h.defaults.DefaultDepth
	}
	depth, ok := research.ParseDepth(req.SearchDepth)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "search_depth must be one of: quick, standard, comprehensive",
		})
	}

	if req.MaxConcurrency <= 0 {
		req.MaxConcurrency = h.defaults.DefaultMaxConcurrency
	}
	if req.QualityThreshold <= 0 {
		req.QualityThreshold = h.defaults.DefaultQualityThreshold
	}
	if req.MaxIterations <= 0 {
		req.MaxIterations = h.defaults.DefaultMaxIterations
	}

	job := h.manager.Submit(jobs.SubmitRequest{
		Goal:             req.Goal,
		Depth:            depth,
		MaxConcurrency:   req.MaxConcurrency,
		QualityThreshold: req.QualityThreshold,
		MaxIterations:    req.MaxIterations,
	})

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"research_id": job.ID,
		"status":      job.Status,
	})
}

func (h *ResearchHandler) GetResearch(c *fiber.Ctx) error {
	job, ok := h.manager.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Research job not found",
		})
	}

	resp := fiber.Map{
		"research_id":  job.ID,
		"goal":         job.Goal,
		"search_depth": job.Depth,
		"status":       job.Status,
		"current_step": job.CurrentStep,
		"progress":     job.Progress,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	if st := job.State; st != nil {
		resp["iteration_count"] = st.Iteration
		resp["strategies"] = st.Strategies
		resp["entities"] = st.Entities
		resp["findings"] = st.Findings
		if st.Quality != nil {
			resp["quality_metrics"] = st.Quality
		}
	}

	return c.JSON(resp)
}

func (h *ResearchHandler) GetResearchStatus(c *fiber.Ctx) error {
	job, ok := h.manager.Get(c.Params("id"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Research job not found",
		})
	}

	iteration := 0
	entityCount := 0
	findingCount := 0
	if st := job.State; st != nil {
		iteration = st.Iteration
		entityCount = len(st.Entities)
		findingCount = len(st.Findings)
	}

	return c.JSON(fiber.Map{
		"research_id":   job.ID,
		"status":        job.Status,
		"current_step":  job.CurrentStep,
		"progress":      job.Progress,
		"iteration":     iteration,
		"entity_count":  entityCount,
		"finding_count": findingCount,
		"updated_at":    job.UpdatedAt,
	})
}

func (h *ResearchHandler) ListResearch(c *fiber.Ctx) error {
	all := h.manager.List()

	items := make([]fiber.Map, 0, len(all))
	for _, job := range all {
		items = append(items, fiber.Map{
			"research_id":  job.ID,
			"goal":         job.Goal,
			"search_depth": job.Depth,
			"status":       job.Status,
			"progress":     job.Progress,
			"created_at":   job.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"research": items,
		"count":    len(items),
	})
}

func (h *ResearchHandler) CancelResearch(c *fiber.Ctx) error {
	id := c.Params("id")
	if !h.manager.Cancel(id) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Research job not found",
		})
	}

	return c.JSON(fiber.Map{
		"research_id": id,
		"status":      "cancelling",
	})
}
