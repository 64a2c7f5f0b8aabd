package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/research"
)

// Goals are free-form prose, so the injection pattern matches
// multi-word SQL signatures rather than bare keywords.
var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(union\s+select|insert\s+into|drop\s+table|delete\s+from|exec\s*\()`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)
)

type Config struct {
	MaxGoalLength     int
	MaxConcurrency    int
	MaxIterationLimit int
	Logger            *zap.Logger
}

// Middleware validates research submissions before the handler sees
// them. Structural checks only; the handler applies defaults for
// omitted knobs.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxGoalLength == 0 {
		cfg.MaxGoalLength = 2000
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 50
	}
	if cfg.MaxIterationLimit == 0 {
		cfg.MaxIterationLimit = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == "POST" {
			contentType := c.Get("Content-Type")
			if contentType != "" && !strings.Contains(contentType, "application/json") {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if c.Method() != "POST" || !strings.Contains(c.Path(), "/api/v1/research") {
			return c.Next()
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		goal, ok := req["research_goal"].(string)
		if !ok || strings.TrimSpace(goal) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "research_goal is required and must be a string",
			})
		}

		if len(goal) > cfg.MaxGoalLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "research_goal exceeds maximum length",
			})
		}

		if containsSQLInjection(goal) || containsXSS(goal) {
			cfg.Logger.Warn("Suspicious research goal rejected",
				zap.String("ip", c.IP()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid research goal content",
			})
		}

		if raw, present := req["search_depth"]; present {
			depth, ok := raw.(string)
			if !ok {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "search_depth must be a string",
				})
			}
			if _, valid := research.ParseDepth(depth); !valid {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "search_depth must be one of: quick, standard, comprehensive",
				})
			}
		}

		if !withinRange(req, "max_parallel_searches", cfg.MaxConcurrency) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "max_parallel_searches is out of range",
			})
		}
		if !withinRange(req, "max_iterations", cfg.MaxIterationLimit) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "max_iterations is out of range",
			})
		}

		if raw, present := req["quality_threshold"]; present {
			threshold, ok := raw.(float64)
			if !ok || threshold < 0 || threshold > 1 {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "quality_threshold must be between 0 and 1",
				})
			}
		}

		return c.Next()
	}
}

// withinRange checks an optional numeric field is a whole number in
// [1, max]. JSON numbers arrive as float64.
func withinRange(req map[string]interface{}, field string, max int) bool {
	raw, present := req[field]
	if !present {
		return true
	}
	value, ok := raw.(float64)
	if !ok || value != float64(int(value)) {
		return false
	}
	return int(value) >= 1 && int(value) <= max
}

func containsSQLInjection(input string) bool {
	return sqlInjectionPattern.MatchString(input)
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}
