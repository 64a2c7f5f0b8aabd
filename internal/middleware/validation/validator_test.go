package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxGoalLength: 100, MaxConcurrency: 10, MaxIterationLimit: 5}))
	app.Post("/api/v1/research", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	app.Get("/api/v1/research", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func post(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/research", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestValidation_AcceptsWellFormedSubmission(t *testing.T) {
	app := newTestApp()
	status := post(t, app, `{
		"research_goal": "companies adopting widget platforms",
		"search_depth": "standard",
		"max_parallel_searches": 5,
		"quality_threshold": 0.7,
		"max_iterations": 3
	}`)
	assert.Equal(t, fiber.StatusAccepted, status)
}

func TestValidation_AcceptsMinimalSubmission(t *testing.T) {
	app := newTestApp()
	assert.Equal(t, fiber.StatusAccepted, post(t, app, `{"research_goal": "find widget adopters"}`))
}

func TestValidation_RejectsMissingGoal(t *testing.T) {
	app := newTestApp()
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "   "}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": 42}`))
}

func TestValidation_RejectsOverlongGoal(t *testing.T) {
	app := newTestApp()
	long := strings.Repeat("widgets ", 20)
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "`+long+`"}`))
}

func TestValidation_RejectsInjectionAttempts(t *testing.T) {
	app := newTestApp()
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "x'; DROP TABLE research_jobs; --"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "<script>alert(1)</script>"}`))
}

func TestValidation_AllowsProseWithSQLKeywords(t *testing.T) {
	app := newTestApp()
	// Ordinary English containing words like "select" or "create" must
	// pass; only multi-word SQL signatures are rejected.
	assert.Equal(t, fiber.StatusAccepted, post(t, app, `{"research_goal": "companies that select vendors to create widget lines"}`))
}

func TestValidation_RejectsBadDepth(t *testing.T) {
	app := newTestApp()
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "g", "search_depth": "exhaustive"}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "g", "search_depth": 3}`))
}

func TestValidation_RejectsOutOfRangeNumbers(t *testing.T) {
	app := newTestApp()
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "g", "max_parallel_searches": 0}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "g", "max_parallel_searches": 11}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "g", "max_iterations": 2.5}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "g", "max_iterations": 6}`))
	assert.Equal(t, fiber.StatusBadRequest, post(t, app, `{"research_goal": "g", "quality_threshold": 1.5}`))
}

func TestValidation_RejectsWrongContentType(t *testing.T) {
	app := newTestApp()
	req := httptest.NewRequest("POST", "/api/v1/research", strings.NewReader("goal=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestValidation_IgnoresNonSubmissionRoutes(t *testing.T) {
	app := newTestApp()
	req := httptest.NewRequest("GET", "/api/v1/research", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
