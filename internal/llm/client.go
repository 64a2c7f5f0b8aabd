package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/gtm-intel/backend/internal/cache"
	"github.com/gtm-intel/backend/internal/metrics"
	"github.com/gtm-intel/backend/internal/research"
	"github.com/gtm-intel/backend/pkg/circuitbreaker"
	"github.com/gtm-intel/backend/pkg/logger"
	"github.com/gtm-intel/backend/pkg/retry"
)

// ErrUnparsable marks a completion whose payload could not be decoded
// into the requested structure. Callers may fall back to heuristic
// extraction; the call itself succeeded.
var ErrUnparsable = errors.New("unparsable model output")

type Client struct {
	client        *openai.Client
	model         string
	temperature   float32
	maxTokens     int
	timeout       time.Duration
	strategyCount int
	cb            *circuitbreaker.CircuitBreaker
	cache         cache.Cache
	retryConfig   retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// NewClient wires the OpenAI API behind the given circuit breaker and
// cache. The breaker is owned by the composition root so it can be
// shared and inspected there.
func NewClient(apiKey, model string, temperature float32, maxTokens, timeoutSec, strategyCount int, cb *circuitbreaker.CircuitBreaker, c cache.Cache) *Client {
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	if strategyCount <= 0 {
		strategyCount = 10
	}

	retryConfig := retry.DefaultConfig()
	retryConfig.Logger = logger.GetLogger()

	logger.Info("LLM client initialized", zap.String("model", model))

	return &Client{
		client:        openai.NewClient(apiKey),
		model:         model,
		temperature:   temperature,
		maxTokens:     maxTokens,
		timeout:       time.Duration(timeoutSec) * time.Second,
		strategyCount: strategyCount,
		cb:            cb,
		cache:         c,
		retryConfig:   retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	cacheKey := cache.Key("llm:"+c.model, req.SystemPrompt, req.UserPrompt)
	if c.cache != nil {
		if data, ok := c.cache.Get(ctx, cacheKey); ok {
			metrics.CacheHits.WithLabelValues("llm").Inc()
			return &CompletionResponse{Content: string(data)}, nil
		}
		metrics.CacheMisses.WithLabelValues("llm").Inc()
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Set(ctx, cacheKey, []byte(result.Content), cache.LLMTTL)
	}

	return result, nil
}

// GenerateStrategies produces count diverse search strategies for the
// goal. The previous iteration's quality report, when present, steers
// the strategies toward the reported gaps.
func (c *Client) GenerateStrategies(ctx context.Context, goal string, feedback *research.QualityReport) ([]string, error) {
	count := c.strategyCount

	systemPrompt := fmt.Sprintf(`You are a research strategist specializing in web search optimization.
Generate exactly %d diverse web search strategies for the research goal: vary keywords,
target sources (news, company sites, technical blogs), aspects (technology, business,
implementation) and stakeholders.

Return ONLY a JSON array of %d strings.`, count, count)

	userPrompt := fmt.Sprintf("Research goal: %s", goal)
	if feedback != nil {
		userPrompt += fmt.Sprintf(`

Previous iteration feedback (address these in the new strategies):
Coverage score: %.2f
Quality score: %.2f
Missing aspects: %s
Gaps: %s
Recommendations: %s`,
			feedback.CoverageScore,
			feedback.QualityScore,
			strings.Join(feedback.MissingAspects, "; "),
			strings.Join(feedback.Gaps, "; "),
			strings.Join(feedback.Recommendations, "; "),
		)
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.7,
		MaxTokens:    800,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate strategies: %w", err)
	}

	strategies, err := parseStringArray(resp.Content)
	if err != nil {
		return nil, err
	}

	logger.Info("Search strategies generated", zap.Int("count", len(strategies)))
	return strategies, nil
}

// ExtractEntities pulls distinct companies relevant to the goal out of
// a raw search result block.
func (c *Client) ExtractEntities(ctx context.Context, rawResult, goal string) ([]research.Entity, error) {
	systemPrompt := `You are an expert at parsing company intelligence from web search results.
Extract all unique companies relevant to the research goal from the raw search text.

Return ONLY a JSON array of objects with fields: name, domain, source_url.`

	userPrompt := fmt.Sprintf("Research goal: %s\n\nRaw search result:\n%s", goal, rawResult)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0,
		MaxTokens:    1000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract entities: %w", err)
	}

	entities, err := parseEntities(resp.Content)
	if err != nil {
		return nil, err
	}

	logger.Debug("Entities extracted", zap.Int("count", len(entities)))
	return entities, nil
}

// EvaluateEntity judges one entity against the goal using its collected
// evidence. Entity-specific feedback from the previous quality pass is
// folded into the request when available.
func (c *Client) EvaluateEntity(ctx context.Context, entity research.Entity, evidence []string, goal string, feedback *research.EntityAnalysis) (*research.Judgement, error) {
	systemPrompt := `You are a company research analyst. Assess whether the company meets the
research goal based only on the evidence provided.

Return ONLY a JSON object with fields:
goal_achieved (bool), technologies (string array), evidences (string array, up to 5
supporting snippets), confidence_level ("High"|"Medium"|"Low").`

	var feedbackBlock string
	if feedback != nil {
		feedbackBlock = fmt.Sprintf(`

Previous research quality for this company:
Quality score: %.2f, coverage score: %.2f
Gaps: %s
Evidence issues: %s
Recommendations: %s
Focus the assessment on closing these gaps.`,
			feedback.QualityScore,
			feedback.CoverageScore,
			strings.Join(head(feedback.Gaps, 3), "; "),
			strings.Join(head(feedback.EvidenceIssues, 3), "; "),
			strings.Join(head(feedback.Recommendations, 3), "; "),
		)
	}

	userPrompt := fmt.Sprintf("Research goal: %s\n\nCompany: %s (%s)%s\n\nEvidence:\n%s",
		goal, entity.Name, entity.Domain, feedbackBlock, strings.Join(evidence, "\n---\n"))

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0,
		MaxTokens:    800,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate %s: %w", entity.Domain, err)
	}

	return parseJudgement(resp.Content)
}

// AnalyzeEntity scores the quality and coverage of one finding.
func (c *Client) AnalyzeEntity(ctx context.Context, finding research.Finding, goal string) (*research.EntityAnalysis, error) {
	systemPrompt := `You are a research quality analyst. Score one company's findings against
the research goal.

Return ONLY a JSON object with fields:
domain (string), quality_score (0-1), coverage_score (0-1), gaps (string array),
evidence_issues (string array), recommendations (string array).`

	userPrompt := fmt.Sprintf(`Research goal: %s

Company: %s
Confidence score: %.2f
Evidence count: %d
Goal achieved: %t
Technologies: %s
Evidence snippets:
%s`,
		goal,
		finding.Domain,
		finding.ConfidenceScore,
		finding.EvidenceCount,
		finding.Judgement.GoalAchieved,
		strings.Join(finding.Judgement.Technologies, ", "),
		strings.Join(head(finding.Judgement.Evidences, 5), "\n"),
	)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0,
		MaxTokens:    600,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", finding.Domain, err)
	}

	analysis, err := parseEntityAnalysis(resp.Content)
	if err != nil {
		return nil, err
	}
	if analysis.Domain == "" {
		analysis.Domain = finding.Domain
	}
	return analysis, nil
}

// QualityStats summarizes a batch of per-entity analyses for the
// aggregate summarization call.
type QualityStats struct {
	Total            int
	AvgQualityScore  float64
	AvgCoverageScore float64
	HighQualityCount int
	LowQualityCount  int
}

// SummarizeQuality makes the single (not fanned-out) aggregation call
// that turns per-entity analyses into one report.
func (c *Client) SummarizeQuality(ctx context.Context, goal string, analyses []research.EntityAnalysis, stats QualityStats) (*research.QualityReport, error) {
	systemPrompt := `You are a research quality analyst. Aggregate the per-company analyses into
an overall assessment of coverage and evidence quality for the research goal.

Return ONLY a JSON object with fields:
coverage_score (0-1), quality_score (0-1), missing_aspects (string array),
gaps (string array), evidence_issues (string array), recommendations (string array).`

	var sb strings.Builder
	for _, a := range analyses {
		fmt.Fprintf(&sb, "Company: %s\nQuality: %.2f Coverage: %.2f\nGaps: %s\nIssues: %s\nRecommendations: %s\n\n",
			a.Domain, a.QualityScore, a.CoverageScore,
			strings.Join(a.Gaps, "; "),
			strings.Join(a.EvidenceIssues, "; "),
			strings.Join(a.Recommendations, "; "),
		)
	}

	userPrompt := fmt.Sprintf(`Research goal: %s

Individual company analyses:
%s
Overall statistics:
Total companies analyzed: %d
Average quality score: %.2f
Average coverage score: %.2f
Companies with high quality (>=0.8): %d
Companies with low quality (<0.5): %d`,
		goal, sb.String(),
		stats.Total, stats.AvgQualityScore, stats.AvgCoverageScore,
		stats.HighQualityCount, stats.LowQualityCount,
	)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0,
		MaxTokens:    800,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to summarize quality: %w", err)
	}

	return parseQualityReport(resp.Content)
}

func head(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
