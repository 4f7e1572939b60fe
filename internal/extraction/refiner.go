// internal/extraction/refiner.go
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Refiner defaults. Rate limit mirrors typical API quotas: 50 requests
// per minute with small bursts.
const (
	defaultRefinerModel = "gpt-4o-mini"
	defaultRefinerRate  = 50.0 / 60.0
	defaultRefinerBurst = 5
	defaultMaxRetries   = 3
	defaultBaseBackoff  = time.Second
)

// refinePrompt asks the model to validate and re-score heuristic
// candidates. The response must be bare JSON matching Result.
const refinePrompt = `You are validating entity and relation candidates extracted from a note by regex heuristics.

Given the original text and the candidates, return a JSON object with:
- "entities": array of {"text", "kind", "confidence"} - keep real entities, drop noise, fix kinds, re-score confidence in [0,1]
- "relations": array of {"subject", "predicate", "object", "confidence"} - keep only relations the text actually states

Respond ONLY with the JSON object, no additional text.`

// RefinerConfig configures the LLM refiner.
type RefinerConfig struct {
	// Provider is "openai" (or any OpenAI-compatible endpoint via BaseURL).
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	// RateLimit is requests per second; Burst the bucket size.
	RateLimit float64
	Burst     int
}

// LLMRefiner implements Refiner on top of langchaingo.
type LLMRefiner struct {
	llm        llms.Model
	model      string
	limiter    *rate.Limiter
	maxRetries int
}

var _ Refiner = (*LLMRefiner)(nil)

// NewLLMRefiner creates a refiner. Returns nil (no refiner) when no API
// key is configured rather than an error: refinement is optional.
func NewLLMRefiner(cfg RefinerConfig) (*LLMRefiner, error) {
	if cfg.APIKey == "" {
		return nil, nil
	}
	if cfg.Model == "" {
		cfg.Model = defaultRefinerModel
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRefinerRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultRefinerBurst
	}

	opts := []openai.Option{
		openai.WithModel(cfg.Model),
		openai.WithToken(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create refiner llm: %w", err)
	}

	return &LLMRefiner{
		llm:        llm,
		model:      cfg.Model,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		maxRetries: defaultMaxRetries,
	}, nil
}

// Available reports whether the refiner can be called.
func (r *LLMRefiner) Available() bool { return r != nil && r.llm != nil }

// Refine sends the text and candidates to the model and parses the
// re-scored result. Temporal references pass through untouched.
func (r *LLMRefiner) Refine(ctx context.Context, text string, result Result) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return result, fmt.Errorf("rate limiter: %w", err)
	}

	candidates, err := json.Marshal(Result{Entities: result.Entities, Relations: result.Relations})
	if err != nil {
		return result, fmt.Errorf("marshal candidates: %w", err)
	}
	prompt := fmt.Sprintf("%s\n\nText:\n%s\n\nCandidates:\n%s", refinePrompt, text, candidates)

	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return result, ctx.Err()
			}
		}

		response, err := llms.GenerateFromSinglePrompt(ctx, r.llm, prompt,
			llms.WithTemperature(0.2),
		)
		if err != nil {
			lastErr = err
			continue
		}

		refined, err := parseRefined(response)
		if err != nil {
			lastErr = err
			continue
		}
		refined.Temporal = result.Temporal
		return refined, nil
	}
	return result, fmt.Errorf("%w: %v", ErrRefinementFailed, lastErr)
}

// parseRefined extracts the JSON object from a model response, tolerating
// markdown code fences.
func parseRefined(response string) (Result, error) {
	trimmed := strings.TrimSpace(response)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			trimmed = trimmed[start : end+1]
		}
	}

	var out Result
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return Result{}, fmt.Errorf("parse refined result: %w", err)
	}
	for _, e := range out.Entities {
		if e.Confidence < 0 || e.Confidence > 1 {
			return Result{}, fmt.Errorf("entity confidence %g out of range", e.Confidence)
		}
	}
	for _, rel := range out.Relations {
		if rel.Confidence < 0 || rel.Confidence > 1 {
			return Result{}, fmt.Errorf("relation confidence %g out of range", rel.Confidence)
		}
	}
	return out, nil
}
