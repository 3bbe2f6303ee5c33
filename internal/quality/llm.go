package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jonathan/onboarding-verifier/internal/llm"
	"github.com/jonathan/onboarding-verifier/internal/prompts"
	"github.com/jonathan/onboarding-verifier/internal/schemas"
	"go.uber.org/zap"
)

// LLMGate asks a vision model to grade legibility.
type LLMGate struct {
	client llm.Client
	tier   llm.ModelTier
	logger *zap.Logger
}

// NewLLMGate creates a gate backed by the given client.
func NewLLMGate(client llm.Client, tier llm.ModelTier, logger *zap.Logger) *LLMGate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGate{client: client, tier: tier, logger: logger.With(zap.String("system", "quality"), zap.String("mode", ModeLLM))}
}

type llmReport struct {
	IsBlurry        bool    `json:"isBlurry"`
	IsLowResolution bool    `json:"isLowResolution"`
	HasGoodContrast bool    `json:"hasGoodContrast"`
	QualityScore    float64 `json:"qualityScore"`
}

// Assess implements Gate.
func (g *LLMGate) Assess(ctx context.Context, data []byte, mediaType string) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("quality assessment panicked", zap.Any("panic", r))
			report = Default()
		}
	}()

	report, err := g.assess(ctx, data, mediaType)
	if err != nil {
		g.logger.Warn("quality assessment failed, using default report", zap.Error(err))
		return Default()
	}
	return report
}

func (g *LLMGate) assess(ctx context.Context, data []byte, mediaType string) (Report, error) {
	if len(data) == 0 {
		return Report{}, fmt.Errorf("empty artifact")
	}

	prompt, err := prompts.Get("verification.json", "assess-quality")
	if err != nil {
		return Report{}, err
	}

	resp, err := g.client.GenerateJSONWithMedia(ctx, prompt, []llm.Media{{MIMEType: DetectMediaType(data, mediaType), Data: data}}, g.tier)
	if err != nil {
		return Report{}, fmt.Errorf("quality model call failed: %w", err)
	}

	if err := schemas.Validate(schemas.Quality, resp); err != nil {
		return Report{}, fmt.Errorf("quality response rejected: %w", err)
	}

	var parsed llmReport
	if err := json.Unmarshal([]byte(resp), &parsed); err != nil {
		return Report{}, fmt.Errorf("failed to parse quality response: %w", err)
	}

	return Report{
		IsBlurry:        parsed.IsBlurry,
		IsLowResolution: parsed.IsLowResolution,
		HasGoodContrast: parsed.HasGoodContrast,
		QualityScore:    clampScore(int(math.Round(parsed.QualityScore))),
	}, nil
}
