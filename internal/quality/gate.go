// Package quality scores how legible an uploaded artifact is before any extraction is attempted.
package quality

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jonathan/onboarding-verifier/internal/llm"
	"go.uber.org/zap"
)

// DefaultScore is reported when an artifact could not be assessed.
const DefaultScore = 70

// Report is the outcome of a quality assessment.
type Report struct {
	IsBlurry        bool `json:"isBlurry"`
	IsLowResolution bool `json:"isLowResolution"`
	HasGoodContrast bool `json:"hasGoodContrast"`
	QualityScore    int  `json:"qualityScore"`
	// Degraded marks a report substituted for a failed assessment.
	Degraded bool `json:"degraded,omitempty"`
	Pages    int  `json:"pages,omitempty"`
}

// Default is the neutral report used whenever assessment itself fails.
func Default() Report {
	return Report{HasGoodContrast: true, QualityScore: DefaultScore, Degraded: true}
}

// Issues lists the human-readable problems in the report.
func (r Report) Issues() []string {
	var issues []string
	if r.IsBlurry {
		issues = append(issues, "blurry")
	}
	if r.IsLowResolution {
		issues = append(issues, "low resolution")
	}
	if !r.HasGoodContrast {
		issues = append(issues, "poor contrast")
	}
	return issues
}

// Gate assesses artifact quality. Implementations never fail: problems
// with the assessment itself produce Default().
type Gate interface {
	Assess(ctx context.Context, data []byte, mediaType string) Report
}

// Modes
const (
	ModeHeuristic = "heuristic"
	ModeLLM       = "llm"
)

// New builds the gate for the configured mode. client is only needed for ModeLLM.
func New(mode string, client llm.Client, tier llm.ModelTier, logger *zap.Logger) (Gate, error) {
	switch mode {
	case ModeHeuristic, "":
		return NewHeuristicGate(DefaultHeuristics(), logger), nil
	case ModeLLM:
		if client == nil {
			return nil, fmt.Errorf("quality mode %q requires an LLM client", mode)
		}
		return NewLLMGate(client, tier, logger), nil
	default:
		return nil, fmt.Errorf("unknown quality mode %q", mode)
	}
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// DetectMediaType normalizes a declared media type, sniffing the content when it is missing or generic.
func DetectMediaType(data []byte, mediaType string) string {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if mt == "" || mt == "application/octet-stream" {
		mt = http.DetectContentType(data)
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = mt[:i]
		}
	}
	return mt
}
