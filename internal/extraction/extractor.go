package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jonathan/onboarding-verifier/internal/llm"
	"github.com/jonathan/onboarding-verifier/internal/prompts"
	"github.com/jonathan/onboarding-verifier/internal/schemas"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"go.uber.org/zap"
)

// Result is the structured content read from one artifact.
type Result struct {
	// Fields is keyed by canonical field name; unknown keys are kept verbatim.
	Fields     map[string]string `json:"fields"`
	RawText    string            `json:"rawText"`
	Confidence float64           `json:"confidence"`
	// NativeConfidence reports whether Confidence came from the model rather than EstimateConfidence.
	NativeConfidence bool `json:"nativeConfidence"`
}

// Extractor pulls the fields of a document kind out of an artifact.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string, kind types.DocumentKind) (*Result, error)
}

// LLMExtractor implements Extractor with a multimodal model.
type LLMExtractor struct {
	client llm.Client
	tier   llm.ModelTier
	logger *zap.Logger
}

// NewLLMExtractor creates an extractor using the given client and model tier.
func NewLLMExtractor(client llm.Client, tier llm.ModelTier, logger *zap.Logger) *LLMExtractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMExtractor{client: client, tier: tier, logger: logger.With(zap.String("system", "extraction"))}
}

type response struct {
	Fields     map[string]any `json:"fields"`
	RawText    string         `json:"rawText"`
	Confidence *float64       `json:"confidence"`
}

// Extract implements Extractor. Context cancellation is returned unwrapped.
func (e *LLMExtractor) Extract(ctx context.Context, data []byte, mediaType string, kind types.DocumentKind) (*Result, error) {
	spec, ok := kind.Spec()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	prompt := BuildPrompt(spec)
	raw, err := e.client.GenerateJSONWithMedia(ctx, prompt, []llm.Media{{MIMEType: mediaType, Data: data}}, e.tier)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &APICallError{Message: "field extraction call failed", Cause: err}
	}

	result, err := parseResponse(spec, raw)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("fields extracted",
		zap.String("kind", string(kind)),
		zap.String("model", e.client.GetModel(e.tier)),
		zap.Int("field_count", len(result.Fields)),
		zap.Float64("confidence", result.Confidence),
		zap.Bool("native_confidence", result.NativeConfidence))
	return result, nil
}

// BuildPrompt renders the extraction prompt for a kind.
func BuildPrompt(spec types.KindSpec) string {
	var sb strings.Builder
	for _, f := range spec.Fields {
		sb.WriteString(fmt.Sprintf("- %s: %s", f.Name, f.Description))
		if f.Format != types.FormatNone {
			sb.WriteString(fmt.Sprintf(" (%s)", f.Format))
		}
		sb.WriteString("\n")
	}

	return prompts.Format(prompts.MustGet("verification.json", "extract-fields"), map[string]string{
		"Label":  spec.Label,
		"Hint":   spec.ExtractionHint,
		"Fields": strings.TrimRight(sb.String(), "\n"),
	})
}

func parseResponse(spec types.KindSpec, raw string) (*Result, error) {
	cleaned := llm.CleanJSONBlock(raw)
	if err := schemas.Validate(schemas.Extraction, cleaned); err != nil {
		return nil, &ParseError{Message: "extraction response does not match schema", Raw: raw, Cause: err}
	}

	var resp response
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, &ParseError{Message: "failed to parse extraction response", Raw: raw, Cause: err}
	}

	fields := canonicalize(spec, resp.Fields)
	result := &Result{Fields: fields, RawText: strings.TrimSpace(resp.RawText)}
	if resp.Confidence != nil {
		result.Confidence = clampUnit(*resp.Confidence)
		result.NativeConfidence = true
	} else {
		result.Confidence = EstimateConfidence(spec, fields, result.RawText)
	}
	return result, nil
}

// canonicalize stringifies values and renames aliases to canonical field names.
// A value under the canonical name wins over one under an alias.
func canonicalize(spec types.KindSpec, in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	aliased := make(map[string]string)

	for key, v := range in {
		value, ok := stringify(v)
		if !ok {
			continue
		}
		canonical := key
		for _, f := range spec.Fields {
			if f.Matches(key) {
				canonical = f.Name
				break
			}
		}
		if canonical == key {
			out[key] = value
			continue
		}
		if _, seen := aliased[canonical]; !seen || key < aliased[canonical] {
			aliased[canonical] = key
		}
	}

	for canonical, key := range aliased {
		if _, exact := out[canonical]; exact {
			continue
		}
		value, _ := stringify(in[key])
		out[canonical] = value
	}
	return out
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
