// Package decision turns quality, confidence and validation results into a verification verdict.
package decision

import (
	"fmt"
	"strings"

	"github.com/jonathan/onboarding-verifier/internal/types"
)

// Thresholds are the tunable cut-offs of the decision tree.
type Thresholds struct {
	MinQualityScore       int     `json:"min_quality_score" toml:"min_quality_score"`
	RejectBelowConfidence float64 `json:"reject_below_confidence" toml:"reject_below_confidence"`
	AutoVerifyConfidence  float64 `json:"auto_verify_confidence" toml:"auto_verify_confidence"`
}

// DefaultThresholds returns the reference deployment cut-offs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinQualityScore:       50,
		RejectBelowConfidence: 0.6,
		AutoVerifyConfidence:  0.8,
	}
}

// Validate checks the thresholds are in range and ordered.
func (t Thresholds) Validate() error {
	if t.MinQualityScore < 0 || t.MinQualityScore > 100 {
		return fmt.Errorf("min_quality_score must be within [0,100], got %d", t.MinQualityScore)
	}
	if t.RejectBelowConfidence < 0 || t.RejectBelowConfidence > 1 {
		return fmt.Errorf("reject_below_confidence must be within [0,1], got %.2f", t.RejectBelowConfidence)
	}
	if t.AutoVerifyConfidence < 0 || t.AutoVerifyConfidence > 1 {
		return fmt.Errorf("auto_verify_confidence must be within [0,1], got %.2f", t.AutoVerifyConfidence)
	}
	if t.RejectBelowConfidence > t.AutoVerifyConfidence {
		return fmt.Errorf("reject_below_confidence (%.2f) must not exceed auto_verify_confidence (%.2f)",
			t.RejectBelowConfidence, t.AutoVerifyConfidence)
	}
	return nil
}

// Validation is the subset of a validator result the decision tree reads.
type Validation struct {
	Errors   []string
	Warnings []string
}

// IsValid reports whether there are no hard errors.
func (v Validation) IsValid() bool {
	return len(v.Errors) == 0
}

// Verdict is the outcome of the decision tree.
type Verdict struct {
	Status types.Status
	Note   string
}

// IsPoorQuality reports whether a quality score trips the early-exit rejection.
func IsPoorQuality(score int, t Thresholds) bool {
	return score < t.MinQualityScore
}

// PoorQuality returns the early-exit rejection verdict for an unreadable artifact.
func PoorQuality(score int) Verdict {
	return Verdict{
		Status: types.StatusRejected,
		Note:   fmt.Sprintf("Document rejected due to poor image quality (score %d/100). Please upload a clearer scan.", score),
	}
}

// Decide applies the ordered decision tree. Every comparison is a strict "<",
// so with default thresholds a confidence of exactly 0.6 is reviewable and
// exactly 0.8 verifies.
func Decide(qualityScore int, confidence float64, v Validation, t Thresholds) Verdict {
	if IsPoorQuality(qualityScore, t) {
		return PoorQuality(qualityScore)
	}

	if !v.IsValid() || confidence < t.RejectBelowConfidence {
		return Verdict{Status: types.StatusRejected, Note: rejectionNote(confidence, v)}
	}

	if confidence < t.AutoVerifyConfidence || len(v.Warnings) > 0 {
		return Verdict{Status: types.StatusNeedsReview, Note: reviewNote(confidence, v)}
	}

	return Verdict{
		Status: types.StatusVerified,
		Note:   fmt.Sprintf("Document verified automatically (confidence %.2f).", confidence),
	}
}

func rejectionNote(confidence float64, v Validation) string {
	if len(v.Errors) > 0 {
		return "Document rejected: " + strings.Join(v.Errors, "; ")
	}
	return fmt.Sprintf("Document rejected: extraction confidence too low (%.2f).", confidence)
}

func reviewNote(confidence float64, v Validation) string {
	if len(v.Warnings) > 0 {
		return "Manual review required: " + strings.Join(v.Warnings, "; ")
	}
	return fmt.Sprintf("Manual review required: moderate extraction confidence (%.2f).", confidence)
}
