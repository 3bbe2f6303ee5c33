package verification

import (
	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/quality"
	"github.com/jonathan/onboarding-verifier/internal/types"
)

// Outcome is the result of one successful processing attempt.
type Outcome struct {
	DocumentID uuid.UUID
	Status     types.Status
	Confidence *float64
	Note       string
	Findings   []types.Finding
	Quality    quality.Report
	// EarlyExit is set when the quality gate rejected the artifact before extraction.
	EarlyExit bool
	// AnalysisFailed is set when extraction or validation failed and the document was sent to review.
	AnalysisFailed bool
	Save           types.SaveResult
}

// Persisted reports whether the verdict was written to the document row.
func (o *Outcome) Persisted() bool {
	return o.Save == types.SaveApplied
}
