package types

import (
	"time"

	"github.com/google/uuid"
)

// VerdictUpdate is the automated outcome written back to a document row.
type VerdictUpdate struct {
	DocumentID uuid.UUID
	Status     Status
	// Confidence is nil when analysis failed before a confidence was computed.
	Confidence *float64
	Extraction *ExtractionRecord
	Findings   []Finding
	Note       string
	// VerifiedAt is set only when Status is StatusVerified.
	VerifiedAt *time.Time
}

// SaveResult reports what happened to a VerdictUpdate.
type SaveResult string

// SaveResult values
const (
	// SaveApplied means the row now holds the verdict.
	SaveApplied SaveResult = "applied"
	// SaveSkippedReviewed means a reviewer already decided and the row was left alone.
	SaveSkippedReviewed SaveResult = "skipped_reviewed"
	// SaveSkippedMissing means no row exists for the document.
	SaveSkippedMissing SaveResult = "skipped_missing"
)
