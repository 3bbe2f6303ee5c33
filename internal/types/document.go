// Package types provides type definitions for documents, verdicts and queued work used throughout the verifier.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the verification lifecycle state of a document.
type Status string

// Status values stored in the documents table.
const (
	StatusProcessing  Status = "processing"
	StatusVerified    Status = "verified"
	StatusNeedsReview Status = "needs_review"
	StatusRejected    Status = "rejected"
)

// Actor identifies who is performing a status transition.
type Actor string

// Actor constants
const (
	ActorPipeline Actor = "pipeline"
	ActorReviewer Actor = "reviewer"
)

// ParseStatus converts a string into a Status, rejecting unknown values.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusProcessing, StatusVerified, StatusNeedsReview, StatusRejected:
		return st, nil
	default:
		return "", fmt.Errorf("unknown document status: %q", s)
	}
}

// IsTerminal reports whether the automated pipeline is finished with a document in this status.
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusNeedsReview || s == StatusRejected
}

// CanTransition reports whether actor may move a document from one status to another.
// The pipeline only leaves processing; reviewers only resolve needs_review.
func CanTransition(from, to Status, actor Actor) bool {
	switch actor {
	case ActorPipeline:
		return from == StatusProcessing && to.IsTerminal()
	case ActorReviewer:
		return from == StatusNeedsReview && (to == StatusVerified || to == StatusRejected)
	default:
		return false
	}
}

// Severity classifies a validation finding.
type Severity string

// Severity constants
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Finding is a single validation result attached to a document.
type Finding struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Resolved bool     `json:"resolved,omitempty"`
}

// ArtifactMetadata describes the uploaded bytes the verdict was computed from.
type ArtifactMetadata struct {
	MediaType    string `json:"media_type"`
	SizeBytes    int    `json:"size_bytes"`
	SHA256       string `json:"sha256"`
	Pages        int    `json:"pages,omitempty"`
	QualityScore int    `json:"quality_score"`
}

// ExtractionRecord is what the pipeline stores in extracted_fields for one processing attempt.
type ExtractionRecord struct {
	Fields   map[string]string `json:"fields"`
	RawText  string            `json:"raw_text,omitempty"`
	Artifact ArtifactMetadata  `json:"artifact"`
}

// Document is one uploaded artifact and its verification lifecycle.
type Document struct {
	ID                 uuid.UUID         `json:"id"`
	OwnerID            uuid.UUID         `json:"owner_id"`
	Kind               DocumentKind      `json:"document_kind"`
	ArtifactRef        string            `json:"artifact_ref"`
	MediaType          string            `json:"media_type"`
	Status             Status            `json:"status"`
	Confidence         *float64          `json:"confidence,omitempty"`
	ExtractedFields    *ExtractionRecord `json:"extracted_fields,omitempty"`
	ValidationFindings []Finding         `json:"validation_findings"`
	ReviewNote         string            `json:"review_note,omitempty"`
	ReviewedBy         *uuid.UUID        `json:"reviewed_by,omitempty"`
	ReviewedAt         *time.Time        `json:"reviewed_at,omitempty"`
	UploadedAt         time.Time         `json:"uploaded_at"`
	VerifiedAt         *time.Time        `json:"verified_at,omitempty"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// HasUnresolvedErrors reports whether any error-severity finding is still open.
func (d *Document) HasUnresolvedErrors() bool {
	for _, f := range d.ValidationFindings {
		if f.Severity == SeverityError && !f.Resolved {
			return true
		}
	}
	return false
}

// CheckInvariants validates the status/confidence invariants of a document.
func (d *Document) CheckInvariants() error {
	switch d.Status {
	case StatusVerified:
		if d.Confidence == nil {
			return fmt.Errorf("document %s is verified without a confidence", d.ID)
		}
		if d.HasUnresolvedErrors() {
			return fmt.Errorf("document %s is verified with unresolved error findings", d.ID)
		}
		if d.VerifiedAt == nil {
			return fmt.Errorf("document %s is verified without verified_at", d.ID)
		}
	case StatusProcessing:
		if d.Confidence != nil {
			return fmt.Errorf("document %s is processing but already has a confidence", d.ID)
		}
	}
	if d.Confidence != nil && (*d.Confidence < 0 || *d.Confidence > 1) {
		return fmt.Errorf("document %s confidence %.3f out of range", d.ID, *d.Confidence)
	}
	return nil
}
