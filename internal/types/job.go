package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ProcessingJob is a queued request to verify one document.
// It copies everything the pipeline needs so processing never depends on the document row.
type ProcessingJob struct {
	DocumentID  uuid.UUID    `json:"document_id" validate:"required"`
	OwnerID     uuid.UUID    `json:"owner_id" validate:"required"`
	Kind        DocumentKind `json:"document_kind" validate:"required"`
	ArtifactRef string       `json:"artifact_ref" validate:"required"`
	MediaType   string       `json:"media_type,omitempty"`
	Attempt     int          `json:"attempt" validate:"min=1"`
	EnqueuedAt  time.Time    `json:"enqueued_at"`
}

var jobValidator = validator.New()

// Validate checks the job is self-describing enough to be processed.
func (j *ProcessingJob) Validate() error {
	if err := jobValidator.Struct(j); err != nil {
		return err
	}
	if j.DocumentID == uuid.Nil || j.OwnerID == uuid.Nil {
		return fmt.Errorf("job ids must not be nil")
	}
	if !j.Kind.Valid() {
		return fmt.Errorf("unknown document kind: %q", j.Kind)
	}
	return nil
}

// NewProcessingJob builds the first-attempt job for a freshly created document.
func NewProcessingJob(doc *Document) ProcessingJob {
	return ProcessingJob{
		DocumentID:  doc.ID,
		OwnerID:     doc.OwnerID,
		Kind:        doc.Kind,
		ArtifactRef: doc.ArtifactRef,
		MediaType:   doc.MediaType,
		Attempt:     1,
		EnqueuedAt:  time.Now().UTC(),
	}
}
