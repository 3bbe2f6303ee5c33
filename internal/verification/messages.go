package verification

import (
	"fmt"

	"github.com/jonathan/onboarding-verifier/internal/notify"
	"github.com/jonathan/onboarding-verifier/internal/types"
)

// Notification kinds
const (
	KindDocumentVerified    = "document_verified"
	KindDocumentNeedsReview = "document_needs_review"
	KindDocumentRejected    = "document_rejected"
	KindReviewRequired      = "review_required"
	KindJobExhausted        = "job_exhausted"
)

// Message is the user-facing notification derived from a verdict.
type Message struct {
	Kind     string
	Priority notify.Priority
	Text     string
}

// MessageFor derives the student notification for a document reaching status.
func MessageFor(status types.Status, kind types.DocumentKind, note string) Message {
	label := string(kind)
	if spec, ok := kind.Spec(); ok {
		label = spec.Label
	}

	switch status {
	case types.StatusVerified:
		return Message{
			Kind:     KindDocumentVerified,
			Priority: notify.PriorityNormal,
			Text:     fmt.Sprintf("Your %s has been verified.", label),
		}
	case types.StatusRejected:
		text := fmt.Sprintf("Your %s could not be accepted.", label)
		if note != "" {
			text += " " + note
		}
		return Message{Kind: KindDocumentRejected, Priority: notify.PriorityHigh, Text: text}
	default:
		return Message{
			Kind:     KindDocumentNeedsReview,
			Priority: notify.PriorityNormal,
			Text:     fmt.Sprintf("Your %s is being reviewed by our team. We will let you know once it has been checked.", label),
		}
	}
}
