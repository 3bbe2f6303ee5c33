package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/types"
)

// ReviewUpdate is a reviewer's decision on a needs_review document
type ReviewUpdate struct {
	DocumentID uuid.UUID
	Status     types.Status
	Note       string
	ReviewerID uuid.UUID
	ReviewedAt time.Time
}

// Notification represents an in-app notification row
type Notification struct {
	ID         uuid.UUID  `json:"id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Audience   string     `json:"audience"`
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
	Priority   string     `json:"priority"`
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Task status constants
const (
	TaskLocked    = "locked"
	TaskUnlocked  = "unlocked"
	TaskCompleted = "completed"
)

// OnboardingTask represents a checklist item gated on a verified document
type OnboardingTask struct {
	ID                   uuid.UUID           `json:"id"`
	UserID               uuid.UUID           `json:"user_id"`
	Title                string              `json:"title"`
	RequiredDocumentKind *types.DocumentKind `json:"required_document_kind,omitempty"`
	Status               string              `json:"status"`
	UnlockedAt           *time.Time          `json:"unlocked_at,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
}
