// Package review implements the human override of documents the pipeline sent to review.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/db"
	"github.com/jonathan/onboarding-verifier/internal/notify"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/jonathan/onboarding-verifier/internal/verification"
	"go.uber.org/zap"
)

var (
	// ErrInvalidTransition means the requested status is not a reviewer outcome.
	ErrInvalidTransition = errors.New("reviewers may only verify or reject a document")
	// ErrNotReviewable means the document is not awaiting review.
	ErrNotReviewable = errors.New("document is not awaiting review")
	// ErrDocumentNotFound means no document has the given id.
	ErrDocumentNotFound = errors.New("document not found")
)

// Store is the document persistence the review surface needs.
type Store interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	ApplyReview(ctx context.Context, r db.ReviewUpdate) (*types.Document, error)
	ListDocumentsByStatus(ctx context.Context, status types.Status, limit int) ([]types.Document, error)
}

// Service applies reviewer decisions.
type Service struct {
	store    Store
	progress verification.ProgressTracker
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a review service. progress and notifier may be nil.
func NewService(store Store, progress verification.ProgressTracker, notifier notify.Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("system", "review"))
	return &Service{
		store:    store,
		progress: progress,
		notifier: notify.Safe(notifier, logger),
		logger:   logger,
		now:      time.Now,
	}
}

// Override moves a needs_review document to verified or rejected on behalf of reviewerID.
func (s *Service) Override(ctx context.Context, documentID uuid.UUID, status types.Status, note string, reviewerID uuid.UUID) (*types.Document, error) {
	if !types.CanTransition(types.StatusNeedsReview, status, types.ActorReviewer) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTransition, status)
	}

	note = strings.TrimSpace(note)
	if note == "" {
		note = defaultNote(status)
	}

	doc, err := s.store.ApplyReview(ctx, db.ReviewUpdate{
		DocumentID: documentID,
		Status:     status,
		Note:       note,
		ReviewerID: reviewerID,
		ReviewedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		current, err := s.store.GetDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: status is %s", ErrNotReviewable, current.Status)
	}

	log := s.logger.With(
		zap.String("document_id", documentID.String()),
		zap.String("reviewer_id", reviewerID.String()),
		zap.String("status", string(status)))
	log.Info("review applied")

	if err := doc.CheckInvariants(); err != nil {
		log.Error("reviewed document violates invariants", zap.Error(err))
	}

	if status == types.StatusVerified && s.progress != nil {
		if err := s.progress.DocumentVerified(ctx, doc.OwnerID, doc.ID, doc.Kind); err != nil {
			log.Warn("failed to record onboarding progress", zap.Error(err))
		}
	}

	msg := verification.MessageFor(status, doc.Kind, note)
	_ = s.notifier.Notify(ctx, notify.Notification{
		UserID:     doc.OwnerID,
		Audience:   notify.AudienceUser,
		Kind:       msg.Kind,
		Message:    msg.Text,
		Priority:   msg.Priority,
		DocumentID: doc.ID,
	})

	return doc, nil
}

// ListPending returns documents awaiting review, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]types.Document, error) {
	return s.store.ListDocumentsByStatus(ctx, types.StatusNeedsReview, limit)
}

func defaultNote(status types.Status) string {
	if status == types.StatusVerified {
		return "Verified by reviewer."
	}
	return "Rejected by reviewer."
}
