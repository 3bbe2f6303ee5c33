// Package intake stores uploaded artifacts, records them and queues them for verification.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"

	units "github.com/docker/go-units"
	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/quality"
	"github.com/jonathan/onboarding-verifier/internal/storage"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"go.uber.org/zap"
)

// DefaultMaxUploadSize is used when no limit is configured.
const DefaultMaxUploadSize = "20MB"

var (
	ErrMissingOwner         = errors.New("owner id is required")
	ErrUnknownKind          = errors.New("unknown document kind")
	ErrEmptyUpload          = errors.New("upload is empty")
	ErrTooLarge             = errors.New("upload exceeds the size limit")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrDocumentNotFound     = errors.New("document not found")
	ErrNotProcessing        = errors.New("document is not processing")
	// ErrEnqueueFailed means the document row exists but no job was queued; Requeue recovers it.
	ErrEnqueueFailed = errors.New("failed to enqueue document")
)

var supportedMediaTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"image/bmp":       true,
	"image/tiff":      true,
}

// DocumentStore creates and reads document rows.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	TouchDocument(ctx context.Context, id uuid.UUID) error
}

// Enqueuer queues processing jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job types.ProcessingJob) error
}

// Upload is one file submitted by a student.
type Upload struct {
	OwnerID   uuid.UUID
	Kind      types.DocumentKind
	MediaType string
	Filename  string
	Data      []byte
}

// Service is the upload path.
type Service struct {
	artifacts storage.ArtifactStore
	documents DocumentStore
	queue     Enqueuer
	maxSize   int64
	logger    *zap.Logger
}

// NewService creates an intake service. maxSize uses human-readable sizes such
// as "20MB" and defaults to DefaultMaxUploadSize.
func NewService(artifacts storage.ArtifactStore, documents DocumentStore, queue Enqueuer, maxSize string, logger *zap.Logger) (*Service, error) {
	if maxSize == "" {
		maxSize = DefaultMaxUploadSize
	}
	limit, err := units.RAMInBytes(maxSize)
	if err != nil {
		return nil, fmt.Errorf("invalid max upload size %q: %w", maxSize, err)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("max upload size must be positive, got %q", maxSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		artifacts: artifacts,
		documents: documents,
		queue:     queue,
		maxSize:   limit,
		logger:    logger.With(zap.String("system", "intake")),
	}, nil
}

// MaxSize returns the upload limit in bytes.
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Submit stores the artifact, creates the processing row and enqueues the
// first job, in that order. When enqueueing fails the created document is
// returned together with an ErrEnqueueFailed error.
func (s *Service) Submit(ctx context.Context, u Upload) (*types.Document, error) {
	if u.OwnerID == uuid.Nil {
		return nil, ErrMissingOwner
	}
	if !u.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, u.Kind)
	}
	if len(u.Data) == 0 {
		return nil, ErrEmptyUpload
	}
	if int64(len(u.Data)) > s.maxSize {
		return nil, fmt.Errorf("%w: %s is larger than %s", ErrTooLarge,
			units.BytesSize(float64(len(u.Data))), units.BytesSize(float64(s.maxSize)))
	}

	mediaType := quality.DetectMediaType(u.Data, u.MediaType)
	if !supportedMediaTypes[mediaType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}

	doc := &types.Document{
		ID:        uuid.New(),
		OwnerID:   u.OwnerID,
		Kind:      u.Kind,
		MediaType: mediaType,
		Status:    types.StatusProcessing,
	}
	doc.ArtifactRef = storage.ArtifactRef(u.OwnerID, doc.ID, filename(u.Filename, mediaType))

	log := s.logger.With(
		zap.String("document_id", doc.ID.String()),
		zap.String("owner_id", u.OwnerID.String()),
		zap.String("kind", string(u.Kind)))

	if err := s.artifacts.Put(ctx, doc.ArtifactRef, u.Data, mediaType); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	if err := s.documents.CreateDocument(ctx, doc); err != nil {
		if delErr := s.artifacts.Delete(context.WithoutCancel(ctx), doc.ArtifactRef); delErr != nil {
			log.Warn("failed to remove orphaned artifact", zap.String("artifact_ref", doc.ArtifactRef), zap.Error(delErr))
		}
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, types.NewProcessingJob(doc)); err != nil {
		log.Error("document created but not enqueued", zap.Error(err))
		return doc, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	log.Info("document submitted",
		zap.String("media_type", mediaType),
		zap.String("size", units.BytesSize(float64(len(u.Data)))))
	return doc, nil
}

// Requeue queues a fresh first attempt for a document still in processing,
// typically after its previous job exhausted its retries.
func (s *Service) Requeue(ctx context.Context, documentID uuid.UUID) (*types.Document, error) {
	doc, err := s.documents.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrDocumentNotFound
	}
	if doc.Status != types.StatusProcessing {
		return nil, fmt.Errorf("%w: status is %s", ErrNotProcessing, doc.Status)
	}

	if err := s.documents.TouchDocument(ctx, doc.ID); err != nil {
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, types.NewProcessingJob(doc)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	s.logger.Info("document requeued", zap.String("document_id", doc.ID.String()))
	return doc, nil
}

var extensions = map[string]string{
	"application/pdf": ".pdf",
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/gif":       ".gif",
	"image/webp":      ".webp",
	"image/bmp":       ".bmp",
	"image/tiff":      ".tiff",
}

func filename(name, mediaType string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	return "artifact" + extensions[mediaType]
}
