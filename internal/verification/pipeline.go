// Package verification drives one document through quality gating, field
// extraction, validation and the decision tree, then persists and announces
// the verdict.
package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/decision"
	"github.com/jonathan/onboarding-verifier/internal/extraction"
	"github.com/jonathan/onboarding-verifier/internal/notify"
	"github.com/jonathan/onboarding-verifier/internal/quality"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/jonathan/onboarding-verifier/internal/validation"
	"go.uber.org/zap"
)

// ProcessingFailedNote is stored when analysis fails for reasons other than infrastructure.
const ProcessingFailedNote = "processing failed — requires manual review"

// ArtifactSource reads uploaded artifact bytes.
type ArtifactSource interface {
	Get(ctx context.Context, ref string) ([]byte, error)
}

// FieldValidator checks extracted fields against the rules for a kind.
type FieldValidator interface {
	Validate(kind types.DocumentKind, fields map[string]string) (validation.Result, error)
}

// VerdictStore persists verdicts on document rows.
type VerdictStore interface {
	SaveVerdict(ctx context.Context, v types.VerdictUpdate) (types.SaveResult, error)
}

// ProgressTracker is told when a document becomes verified so dependent onboarding tasks can unlock.
type ProgressTracker interface {
	DocumentVerified(ctx context.Context, ownerID, documentID uuid.UUID, kind types.DocumentKind) error
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Artifacts  ArtifactSource
	Gate       quality.Gate
	Extractor  extraction.Extractor
	Validator  FieldValidator
	Documents  VerdictStore
	Notifier   notify.Notifier
	Progress   ProgressTracker
	Thresholds decision.Thresholds
	Logger     *zap.Logger
	Clock      func() time.Time
}

// Pipeline processes ProcessingJobs.
type Pipeline struct {
	artifacts  ArtifactSource
	gate       quality.Gate
	extractor  extraction.Extractor
	validator  FieldValidator
	documents  VerdictStore
	notifier   notify.Notifier
	progress   ProgressTracker
	thresholds decision.Thresholds
	logger     *zap.Logger
	now        func() time.Time
}

// New validates deps and builds a pipeline. Notifier and Progress are optional.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Artifacts == nil:
		return nil, errors.New("verification pipeline requires an artifact source")
	case deps.Gate == nil:
		return nil, errors.New("verification pipeline requires a quality gate")
	case deps.Extractor == nil:
		return nil, errors.New("verification pipeline requires an extractor")
	case deps.Validator == nil:
		return nil, errors.New("verification pipeline requires a validator")
	case deps.Documents == nil:
		return nil, errors.New("verification pipeline requires a verdict store")
	}

	thresholds := deps.Thresholds
	if thresholds == (decision.Thresholds{}) {
		thresholds = decision.DefaultThresholds()
	}
	if err := thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("system", "verification"))

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	return &Pipeline{
		artifacts:  deps.Artifacts,
		gate:       deps.Gate,
		extractor:  deps.Extractor,
		validator:  deps.Validator,
		documents:  deps.Documents,
		notifier:   notify.Safe(deps.Notifier, logger),
		progress:   deps.Progress,
		thresholds: thresholds,
		logger:     logger,
		now:        now,
	}, nil
}

// Handle runs Process and keeps only the error, for use as a queue handler.
func (p *Pipeline) Handle(ctx context.Context, job types.ProcessingJob) error {
	_, err := p.Process(ctx, job)
	return err
}

// Process runs one attempt for job. A nil error means the job is done and
// can be acknowledged, whichever verdict was reached. Errors are either
// *InfraError (retry) or *InvalidJobError (do not retry).
func (p *Pipeline) Process(ctx context.Context, job types.ProcessingJob) (*Outcome, error) {
	if err := job.Validate(); err != nil {
		return nil, &InvalidJobError{Cause: err}
	}

	log := p.logger.With(
		zap.String("document_id", job.DocumentID.String()),
		zap.String("kind", string(job.Kind)),
		zap.Int("attempt", job.Attempt))

	data, err := p.artifacts.Get(ctx, job.ArtifactRef)
	if err != nil {
		return nil, &InfraError{Stage: StageFetch, Message: fmt.Sprintf("failed to fetch artifact %q", job.ArtifactRef), Cause: err}
	}

	mediaType := quality.DetectMediaType(data, job.MediaType)

	report := p.gate.Assess(ctx, data, mediaType)
	meta := artifactMetadata(data, mediaType, report)
	log.Debug("quality assessed",
		zap.Int("quality_score", report.QualityScore),
		zap.Bool("degraded", report.Degraded),
		zap.Strings("issues", report.Issues()))

	outcome := &Outcome{DocumentID: job.DocumentID, Quality: report}
	update := types.VerdictUpdate{
		DocumentID: job.DocumentID,
		Extraction: &types.ExtractionRecord{Fields: map[string]string{}, Artifact: meta},
		Findings:   []types.Finding{},
	}

	if decision.IsPoorQuality(report.QualityScore, p.thresholds) {
		verdict := decision.PoorQuality(report.QualityScore)
		confidence := float64(report.QualityScore) / 100
		update.Status = verdict.Status
		update.Confidence = &confidence
		update.Note = verdict.Note
		outcome.EarlyExit = true
	} else {
		a, err := p.analyze(ctx, job, data, mediaType, report)
		switch {
		case err == nil:
			update.Status = a.verdict.Status
			update.Confidence = &a.extraction.Confidence
			update.Note = a.verdict.Note
			update.Findings = a.validation.Findings
			update.Extraction.Fields = a.extraction.Fields
			update.Extraction.RawText = a.extraction.RawText
		case ctx.Err() != nil || isCancellation(err):
			return nil, &InfraError{Stage: StageAnalyze, Message: "analysis interrupted", Cause: err}
		default:
			log.Warn("analysis failed; sending document to review", zap.Error(err))
			update.Status = types.StatusNeedsReview
			update.Note = ProcessingFailedNote
			outcome.AnalysisFailed = true
		}
	}

	if update.Status == types.StatusVerified {
		verifiedAt := p.now().UTC()
		update.VerifiedAt = &verifiedAt
	}

	if err := ctx.Err(); err != nil {
		return nil, &InfraError{Stage: StagePersist, Message: "cancelled before persisting verdict", Cause: err}
	}

	result, err := p.documents.SaveVerdict(ctx, update)
	if err != nil {
		return nil, &InfraError{Stage: StagePersist, Message: "failed to persist verdict", Cause: err}
	}

	outcome.Status = update.Status
	outcome.Confidence = update.Confidence
	outcome.Note = update.Note
	outcome.Findings = update.Findings
	outcome.Save = result

	switch result {
	case types.SaveSkippedReviewed:
		log.Info("document already reviewed; verdict discarded", zap.String("status", string(update.Status)))
		return outcome, nil
	case types.SaveSkippedMissing:
		log.Warn("document row missing; verdict discarded", zap.String("status", string(update.Status)))
		return outcome, nil
	}

	log.Info("verdict persisted",
		zap.String("status", string(update.Status)),
		zap.Int("quality_score", report.QualityScore),
		zap.Int("findings", len(update.Findings)))

	// The verdict is durable now; later steps must not be cut short by the job context.
	after := context.WithoutCancel(ctx)

	if update.Status == types.StatusVerified && p.progress != nil {
		if err := p.progress.DocumentVerified(after, job.OwnerID, job.DocumentID, job.Kind); err != nil {
			log.Warn("failed to record onboarding progress", zap.Error(err))
		}
	}

	p.announce(after, job, update)
	return outcome, nil
}

type analysis struct {
	extraction *extraction.Result
	validation validation.Result
	verdict    decision.Verdict
}

// analyze runs extraction, validation and the decision tree as one unit.
// Panics surface as errors.
func (p *Pipeline) analyze(ctx context.Context, job types.ProcessingJob, data []byte, mediaType string, report quality.Report) (a *analysis, err error) {
	defer func() {
		if r := recover(); r != nil {
			a = nil
			err = fmt.Errorf("analysis panicked: %v", r)
		}
	}()

	extracted, err := p.extractor.Extract(ctx, data, mediaType, job.Kind)
	if err != nil {
		return nil, err
	}
	if extracted == nil {
		return nil, errors.New("extractor returned no result")
	}

	result, err := p.validator.Validate(job.Kind, extracted.Fields)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	verdict := decision.Decide(report.QualityScore, extracted.Confidence, result.Decision(), p.thresholds)
	return &analysis{extraction: extracted, validation: result, verdict: verdict}, nil
}

func (p *Pipeline) announce(ctx context.Context, job types.ProcessingJob, update types.VerdictUpdate) {
	msg := MessageFor(update.Status, job.Kind, update.Note)
	_ = p.notifier.Notify(ctx, notify.Notification{
		UserID:     job.OwnerID,
		Audience:   notify.AudienceUser,
		Kind:       msg.Kind,
		Message:    msg.Text,
		Priority:   msg.Priority,
		DocumentID: job.DocumentID,
	})

	if update.Status == types.StatusNeedsReview {
		_ = p.notifier.Notify(ctx, notify.Notification{
			Audience:   notify.AudienceOperators,
			Kind:       KindReviewRequired,
			Message:    fmt.Sprintf("%s document %s needs review: %s", job.Kind, job.DocumentID, update.Note),
			Priority:   notify.PriorityNormal,
			DocumentID: job.DocumentID,
		})
	}
}

func artifactMetadata(data []byte, mediaType string, report quality.Report) types.ArtifactMetadata {
	sum := sha256.Sum256(data)
	return types.ArtifactMetadata{
		MediaType:    mediaType,
		SizeBytes:    len(data),
		SHA256:       hex.EncodeToString(sum[:]),
		Pages:        report.Pages,
		QualityScore: report.QualityScore,
	}
}
