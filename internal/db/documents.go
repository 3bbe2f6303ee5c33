package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jonathan/onboarding-verifier/internal/types"
)

// -----------------------------------------------------------------------------
// Document Methods
// -----------------------------------------------------------------------------

const documentColumns = `id, owner_id, document_kind, artifact_ref, media_type, status,
        confidence, extracted_fields, validation_findings, review_note,
        reviewed_by, reviewed_at, uploaded_at, verified_at, updated_at`

// CreateDocument inserts a new document in processing status.
// The caller assigns doc.ID; timestamps are filled in from the database.
func (db *DB) CreateDocument(ctx context.Context, doc *types.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.Status = types.StatusProcessing

	err := db.pool.QueryRow(ctx,
		`INSERT INTO documents (id, owner_id, document_kind, artifact_ref, media_type, status)
		 VALUES ($1, $2, $3, $4, $5, 'processing')
		 RETURNING uploaded_at, updated_at`,
		doc.ID, doc.OwnerID, string(doc.Kind), doc.ArtifactRef, doc.MediaType,
	).Scan(&doc.UploadedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID, returning nil if it does not exist
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	doc, err := scanDocument(db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListDocumentsByOwner returns a user's documents, newest first
func (db *DB) ListDocumentsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]types.Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE owner_id = $1 ORDER BY uploaded_at DESC LIMIT $2`,
		ownerID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return collectDocuments(rows)
}

// ListDocumentsByStatus returns documents in a status, oldest update first
func (db *DB) ListDocumentsByStatus(ctx context.Context, status types.Status, limit int) ([]types.Document, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE status = $1 ORDER BY updated_at ASC LIMIT $2`,
		string(status), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s documents: %w", status, err)
	}
	return collectDocuments(rows)
}

// ListStuckDocuments returns documents still processing after olderThan has elapsed since their last update
func (db *DB) ListStuckDocuments(ctx context.Context, olderThan time.Duration, limit int) ([]types.Document, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := db.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE status = 'processing' AND updated_at < $1
		 ORDER BY updated_at ASC LIMIT $2`,
		cutoff, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list stuck documents: %w", err)
	}
	return collectDocuments(rows)
}

// TouchDocument bumps updated_at, used when a processing document is requeued
func (db *DB) TouchDocument(ctx context.Context, id uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE documents SET updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to touch document: %w", err)
	}
	return nil
}

// SaveVerdict writes an automated verdict. Rows a reviewer has already decided are never overwritten;
// rewriting an automated verdict with the same inputs is a no-op in effect.
func (db *DB) SaveVerdict(ctx context.Context, v types.VerdictUpdate) (types.SaveResult, error) {
	extractionJSON, err := marshalExtraction(v.Extraction)
	if err != nil {
		return "", err
	}
	findingsJSON, err := marshalFindings(v.Findings)
	if err != nil {
		return "", err
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE documents
		 SET status = $2, confidence = $3, extracted_fields = $4, validation_findings = $5,
		     review_note = $6, verified_at = $7, updated_at = NOW()
		 WHERE id = $1 AND reviewed_at IS NULL`,
		v.DocumentID, string(v.Status), v.Confidence, extractionJSON, findingsJSON, v.Note, v.VerifiedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to save verdict: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return types.SaveApplied, nil
	}

	var reviewed bool
	err = db.pool.QueryRow(ctx,
		`SELECT reviewed_at IS NOT NULL FROM documents WHERE id = $1`, v.DocumentID,
	).Scan(&reviewed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.SaveSkippedMissing, nil
		}
		return "", fmt.Errorf("failed to check document after verdict: %w", err)
	}
	if reviewed {
		return types.SaveSkippedReviewed, nil
	}
	// the row exists and is unreviewed, so a concurrent write raced us; retrying is safe
	return "", fmt.Errorf("verdict for document %s was not applied", v.DocumentID)
}

// ApplyReview moves a needs_review document to the reviewer's status in one conditional update.
// Verifying resolves every finding and sets confidence to 1.0 when none was computed.
// It returns nil when the document is missing or no longer awaiting review.
func (db *DB) ApplyReview(ctx context.Context, r ReviewUpdate) (*types.Document, error) {
	doc, err := scanDocument(db.pool.QueryRow(ctx,
		`UPDATE documents
		 SET status = $2,
		     review_note = $3,
		     reviewed_by = $4,
		     reviewed_at = $5,
		     updated_at = $5,
		     verified_at = CASE WHEN $2 = 'verified' THEN $5 ELSE verified_at END,
		     confidence = CASE WHEN $2 = 'verified' THEN COALESCE(confidence, 1.0) ELSE confidence END,
		     validation_findings = CASE WHEN $2 = 'verified' THEN (
		         SELECT COALESCE(jsonb_agg(f || '{"resolved": true}'::jsonb), '[]'::jsonb)
		         FROM jsonb_array_elements(validation_findings) AS f
		     ) ELSE validation_findings END
		 WHERE id = $1 AND status = 'needs_review'
		 RETURNING `+documentColumns,
		r.DocumentID, string(r.Status), r.Note, r.ReviewerID, r.ReviewedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to apply review: %w", err)
	}
	return doc, nil
}

func scanDocument(row pgx.Row) (*types.Document, error) {
	var d types.Document
	var kind, status string
	var extractionJSON, findingsJSON []byte

	err := row.Scan(&d.ID, &d.OwnerID, &kind, &d.ArtifactRef, &d.MediaType, &status,
		&d.Confidence, &extractionJSON, &findingsJSON, &d.ReviewNote,
		&d.ReviewedBy, &d.ReviewedAt, &d.UploadedAt, &d.VerifiedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}

	d.Kind = types.DocumentKind(kind)
	d.Status = types.Status(status)
	if d.ExtractedFields, err = unmarshalExtraction(extractionJSON); err != nil {
		return nil, err
	}
	if d.ValidationFindings, err = unmarshalFindings(findingsJSON); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDocuments(rows pgx.Rows) ([]types.Document, error) {
	defer rows.Close()

	var docs []types.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate documents: %w", err)
	}
	return docs, nil
}

func marshalExtraction(rec *types.ExtractionRecord) ([]byte, error) {
	if rec == nil {
		return nil, nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extracted fields: %w", err)
	}
	return data, nil
}

func unmarshalExtraction(data []byte) (*types.ExtractionRecord, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rec types.ExtractionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse extracted fields: %w", err)
	}
	return &rec, nil
}

func marshalFindings(findings []types.Finding) ([]byte, error) {
	if findings == nil {
		findings = []types.Finding{}
	}
	data, err := json.Marshal(findings)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal findings: %w", err)
	}
	return data, nil
}

func unmarshalFindings(data []byte) ([]types.Finding, error) {
	findings := []types.Finding{}
	if len(data) == 0 {
		return findings, nil
	}
	if err := json.Unmarshal(data, &findings); err != nil {
		return nil, fmt.Errorf("failed to parse findings: %w", err)
	}
	return findings, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
