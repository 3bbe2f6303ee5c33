package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/intake"
	"github.com/jonathan/onboarding-verifier/internal/server/middleware"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"go.uber.org/zap"
)

// multipartOverhead covers form fields and boundaries around the file part.
const multipartOverhead = 1 << 20

// handleSubmitDocument accepts a multipart upload with a "file" part and a "kind" field.
// The owner is always the authenticated caller.
func (s *Server) handleSubmitDocument(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			s.fail(w, r, err)
			return
		}
		s.fail(w, r, &ErrValidation{Field: "body", Message: "expected multipart/form-data"})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	kind, err := types.ParseDocumentKind(r.FormValue("kind"))
	if err != nil {
		s.fail(w, r, &ErrValidation{Field: "kind", Message: err.Error()})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, &ErrValidation{Field: "file", Message: "required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadSize+1))
	if err != nil {
		s.fail(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	doc, err := s.deps.Intake.Submit(r.Context(), intake.Upload{
		OwnerID:   p.UserID,
		Kind:      kind,
		MediaType: header.Header.Get("Content-Type"),
		Filename:  header.Filename,
		Data:      data,
	})
	if err != nil {
		if doc != nil && errors.Is(err, intake.ErrEnqueueFailed) {
			// the row exists in processing; operators recover it with requeue
			s.logger.Error("upload accepted without a queued job",
				zap.String("document_id", doc.ID.String()), zap.Error(err))
			s.jsonResponse(w, http.StatusAccepted, doc)
			return
		}
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, doc)
}

// handleGetDocument returns a document to its owner or an admin. Other callers get 404.
func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, &ErrValidation{Field: "id", Message: "must be a uuid"})
		return
	}

	doc, err := s.deps.Documents.GetDocument(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if doc == nil || (doc.OwnerID != p.UserID && !p.IsAdmin()) {
		s.errorResponse(w, http.StatusNotFound, "document not found")
		return
	}
	s.jsonResponse(w, http.StatusOK, doc)
}

// handleListDocuments returns the caller's own documents, newest first.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	limit, err := parseLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	docs, err := s.deps.Documents.ListDocumentsByOwner(r.Context(), p.UserID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []types.Document{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// handleListReviews returns the needs_review queue, oldest first.
func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	docs, err := s.deps.Reviews.ListPending(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if docs == nil {
		docs = []types.Document{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"documents": docs, "count": len(docs)})
}

// parseLimit reads the optional ?limit query parameter. Zero means the store default.
func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, &ErrValidation{Field: "limit", Message: "must be a positive integer"}
	}
	return n, nil
}

type overrideRequest struct {
	Status string `json:"status" validate:"required,oneof=verified rejected"`
	Note   string `json:"note" validate:"max=2000"`
}

// handleOverride applies a reviewer decision to a needs_review document.
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.GetPrincipal(r)

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, &ErrValidation{Field: "id", Message: "must be a uuid"})
		return
	}

	var req overrideRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.fail(w, r, &ErrValidation{Field: "body", Message: "invalid JSON"})
		return
	}
	if err := s.validator.Struct(req); err != nil {
		s.fail(w, r, validationError(err))
		return
	}

	doc, err := s.deps.Reviews.Override(r.Context(), id, types.Status(req.Status), req.Note, p.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, doc)
}
