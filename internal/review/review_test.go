package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/db"
	"github.com/jonathan/onboarding-verifier/internal/notify"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/jonathan/onboarding-verifier/internal/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore applies reviews the way the conditional UPDATE does.
type memoryStore struct {
	docs    map[uuid.UUID]*types.Document
	applied []db.ReviewUpdate
	err     error
}

func newMemoryStore(docs ...*types.Document) *memoryStore {
	s := &memoryStore{docs: map[uuid.UUID]*types.Document{}}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s
}

func (s *memoryStore) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.docs[id], nil
}

func (s *memoryStore) ApplyReview(ctx context.Context, r db.ReviewUpdate) (*types.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	d, ok := s.docs[r.DocumentID]
	if !ok || d.Status != types.StatusNeedsReview {
		return nil, nil
	}
	s.applied = append(s.applied, r)
	d.Status = r.Status
	d.ReviewNote = r.Note
	d.ReviewedBy = &r.ReviewerID
	d.ReviewedAt = &r.ReviewedAt
	if r.Status == types.StatusVerified {
		d.VerifiedAt = &r.ReviewedAt
		if d.Confidence == nil {
			one := 1.0
			d.Confidence = &one
		}
		for i := range d.ValidationFindings {
			d.ValidationFindings[i].Resolved = true
		}
	}
	copied := *d
	return &copied, nil
}

func (s *memoryStore) ListDocumentsByStatus(ctx context.Context, status types.Status, limit int) ([]types.Document, error) {
	var out []types.Document
	for _, d := range s.docs {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

type stubProgress struct {
	calls []uuid.UUID
}

func (p *stubProgress) DocumentVerified(ctx context.Context, ownerID, documentID uuid.UUID, kind types.DocumentKind) error {
	p.calls = append(p.calls, documentID)
	return errors.New("ignored")
}

func pendingDocument() *types.Document {
	return &types.Document{
		ID:      uuid.New(),
		OwnerID: uuid.New(),
		Kind:    types.KindTranscript12,
		Status:  types.StatusNeedsReview,
		ValidationFindings: []types.Finding{
			{Field: "name", Severity: types.SeverityError, Message: "name is missing"},
			{Field: "marks", Severity: types.SeverityWarning, Message: "marks is missing"},
		},
		ReviewNote: verification.ProcessingFailedNote,
	}
}

func newService(store Store) (*Service, *stubProgress, *[]notify.Notification) {
	progress := &stubProgress{}
	var sent []notify.Notification
	n := notify.NotifierFunc(func(ctx context.Context, note notify.Notification) error {
		sent = append(sent, note)
		return nil
	})
	s := NewService(store, progress, n, nil)
	s.now = func() time.Time { return time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC) }
	return s, progress, &sent
}

func TestOverride_VerifyResolvesFindingsAndSetsConfidence(t *testing.T) {
	doc := pendingDocument()
	store := newMemoryStore(doc)
	s, progress, sent := newService(store)
	reviewer := uuid.New()

	got, err := s.Override(context.Background(), doc.ID, types.StatusVerified, "  Checked against the original.  ", reviewer)
	require.NoError(t, err)

	assert.Equal(t, types.StatusVerified, got.Status)
	assert.Equal(t, "Checked against the original.", got.ReviewNote)
	require.NotNil(t, got.ReviewedBy)
	assert.Equal(t, reviewer, *got.ReviewedBy)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 1.0, *got.Confidence)
	assert.False(t, got.HasUnresolvedErrors())
	assert.NoError(t, got.CheckInvariants())

	assert.Equal(t, []uuid.UUID{doc.ID}, progress.calls)
	require.Len(t, *sent, 1)
	assert.Equal(t, verification.KindDocumentVerified, (*sent)[0].Kind)
	assert.Equal(t, doc.OwnerID, (*sent)[0].UserID)
}

func TestOverride_Reject(t *testing.T) {
	doc := pendingDocument()
	s, progress, sent := newService(newMemoryStore(doc))

	got, err := s.Override(context.Background(), doc.ID, types.StatusRejected, "", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, got.Status)
	assert.Equal(t, "Rejected by reviewer.", got.ReviewNote)
	assert.Nil(t, got.VerifiedAt)
	assert.Empty(t, progress.calls)
	require.Len(t, *sent, 1)
	assert.Equal(t, verification.KindDocumentRejected, (*sent)[0].Kind)
}

func TestOverride_InvalidTransition(t *testing.T) {
	doc := pendingDocument()
	store := newMemoryStore(doc)
	s, _, _ := newService(store)

	for _, status := range []types.Status{types.StatusProcessing, types.StatusNeedsReview, types.Status("approved")} {
		_, err := s.Override(context.Background(), doc.ID, status, "", uuid.New())
		assert.ErrorIs(t, err, ErrInvalidTransition, "status %s", status)
	}
	assert.Empty(t, store.applied)
}

func TestOverride_NotReviewable(t *testing.T) {
	for _, status := range []types.Status{types.StatusProcessing, types.StatusVerified, types.StatusRejected} {
		doc := pendingDocument()
		doc.Status = status
		s, _, sent := newService(newMemoryStore(doc))

		_, err := s.Override(context.Background(), doc.ID, types.StatusVerified, "", uuid.New())
		assert.ErrorIs(t, err, ErrNotReviewable, "status %s", status)
		assert.Empty(t, *sent)
	}
}

func TestOverride_SecondReviewLoses(t *testing.T) {
	doc := pendingDocument()
	s, _, _ := newService(newMemoryStore(doc))

	_, err := s.Override(context.Background(), doc.ID, types.StatusRejected, "first", uuid.New())
	require.NoError(t, err)
	_, err = s.Override(context.Background(), doc.ID, types.StatusVerified, "second", uuid.New())
	assert.ErrorIs(t, err, ErrNotReviewable)
	assert.Equal(t, types.StatusRejected, doc.Status)
}

func TestOverride_DocumentNotFound(t *testing.T) {
	s, _, _ := newService(newMemoryStore())
	_, err := s.Override(context.Background(), uuid.New(), types.StatusVerified, "", uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestOverride_StoreError(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("connection refused")
	s, _, _ := newService(store)
	_, err := s.Override(context.Background(), uuid.New(), types.StatusVerified, "", uuid.New())
	assert.EqualError(t, err, "connection refused")
}

func TestListPending(t *testing.T) {
	pending := pendingDocument()
	done := pendingDocument()
	done.Status = types.StatusVerified
	s, _, _ := newService(newMemoryStore(pending, done))

	docs, err := s.ListPending(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, pending.ID, docs[0].ID)
	assert.Equal(t, verification.ProcessingFailedNote, docs[0].ReviewNote)
	assert.Len(t, docs[0].ValidationFindings, 2)
}
