package intake

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/queue"
	"github.com/jonathan/onboarding-verifier/internal/storage"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDocuments struct {
	steps     *[]string
	docs      map[uuid.UUID]*types.Document
	createErr error
	touched   []uuid.UUID
}

func (s *stubDocuments) CreateDocument(ctx context.Context, doc *types.Document) error {
	*s.steps = append(*s.steps, "create")
	if s.createErr != nil {
		return s.createErr
	}
	copied := *doc
	s.docs[doc.ID] = &copied
	return nil
}

func (s *stubDocuments) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	return s.docs[id], nil
}

func (s *stubDocuments) TouchDocument(ctx context.Context, id uuid.UUID) error {
	s.touched = append(s.touched, id)
	return nil
}

type recordingQueue struct {
	steps *[]string
	jobs  []types.ProcessingJob
	err   error
}

func (q *recordingQueue) Enqueue(ctx context.Context, job types.ProcessingJob) error {
	*q.steps = append(*q.steps, "enqueue")
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

type fixture struct {
	steps     []string
	artifacts *storage.FilesystemStore
	documents *stubDocuments
	queue     *recordingQueue
	service   *Service
}

func newFixture(t *testing.T, maxSize string) *fixture {
	t.Helper()
	f := &fixture{}
	store, err := storage.NewFilesystemStore(t.TempDir(), 0, nil)
	require.NoError(t, err)
	f.artifacts = store
	f.documents = &stubDocuments{steps: &f.steps, docs: map[uuid.UUID]*types.Document{}}
	f.queue = &recordingQueue{steps: &f.steps}
	f.service, err = NewService(store, f.documents, f.queue, maxSize, nil)
	require.NoError(t, err)
	return f
}

func TestSubmit_StoresCreatesThenEnqueues(t *testing.T) {
	f := newFixture(t, "")
	owner := uuid.New()
	data := pngBytes(t)

	doc, err := f.service.Submit(context.Background(), Upload{OwnerID: owner, Kind: types.KindPhoto, Filename: "me.png", Data: data})
	require.NoError(t, err)

	assert.Equal(t, types.StatusProcessing, doc.Status)
	assert.Equal(t, "image/png", doc.MediaType)
	assert.Equal(t, storage.ArtifactRef(owner, doc.ID, "me.png"), doc.ArtifactRef)
	assert.Equal(t, []string{"create", "enqueue"}, f.steps)

	stored, err := f.artifacts.Get(context.Background(), doc.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	require.Len(t, f.queue.jobs, 1)
	job := f.queue.jobs[0]
	assert.Equal(t, doc.ID, job.DocumentID)
	assert.Equal(t, owner, job.OwnerID)
	assert.Equal(t, types.KindPhoto, job.Kind)
	assert.Equal(t, doc.ArtifactRef, job.ArtifactRef)
	assert.Equal(t, 1, job.Attempt)
	assert.NoError(t, job.Validate())
}

func TestSubmit_DefaultFilenameFromMediaType(t *testing.T) {
	f := newFixture(t, "")
	doc, err := f.service.Submit(context.Background(), Upload{OwnerID: uuid.New(), Kind: types.KindFeeReceipt, MediaType: "application/pdf", Data: []byte("%PDF-1.7\n")})
	require.NoError(t, err)
	assert.Contains(t, doc.ArtifactRef, "/artifact.pdf")
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t, "1KB")
	assert.Equal(t, int64(1024), f.service.MaxSize())
	owner := uuid.New()

	_, err := f.service.Submit(context.Background(), Upload{OwnerID: owner, Kind: types.KindPhoto})
	assert.ErrorIs(t, err, ErrEmptyUpload)

	_, err = f.service.Submit(context.Background(), Upload{OwnerID: owner, Kind: types.KindPhoto, Data: make([]byte, 2048)})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = f.service.Submit(context.Background(), Upload{OwnerID: owner, Kind: types.KindPhoto, Data: []byte("hello world")})
	assert.ErrorIs(t, err, ErrUnsupportedMediaType)

	_, err = f.service.Submit(context.Background(), Upload{OwnerID: owner, Kind: types.DocumentKind("diploma"), Data: pngBytes(t)})
	assert.Error(t, err)

	_, err = f.service.Submit(context.Background(), Upload{Kind: types.KindPhoto, Data: pngBytes(t)})
	assert.Error(t, err)

	assert.Empty(t, f.steps)
}

func TestSubmit_CreateFailureNeverEnqueues(t *testing.T) {
	f := newFixture(t, "")
	f.documents.createErr = errors.New("unique violation")

	_, err := f.service.Submit(context.Background(), Upload{OwnerID: uuid.New(), Kind: types.KindPhoto, Filename: "me.png", Data: pngBytes(t)})
	require.Error(t, err)
	assert.Equal(t, []string{"create"}, f.steps)
	assert.Empty(t, f.queue.jobs)
}

func TestSubmit_EnqueueFailureReturnsDocument(t *testing.T) {
	f := newFixture(t, "")
	f.queue.err = queue.ErrClosed

	doc, err := f.service.Submit(context.Background(), Upload{OwnerID: uuid.New(), Kind: types.KindPhoto, Data: pngBytes(t)})
	assert.ErrorIs(t, err, ErrEnqueueFailed)
	require.NotNil(t, doc)
	assert.Contains(t, f.documents.docs, doc.ID)
}

func TestRequeue(t *testing.T) {
	f := newFixture(t, "")
	doc, err := f.service.Submit(context.Background(), Upload{OwnerID: uuid.New(), Kind: types.KindPhoto, Data: pngBytes(t)})
	require.NoError(t, err)

	again, err := f.service.Requeue(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, again.ID)
	assert.Equal(t, []uuid.UUID{doc.ID}, f.documents.touched)
	require.Len(t, f.queue.jobs, 2)
	assert.Equal(t, 1, f.queue.jobs[1].Attempt)

	f.documents.docs[doc.ID].Status = types.StatusVerified
	_, err = f.service.Requeue(context.Background(), doc.ID)
	assert.ErrorIs(t, err, ErrNotProcessing)

	_, err = f.service.Requeue(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestNewService_InvalidSize(t *testing.T) {
	_, err := NewService(nil, nil, nil, "lots", nil)
	assert.Error(t, err)
}
