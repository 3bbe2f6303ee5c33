package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/intake"
	"github.com/jonathan/onboarding-verifier/internal/queue"
	"github.com/jonathan/onboarding-verifier/internal/review"
	"github.com/jonathan/onboarding-verifier/internal/server/middleware"
	"github.com/jonathan/onboarding-verifier/internal/server/ratelimit"
	"github.com/jonathan/onboarding-verifier/internal/storage"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryDocuments is an in-memory intake.DocumentStore and DocumentReader.
type memoryDocuments struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*types.Document
	err  error
}

func newMemoryDocuments() *memoryDocuments {
	return &memoryDocuments{docs: map[uuid.UUID]*types.Document{}}
}

func (m *memoryDocuments) CreateDocument(_ context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.Status = types.StatusProcessing
	doc.UploadedAt = time.Now()
	doc.UpdatedAt = doc.UploadedAt
	d := *doc
	m.docs[doc.ID] = &d
	return nil
}

func (m *memoryDocuments) GetDocument(_ context.Context, id uuid.UUID) (*types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	d, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	c := *d
	return &c, nil
}

func (m *memoryDocuments) ListDocumentsByOwner(_ context.Context, ownerID uuid.UUID, limit int) ([]types.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var docs []types.Document
	for _, d := range m.docs {
		if d.OwnerID == ownerID {
			docs = append(docs, *d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (m *memoryDocuments) TouchDocument(context.Context, uuid.UUID) error { return nil }

type stubReviews struct {
	OverrideFunc    func(ctx context.Context, id uuid.UUID, status types.Status, note string, reviewer uuid.UUID) (*types.Document, error)
	ListPendingFunc func(ctx context.Context, limit int) ([]types.Document, error)
}

func (s *stubReviews) Override(ctx context.Context, id uuid.UUID, status types.Status, note string, reviewer uuid.UUID) (*types.Document, error) {
	return s.OverrideFunc(ctx, id, status, note, reviewer)
}

func (s *stubReviews) ListPending(ctx context.Context, limit int) ([]types.Document, error) {
	return s.ListPendingFunc(ctx, limit)
}

type testEnv struct {
	handler   http.Handler
	documents *memoryDocuments
	queue     *queue.MemoryQueue
	reviews   *stubReviews
	jwt       *JWTService
	health    error
}

func setupTestServer(t *testing.T, limiter *ratelimit.Limiter) *testEnv {
	t.Helper()
	artifacts, err := storage.NewFilesystemStore(t.TempDir(), 0, nil)
	require.NoError(t, err)

	env := &testEnv{
		documents: newMemoryDocuments(),
		queue:     queue.NewMemoryQueue(),
		reviews:   &stubReviews{},
		jwt:       setupTestJWTService(t, 24),
	}
	t.Cleanup(func() { _ = env.queue.Close() })

	svc, err := intake.NewService(artifacts, env.documents, env.queue, "1KB", nil)
	require.NoError(t, err)

	srv, err := New(Config{Port: 0, MaxUploadSize: svc.MaxSize()}, Deps{
		Intake:    svc,
		Documents: env.documents,
		Reviews:   env.reviews,
		Tokens:    env.jwt.AsTokenValidator(),
		Limiter:   limiter,
		Health:    func(context.Context) error { return env.health },
	})
	require.NoError(t, err)
	env.handler = srv.Handler()
	return env
}

func (e *testEnv) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, err := e.jwt.GenerateToken(userID, role)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, kind string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if kind != "" {
		require.NoError(t, mw.WriteField("kind", kind))
	}
	if data != nil {
		part, err := mw.CreateFormFile("file", "id-card.pdf")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\n")

func TestHealth(t *testing.T) {
	env := setupTestServer(t, nil)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, w)["status"])

	env.health = errors.New("database down")
	w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmitDocument_CreatesAndEnqueues(t *testing.T) {
	env := setupTestServer(t, nil)
	owner := uuid.New()

	w := env.do(uploadRequest(t, "identity_proof", pdfBytes), env.token(t, owner, middleware.RoleStudent))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	doc := decode[types.Document](t, w)
	assert.Equal(t, owner, doc.OwnerID, "owner comes from the token")
	assert.Equal(t, types.KindIdentityProof, doc.Kind)
	assert.Equal(t, types.StatusProcessing, doc.Status)
	assert.Equal(t, "application/pdf", doc.MediaType)
	assert.Equal(t, 1, env.queue.Len())

	stored, err := env.documents.GetDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestSubmitDocument_Rejections(t *testing.T) {
	env := setupTestServer(t, nil)
	token := env.token(t, uuid.New(), middleware.RoleStudent)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
	}{
		{name: "unknown kind", req: uploadRequest(t, "diploma", pdfBytes), wantStatus: http.StatusBadRequest},
		{name: "missing kind", req: uploadRequest(t, "", pdfBytes), wantStatus: http.StatusBadRequest},
		{name: "missing file", req: uploadRequest(t, "photo", nil), wantStatus: http.StatusBadRequest},
		{name: "empty file", req: uploadRequest(t, "photo", []byte{}), wantStatus: http.StatusBadRequest},
		{name: "too large", req: uploadRequest(t, "photo", append(append([]byte{}, pdfBytes...), bytes.Repeat([]byte("x"), 2048)...)), wantStatus: http.StatusRequestEntityTooLarge},
		{name: "unsupported type", req: uploadRequest(t, "photo", []byte("plain text, not a scan")), wantStatus: http.StatusUnsupportedMediaType},
		{name: "not multipart", req: httptest.NewRequest(http.MethodPost, "/documents", strings.NewReader(`{"kind":"photo"}`)), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(tt.req, token)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
		})
	}
	assert.Equal(t, 0, env.queue.Len(), "nothing was enqueued")
}

func TestSubmitDocument_RequiresAuth(t *testing.T) {
	env := setupTestServer(t, nil)
	w := env.do(uploadRequest(t, "photo", pdfBytes), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetDocument_OwnerAdminAndOthers(t *testing.T) {
	env := setupTestServer(t, nil)
	owner := uuid.New()
	w := env.do(uploadRequest(t, "fee_receipt", pdfBytes), env.token(t, owner, middleware.RoleStudent))
	require.Equal(t, http.StatusAccepted, w.Code)
	id := decode[types.Document](t, w).ID

	path := "/documents/" + id.String()
	w = env.do(httptest.NewRequest(http.MethodGet, path, nil), env.token(t, owner, middleware.RoleStudent))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode[types.Document](t, w).ID)

	w = env.do(httptest.NewRequest(http.MethodGet, path, nil), env.token(t, uuid.New(), middleware.RoleAdmin))
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, path, nil), env.token(t, uuid.New(), middleware.RoleStudent))
	assert.Equal(t, http.StatusNotFound, w.Code, "other students cannot see the document")

	w = env.do(httptest.NewRequest(http.MethodGet, "/documents/"+uuid.NewString(), nil), env.token(t, owner, middleware.RoleStudent))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/documents/not-a-uuid", nil), env.token(t, owner, middleware.RoleStudent))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.documents.err = fmt.Errorf("connection reset")
	w = env.do(httptest.NewRequest(http.MethodGet, path, nil), env.token(t, owner, middleware.RoleStudent))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", decode[map[string]string](t, w)["error"])
}

func TestListDocuments_OnlyCallersOwn(t *testing.T) {
	env := setupTestServer(t, nil)
	owner := uuid.New()
	ownerToken := env.token(t, owner, middleware.RoleStudent)
	for _, kind := range []string{"identity_proof", "fee_receipt"} {
		require.Equal(t, http.StatusAccepted, env.do(uploadRequest(t, kind, pdfBytes), ownerToken).Code)
	}
	other := env.token(t, uuid.New(), middleware.RoleStudent)
	require.Equal(t, http.StatusAccepted, env.do(uploadRequest(t, "photo", pdfBytes), other).Code)

	type listBody struct {
		Documents []types.Document `json:"documents"`
		Count     int              `json:"count"`
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/documents", nil), ownerToken)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[listBody](t, w)
	assert.Equal(t, 2, body.Count)
	for _, d := range body.Documents {
		assert.Equal(t, owner, d.OwnerID)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/documents?limit=1", nil), ownerToken)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[listBody](t, w).Count)

	w = env.do(httptest.NewRequest(http.MethodGet, "/documents", nil), env.token(t, uuid.New(), middleware.RoleStudent))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `{"count":0,"documents":[]}`, strings.TrimSpace(w.Body.String()))

	w = env.do(httptest.NewRequest(http.MethodGet, "/documents?limit=-3", nil), ownerToken)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/documents", nil), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListReviews(t *testing.T) {
	env := setupTestServer(t, nil)
	var gotLimit int
	env.reviews.ListPendingFunc = func(_ context.Context, limit int) ([]types.Document, error) {
		gotLimit = limit
		return []types.Document{{ID: uuid.New(), Status: types.StatusNeedsReview, ReviewNote: "low confidence"}}, nil
	}
	admin := env.token(t, uuid.New(), middleware.RoleAdmin)

	w := env.do(httptest.NewRequest(http.MethodGet, "/reviews?limit=25", nil), admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 25, gotLimit)
	body := decode[struct {
		Documents []types.Document `json:"documents"`
		Count     int              `json:"count"`
	}](t, w)
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "low confidence", body.Documents[0].ReviewNote)

	w = env.do(httptest.NewRequest(http.MethodGet, "/reviews?limit=zero", nil), admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/reviews", nil), env.token(t, uuid.New(), middleware.RoleStudent))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func overrideRequestBody(status, note string) *strings.Reader {
	b, _ := json.Marshal(map[string]string{"status": status, "note": note})
	return strings.NewReader(string(b))
}

func TestOverride(t *testing.T) {
	env := setupTestServer(t, nil)
	reviewer := uuid.New()
	docID := uuid.New()

	var got struct {
		id       uuid.UUID
		status   types.Status
		note     string
		reviewer uuid.UUID
	}
	env.reviews.OverrideFunc = func(_ context.Context, id uuid.UUID, status types.Status, note string, r uuid.UUID) (*types.Document, error) {
		got.id, got.status, got.note, got.reviewer = id, status, note, r
		switch id {
		case docID:
			return &types.Document{ID: id, Status: status, ReviewNote: note}, nil
		default:
			return nil, review.ErrDocumentNotFound
		}
	}
	admin := env.token(t, reviewer, middleware.RoleAdmin)

	req := httptest.NewRequest(http.MethodPost, "/reviews/"+docID.String()+"/override", overrideRequestBody("verified", "checked against original"))
	w := env.do(req, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, docID, got.id)
	assert.Equal(t, types.StatusVerified, got.status)
	assert.Equal(t, "checked against original", got.note)
	assert.Equal(t, reviewer, got.reviewer, "the reviewer is the caller")

	req = httptest.NewRequest(http.MethodPost, "/reviews/"+uuid.NewString()+"/override", overrideRequestBody("rejected", ""))
	assert.Equal(t, http.StatusNotFound, env.do(req, admin).Code)
}

func TestOverride_Validation(t *testing.T) {
	env := setupTestServer(t, nil)
	called := false
	env.reviews.OverrideFunc = func(context.Context, uuid.UUID, types.Status, string, uuid.UUID) (*types.Document, error) {
		called = true
		return nil, nil
	}
	admin := env.token(t, uuid.New(), middleware.RoleAdmin)
	path := "/reviews/" + uuid.NewString() + "/override"

	tests := []struct {
		name string
		body string
	}{
		{name: "missing status", body: `{"note": "x"}`},
		{name: "status not allowed", body: `{"status": "processing"}`},
		{name: "needs_review not allowed", body: `{"status": "needs_review"}`},
		{name: "note too long", body: `{"status": "rejected", "note": "` + strings.Repeat("n", 2001) + `"}`},
		{name: "unknown field", body: `{"status": "verified", "confidence": 1}`},
		{name: "invalid json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(httptest.NewRequest(http.MethodPost, path, strings.NewReader(tt.body)), admin)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	w := env.do(httptest.NewRequest(http.MethodPost, "/reviews/nope/override", overrideRequestBody("verified", "")), admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodPost, path, overrideRequestBody("verified", "")), env.token(t, uuid.New(), middleware.RoleStudent))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, called)
}

func TestOverride_ServiceErrors(t *testing.T) {
	env := setupTestServer(t, nil)
	admin := env.token(t, uuid.New(), middleware.RoleAdmin)
	path := "/reviews/" + uuid.NewString() + "/override"

	tests := []struct {
		err        error
		wantStatus int
	}{
		{err: fmt.Errorf("%w: current status is verified", review.ErrNotReviewable), wantStatus: http.StatusConflict},
		{err: review.ErrInvalidTransition, wantStatus: http.StatusBadRequest},
		{err: errors.New("deadlock detected"), wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		env.reviews.OverrideFunc = func(context.Context, uuid.UUID, types.Status, string, uuid.UUID) (*types.Document, error) {
			return nil, tt.err
		}
		w := env.do(httptest.NewRequest(http.MethodPost, path, overrideRequestBody("verified", "")), admin)
		assert.Equal(t, tt.wantStatus, w.Code, tt.err.Error())
	}
}

func TestRateLimit_Uploads(t *testing.T) {
	limiter := ratelimit.NewLimiter(&ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []ratelimit.EndpointConfig{
			{Path: "/documents", Method: "POST", Limit: 1, Window: time.Hour, Burst: 1},
		},
	})
	t.Cleanup(limiter.Stop)
	env := setupTestServer(t, limiter)
	token := env.token(t, uuid.New(), middleware.RoleStudent)

	w := env.do(uploadRequest(t, "photo", pdfBytes), token)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = env.do(uploadRequest(t, "photo", pdfBytes), token)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w = env.do(httptest.NewRequest(http.MethodGet, "/health", nil), "")
	assert.Equal(t, http.StatusOK, w.Code, "other routes keep their own budget")
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(&ErrValidation{Field: "kind", Message: "required"}))
	assert.Equal(t, http.StatusRequestEntityTooLarge, HTTPStatus(fmt.Errorf("%w: 2MB", intake.ErrTooLarge)))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(intake.ErrDocumentNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Config{MaxUploadSize: 1}, Deps{})
	assert.Error(t, err)
}
