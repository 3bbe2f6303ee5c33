package storage

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactRef(t *testing.T) {
	owner := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	doc := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t, owner.String()+"/"+doc.String()+"/scan.pdf", ArtifactRef(owner, doc, "scan.pdf"))
	assert.Equal(t, owner.String()+"/"+doc.String()+"/my_receipt__1_.jpg", ArtifactRef(owner, doc, "my receipt (1).jpg"))
	assert.Equal(t, owner.String()+"/"+doc.String()+"/passwd", ArtifactRef(owner, doc, "../../etc/passwd"))
	assert.Equal(t, owner.String()+"/"+doc.String()+"/id.png", ArtifactRef(owner, doc, `C:\Users\asha\id.png`))
	assert.Equal(t, owner.String()+"/"+doc.String()+"/artifact", ArtifactRef(owner, doc, ""))
	assert.Equal(t, owner.String()+"/"+doc.String()+"/artifact", ArtifactRef(owner, doc, ".."))
}

func TestValidateKey(t *testing.T) {
	for _, bad := range []string{"", "  ", "/etc/passwd", "../secret", "a/../../b", `..\win`} {
		_, err := validateKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", bad)
	}

	key, err := validateKey("owner/doc/./scan.pdf")
	require.NoError(t, err)
	assert.Equal(t, "owner/doc/scan.pdf", key)
}

func TestFilesystemStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystemStore(t.TempDir(), 0, nil)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "owner/doc/scan.png", []byte("png-bytes"), "image/png"))

	data, err := store.Get(ctx, "owner/doc/scan.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), data)

	// overwrite
	require.NoError(t, store.Put(ctx, "owner/doc/scan.png", []byte("v2"), "image/png"))
	data, err = store.Get(ctx, "owner/doc/scan.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), data)

	require.NoError(t, store.Delete(ctx, "owner/doc/scan.png"))
	_, err = store.Get(ctx, "owner/doc/scan.png")
	assert.ErrorIs(t, err, ErrNotFound)

	// idempotent delete
	assert.NoError(t, store.Delete(ctx, "owner/doc/scan.png"))
}

func TestFilesystemStore_DeletePrunesEmptyDirectory(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFilesystemStore(root, 0, nil)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "owner/doc/a.pdf", []byte("x"), "application/pdf"))
	require.NoError(t, store.Delete(ctx, "owner/doc/a.pdf"))
	assert.NoDirExists(t, filepath.Join(root, "owner", "doc"))
}

func TestFilesystemStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystemStore(t.TempDir(), 0, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Put(ctx, "../escape.txt", []byte("x"), "text/plain"), ErrInvalidKey)
	_, err = store.Get(ctx, "/etc/hostname")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, store.Delete(ctx, ""), ErrInvalidKey)
}

func TestFilesystemStore_MaxSize(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystemStore(t.TempDir(), 4, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Put(ctx, "o/d/big.bin", []byte(strings.Repeat("x", 5)), "application/octet-stream"), ErrTooLarge)
	require.NoError(t, store.Put(ctx, "o/d/ok.bin", []byte("four"), "application/octet-stream"))

	data, err := store.Get(ctx, "o/d/ok.bin")
	require.NoError(t, err)
	assert.Len(t, data, 4)
}

func TestFilesystemStore_CancelledContext(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir(), 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Get(ctx, "o/d/x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFilesystemStore_RequiresRoot(t *testing.T) {
	_, err := NewFilesystemStore("", 0, nil)
	assert.Error(t, err)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "ftp"}, nil)
	assert.Error(t, err)
}

func TestOpen_Filesystem(t *testing.T) {
	store, err := Open(context.Background(), Config{Driver: DriverFilesystem, Root: t.TempDir()}, nil)
	require.NoError(t, err)
	_, ok := store.(*FilesystemStore)
	assert.True(t, ok)
}

func TestClassifyMinIOError(t *testing.T) {
	assert.Nil(t, classifyMinIOError(nil))

	notFound := minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound, Message: "The specified key does not exist."}
	assert.ErrorIs(t, classifyMinIOError(notFound), ErrNotFound)

	serverErr := minio.ErrorResponse{Code: "InternalError", StatusCode: http.StatusInternalServerError}
	assert.ErrorIs(t, classifyMinIOError(serverErr), ErrUnavailable)

	denied := minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}
	assert.ErrorIs(t, classifyMinIOError(denied), ErrUnavailable)

	assert.ErrorIs(t, classifyMinIOError(errors.New("dial tcp: connection refused")), ErrUnavailable)
	assert.ErrorIs(t, classifyMinIOError(context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestNewMinIOStore_RequiresEndpoint(t *testing.T) {
	_, err := NewMinIOStore(context.Background(), Config{Bucket: "artifacts"}, nil)
	assert.Error(t, err)
}
