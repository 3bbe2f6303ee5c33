package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// FilesystemStore implements ArtifactStore on a local directory.
// Keys map directly to relative file paths under the root.
type FilesystemStore struct {
	root    string
	maxSize int64
	logger  *zap.Logger
}

// NewFilesystemStore creates the root directory if needed. maxSize <= 0 disables the read limit.
func NewFilesystemStore(root string, maxSize int64, logger *zap.Logger) (*FilesystemStore, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &FilesystemStore{
		root:    absRoot,
		maxSize: maxSize,
		logger:  logger.With(zap.String("system", "storage"), zap.String("driver", DriverFilesystem)),
	}, nil
}

// Get reads the artifact file.
func (s *FilesystemStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.fullPath(ref)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, ref, err)
	}
	defer f.Close()

	var r io.Reader = f
	if s.maxSize > 0 {
		r = io.LimitReader(f, s.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrUnavailable, ref, err)
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

// Put writes through a temp file and rename so readers never see a partial artifact.
func (s *FilesystemStore) Put(ctx context.Context, ref string, data []byte, mediaType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.fullPath(ref)
	if err != nil {
		return err
	}
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return ErrTooLarge
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}

	s.logger.Debug("artifact stored",
		zap.String("ref", ref),
		zap.String("media_type", mediaType),
		zap.Int("size_bytes", len(data)))
	return nil
}

// Delete removes the artifact file and prunes its directory once empty.
func (s *FilesystemStore) Delete(ctx context.Context, ref string) error {
	p, err := s.fullPath(ref)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove file: %w", err)
	}

	dir := filepath.Dir(p)
	if dir != s.root && strings.HasPrefix(dir, s.root) {
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("failed to remove empty directory", zap.String("dir", dir), zap.Error(err))
			}
		}
	}
	return nil
}

func (s *FilesystemStore) fullPath(ref string) (string, error) {
	key, err := validateKey(ref)
	if err != nil {
		return "", err
	}
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}
