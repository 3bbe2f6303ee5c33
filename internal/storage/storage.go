package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ArtifactStore reads and writes artifact bytes by reference.
type ArtifactStore interface {
	// Get returns the artifact bytes. ErrNotFound and ErrUnavailable are both
	// failures the caller should treat as transient infrastructure problems.
	Get(ctx context.Context, ref string) ([]byte, error)

	// Put stores data at ref, overwriting any previous contents.
	Put(ctx context.Context, ref string, data []byte, mediaType string) error

	// Delete removes the artifact. Deleting a missing artifact is not an error.
	Delete(ctx context.Context, ref string) error
}

// Drivers
const (
	DriverMinIO      = "minio"
	DriverFilesystem = "filesystem"
)

// Config selects and configures an ArtifactStore.
type Config struct {
	Driver        string `json:"driver" toml:"driver"`
	Endpoint      string `json:"endpoint" toml:"endpoint"`
	AccessKey     string `json:"access_key" toml:"access_key"`
	SecretKey     string `json:"secret_key" toml:"secret_key"`
	Bucket        string `json:"bucket" toml:"bucket"`
	UseSSL        bool   `json:"use_ssl" toml:"use_ssl"`
	Root          string `json:"root" toml:"root"`
	MaxObjectSize int64  `json:"max_object_size" toml:"max_object_size"`
}

// Open builds the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (ArtifactStore, error) {
	switch cfg.Driver {
	case DriverMinIO:
		return NewMinIOStore(ctx, cfg, logger)
	case DriverFilesystem, "":
		return NewFilesystemStore(cfg.Root, cfg.MaxObjectSize, logger)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ArtifactRef builds the key under which an artifact is stored: owner/document/filename.
func ArtifactRef(ownerID, documentID uuid.UUID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if strings.Trim(name, "._") == "" {
		name = "artifact"
	}
	return fmt.Sprintf("%s/%s/%s", ownerID, documentID, name)
}

// validateKey rejects empty keys and keys that could escape the store root.
func validateKey(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(strings.ReplaceAll(ref, "\\", "/"))
	if strings.HasPrefix(cleaned, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
