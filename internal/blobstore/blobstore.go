package blobstore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"relato/internal/config"
)

// Store is the byte-addressable storage collaborator. Writes are atomic:
// a reader never observes a partially written object.
type Store interface {
	// Put writes an object under a project, replacing any existing object.
	Put(ctx context.Context, projectID, name string, data []byte) error
	// Get reads an object's bytes.
	Get(ctx context.Context, projectID, name string) ([]byte, error)
	// Exists reports whether an object is present.
	Exists(ctx context.Context, projectID, name string) (bool, error)
	// Delete removes a single object. Missing objects are not an error.
	Delete(ctx context.Context, projectID, name string) error
	// DeleteProject recursively removes every object under a project.
	DeleteProject(ctx context.Context, projectID string) error
	// Backend names the backing implementation for audit records.
	Backend() string
}

// New selects a backend from configuration.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "local", "":
		return NewLocal(cfg.Paths.DataDir)
	case "minio":
		return NewMinio(cfg.Storage)
	default:
		return nil, fmt.Errorf("storage backend: unsupported value %q", cfg.Storage.Backend)
	}
}

// objectKey joins a project id and relative name into one storage key,
// rejecting path escapes.
func objectKey(projectID, name string) (string, error) {
	if projectID == "" {
		return "", fmt.Errorf("object key: empty project id")
	}
	cleaned := path.Clean(strings.ReplaceAll(name, "\\", "/"))
	if cleaned == "." || cleaned == "/" || strings.HasPrefix(cleaned, "..") || path.IsAbs(cleaned) {
		return "", fmt.Errorf("object key: invalid name %q", name)
	}
	return path.Join(projectID, cleaned), nil
}
