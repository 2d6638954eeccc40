package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Local stores objects under a root directory, one subdirectory per project.
type Local struct {
	root string
}

// NewLocal creates a filesystem-backed store rooted at the given directory.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("local blobstore: empty root")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("local blobstore: create root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Backend() string { return "local" }

func (l *Local) path(projectID, name string) (string, error) {
	key, err := objectKey(projectID, name)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

// Put writes the object through a temp file and rename so readers never see
// partial content.
func (l *Local) Put(_ context.Context, projectID, name string, data []byte) error {
	target, err := l.path(projectID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create object directory: %w", err)
	}

	tmp := target + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write object: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit object: %w", err)
	}
	return nil
}

func (l *Local) Get(_ context.Context, projectID, name string) ([]byte, error) {
	target, err := l.path(projectID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return data, nil
}

func (l *Local) Exists(_ context.Context, projectID, name string) (bool, error) {
	target, err := l.path(projectID, name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat object: %w", err)
	}
	return true, nil
}

func (l *Local) Delete(_ context.Context, projectID, name string) error {
	target, err := l.path(projectID, name)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

func (l *Local) DeleteProject(_ context.Context, projectID string) error {
	if projectID == "" {
		return fmt.Errorf("delete project: empty project id")
	}
	if err := os.RemoveAll(filepath.Join(l.root, projectID)); err != nil {
		return fmt.Errorf("delete project objects: %w", err)
	}
	return nil
}
