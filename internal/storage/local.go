package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AssetsPrefix is the HTTP path LocalStorage objects are served under.
const AssetsPrefix = "/assets"

// LocalStorage keeps objects on the local filesystem.
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage stores objects under basePath and addresses them relative
// to baseURL, e.g. http://localhost:8080.
func NewLocalStorage(basePath, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &LocalStorage{basePath: basePath, baseURL: baseURL}, nil
}

// Root is the directory objects are stored in.
func (l *LocalStorage) Root() string {
	return l.basePath
}

func (l *LocalStorage) Put(ctx context.Context, objectPath string, body []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dest, err := l.fullPath(objectPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	// Write then rename so readers never observe a partial file.
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, body, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	return nil
}

func (l *LocalStorage) Get(ctx context.Context, objectPath string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := l.fullPath(objectPath)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil, ErrObjectNotFound
	}
	return body, err
}

func (l *LocalStorage) Delete(ctx context.Context, objectPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full, err := l.fullPath(objectPath)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}

func (l *LocalStorage) Exists(ctx context.Context, objectPath string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	full, err := l.fullPath(objectPath)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *LocalStorage) URL(objectPath string) string {
	return joinURL(l.baseURL+AssetsPrefix, objectPath)
}

func (l *LocalStorage) fullPath(objectPath string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(objectPath))
	if clean == string(filepath.Separator) || strings.Contains(objectPath, "..") {
		return "", fmt.Errorf("invalid object path %q", objectPath)
	}
	return filepath.Join(l.basePath, clean), nil
}
