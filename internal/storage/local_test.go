package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewLocalStorage(dir, "http://localhost:8080")
	require.NoError(t, err)

	path := "qr/abc_256.png"
	exists, err := store.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Put(ctx, path, []byte("png-bytes"), "image/png"))

	exists, err = store.Exists(ctx, path)
	require.NoError(t, err)
	assert.True(t, exists)

	body, err := store.Get(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), body)

	_, err = os.Stat(filepath.Join(dir, "qr", "abc_256.png.tmp"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, "http://localhost:8080/assets/qr/abc_256.png", store.URL(path))

	require.NoError(t, store.Delete(ctx, path))
	require.NoError(t, store.Delete(ctx, path), "delete is idempotent")

	_, err = store.Get(ctx, path)
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir(), "")
	require.NoError(t, err)

	for _, path := range []string{"../escape.png", "qr/../../x", ""} {
		err := store.Put(context.Background(), path, []byte("x"), "image/png")
		assert.Error(t, err, "path %q", path)
	}
}

func TestS3URL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{"aws", S3Config{Region: "eu-west-1"}, "https://assets.s3.eu-west-1.amazonaws.com/qr/a.png"},
		{"custom endpoint", S3Config{Endpoint: "http://minio:9000/"}, "http://minio:9000/assets/qr/a.png"},
		{"cdn", S3Config{PublicBaseURL: "https://cdn.example.com"}, "https://cdn.example.com/qr/a.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &S3Storage{bucket: "assets", config: tt.cfg}
			assert.Equal(t, tt.want, s.URL("qr/a.png"))
		})
	}
}
