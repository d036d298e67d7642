package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildguard-desktop/internal/config"
)

type fakeS3 struct {
	*httptest.Server
	mu          sync.Mutex
	paths       []string
	bodies      []string
	contentType string
}

func newFakeS3(t *testing.T) *fakeS3 {
	f := &fakeS3{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusNotImplemented)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.paths = append(f.paths, r.URL.Path)
		f.bodies = append(f.bodies, string(body))
		f.contentType = r.Header.Get("Content-Type")
		f.mu.Unlock()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(f.Close)
	return f
}

func TestUpload(t *testing.T) {
	backend := newFakeS3(t)

	u, err := NewUploader(config.StorageConfig{
		Endpoint:  backend.URL,
		AccessKey: "ak",
		SecretKey: "sk",
		Bucket:    "exports",
		Region:    "us-east-1",
		Prefix:    "/nightly/",
	})
	require.NoError(t, err)
	u.now = func() time.Time { return time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC) }

	file := filepath.Join(t.TempDir(), "core-builds.csv")
	require.NoError(t, os.WriteFile(file, []byte("id,status\n1,success\n"), 0o644))

	location, err := u.Upload(context.Background(), file)
	require.NoError(t, err)
	assert.Equal(t, "s3://exports/nightly/2026/03/07/core-builds.csv", location)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.paths, 1)
	assert.Equal(t, "/exports/nightly/2026/03/07/core-builds.csv", backend.paths[0])
	assert.Contains(t, backend.bodies[0], "1,success")
	assert.Equal(t, "text/csv", backend.contentType)
}

func TestUploadMissingFile(t *testing.T) {
	backend := newFakeS3(t)
	u, err := NewUploader(config.StorageConfig{Endpoint: backend.URL, Bucket: "exports", Region: "us-east-1"})
	require.NoError(t, err)

	_, err = u.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestNewUploader(t *testing.T) {
	t.Run("Should require a bucket", func(t *testing.T) {
		_, err := NewUploader(config.StorageConfig{Endpoint: "localhost:9000"})
		assert.ErrorContains(t, err, "bucket is required")
	})

	t.Run("Should reject endpoints with a path", func(t *testing.T) {
		_, err := NewUploader(config.StorageConfig{Endpoint: "http://localhost:9000/minio", Bucket: "b"})
		assert.ErrorContains(t, err, "invalid endpoint")
	})
}

func TestCleanEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "localhost:9000", want: "localhost:9000"},
		{in: "http://localhost:9000", want: "localhost:9000"},
		{in: "https://s3.example.com/", want: "s3.example.com"},
		{in: "", wantErr: true},
		{in: "localhost:9000/bucket", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanEndpoint(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestObjectKey(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 5*3600))
	assert.Equal(t, "2026/01/01/a.json", ObjectKey("", "a.json", at))
	assert.Equal(t, "p/2026/01/01/a.json", ObjectKey("p", "a.json", at))
	assert.True(t, strings.HasSuffix(contentType("x.JSON"), "json"))
	assert.Equal(t, "application/octet-stream", contentType("x.bin"))
}
