// Package objects stores photo bytes in a bucket and hands out signed URLs
// for the processed images.
package objects

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

var ErrNotExist = errors.New("object does not exist")

// Metadata travels with an uploaded object. Custom carries the EXIF fields
// the processing service copies onto the photo record.
type Metadata struct {
	ContentType string
	Custom      map[string]string
}

// Handle identifies a stored object.
type Handle struct {
	Bucket string
	Path   string
}

// Storage is the object store used for raw uploads and processed images.
type Storage interface {
	Upload(ctx context.Context, path string, r io.Reader, md Metadata) (Handle, error)
	SignedURL(ctx context.Context, h Handle) (string, error)
	Delete(ctx context.Context, path string) error
	Bucket() string
}

// farFuture is the expiry used where the backend allows long-lived URLs.
var farFuture = time.Date(2500, time.March, 1, 0, 0, 0, 0, time.UTC)

// Memory keeps objects in process. It backs local development and tests.
type Memory struct {
	BaseURL string

	mu      sync.Mutex
	objects map[string]memObject
	// FailPaths makes Upload or Delete fail for the listed paths;
	// FailUploads fails every upload.
	FailPaths   map[string]bool
	FailUploads bool
}

type memObject struct {
	data []byte
	md   Metadata
}

func NewMemory(baseURL string) *Memory {
	return &Memory{BaseURL: baseURL, objects: map[string]memObject{}, FailPaths: map[string]bool{}}
}

func (m *Memory) Bucket() string { return "memory" }

func (m *Memory) Upload(ctx context.Context, path string, r io.Reader, md Metadata) (Handle, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return Handle{}, fmt.Errorf("read upload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUploads || m.FailPaths[path] {
		return Handle{}, fmt.Errorf("upload %s: simulated failure", path)
	}
	m.objects[path] = memObject{data: buf.Bytes(), md: md}
	return Handle{Bucket: m.Bucket(), Path: path}, nil
}

func (m *Memory) SignedURL(ctx context.Context, h Handle) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[h.Path]; !ok {
		return "", fmt.Errorf("%s: %w", h.Path, ErrNotExist)
	}
	return m.BaseURL + "/" + h.Path, nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPaths[path] {
		return fmt.Errorf("delete %s: simulated failure", path)
	}
	if _, ok := m.objects[path]; !ok {
		return fmt.Errorf("%s: %w", path, ErrNotExist)
	}
	delete(m.objects, path)
	return nil
}

// Object returns the stored bytes and metadata.
func (m *Memory) Object(path string) ([]byte, Metadata, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[path]
	return o.data, o.md, ok
}

// Put stores an object directly, as the processing service would.
func (m *Memory) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = memObject{data: data}
}
