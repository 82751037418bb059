package objects

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestS3PresignCapsExpiry(t *testing.T) {
	s, err := NewS3(context.Background(), S3Config{
		Region:        "us-east-1",
		Bucket:        "photos",
		AccessKey:     "AKID",
		SecretKey:     "SECRET",
		Endpoint:      "http://127.0.0.1:9000",
		PresignExpiry: 30 * 24 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}

	raw, err := s.SignedURL(context.Background(), Handle{Path: "processed/a.jpg"})
	if err != nil {
		t.Fatalf("SignedURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got := u.Query().Get("X-Amz-Expires"); got != "604800" {
		t.Errorf("X-Amz-Expires = %q, want 604800", got)
	}
	if u.Path != "/photos/processed/a.jpg" {
		t.Errorf("path = %q, want path-style /photos/processed/a.jpg", u.Path)
	}
}

func TestS3UploadSendsMetadata(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotMeta string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		mu.Lock()
		gotPath = r.URL.Path
		gotMeta = r.Header.Get("X-Amz-Meta-Cameramake")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewS3(context.Background(), S3Config{
		Region: "us-east-1", Bucket: "photos", AccessKey: "AKID", SecretKey: "SECRET", Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}

	h, err := s.Upload(context.Background(), "raw-uploads/x.jpg", strings.NewReader("jpeg"), Metadata{
		ContentType: "image/jpeg",
		Custom:      map[string]string{"cameramake": "Canon"},
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if h.Path != "raw-uploads/x.jpg" || h.Bucket != "photos" {
		t.Errorf("handle = %+v", h)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/photos/raw-uploads/x.jpg" || gotMeta != "Canon" {
		t.Errorf("request path=%q meta=%q", gotPath, gotMeta)
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory("https://img.test")
	ctx := context.Background()

	h, err := m.Upload(ctx, "a.jpg", strings.NewReader("x"), Metadata{ContentType: "image/jpeg"})
	if err != nil {
		t.Fatal(err)
	}
	if u, err := m.SignedURL(ctx, h); err != nil || u != "https://img.test/a.jpg" {
		t.Errorf("SignedURL = %q, %v", u, err)
	}
	if err := m.Delete(ctx, "a.jpg"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "a.jpg"); !errors.Is(err, ErrNotExist) {
		t.Errorf("second Delete err = %v, want ErrNotExist", err)
	}
}
