package objects

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores objects in a Cloud Storage bucket. Signed URLs use the V2
// scheme with a far-future expiry so the slideshow can keep them forever.
type GCS struct {
	client *storage.Client
	bucket string
}

func NewGCS(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCS, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("while creating storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Bucket() string { return g.bucket }

func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) Upload(ctx context.Context, path string, r io.Reader, md Metadata) (Handle, error) {
	w := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	w.ContentType = md.ContentType
	w.Metadata = md.Custom

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return Handle{}, fmt.Errorf("while writing object %q: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return Handle{}, fmt.Errorf("while finalizing object %q: %w", path, err)
	}
	return Handle{Bucket: g.bucket, Path: path}, nil
}

func (g *GCS) SignedURL(ctx context.Context, h Handle) (string, error) {
	bucket := h.Bucket
	if bucket == "" {
		bucket = g.bucket
	}
	u, err := g.client.Bucket(bucket).SignedURL(h.Path, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV2,
		Method:  http.MethodGet,
		Expires: farFuture,
	})
	if err != nil {
		return "", fmt.Errorf("while signing URL for %q: %w", h.Path, err)
	}
	return u, nil
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	err := g.client.Bucket(g.bucket).Object(path).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s: %w", path, ErrNotExist)
	}
	if err != nil {
		return fmt.Errorf("while deleting object %q: %w", path, err)
	}
	return nil
}
