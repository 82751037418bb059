// Package photos manages the photo library: raw uploads, processing
// callbacks and deletion.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	appLog "photocal/internal/log"
	"photocal/internal/model"
	"photocal/internal/objects"
	"photocal/internal/store"
)

var (
	ErrNotConfirmed = errors.New("deletion not confirmed")
	ErrInvalidImage = errors.New("invalid image")
	ErrTooLarge     = errors.New("image too large")
)

const (
	DefaultRawPrefix = "raw-uploads/"
	DefaultMaxSize   = 25 << 20
	uploadWorkers    = 4
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// Service ties the photo records to their objects.
type Service struct {
	store     store.Store
	objects   objects.Storage
	rawPrefix string
	maxSize   int64
}

type Option func(*Service)

func WithRawPrefix(p string) Option {
	return func(s *Service) {
		if p != "" && !strings.HasSuffix(p, "/") {
			p += "/"
		}
		s.rawPrefix = p
	}
}

func WithMaxSize(n int64) Option {
	return func(s *Service) { s.maxSize = n }
}

func New(st store.Store, obj objects.Storage, opts ...Option) *Service {
	s := &Service{
		store:     st,
		objects:   obj,
		rawPrefix: DefaultRawPrefix,
		maxSize:   DefaultMaxSize,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upload validates the image, writes an "uploading" placeholder record and
// stores the raw bytes under <raw prefix><id><ext> with EXIF metadata
// attached. The processing service later reports back via MarkProcessed or
// MarkFailed. If the raw upload fails the record is flipped to "error".
func (s *Service) Upload(ctx context.Context, fileName string, r io.Reader) (model.Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return model.Photo{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.maxSize {
		return model.Photo{}, fmt.Errorf("%s: %w", fileName, ErrTooLarge)
	}

	contentType, ext, err := detectImage(fileName, data)
	if err != nil {
		return model.Photo{}, err
	}

	md, err := ReadMetadata(bytes.NewReader(data))
	if err != nil {
		appLog.Debug("photos: no exif", "file", fileName, "err", err)
	}

	p, err := s.store.AddPhoto(ctx, model.Photo{
		FileName:    fileName,
		DateTaken:   md.DateTaken,
		CameraMake:  md.CameraMake,
		CameraModel: md.CameraModel,
		Status:      model.PhotoUploading,
	})
	if err != nil {
		return model.Photo{}, fmt.Errorf("create placeholder: %w", err)
	}

	rawPath := s.rawPrefix + p.ID + ext
	_, err = s.objects.Upload(ctx, rawPath, bytes.NewReader(data), objects.Metadata{
		ContentType: contentType,
		Custom:      md.Custom(fileName),
	})
	if err != nil {
		failed := model.PhotoError
		if uerr := s.store.UpdatePhoto(context.WithoutCancel(ctx), p.ID, model.PhotoUpdate{Status: &failed}); uerr != nil {
			appLog.Error("photos: failed to mark placeholder as error", uerr, "id", p.ID)
		}
		return model.Photo{}, fmt.Errorf("upload raw %s: %w", fileName, err)
	}

	appLog.Info("photos: raw upload stored", "id", p.ID, "path", rawPath, "bytes", len(data))
	return p, nil
}

// File is one item of a multi-upload.
type File struct {
	Name string
	Data io.Reader
}

// UploadMany uploads every file; failures are collected, not fatal.
func (s *Service) UploadMany(ctx context.Context, files []File) ([]model.Photo, error) {
	var (
		mu       sync.Mutex
		uploaded []model.Photo
		batch    = &BatchError{Op: "upload", Total: len(files)}
	)

	var g errgroup.Group
	g.SetLimit(uploadWorkers)
	for _, f := range files {
		g.Go(func() error {
			p, err := s.Upload(ctx, f.Name, f.Data)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.add(f.Name, err)
				return nil
			}
			uploaded = append(uploaded, p)
			return nil
		})
	}
	_ = g.Wait()

	return uploaded, batch.errOrNil()
}

// MarkProcessed records the processed object: a signed URL for it becomes
// the image URL and the status flips to complete.
func (s *Service) MarkProcessed(ctx context.Context, id, storagePath string) (model.Photo, error) {
	if storagePath == "" {
		return model.Photo{}, errors.New("storage path is required")
	}
	if _, err := s.store.GetPhoto(ctx, id); err != nil {
		return model.Photo{}, err
	}

	url, err := s.objects.SignedURL(ctx, objects.Handle{Bucket: s.objects.Bucket(), Path: storagePath})
	if err != nil {
		return model.Photo{}, err
	}
	done := model.PhotoComplete
	if err := s.store.UpdatePhoto(ctx, id, model.PhotoUpdate{
		ImageURL:    &url,
		StoragePath: &storagePath,
		Status:      &done,
	}); err != nil {
		return model.Photo{}, err
	}
	return s.store.GetPhoto(ctx, id)
}

// MarkFailed flags a photo whose processing failed.
func (s *Service) MarkFailed(ctx context.Context, id string) error {
	failed := model.PhotoError
	return s.store.UpdatePhoto(ctx, id, model.PhotoUpdate{Status: &failed})
}

// Delete removes the stored object and then the record. Nothing happens
// unless the caller confirmed.
func (s *Service) Delete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	return s.delete(ctx, id)
}

func (s *Service) delete(ctx context.Context, id string) error {
	p, err := s.store.GetPhoto(ctx, id)
	if err != nil {
		return err
	}
	if p.StoragePath != "" {
		err := s.objects.Delete(ctx, p.StoragePath)
		switch {
		case errors.Is(err, objects.ErrNotExist):
			appLog.Warn("photos: object already gone", "id", id, "path", p.StoragePath)
		case err != nil:
			return fmt.Errorf("delete %s: %w", p.FileName, err)
		}
	}
	if err := s.store.DeletePhoto(ctx, id); err != nil {
		return fmt.Errorf("delete %s: %w", p.FileName, err)
	}
	return nil
}

// DeleteMany deletes every id under a single confirmation. Each deletion is
// attempted; successes are not rolled back when others fail.
func (s *Service) DeleteMany(ctx context.Context, ids []string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}

	var mu sync.Mutex
	batch := &BatchError{Op: "delete", Total: len(ids)}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := s.delete(ctx, id); err != nil {
				mu.Lock()
				batch.add(id, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return batch.errOrNil()
}

// Displayable keeps the photos the slideshow can show: processed ones with
// an image URL. Records from before processing statuses existed have an
// empty status and count as processed.
func Displayable(photos []model.Photo) []model.Photo {
	out := make([]model.Photo, 0, len(photos))
	for _, p := range photos {
		if p.ImageURL == "" {
			continue
		}
		if p.Status != model.PhotoComplete && p.Status != "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// URLs lists the image URLs of photos, skipping empty ones.
func URLs(photos []model.Photo) []string {
	out := make([]string, 0, len(photos))
	for _, p := range photos {
		if p.ImageURL != "" {
			out = append(out, p.ImageURL)
		}
	}
	return out
}

func detectImage(fileName string, data []byte) (contentType, ext string, err error) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	contentType = http.DetectContentType(head)
	if !allowedTypes[contentType] {
		return "", "", fmt.Errorf("%w: %s (detected %s)", ErrInvalidImage, fileName, contentType)
	}

	ext = strings.ToLower(path.Ext(fileName))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif", ".heic":
	default:
		ext = map[string]string{
			"image/jpeg": ".jpg",
			"image/png":  ".png",
			"image/webp": ".webp",
			"image/gif":  ".gif",
		}[contentType]
	}
	return contentType, ext, nil
}
