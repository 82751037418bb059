package photos

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"photocal/internal/model"
	"photocal/internal/objects"
	"photocal/internal/store"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func setup(t *testing.T) (*Service, *store.SQL, *objects.Memory) {
	t.Helper()
	st, err := store.OpenSQL(filepath.Join(t.TempDir(), "photocal.db"), nil)
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	obj := objects.NewMemory("https://img.test")
	return New(st, obj), st, obj
}

func TestUploadWritesPlaceholderAndRaw(t *testing.T) {
	svc, st, obj := setup(t)
	ctx := context.Background()

	p, err := svc.Upload(ctx, "Beach Day.PNG", bytes.NewReader(pngBytes(t)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}

	got, err := st.GetPhoto(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.PhotoUploading || got.FileName != "Beach Day.PNG" {
		t.Errorf("placeholder = %+v", got)
	}

	_, md, ok := obj.Object("raw-uploads/" + p.ID + ".png")
	if !ok {
		t.Fatalf("raw object missing")
	}
	want := map[string]string{
		"dateTaken":        "unknown",
		"cameraMake":       "unknown",
		"cameraModel":      "unknown",
		"originalFileName": "Beach Day.PNG",
	}
	if diff := cmp.Diff(md.Custom, want); diff != "" {
		t.Errorf("Bad custom metadata; diff (-got +want)\n%s", diff)
	}
	if md.ContentType != "image/png" {
		t.Errorf("ContentType = %q", md.ContentType)
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	svc, st, _ := setup(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, "notes.jpg", strings.NewReader("definitely not an image"))
	if !errors.Is(err, ErrInvalidImage) {
		t.Fatalf("err = %v, want ErrInvalidImage", err)
	}
	if ps, _ := st.ListPhotos(ctx, model.Ascending); len(ps) != 0 {
		t.Errorf("validation failure still wrote %d records", len(ps))
	}
}

func TestUploadTooLarge(t *testing.T) {
	svc, _, _ := setup(t)
	svc.maxSize = 10
	if _, err := svc.Upload(context.Background(), "a.png", bytes.NewReader(pngBytes(t))); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestUploadFailureMarksError(t *testing.T) {
	svc, st, obj := setup(t)
	obj.FailUploads = true
	ctx := context.Background()

	if _, err := svc.Upload(ctx, "a.png", bytes.NewReader(pngBytes(t))); err == nil {
		t.Fatalf("Upload succeeded despite storage failure")
	}
	ps, _ := st.ListPhotos(ctx, model.Ascending)
	if len(ps) != 1 || ps[0].Status != model.PhotoError {
		t.Errorf("records = %+v, want one with status error", ps)
	}
}

func TestUploadManyCollectsFailures(t *testing.T) {
	svc, _, _ := setup(t)
	img := pngBytes(t)

	uploaded, err := svc.UploadMany(context.Background(), []File{
		{Name: "a.png", Data: bytes.NewReader(img)},
		{Name: "bad.txt", Data: strings.NewReader("text")},
		{Name: "c.png", Data: bytes.NewReader(img)},
	})
	if len(uploaded) != 2 {
		t.Errorf("uploaded %d, want 2", len(uploaded))
	}
	b, ok := AsBatch(err)
	if !ok {
		t.Fatalf("err = %v, want *BatchError", err)
	}
	if diff := cmp.Diff(b.Items(), []string{"bad.txt"}); diff != "" {
		t.Errorf("Bad failed items; diff (-got +want)\n%s", diff)
	}
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("batch error does not wrap ErrInvalidImage")
	}
}

func TestMarkProcessedAndDisplayable(t *testing.T) {
	svc, st, obj := setup(t)
	ctx := context.Background()

	p, err := svc.Upload(ctx, "a.png", bytes.NewReader(pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	obj.Put("processed-images/"+p.ID+".webp", []byte("webp"))

	got, err := svc.MarkProcessed(ctx, p.ID, "processed-images/"+p.ID+".webp")
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if got.Status != model.PhotoComplete || got.ImageURL != "https://img.test/processed-images/"+p.ID+".webp" {
		t.Errorf("processed photo = %+v", got)
	}

	q, _ := svc.Upload(ctx, "b.png", bytes.NewReader(pngBytes(t)))
	if err := svc.MarkFailed(ctx, q.ID); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	all, _ := st.ListPhotos(ctx, model.Ascending)
	shown := Displayable(all)
	if len(shown) != 1 || shown[0].ID != p.ID {
		t.Errorf("Displayable = %+v", shown)
	}
	if diff := cmp.Diff(URLs(shown), []string{got.ImageURL}); diff != "" {
		t.Errorf("Bad URLs; diff (-got +want)\n%s", diff)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	svc, st, obj := setup(t)
	ctx := context.Background()

	p, _ := svc.Upload(ctx, "a.png", bytes.NewReader(pngBytes(t)))
	path := "processed-images/" + p.ID + ".webp"
	obj.Put(path, []byte("webp"))
	if _, err := svc.MarkProcessed(ctx, p.ID, path); err != nil {
		t.Fatal(err)
	}

	if err := svc.Delete(ctx, p.ID, false); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("err = %v, want ErrNotConfirmed", err)
	}
	if _, err := st.GetPhoto(ctx, p.ID); err != nil {
		t.Fatalf("unconfirmed delete removed the record: %v", err)
	}

	if err := svc.Delete(ctx, p.ID, true); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, ok := obj.Object(path); ok {
		t.Errorf("object still present")
	}
	if _, err := st.GetPhoto(ctx, p.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("record still present: %v", err)
	}
}

func TestDeleteManyPartialFailure(t *testing.T) {
	svc, st, obj := setup(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		p, err := svc.Upload(ctx, name, bytes.NewReader(pngBytes(t)))
		if err != nil {
			t.Fatal(err)
		}
		path := "processed-images/" + p.ID + ".webp"
		obj.Put(path, []byte("webp"))
		if _, err := svc.MarkProcessed(ctx, p.ID, path); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID)
	}
	obj.FailPaths["processed-images/"+ids[1]+".webp"] = true

	if err := svc.DeleteMany(ctx, ids, false); !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("err = %v, want ErrNotConfirmed", err)
	}

	err := svc.DeleteMany(ctx, ids, true)
	b, ok := AsBatch(err)
	if !ok {
		t.Fatalf("err = %v, want *BatchError", err)
	}
	if diff := cmp.Diff(b.Items(), []string{ids[1]}); diff != "" {
		t.Errorf("Bad failed items; diff (-got +want)\n%s", diff)
	}
	if b.Total != 3 {
		t.Errorf("Total = %d, want 3", b.Total)
	}

	left, _ := st.ListPhotos(ctx, model.Ascending)
	if len(left) != 1 || left[0].ID != ids[1] {
		t.Errorf("remaining = %+v, want only the failed one", left)
	}
}

func TestMetadataCustomWithValues(t *testing.T) {
	md := Metadata{CameraMake: "Canon", CameraModel: "EOS"}
	got := md.Custom("x.jpg")
	if got["cameraMake"] != "Canon" || got["cameraModel"] != "EOS" || got["dateTaken"] != "unknown" {
		t.Errorf("Custom = %v", got)
	}
	if _, err := ReadMetadata(strings.NewReader("no exif here")); err == nil {
		t.Errorf("ReadMetadata accepted garbage")
	}
}
