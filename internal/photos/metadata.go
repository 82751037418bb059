package photos

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

const unknown = "unknown"

// Metadata is the EXIF subset attached to an upload.
type Metadata struct {
	DateTaken   *time.Time
	CameraMake  string
	CameraModel string
}

// ReadMetadata extracts capture date and camera from EXIF. Images without
// EXIF return an error; callers treat that as "no metadata".
func ReadMetadata(r io.Reader) (Metadata, error) {
	x, err := exif.Decode(r)
	if err != nil {
		return Metadata{}, fmt.Errorf("decode exif: %w", err)
	}

	var md Metadata
	if t, err := x.DateTime(); err == nil {
		md.DateTaken = &t
	}
	md.CameraMake = tagString(x, exif.Make)
	md.CameraModel = tagString(x, exif.Model)
	return md, nil
}

func tagString(x *exif.Exif, name exif.FieldName) string {
	tag, err := x.Get(name)
	if err != nil {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(s, "\x00"))
}

// Custom renders the metadata as object custom metadata. Missing values are
// written as "unknown" so the processing service can tell absent from empty.
func (m Metadata) Custom(originalName string) map[string]string {
	out := map[string]string{
		"dateTaken":        unknown,
		"cameraMake":       orUnknown(m.CameraMake),
		"cameraModel":      orUnknown(m.CameraModel),
		"originalFileName": originalName,
	}
	if m.DateTaken != nil {
		out["dateTaken"] = m.DateTaken.Format(time.RFC3339)
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}
