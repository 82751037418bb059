package model

import "time"

type PhotoStatus string

const (
	PhotoUploading PhotoStatus = "uploading"
	PhotoComplete  PhotoStatus = "complete"
	PhotoError     PhotoStatus = "error"
)

// Photo is a slideshow image record. A placeholder is written with status
// uploading before the raw bytes leave the client; the processing service
// later fills ImageURL/StoragePath and flips the status.
type Photo struct {
	ID          string
	ImageURL    string
	StoragePath string
	FileName    string
	// CreatedAt is assigned by the store and drives ordering.
	CreatedAt time.Time

	DateTaken   *time.Time
	CameraMake  string
	CameraModel string

	Status PhotoStatus
}

// PhotoUpdate is a partial update; nil fields are left untouched.
type PhotoUpdate struct {
	ImageURL    *string
	StoragePath *string
	Status      *PhotoStatus
}

// Order selects the createdAt ordering of photo listings.
type Order int

const (
	// Ascending is used by the slideshow.
	Ascending Order = iota
	// Descending is used by the management grid.
	Descending
)

// ParseOrder maps "asc"/"desc" query values; anything else is Ascending.
func ParseOrder(s string) Order {
	if s == "desc" {
		return Descending
	}
	return Ascending
}
