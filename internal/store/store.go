// Package store persists events and photo records and pushes full snapshots
// to listeners whenever either collection changes.
package store

import (
	"context"
	"errors"
	"time"

	"photocal/internal/model"
)

var ErrNotFound = errors.New("not found")

// EventSnapshot is the full event collection at one point in time. Seq grows
// strictly per subscription.
type EventSnapshot struct {
	Seq    uint64
	Events []model.Event
}

// PhotoSnapshot is the full photo collection in the subscribed order.
type PhotoSnapshot struct {
	Seq    uint64
	Photos []model.Photo
}

// Subscription is a live listener handle.
type Subscription interface {
	// Cancel stops delivery. No callback runs after Cancel returns, except
	// one already in progress on another goroutine.
	Cancel()
}

// Store is the document store. Callbacks of one subscription are never run
// concurrently and always see snapshots in order; the first snapshot is
// delivered right after subscribing.
type Store interface {
	SubscribeEvents(ctx context.Context, fn func(EventSnapshot)) (Subscription, error)
	ListEvents(ctx context.Context) ([]model.Event, error)
	GetEvent(ctx context.Context, id string) (model.Event, error)
	// AddEvent assigns an ID when ev.ID is empty.
	AddEvent(ctx context.Context, ev model.Event) (model.Event, error)
	// UpdateEvent overwrites the whole record.
	UpdateEvent(ctx context.Context, ev model.Event) error
	DeleteEvent(ctx context.Context, id string) error

	SubscribePhotos(ctx context.Context, order model.Order, fn func(PhotoSnapshot)) (Subscription, error)
	ListPhotos(ctx context.Context, order model.Order) ([]model.Photo, error)
	GetPhoto(ctx context.Context, id string) (model.Photo, error)
	// AddPhoto assigns an ID when p.ID is empty and sets CreatedAt.
	AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error)
	UpdatePhoto(ctx context.Context, id string, u model.PhotoUpdate) error
	DeletePhoto(ctx context.Context, id string) error

	Close() error
}

// dateCodec stores all-day events at date granularity so that a round trip
// through any backend keeps start == end == D regardless of time zones.
type dateCodec struct {
	loc *time.Location
}

func (c dateCodec) location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

func (c dateCodec) encode(t time.Time) string {
	return t.In(c.location()).Format(time.DateOnly)
}

func (c dateCodec) decode(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, c.location())
}

func reversed(in []model.Photo) []model.Photo {
	out := make([]model.Photo, len(in))
	for i, p := range in {
		out[len(in)-1-i] = p
	}
	return out
}
