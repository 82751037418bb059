package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	appLog "photocal/internal/log"
	"photocal/internal/model"
)

const (
	eventsCollection = "events"
	photosCollection = "photos"
)

type eventDoc struct {
	Title      string     `firestore:"title"`
	Start      time.Time  `firestore:"start"`
	End        time.Time  `firestore:"end"`
	StartDate  string     `firestore:"startDate,omitempty"`
	EndDate    string     `firestore:"endDate,omitempty"`
	AllDay     bool       `firestore:"allDay"`
	Recurrence string     `firestore:"recurrence"`
	Until      *time.Time `firestore:"until"`
	CreatedAt  time.Time  `firestore:"createdAt,serverTimestamp"`
}

type photoDoc struct {
	ImageURL    string     `firestore:"imageUrl"`
	StoragePath string     `firestore:"storagePath"`
	FileName    string     `firestore:"fileName"`
	CreatedAt   time.Time  `firestore:"createdAt,serverTimestamp"`
	DateTaken   *time.Time `firestore:"dateTaken"`
	CameraMake  string     `firestore:"cameraMake"`
	CameraModel string     `firestore:"cameraModel"`
	Status      string     `firestore:"status"`
}

// Firestore is the cloud document store. Listeners are Firestore query
// snapshot streams, one goroutine each.
type Firestore struct {
	client *firestore.Client
	codec  dateCodec

	mu   sync.Mutex
	subs map[*firestoreSub]struct{}
}

func NewFirestore(client *firestore.Client, loc *time.Location) *Firestore {
	return &Firestore{
		client: client,
		codec:  dateCodec{loc: loc},
		subs:   make(map[*firestoreSub]struct{}),
	}
}

func (f *Firestore) Close() error {
	f.mu.Lock()
	subs := make([]*firestoreSub, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		s.Cancel()
	}
	return f.client.Close()
}

type firestoreSub struct {
	cancel context.CancelFunc
	it     *firestore.QuerySnapshotIterator
	done   chan struct{}
	once   sync.Once
	owner  *Firestore
}

func (s *firestoreSub) Cancel() {
	s.once.Do(func() {
		s.cancel()
		s.it.Stop()
		<-s.done
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
}

// listen runs handle for every snapshot of q until the subscription is
// cancelled or the stream fails.
func (f *Firestore) listen(ctx context.Context, q firestore.Query, name string, handle func(seq uint64, docs []*firestore.DocumentSnapshot)) *firestoreSub {
	ctx, cancel := context.WithCancel(ctx)
	sub := &firestoreSub{
		cancel: cancel,
		it:     q.Snapshots(ctx),
		done:   make(chan struct{}),
		owner:  f,
	}
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		defer close(sub.done)
		var seq uint64
		for {
			snap, err := sub.it.Next()
			if errors.Is(err, iterator.Done) || ctx.Err() != nil {
				return
			}
			if err != nil {
				appLog.Error("store: snapshot listener failed", err, "collection", name)
				return
			}
			docs, err := snap.Documents.GetAll()
			if err != nil {
				appLog.Error("store: while reading snapshot documents", err, "collection", name)
				continue
			}
			seq++
			handle(seq, docs)
		}
	}()
	return sub
}

// Events

func (f *Firestore) eventsQuery() firestore.Query {
	return f.client.Collection(eventsCollection).OrderBy("start", firestore.Asc)
}

func (f *Firestore) SubscribeEvents(ctx context.Context, fn func(EventSnapshot)) (Subscription, error) {
	sub := f.listen(ctx, f.eventsQuery(), eventsCollection, func(seq uint64, docs []*firestore.DocumentSnapshot) {
		fn(EventSnapshot{Seq: seq, Events: f.decodeEvents(docs)})
	})
	return sub, nil
}

func (f *Firestore) ListEvents(ctx context.Context) ([]model.Event, error) {
	iter := f.eventsQuery().Documents(ctx)
	defer iter.Stop()

	var docs []*firestore.DocumentSnapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while listing events: %w", err)
		}
		docs = append(docs, doc)
	}
	return f.decodeEvents(docs), nil
}

func (f *Firestore) decodeEvents(docs []*firestore.DocumentSnapshot) []model.Event {
	out := make([]model.Event, 0, len(docs))
	for _, d := range docs {
		ev, err := f.decodeEvent(d)
		if err != nil {
			appLog.Error("store: skipping undecodable event", err, "id", d.Ref.ID)
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (f *Firestore) decodeEvent(d *firestore.DocumentSnapshot) (model.Event, error) {
	var doc eventDoc
	if err := d.DataTo(&doc); err != nil {
		return model.Event{}, fmt.Errorf("while unmarshaling event %q: %w", d.Ref.ID, err)
	}
	rec, err := model.ParseRecurrence(doc.Recurrence)
	if err != nil {
		return model.Event{}, err
	}
	loc := f.codec.location()
	ev := model.Event{
		ID:         d.Ref.ID,
		Title:      doc.Title,
		Start:      doc.Start.In(loc),
		End:        doc.End.In(loc),
		AllDay:     doc.AllDay,
		Recurrence: rec,
	}
	if doc.AllDay && doc.StartDate != "" {
		if ev.Start, err = f.codec.decode(doc.StartDate); err != nil {
			return model.Event{}, err
		}
		ev.End = ev.Start
		if doc.EndDate != "" {
			if ev.End, err = f.codec.decode(doc.EndDate); err != nil {
				return model.Event{}, err
			}
		}
	}
	if doc.Until != nil {
		u := doc.Until.In(loc)
		ev.Until = &u
	}
	return ev, nil
}

func (f *Firestore) encodeEvent(ev model.Event) eventDoc {
	doc := eventDoc{
		Title:      ev.Title,
		Start:      ev.Start,
		End:        ev.End,
		AllDay:     ev.AllDay,
		Recurrence: string(ev.Recurrence),
		Until:      ev.Until,
	}
	if ev.AllDay {
		doc.StartDate = f.codec.encode(ev.Start)
		doc.EndDate = f.codec.encode(ev.End)
	}
	return doc
}

func (f *Firestore) GetEvent(ctx context.Context, id string) (model.Event, error) {
	snap, err := f.client.Collection(eventsCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.Event{}, fmt.Errorf("event %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("while getting event %q: %w", id, err)
	}
	return f.decodeEvent(snap)
}

func (f *Firestore) AddEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if _, err := f.client.Collection(eventsCollection).Doc(ev.ID).Create(ctx, f.encodeEvent(ev)); err != nil {
		return model.Event{}, fmt.Errorf("while creating event: %w", err)
	}
	return ev, nil
}

func (f *Firestore) UpdateEvent(ctx context.Context, ev model.Event) error {
	ref := f.client.Collection(eventsCollection).Doc(ev.ID)
	err := f.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		doc := f.encodeEvent(ev)
		// Keep the original creation time.
		if created, err := snap.DataAt("createdAt"); err == nil {
			if t, ok := created.(time.Time); ok {
				doc.CreatedAt = t
			}
		}
		return tx.Set(ref, doc)
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("event %q: %w", ev.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while updating event %q: %w", ev.ID, err)
	}
	return nil
}

func (f *Firestore) DeleteEvent(ctx context.Context, id string) error {
	_, err := f.client.Collection(eventsCollection).Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("event %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while deleting event %q: %w", id, err)
	}
	return nil
}

// Photos

func (f *Firestore) photosQuery(order model.Order) firestore.Query {
	dir := firestore.Asc
	if order == model.Descending {
		dir = firestore.Desc
	}
	return f.client.Collection(photosCollection).OrderBy("createdAt", dir)
}

func (f *Firestore) SubscribePhotos(ctx context.Context, order model.Order, fn func(PhotoSnapshot)) (Subscription, error) {
	sub := f.listen(ctx, f.photosQuery(order), photosCollection, func(seq uint64, docs []*firestore.DocumentSnapshot) {
		fn(PhotoSnapshot{Seq: seq, Photos: decodePhotos(docs)})
	})
	return sub, nil
}

func (f *Firestore) ListPhotos(ctx context.Context, order model.Order) ([]model.Photo, error) {
	iter := f.photosQuery(order).Documents(ctx)
	defer iter.Stop()

	var docs []*firestore.DocumentSnapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while listing photos: %w", err)
		}
		docs = append(docs, doc)
	}
	return decodePhotos(docs), nil
}

func decodePhotos(docs []*firestore.DocumentSnapshot) []model.Photo {
	out := make([]model.Photo, 0, len(docs))
	for _, d := range docs {
		p, err := decodePhoto(d)
		if err != nil {
			appLog.Error("store: skipping undecodable photo", err, "id", d.Ref.ID)
			continue
		}
		out = append(out, p)
	}
	return out
}

func decodePhoto(d *firestore.DocumentSnapshot) (model.Photo, error) {
	var doc photoDoc
	if err := d.DataTo(&doc); err != nil {
		return model.Photo{}, fmt.Errorf("while unmarshaling photo %q: %w", d.Ref.ID, err)
	}
	return model.Photo{
		ID:          d.Ref.ID,
		ImageURL:    doc.ImageURL,
		StoragePath: doc.StoragePath,
		FileName:    doc.FileName,
		CreatedAt:   doc.CreatedAt,
		DateTaken:   doc.DateTaken,
		CameraMake:  doc.CameraMake,
		CameraModel: doc.CameraModel,
		Status:      model.PhotoStatus(doc.Status),
	}, nil
}

func (f *Firestore) GetPhoto(ctx context.Context, id string) (model.Photo, error) {
	snap, err := f.client.Collection(photosCollection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return model.Photo{}, fmt.Errorf("photo %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Photo{}, fmt.Errorf("while getting photo %q: %w", id, err)
	}
	return decodePhoto(snap)
}

func (f *Firestore) AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	doc := photoDoc{
		ImageURL:    p.ImageURL,
		StoragePath: p.StoragePath,
		FileName:    p.FileName,
		DateTaken:   p.DateTaken,
		CameraMake:  p.CameraMake,
		CameraModel: p.CameraModel,
		Status:      string(p.Status),
	}
	res, err := f.client.Collection(photosCollection).Doc(p.ID).Create(ctx, doc)
	if err != nil {
		return model.Photo{}, fmt.Errorf("while creating photo: %w", err)
	}
	p.CreatedAt = res.UpdateTime
	return p, nil
}

func (f *Firestore) UpdatePhoto(ctx context.Context, id string, u model.PhotoUpdate) error {
	var updates []firestore.Update
	if u.ImageURL != nil {
		updates = append(updates, firestore.Update{Path: "imageUrl", Value: *u.ImageURL})
	}
	if u.StoragePath != nil {
		updates = append(updates, firestore.Update{Path: "storagePath", Value: *u.StoragePath})
	}
	if u.Status != nil {
		updates = append(updates, firestore.Update{Path: "status", Value: string(*u.Status)})
	}
	if len(updates) == 0 {
		return nil
	}

	_, err := f.client.Collection(photosCollection).Doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("photo %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while updating photo %q: %w", id, err)
	}
	return nil
}

func (f *Firestore) DeletePhoto(ctx context.Context, id string) error {
	_, err := f.client.Collection(photosCollection).Doc(id).Delete(ctx, firestore.Exists)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("photo %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("while deleting photo %q: %w", id, err)
	}
	return nil
}
