package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	appLog "photocal/internal/log"
	"photocal/internal/model"
)

type eventRow struct {
	ID         string `gorm:"primaryKey"`
	Title      string `gorm:"not null"`
	StartAt    time.Time
	EndAt      time.Time
	StartDate  string
	EndDate    string
	AllDay     bool
	Recurrence string
	UntilAt    *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (eventRow) TableName() string { return "events" }

type photoRow struct {
	ID          string `gorm:"primaryKey"`
	ImageURL    string
	StoragePath string
	FileName    string
	CreatedAt   time.Time `gorm:"index"`
	DateTaken   *time.Time
	CameraMake  string
	CameraModel string
	Status      string `gorm:"index"`
}

func (photoRow) TableName() string { return "photos" }

// SQL is a local SQLite-backed store. Listeners are served in process: after
// every committed mutation the affected collection is re-read and pushed.
type SQL struct {
	db    *gorm.DB
	codec dateCodec

	// mu orders commit+publish so listeners observe commits in order.
	mu     sync.Mutex
	events *hub[[]model.Event]
	photos *hub[[]model.Photo]
}

// NewDB opens a SQLite database and runs migrations.
func NewDB(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		dsn = "photocal.db"
	}

	if err := ensureDirForSQLite(dsn); err != nil {
		return nil, err
	}

	dbLogger := logger.New(
		appLog.StdLogger(appLog.LevelWarn),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: dbLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.AutoMigrate(&eventRow{}, &photoRow{}); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}

	return db, nil
}

// ensureDirForSQLite creates parent dir for SQLite file if needed.
func ensureDirForSQLite(dsn string) error {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	clean := strings.TrimPrefix(dsn, "file:")
	clean = strings.Split(clean, "?")[0]
	dir := filepath.Dir(clean)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create db dir %q: %w", dir, err)
	}
	return nil
}

// NewSQL wraps db. loc is the display location used for all-day dates.
func NewSQL(db *gorm.DB, loc *time.Location) *SQL {
	return &SQL{
		db:     db,
		codec:  dateCodec{loc: loc},
		events: newHub[[]model.Event](),
		photos: newHub[[]model.Photo](),
	}
}

// OpenSQL is NewDB followed by NewSQL.
func OpenSQL(dsn string, loc *time.Location) (*SQL, error) {
	db, err := NewDB(dsn)
	if err != nil {
		return nil, err
	}
	return NewSQL(db, loc), nil
}

func (s *SQL) Close() error {
	s.events.closeAll()
	s.photos.closeAll()
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Events

func (s *SQL) SubscribeEvents(ctx context.Context, fn func(EventSnapshot)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	initial, err := s.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	l := s.events.subscribe(func(seq uint64, evs []model.Event) {
		fn(EventSnapshot{Seq: seq, Events: evs})
	})
	l.offer(initial)
	return l, nil
}

func (s *SQL) ListEvents(ctx context.Context) ([]model.Event, error) {
	var rows []eventRow
	if err := s.db.WithContext(ctx).Order("start_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]model.Event, 0, len(rows))
	for _, r := range rows {
		ev, err := s.eventFromRow(r)
		if err != nil {
			appLog.Error("store: skipping undecodable event", err, "id", r.ID)
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *SQL) GetEvent(ctx context.Context, id string) (model.Event, error) {
	var r eventRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Event{}, fmt.Errorf("event %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("get event: %w", err)
	}
	return s.eventFromRow(r)
}

func (s *SQL) AddEvent(ctx context.Context, ev model.Event) (model.Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.eventToRow(ev)
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return model.Event{}, fmt.Errorf("create event: %w", err)
	}
	s.publishEventsLocked(ctx)
	return ev, nil
}

func (s *SQL) UpdateEvent(ctx context.Context, ev model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.eventToRow(ev)
	res := s.db.WithContext(ctx).Model(&eventRow{}).Where("id = ?", ev.ID).Select("*").Omit("created_at").Updates(&r)
	if res.Error != nil {
		return fmt.Errorf("update event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("event %q: %w", ev.ID, ErrNotFound)
	}
	s.publishEventsLocked(ctx)
	return nil
}

func (s *SQL) DeleteEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&eventRow{})
	if res.Error != nil {
		return fmt.Errorf("delete event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("event %q: %w", id, ErrNotFound)
	}
	s.publishEventsLocked(ctx)
	return nil
}

func (s *SQL) publishEventsLocked(ctx context.Context) {
	evs, err := s.ListEvents(context.WithoutCancel(ctx))
	if err != nil {
		appLog.Error("store: event snapshot failed", err)
		return
	}
	s.events.publish(evs)
}

func (s *SQL) eventToRow(ev model.Event) eventRow {
	r := eventRow{
		ID:         ev.ID,
		Title:      ev.Title,
		StartAt:    ev.Start.UTC(),
		EndAt:      ev.End.UTC(),
		AllDay:     ev.AllDay,
		Recurrence: string(ev.Recurrence),
	}
	if ev.AllDay {
		r.StartDate = s.codec.encode(ev.Start)
		r.EndDate = s.codec.encode(ev.End)
	}
	if ev.Until != nil {
		u := ev.Until.UTC()
		r.UntilAt = &u
	}
	return r
}

func (s *SQL) eventFromRow(r eventRow) (model.Event, error) {
	rec, err := model.ParseRecurrence(r.Recurrence)
	if err != nil {
		return model.Event{}, err
	}
	loc := s.codec.location()
	ev := model.Event{
		ID:         r.ID,
		Title:      r.Title,
		Start:      r.StartAt.In(loc),
		End:        r.EndAt.In(loc),
		AllDay:     r.AllDay,
		Recurrence: rec,
	}
	if r.AllDay {
		if ev.Start, err = s.codec.decode(r.StartDate); err != nil {
			return model.Event{}, fmt.Errorf("decode start date: %w", err)
		}
		if ev.End, err = s.codec.decode(r.EndDate); err != nil {
			return model.Event{}, fmt.Errorf("decode end date: %w", err)
		}
	}
	if r.UntilAt != nil {
		u := r.UntilAt.In(loc)
		ev.Until = &u
	}
	return ev, nil
}

// Photos

func (s *SQL) SubscribePhotos(ctx context.Context, order model.Order, fn func(PhotoSnapshot)) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	initial, err := s.ListPhotos(ctx, model.Ascending)
	if err != nil {
		return nil, err
	}
	l := s.photos.subscribe(func(seq uint64, asc []model.Photo) {
		list := asc
		if order == model.Descending {
			list = reversed(asc)
		}
		fn(PhotoSnapshot{Seq: seq, Photos: list})
	})
	l.offer(initial)
	return l, nil
}

func (s *SQL) ListPhotos(ctx context.Context, order model.Order) ([]model.Photo, error) {
	q := s.db.WithContext(ctx)
	if order == model.Descending {
		q = q.Order("created_at DESC, id DESC")
	} else {
		q = q.Order("created_at, id")
	}
	var rows []photoRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	out := make([]model.Photo, 0, len(rows))
	for _, r := range rows {
		out = append(out, photoFromRow(r))
	}
	return out, nil
}

func (s *SQL) GetPhoto(ctx context.Context, id string) (model.Photo, error) {
	var r photoRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Photo{}, fmt.Errorf("photo %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Photo{}, fmt.Errorf("get photo: %w", err)
	}
	return photoFromRow(r), nil
}

func (s *SQL) AddPhoto(ctx context.Context, p model.Photo) (model.Photo, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r := photoToRow(p)
	r.CreatedAt = time.Now().UTC()
	if err := s.db.WithContext(ctx).Create(&r).Error; err != nil {
		return model.Photo{}, fmt.Errorf("create photo: %w", err)
	}
	s.publishPhotosLocked(ctx)
	return photoFromRow(r), nil
}

func (s *SQL) UpdatePhoto(ctx context.Context, id string, u model.PhotoUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields := map[string]any{}
	if u.ImageURL != nil {
		fields["image_url"] = *u.ImageURL
	}
	if u.StoragePath != nil {
		fields["storage_path"] = *u.StoragePath
	}
	if u.Status != nil {
		fields["status"] = string(*u.Status)
	}
	if len(fields) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&photoRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update photo: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("photo %q: %w", id, ErrNotFound)
	}
	s.publishPhotosLocked(ctx)
	return nil
}

func (s *SQL) DeletePhoto(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&photoRow{})
	if res.Error != nil {
		return fmt.Errorf("delete photo: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("photo %q: %w", id, ErrNotFound)
	}
	s.publishPhotosLocked(ctx)
	return nil
}

func (s *SQL) publishPhotosLocked(ctx context.Context) {
	photos, err := s.ListPhotos(context.WithoutCancel(ctx), model.Ascending)
	if err != nil {
		appLog.Error("store: photo snapshot failed", err)
		return
	}
	s.photos.publish(photos)
}

func photoToRow(p model.Photo) photoRow {
	r := photoRow{
		ID:          p.ID,
		ImageURL:    p.ImageURL,
		StoragePath: p.StoragePath,
		FileName:    p.FileName,
		CreatedAt:   p.CreatedAt.UTC(),
		CameraMake:  p.CameraMake,
		CameraModel: p.CameraModel,
		Status:      string(p.Status),
	}
	if p.DateTaken != nil {
		d := p.DateTaken.UTC()
		r.DateTaken = &d
	}
	return r
}

func photoFromRow(r photoRow) model.Photo {
	p := model.Photo{
		ID:          r.ID,
		ImageURL:    r.ImageURL,
		StoragePath: r.StoragePath,
		FileName:    r.FileName,
		CreatedAt:   r.CreatedAt,
		DateTaken:   r.DateTaken,
		CameraMake:  r.CameraMake,
		CameraModel: r.CameraModel,
		Status:      model.PhotoStatus(r.Status),
	}
	return p
}
