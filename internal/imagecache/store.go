// Package imagecache keeps a durable copy of remote photo bytes so the kiosk
// keeps showing its slideshow when the network drops.
package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Entry is one cached response, keyed by its full request URL.
type Entry struct {
	URL         string    `json:"url"`
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	StoredAt    time.Time `json:"stored_at"`
	Body        []byte    `json:"-"`
}

// Store persists entries. Entries never expire; they stay until overwritten,
// deleted or cleared.
type Store interface {
	Get(url string) (Entry, bool, error)
	Put(e Entry) error
	Delete(url string) error
	Clear() error
}

// DiskStore keeps one directory per URL (sha256 of the URL) holding
// meta.json and the body.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		dir = "./var/image-cache"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

func (d *DiskStore) pathFor(url string) string {
	sum := sha256.Sum256([]byte(url))
	return filepath.Join(d.dir, hex.EncodeToString(sum[:]))
}

func (d *DiskStore) Get(url string) (Entry, bool, error) {
	p := d.pathFor(url)

	data, err := os.ReadFile(filepath.Join(p, "meta.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache meta: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache meta: %w", err)
	}
	// Hash collisions are not a practical concern, but a mismatched URL means
	// the directory is not ours.
	if e.URL != url {
		return Entry{}, false, nil
	}

	body, err := os.ReadFile(filepath.Join(p, "body"))
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache body: %w", err)
	}
	e.Body = body
	return e, true, nil
}

func (d *DiskStore) Put(e Entry) error {
	p := d.pathFor(e.URL)
	if err := os.MkdirAll(p, 0o700); err != nil {
		return fmt.Errorf("create entry dir: %w", err)
	}

	// Body first so meta never points at a missing body.
	if err := writeFileAtomic(filepath.Join(p, "body"), e.Body); err != nil {
		return fmt.Errorf("write cache body: %w", err)
	}

	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(&e, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(p, "meta.json"), data); err != nil {
		return fmt.Errorf("write cache meta: %w", err)
	}
	return nil
}

func (d *DiskStore) Delete(url string) error {
	if err := os.RemoveAll(d.pathFor(url)); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

func (d *DiskStore) Clear() error {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return fmt.Errorf("list cache dir: %w", err)
	}
	for _, ent := range entries {
		if err := os.RemoveAll(filepath.Join(d.dir, ent.Name())); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
