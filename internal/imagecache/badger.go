package imagecache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger"
)

const (
	metaPrefix = "meta/"
	bodyPrefix = "body/"
)

// BadgerStore keeps entries in an embedded badger key-value store. Meta and
// body live under separate keys written in one transaction.
type BadgerStore struct {
	DB *badger.DB
}

func NewBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir))
	if err != nil {
		return nil, fmt.Errorf("while opening badger kv dir: %w", err)
	}
	return &BadgerStore{DB: db}, nil
}

func (b *BadgerStore) Close() error {
	if err := b.DB.Close(); err != nil {
		return fmt.Errorf("while closing badger kv: %w", err)
	}
	return nil
}

func (b *BadgerStore) Get(url string) (Entry, bool, error) {
	var e Entry
	found := false
	err := b.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("while reading meta key: %w", err)
		}
		meta, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("while copying meta value: %w", err)
		}
		if err := json.Unmarshal(meta, &e); err != nil {
			return fmt.Errorf("while decoding meta: %w", err)
		}

		item, err = txn.Get([]byte(bodyPrefix + url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("while reading body key: %w", err)
		}
		e.Body, err = item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("while copying body value: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return e, found, nil
}

func (b *BadgerStore) Put(e Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	meta, err := json.Marshal(&e)
	if err != nil {
		return err
	}
	for {
		err = b.DB.Update(func(txn *badger.Txn) error {
			if err := txn.Set([]byte(bodyPrefix+e.URL), e.Body); err != nil {
				return err
			}
			return txn.Set([]byte(metaPrefix+e.URL), meta)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("while storing entry: %w", err)
	}
	return nil
}

func (b *BadgerStore) Delete(url string) error {
	err := b.DB.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(metaPrefix + url)); err != nil {
			return err
		}
		return txn.Delete([]byte(bodyPrefix + url))
	})
	if err != nil {
		return fmt.Errorf("while deleting entry: %w", err)
	}
	return nil
}

func (b *BadgerStore) Clear() error {
	if err := b.DB.DropAll(); err != nil {
		return fmt.Errorf("while dropping all keys: %w", err)
	}
	return nil
}
