// Package boltdb persists the client session and the pending operation queue in a single bbolt file.
package boltdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

// formatVersion версия формата данных в файле. Увеличивается при
// несовместимом изменении сериализации PendingOperation.
const formatVersion uint64 = 1

var (
	bucketMeta       = []byte("meta")
	bucketAuth       = []byte("auth")
	bucketOperations = []byte("operations")

	formatKey = []byte("format")
)

// ErrUnsupportedFormat файл создан более новой версией клиента
var ErrUnsupportedFormat = errors.New("local database was written by a newer client")

// Storage keeps the session and the queued operations of one client installation
type Storage struct {
	db *bbolt.DB
}

// New opens or creates the database at dbPath. It waits at most a second
// for another farmkeeper process holding the file lock.
func New(ctx context.Context, dbPath string) (*Storage, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bbolt.ErrTimeout) {
			return nil, fmt.Errorf("local database %s is in use by another farmkeeper process", dbPath)
		}
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	storage := &Storage{db: db}
	if err := storage.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return storage, nil
}

// Close closes the database, a second call is a no-op
func (s *Storage) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// init создает buckets и проверяет версию формата
func (s *Storage) init() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create meta bucket: %w", err)
		}

		if raw := meta.Get(formatKey); len(raw) == 8 {
			if v := binary.BigEndian.Uint64(raw); v > formatVersion {
				return fmt.Errorf("%w (format %d, supported %d)", ErrUnsupportedFormat, v, formatVersion)
			}
		}
		if err := meta.Put(formatKey, binary.BigEndian.AppendUint64(nil, formatVersion)); err != nil {
			return fmt.Errorf("failed to write format version: %w", err)
		}

		for _, name := range [][]byte{bucketAuth, bucketOperations} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
