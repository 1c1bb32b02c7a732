package fingerprint

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned when no valid cache entry exists.
var ErrNotFound = errors.New("cache entry not found")

// keySeparator separates the algorithm from the path in cache keys.
const keySeparator = '\x00'

// entry is a cached fingerprint with the file metadata it was computed from.
type entry struct {
	Size        int64
	Mtime       int64 // UnixNano
	Fingerprint string
}

func (e *entry) encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *entry) decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// makeKey creates a cache key. Format: <algorithm>\x00<path>
func makeKey(algo Algorithm, path string) []byte {
	return []byte(string(algo) + string(keySeparator) + path)
}

// Cache persists fingerprints across runs in Badger.
type Cache struct {
	db *badger.DB
}

// OpenCache opens or creates a cache at dir.
func OpenCache(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening fingerprint cache: %w", err)
	}

	return &Cache{db: db}, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Lookup returns the cached fingerprint for path when size and mtime match.
func (c *Cache) Lookup(algo Algorithm, path string, size int64, mtime time.Time) (string, error) {
	var e entry

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(algo, path))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(e.decode)
	})
	if err != nil {
		return "", err
	}

	if e.Size != size || e.Mtime != mtime.UnixNano() {
		return "", ErrNotFound
	}
	return e.Fingerprint, nil
}

// Store records the fingerprint for path.
func (c *Cache) Store(algo Algorithm, path string, size int64, mtime time.Time, fp string) error {
	e := entry{Size: size, Mtime: mtime.UnixNano(), Fingerprint: fp}
	value, err := e.encode()
	if err != nil {
		return err
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeKey(algo, path), value)
	})
}

// Forget removes the entry for path under every algorithm.
func (c *Cache) Forget(path string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		for _, algo := range []Algorithm{SHA256, XXHash} {
			if err := txn.Delete(makeKey(algo, path)); err != nil {
				return err
			}
		}
		return nil
	})
}
