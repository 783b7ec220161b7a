// Package blob stores uploaded export files in BadgerDB.
package blob

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"example.com/steps/internal/domain"
)

const (
	// chunkSize stays below badger's 1 MiB value limit for in-memory databases.
	chunkSize = 512 << 10

	manifestSize   = 20
	manifestPrefix = "m/"
	chunkPrefix    = "c/"
)

// Config holds BadgerDB settings for the blob store.
type Config struct {
	// Path to store database files. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM (tests, local runs).
	InMemory bool
}

// Store implements put/get of opaque blobs keyed by string.
//
// A blob is written as fixed-size chunks followed by a manifest holding the chunk count, total length and
// an xxhash checksum of the whole blob. The manifest is written last, so a reader never sees a partial blob.
type Store struct {
	db *badger.DB
}

// Open creates or opens a Store.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		// Chunks are written once and read rarely; keep them in the value log.
		opts = opts.WithValueThreshold(1 << 10)
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

type manifest struct {
	checksum uint64
	length   uint64
	chunks   uint32
}

func (m manifest) encode() []byte {
	buf := make([]byte, manifestSize)
	binary.BigEndian.PutUint64(buf[0:8], m.checksum)
	binary.BigEndian.PutUint64(buf[8:16], m.length)
	binary.BigEndian.PutUint32(buf[16:20], m.chunks)
	return buf
}

func decodeManifest(raw []byte) (manifest, error) {
	if len(raw) != manifestSize {
		return manifest{}, errors.New("truncated manifest")
	}
	return manifest{
		checksum: binary.BigEndian.Uint64(raw[0:8]),
		length:   binary.BigEndian.Uint64(raw[8:16]),
		chunks:   binary.BigEndian.Uint32(raw[16:20]),
	}, nil
}

func manifestKey(key string) []byte {
	return []byte(manifestPrefix + key)
}

func chunkKey(key string, i uint32) []byte {
	out := make([]byte, 0, len(chunkPrefix)+len(key)+5)
	out = append(out, chunkPrefix...)
	out = append(out, key...)
	out = append(out, 0)
	return binary.BigEndian.AppendUint32(out, i)
}

// Put stores data under key, replacing any previous value, and returns the key.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		return "", errors.New("blob key is required")
	}

	m := manifest{
		checksum: xxhash.Sum64(data),
		length:   uint64(len(data)),
		chunks:   uint32((len(data) + chunkSize - 1) / chunkSize),
	}

	// WriteBatch splits the chunks over as many transactions as needed.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i := uint32(0); i < m.chunks; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		start := int(i) * chunkSize
		end := min(start+chunkSize, len(data))
		if err := wb.Set(chunkKey(key, i), data[start:end]); err != nil {
			return "", fmt.Errorf("put blob %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return "", fmt.Errorf("put blob %s: %w", key, err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		// Drop chunks left over from a longer previous value.
		if item, err := txn.Get(manifestKey(key)); err == nil {
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if prev, err := decodeManifest(raw); err == nil {
				for i := m.chunks; i < prev.chunks; i++ {
					if err := txn.Delete(chunkKey(key, i)); err != nil {
						return err
					}
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(manifestKey(key), m.encode())
	})
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", key, err)
	}
	return key, nil
}

// Get returns the bytes stored under key, or an error wrapping domain.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		m    manifest
		data []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(manifestKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if m, err = decodeManifest(raw); err != nil {
			return err
		}

		data = make([]byte, 0, m.length)
		for i := uint32(0); i < m.chunks; i++ {
			chunk, err := txn.Get(chunkKey(key, i))
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			if err := chunk.Value(func(v []byte) error {
				data = append(data, v...)
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", key, err)
	}

	if uint64(len(data)) != m.length || xxhash.Sum64(data) != m.checksum {
		return nil, fmt.Errorf("blob %s: checksum mismatch", key)
	}
	return data, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
