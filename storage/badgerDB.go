package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/arcforge/loreweaver/core"
)

// Store is the shared persistence capability backed by BadgerDB. All
// repositories run through it; CompareAndSwapObject supplies the per-key
// conditional writes the serialization guarantees depend on.
type Store struct {
	db  *badger.DB
	cfg BadgerDBConfig
	log *zap.SugaredLogger
}

// Open opens (or creates) the store under cfg.DataDir.
func Open(cfg BadgerDBConfig, log *zap.SugaredLogger) (*Store, error) {
	opts := badger.DefaultOptions(filepath.Join(cfg.DataDir, "badgerdb"))
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	if cfg.DisableLogging {
		opts.Logger = nil
	}
	opts.SyncWrites = cfg.SyncWrites

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log}
	if cfg.GCInterval > 0 {
		go s.startGCRoutine(time.Duration(cfg.GCInterval) * time.Second)
	}
	return s, nil
}

func (s *Store) startGCRoutine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			s.log.Warnw("BadgerDB GC failed", "error", err)
		}
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a raw key-value pair.
func (s *Store) Put(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get retrieves a value by key. Returns core.ErrNotFound for missing keys.
func (s *Store) Get(key string) ([]byte, error) {
	var valCopy []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return core.ErrNotFound
			}
			return err
		}
		valCopy, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, fmt.Errorf("key %s: %w", key, core.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return valCopy, nil
}

// PutObject serializes and stores an object.
func (s *Store) PutObject(key string, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(key, data)
}

// GetObject retrieves and deserializes an object.
func (s *Store) GetObject(key string, obj any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// GetByPrefix retrieves all key-value pairs with a given prefix.
func (s *Store) GetByPrefix(prefix string) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefixBytes := []byte(prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			k := append([]byte{}, item.Key()...)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(k)] = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan prefix %s: %w", prefix, err)
	}
	return result, nil
}

// CompareAndSwapObject writes next under key only when the stored value still
// equals expected. A nil expected asserts the key does not exist yet. Returns
// core.ErrConflict when the precondition fails.
func (s *Store) CompareAndSwapObject(key string, expected, next any) error {
	var expectedBytes []byte
	if expected != nil {
		b, err := json.Marshal(expected)
		if err != nil {
			return fmt.Errorf("marshal expected %s: %w", key, err)
		}
		expectedBytes = b
	}
	nextBytes, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal next %s: %w", key, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if expectedBytes != nil {
				return core.ErrConflict
			}
		case err != nil:
			return err
		default:
			if expectedBytes == nil {
				return core.ErrConflict
			}
			current, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !bytes.Equal(current, expectedBytes) {
				return core.ErrConflict
			}
		}
		return txn.Set([]byte(key), nextBytes)
	})
	if err != nil {
		if errors.Is(err, core.ErrConflict) {
			return fmt.Errorf("compare-and-set %s: %w", key, core.ErrConflict)
		}
		return fmt.Errorf("compare-and-set %s: %w", key, err)
	}
	return nil
}
