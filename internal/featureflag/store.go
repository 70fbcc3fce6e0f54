package featureflag

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"postboard/internal/domain"
)

// ForceUpdate makes every client report that it must update.
const ForceUpdate = "force_update"

const keyPrefix = "flag:"

var (
	ErrNotFound    = errors.New("feature flag not found")
	ErrInvalidName = errors.New("feature flag name must match [a-z0-9_-]+")
)

var validName = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Store keeps feature flags in badger, one JSON document per flag.
type Store struct {
	db *badger.DB
}

func NewStore(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens a badger database at dir. An empty dir keeps flags in memory.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open flag store: %w", err)
	}
	return db, nil
}

func flagKey(name string) []byte {
	return []byte(keyPrefix + name)
}

func (s *Store) List() ([]domain.Flag, error) {
	flags := []domain.Flag{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var flag domain.Flag
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &flag)
			}); err != nil {
				return fmt.Errorf("decode flag %s: %w", it.Item().Key(), err)
			}
			flags = append(flags, flag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flags, nil
}

func (s *Store) Get(name string) (*domain.Flag, error) {
	var flag domain.Flag
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(flagKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("flag %q: %w", name, ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &flag)
		})
	})
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// Set creates or replaces a flag.
func (s *Store) Set(name string, enabled bool, actors []int64) (*domain.Flag, error) {
	if !validName.MatchString(name) {
		return nil, ErrInvalidName
	}
	flag := domain.Flag{
		Name:      name,
		Enabled:   enabled,
		Actors:    normalizeActors(actors),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(flag)
	if err != nil {
		return nil, fmt.Errorf("encode flag: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(flagKey(name), data)
	}); err != nil {
		return nil, fmt.Errorf("save flag %q: %w", name, err)
	}
	return &flag, nil
}

func (s *Store) Delete(name string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(flagKey(name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("flag %q: %w", name, ErrNotFound)
			}
			return err
		}
		return txn.Delete(flagKey(name))
	})
}

// Enabled reports whether name is on for userID. Unknown flags are off.
func (s *Store) Enabled(name string, userID int64) (bool, error) {
	flag, err := s.Get(name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return flag.EnabledFor(userID), nil
}

func normalizeActors(actors []int64) []int64 {
	out := make([]int64, 0, len(actors))
	seen := make(map[int64]struct{}, len(actors))
	for _, id := range actors {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
