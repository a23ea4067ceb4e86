package zarr

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
)

const (
	MemoryStoreType = "memory"
	LocalStoreType  = "local"
)

// ErrNotFound is returned by stores for absent keys. Missing chunks are not
// an error for arrays: they read as the fill value.
var ErrNotFound = errors.New("not found")

// Store is a read-only key/value view of a zarr hierarchy. Keys are
// slash-separated and relative to the hierarchy root.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Type() string
}

type MemoryStore struct {
	lk   sync.RWMutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return d, nil
}

func (s *MemoryStore) Set(key string, val []byte) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = val
}

func (s *MemoryStore) Delete(key string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data, key)
}

// LocalStore reads a directory store from disk.
type LocalStore struct {
	base string
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(base)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", base)
	}
	return &LocalStore{base: base}, nil
}

func (s *LocalStore) Type() string { return LocalStoreType }

func (s *LocalStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// rooting the key before cleaning keeps reads inside base
	clean := path.Clean("/" + key)
	b, err := os.ReadFile(filepath.Join(s.base, filepath.FromSlash(clean)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return b, err
}

// Prefixed scopes a store to a sub-path.
type Prefixed struct {
	Store  Store
	Prefix string
}

func (p Prefixed) Type() string { return p.Store.Type() }

func (p Prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.Store.Get(ctx, path.Join(p.Prefix, key))
}
