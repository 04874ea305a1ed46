package blobstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/okarvi/tideflow/pkg/api"
)

// MemoryStore is a goroutine-safe in-process Store backed by a map. Records
// are kept in their encoded form so every Get returns a detached copy, the
// same isolation a remote object store would give.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	rev  int64
	cas  string
	data []byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, key string) (*Rec, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	rec, ok := s.records[key]
	s.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}

	st, err := DecodeState(rec.data)
	if err != nil {
		return nil, err
	}
	return &Rec{Rev: rec.rev, State: st, CAS: rec.cas}, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, st *api.State, cas string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	data, err := EncodeState(st)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.records[key]
	if cas == "" {
		if exists {
			return 0, ErrConflict
		}
	} else {
		if !exists || existing.cas != cas {
			return 0, ErrConflict
		}
	}

	rec := memoryRecord{
		rev:  existing.rev + 1,
		cas:  uuid.NewString(),
		data: data,
	}
	s.records[key] = rec
	return rec.rev, nil
}

func (s *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
