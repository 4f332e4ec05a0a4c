package pantry

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/tbourn/scan2serve/internal/repo"
)

// ErrStale is returned by a Backend when a write's expected version no
// longer matches the stored one.
var ErrStale = errors.New("pantry: stale slot version")

// Record is the raw content of a slot together with its version.
type Record struct {
	Value   string
	Version int64
}

// Backend stores one named slot. Get returns (nil, nil) when the slot is
// absent. Put writes only if the stored version equals expect (0 means "must
// not exist yet") and returns the new version.
type Backend interface {
	Get(ctx context.Context, key string) (*Record, error)
	Put(ctx context.Context, key, value string, expect int64) (int64, error)
	Delete(ctx context.Context, key string) error
}

// SQLBackend keeps slots in the slots table through the repo package.
type SQLBackend struct {
	DB *gorm.DB
}

// Get implements Backend.
func (b SQLBackend) Get(ctx context.Context, key string) (*Record, error) {
	s, err := repo.GetSlot(ctx, b.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Record{Value: s.Value, Version: s.Version}, nil
}

// Put implements Backend.
func (b SQLBackend) Put(ctx context.Context, key, value string, expect int64) (int64, error) {
	v, err := repo.PutSlot(ctx, b.DB, key, value, expect)
	if errors.Is(err, repo.ErrVersionConflict) {
		return 0, ErrStale
	}
	return v, err
}

// Delete implements Backend.
func (b SQLBackend) Delete(ctx context.Context, key string) error {
	return repo.DeleteSlot(ctx, b.DB, key)
}

// MemoryBackend is an in-process Backend. The zero value is ready to use.
type MemoryBackend struct {
	mu    sync.Mutex
	slots map[string]Record

	// FailPut, when set, is returned by every Put.
	FailPut error
}

// Get implements Backend.
func (m *MemoryBackend) Get(_ context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.slots[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

// Put implements Backend.
func (m *MemoryBackend) Put(_ context.Context, key, value string, expect int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut != nil {
		return 0, m.FailPut
	}
	if m.slots == nil {
		m.slots = make(map[string]Record)
	}
	if m.slots[key].Version != expect {
		return 0, ErrStale
	}
	next := expect + 1
	m.slots[key] = Record{Value: value, Version: next}
	return next, nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots, key)
	return nil
}
