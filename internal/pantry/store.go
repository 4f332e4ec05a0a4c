// Package pantry keeps the household pantry: a list of items persisted as
// one JSON document in a named slot.
//
// Every mutation is a read-modify-write of the whole document. The Store
// serializes its own mutations with a mutex and commits through the
// backend's version check, so a write from another process between the
// read and the commit fails with ErrConflict instead of being overwritten.
//
// Load degrades a missing or unparseable slot to an empty pantry. Storage
// failures on writes are always returned to the caller.
package pantry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/utils"
)

// DefaultSlot is the slot key used when none is configured.
const DefaultSlot = "scan2serve_pantry_v1"

// ErrConflict reports that the slot was changed by another writer while a
// mutation was in flight. Nothing was written; the caller may retry.
var ErrConflict = errors.New("pantry: concurrent modification")

// ErrBlankName rejects an edit whose resulting name is blank.
var ErrBlankName = errors.New("pantry: item name must not be blank")

// MergeRow is one incoming receipt line for MergeFromRows. A nil Perishable
// keeps whatever the pantry already knows. Price is coerced with
// utils.ToMoney.
type MergeRow struct {
	ItemName   string
	Price      any
	Perishable *domain.Perishable
}

// Snapshot is a point-in-time copy of the pantry and the slot version it
// was read at.
type Snapshot struct {
	Items   []domain.PantryItem
	Version int64
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for updatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the pantry repository. It is safe for concurrent use.
type Store struct {
	backend Backend
	key     string
	now     func() time.Time

	mu      sync.Mutex
	items   []domain.PantryItem
	version int64
}

// New returns a Store over backend for slot key (DefaultSlot when empty).
func New(backend Backend, key string, opts ...Option) *Store {
	if strings.TrimSpace(key) == "" {
		key = DefaultSlot
	}
	s := &Store{backend: backend, key: key, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Key returns the slot key this store persists to.
func (s *Store) Key() string { return s.key }

// Load re-reads the slot and returns its items.
func (s *Store) Load(ctx context.Context) ([]domain.PantryItem, error) {
	ctx, span := startSpan(ctx, "Load")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return clone(s.items), nil
}

// Refresh re-reads the slot into the cache and returns the new snapshot.
func (s *Store) Refresh(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.refreshLocked(ctx); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Items: clone(s.items), Version: s.version}, nil
}

// Snapshot returns the cached pantry without touching the backend.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Items: clone(s.items), Version: s.version}
}

// Current reports whether snap still matches the stored slot version.
func (s *Store) Current(ctx context.Context, snap Snapshot) (bool, error) {
	rec, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return false, fmt.Errorf("pantry: read slot: %w", err)
	}
	var v int64
	if rec != nil {
		v = rec.Version
	}
	return v == snap.Version, nil
}

// ReplaceAll stores items verbatim.
func (s *Store) ReplaceAll(ctx context.Context, items []domain.PantryItem) ([]domain.PantryItem, error) {
	ctx, span := startSpan(ctx, "ReplaceAll", attribute.Int("pantry.items", len(items)))
	defer span.End()

	return s.mutate(ctx, func([]domain.PantryItem) ([]domain.PantryItem, bool) {
		if items == nil {
			return []domain.PantryItem{}, true
		}
		return clone(items), true
	})
}

// Clear removes the slot, leaving an empty pantry.
func (s *Store) Clear(ctx context.Context) error {
	ctx, span := startSpan(ctx, "Clear")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("pantry: clear slot: %w", err)
	}
	s.items = nil
	s.version = 0
	itemsGauge.Set(0)
	return nil
}

// MergeFromRows folds receipt rows into the pantry and persists the result
// sorted by updatedAt, newest first.
//
// Rows with a blank normalized name are skipped. A new key is inserted with
// timesSeen 1. An existing key takes the incoming display name, takes the
// incoming perishable flag when one is given, takes the incoming price when
// it coerces to non-zero, and has its timesSeen incremented.
func (s *Store) MergeFromRows(ctx context.Context, rows []MergeRow) ([]domain.PantryItem, error) {
	ctx, span := startSpan(ctx, "MergeFromRows", attribute.Int("merge.rows", len(rows)))
	defer span.End()

	var inserted, merged, skipped int
	out, err := s.mutate(ctx, func(cur []domain.PantryItem) ([]domain.PantryItem, bool) {
		inserted, merged, skipped = 0, 0, 0
		now := s.now().UnixMilli()

		order := make([]string, 0, len(cur)+len(rows))
		byKey := make(map[string]domain.PantryItem, len(cur)+len(rows))
		put := func(k string, it domain.PantryItem) {
			if _, ok := byKey[k]; !ok {
				order = append(order, k)
			}
			byKey[k] = it
		}
		for _, it := range cur {
			put(utils.Normalize(it.ItemName), it)
		}

		for _, r := range rows {
			k := utils.Normalize(r.ItemName)
			if k == "" {
				skipped++
				continue
			}
			price := utils.ToMoney(r.Price)
			prev, ok := byKey[k]
			if !ok {
				it := domain.PantryItem{
					ItemName:  r.ItemName,
					LastPrice: price,
					TimesSeen: 1,
					UpdatedAt: now,
				}
				if r.Perishable != nil {
					it.Perishable = *r.Perishable
				}
				put(k, it)
				inserted++
				continue
			}

			prev.ItemName = r.ItemName
			if r.Perishable != nil {
				prev.Perishable = *r.Perishable
			}
			if price != 0 {
				prev.LastPrice = price
			}
			if prev.TimesSeen <= 0 {
				prev.TimesSeen = 1
			}
			prev.TimesSeen++
			prev.UpdatedAt = now
			put(k, prev)
			merged++
		}

		next := make([]domain.PantryItem, 0, len(order))
		for _, k := range order {
			next = append(next, byKey[k])
		}
		sort.SliceStable(next, func(i, j int) bool { return next[i].UpdatedAt > next[j].UpdatedAt })
		return next, true
	})
	if err != nil {
		return nil, err
	}

	mergeRows.WithLabelValues("inserted").Add(float64(inserted))
	mergeRows.WithLabelValues("merged").Add(float64(merged))
	mergeRows.WithLabelValues("skipped").Add(float64(skipped))
	span.SetAttributes(
		attribute.Int("merge.inserted", inserted),
		attribute.Int("merge.merged", merged),
		attribute.Int("merge.skipped", skipped),
	)
	return out, nil
}

// UpsertSingle adds or replaces one item by normalized name. A blank name
// leaves the pantry unchanged. New items go to the front of the list.
func (s *Store) UpsertSingle(ctx context.Context, item domain.PantryItem) ([]domain.PantryItem, error) {
	ctx, span := startSpan(ctx, "UpsertSingle")
	defer span.End()

	return s.mutate(ctx, func(cur []domain.PantryItem) ([]domain.PantryItem, bool) {
		next, ok := s.sanitize(item)
		if !ok {
			return cur, false
		}
		return upsertAt(cur, next), true
	})
}

// Rename replaces the item stored under oldName with item in a single
// write. The renamed item keeps the old entry's position, or replaces the
// entry already stored under the new name. When oldName is not present
// Rename behaves like UpsertSingle.
func (s *Store) Rename(ctx context.Context, oldName string, item domain.PantryItem) ([]domain.PantryItem, error) {
	ctx, span := startSpan(ctx, "Rename")
	defer span.End()

	return s.mutate(ctx, func(cur []domain.PantryItem) ([]domain.PantryItem, bool) {
		next, ok := s.sanitize(item)
		if !ok {
			return cur, false
		}
		oldKey, newKey := utils.Normalize(oldName), utils.Normalize(next.ItemName)
		oldIdx := indexOf(cur, oldKey)
		if oldKey == newKey || oldIdx == -1 {
			return upsertAt(cur, next), true
		}

		if newIdx := indexOf(cur, newKey); newIdx != -1 {
			cur[newIdx] = next
			return append(cur[:oldIdx], cur[oldIdx+1:]...), true
		}
		cur[oldIdx] = next
		return cur, true
	})
}

// ItemEdit is a partial change to one item. Nil fields keep the value
// stored at commit time.
type ItemEdit struct {
	ItemName   *string
	Perishable *domain.Perishable
	LastPrice  *float64
}

// Edit applies e to the item stored under name in one read-modify-write and
// returns the pantry with the committed item.
//
// Fields e leaves nil, and timesSeen always, come from the stored entry, so
// sightings merged since the caller last read the pantry survive. When name
// is absent the entry under the edited name is used as the base, and with
// neither present the edit is inserted at the front. Renaming onto a key
// that already exists replaces that entry and drops the old one, as Rename
// does.
func (s *Store) Edit(ctx context.Context, name string, e ItemEdit) ([]domain.PantryItem, domain.PantryItem, error) {
	ctx, span := startSpan(ctx, "Edit")
	defer span.End()

	var committed domain.PantryItem
	blank := false
	out, err := s.mutate(ctx, func(cur []domain.PantryItem) ([]domain.PantryItem, bool) {
		oldIdx := indexOf(cur, utils.Normalize(name))
		baseIdx := oldIdx
		if baseIdx == -1 && e.ItemName != nil {
			baseIdx = indexOf(cur, utils.Normalize(*e.ItemName))
		}
		base := domain.PantryItem{ItemName: name}
		if baseIdx != -1 {
			base = cur[baseIdx]
		}
		if e.ItemName != nil {
			base.ItemName = *e.ItemName
		}
		if e.Perishable != nil {
			base.Perishable = *e.Perishable
		}
		if e.LastPrice != nil {
			base.LastPrice = *e.LastPrice
		}

		next, ok := s.sanitize(base)
		if !ok {
			blank = true
			return cur, false
		}
		committed = next
		if oldIdx == -1 || utils.Normalize(name) == utils.Normalize(next.ItemName) {
			return upsertAt(cur, next), true
		}
		if newIdx := indexOf(cur, utils.Normalize(next.ItemName)); newIdx != -1 {
			cur[newIdx] = next
			return append(cur[:oldIdx], cur[oldIdx+1:]...), true
		}
		cur[oldIdx] = next
		return cur, true
	})
	if err != nil {
		return nil, domain.PantryItem{}, err
	}
	if blank {
		return out, domain.PantryItem{}, ErrBlankName
	}
	return out, committed, nil
}

// DeleteByName removes every item whose normalized name matches name.
func (s *Store) DeleteByName(ctx context.Context, name string) ([]domain.PantryItem, error) {
	ctx, span := startSpan(ctx, "DeleteByName")
	defer span.End()

	key := utils.Normalize(name)
	return s.mutate(ctx, func(cur []domain.PantryItem) ([]domain.PantryItem, bool) {
		out := cur[:0]
		for _, it := range cur {
			if utils.Normalize(it.ItemName) != key {
				out = append(out, it)
			}
		}
		return out, len(out) != len(cur)
	})
}

// Export returns the pantry as indented JSON.
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	items, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.PantryItem{}
	}
	return json.MarshalIndent(items, "", "  ")
}

// mutate runs fn against a fresh read of the slot and commits its result
// if fn reports a change.
func (s *Store) mutate(ctx context.Context, fn func([]domain.PantryItem) ([]domain.PantryItem, bool)) ([]domain.PantryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.refreshLocked(ctx); err != nil {
		return nil, err
	}
	next, changed := fn(clone(s.items))
	if !changed {
		return clone(s.items), nil
	}
	if next == nil {
		next = []domain.PantryItem{}
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("pantry: encode: %w", err)
	}
	v, err := s.backend.Put(ctx, s.key, string(raw), s.version)
	if errors.Is(err, ErrStale) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("pantry: write slot: %w", err)
	}

	s.items = next
	s.version = v
	itemsGauge.Set(float64(len(next)))
	return clone(next), nil
}

func (s *Store) refreshLocked(ctx context.Context) error {
	rec, err := s.backend.Get(ctx, s.key)
	if err != nil {
		return fmt.Errorf("pantry: read slot: %w", err)
	}
	if rec == nil {
		s.items, s.version = nil, 0
		itemsGauge.Set(0)
		return nil
	}

	var items []domain.PantryItem
	if err := json.Unmarshal([]byte(rec.Value), &items); err != nil {
		log.Warn().Err(err).Str("slot", s.key).Msg("pantry slot is not valid JSON; treating as empty")
		decodeErrors.Inc()
		items = nil
	}
	s.items, s.version = items, rec.Version
	itemsGauge.Set(float64(len(items)))
	return nil
}

// sanitize applies the manual-edit coercions. ok is false for a blank name.
func (s *Store) sanitize(item domain.PantryItem) (domain.PantryItem, bool) {
	name := strings.TrimSpace(item.ItemName)
	if name == "" {
		return domain.PantryItem{}, false
	}
	p := domain.PerishableNo
	if item.Perishable == domain.PerishableYes {
		p = domain.PerishableYes
	}
	seen := item.TimesSeen
	if seen <= 0 {
		seen = 1
	}
	return domain.PantryItem{
		ItemName:   name,
		Perishable: p,
		LastPrice:  utils.ToMoney(item.LastPrice),
		TimesSeen:  seen,
		UpdatedAt:  s.now().UnixMilli(),
	}, true
}

func upsertAt(cur []domain.PantryItem, next domain.PantryItem) []domain.PantryItem {
	if idx := indexOf(cur, utils.Normalize(next.ItemName)); idx != -1 {
		cur[idx] = next
		return cur
	}
	return append([]domain.PantryItem{next}, cur...)
}

func indexOf(items []domain.PantryItem, key string) int {
	for i, it := range items {
		if utils.Normalize(it.ItemName) == key {
			return i
		}
	}
	return -1
}

func clone(items []domain.PantryItem) []domain.PantryItem {
	if items == nil {
		return nil
	}
	out := make([]domain.PantryItem, len(items))
	copy(out, items)
	return out
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer("pantry/Store").Start(ctx, name, trace.WithAttributes(attrs...))
}
