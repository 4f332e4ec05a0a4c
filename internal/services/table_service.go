// Package services – TableService
//
// This file implements TableService, an in-process registry of review
// tables. Receipt tables hold freshly extracted rows until the user accepts
// them into the pantry. Pantry tables edit the stored pantry row by row.
//
// Pantry tables remember the slot version their rows were read at. Open
// rebuilds the rows when the pantry has moved on since then.
//
// Tables live in memory only. Tables idle for longer than TTL are dropped
// by Sweep, which Run calls on a ticker.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/editing"
	"github.com/tbourn/scan2serve/internal/pantry"
)

// PantryStore is what TableService needs from *pantry.Store.
type PantryStore interface {
	editing.PantryStore
	Refresh(ctx context.Context) (pantry.Snapshot, error)
	Current(ctx context.Context, snap pantry.Snapshot) (bool, error)
	MergeFromRows(ctx context.Context, rows []pantry.MergeRow) ([]domain.PantryItem, error)
}

// TableService owns the live review tables.
type TableService struct {
	Pantry PantryStore
	TTL    time.Duration

	now    func() time.Time
	mu     sync.RWMutex
	tables map[string]*editing.Table
}

// NewTableService returns an empty registry. ttl <= 0 disables eviction.
func NewTableService(store PantryStore, ttl time.Duration) *TableService {
	return &TableService{
		Pantry: store,
		TTL:    ttl,
		now:    time.Now,
		tables: make(map[string]*editing.Table),
	}
}

// CreateReceiptTable registers a receipt table over rows.
func (s *TableService) CreateReceiptTable(rows []editing.Row) *editing.Table {
	t := editing.NewTable(editing.KindReceipt, rows, nil)
	s.put(t)
	return t
}

// CreatePantryTable registers a table over the current pantry whose edits
// write straight through to it.
func (s *TableService) CreatePantryTable(ctx context.Context) (*editing.Table, error) {
	snap, err := s.Pantry.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	t := editing.NewTable(editing.KindPantry, nil, editing.PantrySink{Store: s.Pantry})
	t.Resync(pantryFields(snap.Items), snap.Version)
	s.put(t)
	return t, nil
}

// Open returns a live table, first re-reading a pantry table whose rows
// are older than the stored pantry.
func (s *TableService) Open(ctx context.Context, id string) (*editing.Table, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Kind != editing.KindPantry {
		return t, nil
	}
	current, err := s.Pantry.Current(ctx, pantry.Snapshot{Version: t.Version()})
	if err != nil {
		return nil, err
	}
	if current {
		return t, nil
	}
	snap, err := s.Pantry.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	t.Resync(pantryFields(snap.Items), snap.Version)
	log.Debug().Str("table_id", t.ID).Int64("version", snap.Version).Msg("pantry table resynced")
	return t, nil
}

// Get returns a live table or ErrTableNotFound.
func (s *TableService) Get(id string) (*editing.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[id]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// Delete discards a table without touching the pantry.
func (s *TableService) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[id]; !ok {
		return ErrTableNotFound
	}
	delete(s.tables, id)
	return nil
}

// Accept merges every row of a receipt table into the pantry, retires the
// table, and returns the resulting pantry.
func (s *TableService) Accept(ctx context.Context, id string) ([]domain.PantryItem, error) {
	ctx, span := otel.Tracer("services/TableService").Start(ctx, "Accept",
		trace.WithAttributes(attribute.String("table.id", id)),
	)
	defer span.End()

	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Kind != editing.KindReceipt {
		return nil, ErrNotReceiptTable
	}
	// Retire first so a concurrent accept of the same table cannot merge twice.
	if err := s.Delete(id); err != nil {
		return nil, err
	}
	rows := t.MergeRows()
	span.SetAttributes(attribute.Int("table.rows", len(rows)))

	items, err := s.Pantry.MergeFromRows(ctx, rows)
	if err != nil {
		s.put(t)
		return nil, err
	}
	return items, nil
}

// Len reports how many tables are live.
func (s *TableService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tables)
}

// Sweep drops tables idle for longer than TTL and returns how many went.
func (s *TableService) Sweep() int {
	if s.TTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.TTL)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, t := range s.tables {
		if t.LastTouched().Before(cutoff) {
			delete(s.tables, id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (s *TableService) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if n := s.Sweep(); n > 0 {
				log.Debug().Int("evicted", n).Msg("expired review tables")
			}
		}
	}
}

func pantryFields(items []domain.PantryItem) []editing.Fields {
	out := make([]editing.Fields, 0, len(items))
	for _, it := range items {
		out = append(out, editing.FieldsFromItem(it))
	}
	return out
}

func (s *TableService) put(t *editing.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[t.ID] = t
}
