// Package editing holds the review tables shown to the user: receipt rows
// waiting to be accepted into the pantry, and pantry rows being managed by
// hand.
//
// Each row is a two-state machine. A row starts in Viewing. StartEdit moves
// it to Editing and snapshots its fields; SaveEdit validates a patch and
// returns to Viewing; CancelEdit restores the snapshot. RemoveRow deletes
// the row from either state.
//
// A Table may carry a Sink. Saves and removals are offered to the sink
// first, and the row only changes when the sink accepts. A saved row takes
// the values the sink reports as stored. Rows of a table with a sink are
// unique by normalized name.
package editing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/pantry"
	"github.com/tbourn/scan2serve/internal/utils"
)

var (
	ErrRowNotFound = errors.New("row not found")
	ErrNotEditing  = errors.New("row is not being edited")
	ErrBlankName   = errors.New("item name must not be blank")
)

// Kind tells receipt tables from pantry tables.
type Kind string

const (
	KindReceipt Kind = "receipt"
	KindPantry  Kind = "pantry"
)

// Fields are the editable values of a row.
type Fields struct {
	ItemName   string            `json:"itemName"`
	Price      float64           `json:"price"`
	Confidence float64           `json:"confidence"`
	Perishable domain.Perishable `json:"perishable,omitempty"`
	Original   string            `json:"original,omitempty"`
	Expanded   string            `json:"expanded,omitempty"`
	TimesSeen  int               `json:"timesSeen,omitempty"`
}

// Row is one line of a table.
type Row struct {
	ID string `json:"id"`
	Fields
	Editing  bool    `json:"editing"`
	Snapshot *Fields `json:"snapshot,omitempty"`
}

// NewRow returns a Viewing row with a fresh id.
func NewRow(f Fields) Row {
	return Row{ID: uuid.NewString(), Fields: f}
}

// Patch is a partial update. Nil fields are left alone. Price and
// Confidence accept numbers or numeric strings.
type Patch struct {
	ItemName   *string `json:"itemName"`
	Price      any     `json:"price"`
	Confidence any     `json:"confidence"`
	Perishable *string `json:"perishable"`
}

// Sink receives committed changes. Returning an error vetoes the change.
// Saved returns the fields as they were stored.
type Sink interface {
	Saved(ctx context.Context, before, after Fields) (Fields, error)
	Removed(ctx context.Context, f Fields) error
}

// Table is an ordered set of rows. It is safe for concurrent use.
type Table struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	mu      sync.Mutex
	rows    []*Row
	sink    Sink
	touched time.Time
	version int64
}

// NewTable builds a table over rows. sink may be nil.
func NewTable(kind Kind, rows []Row, sink Sink) *Table {
	now := time.Now()
	t := &Table{ID: uuid.NewString(), Kind: kind, CreatedAt: now, touched: now, sink: sink}
	t.rows = make([]*Row, 0, len(rows))
	for i := range rows {
		r := rows[i]
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		t.rows = append(t.rows, &r)
	}
	return t
}

// Rows returns a copy of every row in order.
func (t *Table) Rows() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Row, 0, len(t.rows))
	for _, r := range t.rows {
		out = append(out, copyRow(r))
	}
	return out
}

// Version is the source version recorded by the last Resync.
func (t *Table) Version() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.version
}

// Resync replaces the table contents with fields, read at source version v.
// Rows are matched by normalized name and keep their ids. A row being
// edited is left as it is; a Viewing row whose name is gone is dropped.
func (t *Table) Resync(fields []Fields, v int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byKey := make(map[string]*Row, len(t.rows))
	for _, r := range t.rows {
		byKey[utils.Normalize(r.ItemName)] = r
	}
	next := make([]*Row, 0, len(fields))
	seen := make(map[*Row]bool, len(fields))
	for _, f := range fields {
		r, ok := byKey[utils.Normalize(f.ItemName)]
		switch {
		case !ok:
			nr := NewRow(f)
			r = &nr
		case !r.Editing:
			r.Fields = f
		}
		seen[r] = true
		next = append(next, r)
	}
	var held []*Row
	for _, r := range t.rows {
		if r.Editing && !seen[r] {
			held = append(held, r)
		}
	}
	t.rows = append(held, next...)
	t.version = v
}

// LastTouched is the time of the most recent row operation.
func (t *Table) LastTouched() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.touched
}

// StartEdit moves a row to Editing and snapshots its fields. Calling it on
// a row that is already Editing changes nothing and keeps the first
// snapshot.
func (t *Table) StartEdit(id string) (Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, _, err := t.find(id)
	if err != nil {
		return Row{}, err
	}
	if !r.Editing {
		snap := r.Fields
		r.Snapshot = &snap
		r.Editing = true
	}
	return copyRow(r), nil
}

// SaveEdit applies p to an Editing row and returns it to Viewing.
//
// The name is trimmed and must not be blank; a blank name leaves the row in
// Editing. Price is coerced with utils.ToMoney and confidence is clamped to
// [0,1]. A perishable value other than Yes/No is ignored.
func (t *Table) SaveEdit(ctx context.Context, id string, p Patch) (Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, _, err := t.find(id)
	if err != nil {
		return Row{}, err
	}
	if !r.Editing {
		return Row{}, ErrNotEditing
	}

	next, err := apply(r.Fields, p)
	if err != nil {
		return copyRow(r), err
	}
	if t.sink != nil {
		before := r.Fields
		if r.Snapshot != nil {
			before = *r.Snapshot
		}
		stored, err := t.sink.Saved(ctx, before, next)
		if err != nil {
			return copyRow(r), err
		}
		next = withStored(next, stored)
		t.dropOthers(r, next.ItemName)
	}

	r.Fields = next
	r.Snapshot = nil
	r.Editing = false
	return copyRow(r), nil
}

// CancelEdit restores the snapshot, if any, and returns the row to Viewing.
// It is a no-op on a Viewing row.
func (t *Table) CancelEdit(id string) (Row, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, _, err := t.find(id)
	if err != nil {
		return Row{}, err
	}
	if r.Snapshot != nil {
		r.Fields = *r.Snapshot
	}
	r.Snapshot = nil
	r.Editing = false
	return copyRow(r), nil
}

// RemoveRow deletes a row in either state after the sink accepts.
func (t *Table) RemoveRow(ctx context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, idx, err := t.find(id)
	if err != nil {
		return err
	}
	if t.sink != nil {
		f := r.Fields
		if r.Snapshot != nil {
			f = *r.Snapshot
		}
		if err := t.sink.Removed(ctx, f); err != nil {
			return err
		}
	}
	t.rows = append(t.rows[:idx], t.rows[idx+1:]...)
	return nil
}

// AddRow adds a Viewing row. The name is trimmed and must not be blank.
//
// Without a sink the row is appended. With a sink the add is stored first;
// a row already holding the same normalized name takes the stored values
// instead of gaining a twin, and a genuinely new row goes to the front.
func (t *Table) AddRow(ctx context.Context, f Fields) (Row, error) {
	f.ItemName = strings.TrimSpace(f.ItemName)
	if f.ItemName == "" {
		return Row{}, ErrBlankName
	}
	f.Price = utils.ToMoney(f.Price)
	f.Confidence = utils.Clamp(f.Confidence, 0, 1)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.touched = time.Now()

	if t.sink == nil {
		if !f.Perishable.Valid() {
			f.Perishable = domain.PerishableNo
		}
		if f.TimesSeen <= 0 {
			f.TimesSeen = 1
		}
		r := NewRow(f)
		t.rows = append(t.rows, &r)
		return copyRow(&r), nil
	}

	stored, err := t.sink.Saved(ctx, Fields{}, f)
	if err != nil {
		return Row{}, err
	}
	f = withStored(f, stored)
	if r := t.byName(f.ItemName); r != nil {
		r.Fields = withStored(r.Fields, stored)
		if r.Snapshot != nil {
			snap := withStored(*r.Snapshot, stored)
			r.Snapshot = &snap
		}
		return copyRow(r), nil
	}
	r := NewRow(f)
	t.rows = append([]*Row{&r}, t.rows...)
	return copyRow(&r), nil
}

// MergeRows converts the current rows into pantry merge input. Rows being
// edited contribute their committed values.
func (t *Table) MergeRows() []pantry.MergeRow {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pantry.MergeRow, 0, len(t.rows))
	for _, r := range t.rows {
		f := r.Fields
		if r.Snapshot != nil {
			f = *r.Snapshot
		}
		mr := pantry.MergeRow{ItemName: f.ItemName, Price: f.Price}
		if f.Perishable.Valid() {
			p := f.Perishable
			mr.Perishable = &p
		}
		out = append(out, mr)
	}
	return out
}

func (t *Table) find(id string) (*Row, int, error) {
	t.touched = time.Now()
	for i, r := range t.rows {
		if r.ID == id {
			return r, i, nil
		}
	}
	return nil, -1, ErrRowNotFound
}

func (t *Table) byName(name string) *Row {
	key := utils.Normalize(name)
	for _, r := range t.rows {
		if utils.Normalize(r.ItemName) == key {
			return r
		}
	}
	return nil
}

// dropOthers removes rows other than keep that hold name's normalized key.
func (t *Table) dropOthers(keep *Row, name string) {
	key := utils.Normalize(name)
	out := t.rows[:0]
	for _, r := range t.rows {
		if r == keep || utils.Normalize(r.ItemName) != key {
			out = append(out, r)
		}
	}
	t.rows = out
}

// withStored overlays the pantry-held values of stored onto f.
func withStored(f, stored Fields) Fields {
	f.ItemName = stored.ItemName
	f.Price = stored.Price
	f.Perishable = stored.Perishable
	f.TimesSeen = stored.TimesSeen
	return f
}

func apply(f Fields, p Patch) (Fields, error) {
	if p.ItemName != nil {
		name := strings.TrimSpace(*p.ItemName)
		if name == "" {
			return f, ErrBlankName
		}
		f.ItemName = name
	} else if strings.TrimSpace(f.ItemName) == "" {
		return f, ErrBlankName
	}
	if p.Price != nil {
		f.Price = utils.ToMoney(p.Price)
	}
	if p.Confidence != nil {
		f.Confidence = utils.Clamp(p.Confidence, 0, 1)
	}
	if p.Perishable != nil {
		if v, ok := domain.ParsePerishable(*p.Perishable); ok {
			f.Perishable = v
		}
	}
	return f, nil
}

func copyRow(r *Row) Row {
	out := *r
	if r.Snapshot != nil {
		snap := *r.Snapshot
		out.Snapshot = &snap
	}
	return out
}
