package editing

import (
	"context"

	"github.com/tbourn/scan2serve/internal/domain"
	"github.com/tbourn/scan2serve/internal/pantry"
)

// PantryStore is the subset of *pantry.Store a PantrySink writes through.
type PantryStore interface {
	Edit(ctx context.Context, name string, e pantry.ItemEdit) ([]domain.PantryItem, domain.PantryItem, error)
	DeleteByName(ctx context.Context, name string) ([]domain.PantryItem, error)
}

// PantrySink writes pantry-table edits straight to the pantry.
type PantrySink struct {
	Store PantryStore
}

// Saved sends only the fields that differ between before and after, keyed
// by the name the row had before the edit, and returns the stored result.
// Values the row merely displays are never written back, so a row read
// before a later merge cannot undo it.
func (s PantrySink) Saved(ctx context.Context, before, after Fields) (Fields, error) {
	var e pantry.ItemEdit
	if after.ItemName != before.ItemName {
		name := after.ItemName
		e.ItemName = &name
	}
	if after.Perishable != before.Perishable && after.Perishable.Valid() {
		p := after.Perishable
		e.Perishable = &p
	}
	if after.Price != before.Price {
		price := after.Price
		e.LastPrice = &price
	}

	key := before.ItemName
	if key == "" {
		key = after.ItemName
	}
	_, it, err := s.Store.Edit(ctx, key, e)
	if err != nil {
		return Fields{}, err
	}
	return FieldsFromItem(it), nil
}

// Removed deletes the item from the pantry.
func (s PantrySink) Removed(ctx context.Context, f Fields) error {
	_, err := s.Store.DeleteByName(ctx, f.ItemName)
	return err
}

// FieldsFromItem turns a pantry item into row fields.
func FieldsFromItem(it domain.PantryItem) Fields {
	return Fields{
		ItemName:   it.ItemName,
		Price:      it.LastPrice,
		Perishable: it.Perishable,
		TimesSeen:  it.TimesSeen,
		Confidence: 1,
	}
}
