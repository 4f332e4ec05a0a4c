// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the named-slot functions that hold the
// serialized pantry.
//
// A slot is read and rewritten as a whole. Writes carry the version the
// caller last observed; PutSlot only succeeds when the stored version still
// matches, which gives the pantry store a compare-and-swap primitive.
//
// Error semantics:
//   - GetSlot returns ErrNotFound when the slot has never been written or
//     was deleted.
//   - PutSlot returns ErrVersionConflict when expectVersion is stale.
//   - Other DB failures are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/scan2serve/internal/domain"
)

// ErrVersionConflict is returned by PutSlot when the slot changed since the
// caller read it.
var ErrVersionConflict = errors.New("slot version conflict")

// GetSlot returns the slot stored under key, or ErrNotFound.
func GetSlot(ctx context.Context, db *gorm.DB, key string) (*domain.Slot, error) {
	var s domain.Slot
	err := db.WithContext(ctx).Where("key = ?", key).First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// PutSlot writes value under key. expectVersion is the version the caller
// read (0 when the slot was absent). On success it returns the new version.
func PutSlot(ctx context.Context, db *gorm.DB, key, value string, expectVersion int64) (int64, error) {
	now := time.Now().UTC()
	var next int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if expectVersion == 0 {
			var count int64
			if err := tx.Model(&domain.Slot{}).Where("key = ?", key).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrVersionConflict
			}
			next = 1
			return tx.Create(&domain.Slot{Key: key, Value: value, Version: next, UpdatedAt: now}).Error
		}

		next = expectVersion + 1
		res := tx.Model(&domain.Slot{}).
			Where("key = ? AND version = ?", key, expectVersion).
			Updates(map[string]any{"value": value, "version": next, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// DeleteSlot removes the slot. Deleting a missing slot is not an error.
func DeleteSlot(ctx context.Context, db *gorm.DB, key string) error {
	return db.WithContext(ctx).Where("key = ?", key).Delete(&domain.Slot{}).Error
}
