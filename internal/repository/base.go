// Package repository provides the gorm-backed data access layer.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrNotOwner is returned when an owner-scoped write matched an existing row
// that belongs to someone else.
var ErrNotOwner = errors.New("row is not owned by caller")

// ownerScoped runs an owner-filtered write and classifies a zero-row result as
// ErrNotOwner (row exists) or gorm.ErrRecordNotFound (row missing or soft-deleted).
func ownerScoped(ctx context.Context, db *gorm.DB, model interface{}, id interface{}, write func(tx *gorm.DB) *gorm.DB) error {
	res := write(db.WithContext(ctx))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrNotOwner
	}
	return gorm.ErrRecordNotFound
}
