// Package models contains the persisted domain types of the Workplace API.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Account holds login credentials. It shares its ID with the user's Profile.
type Account struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash     string     `gorm:"not null" json:"-"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// Confirmed reports whether the account's email address has been verified.
func (a *Account) Confirmed() bool {
	return a.EmailConfirmedAt != nil
}
