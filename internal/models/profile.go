package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	DefaultRole       = "Member"
	DefaultDepartment = "General"
)

// Profile is the public, owner-editable record of a user.
type Profile struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name       string         `gorm:"not null" json:"name"`
	Email      string         `gorm:"index" json:"email"`
	Avatar     *string        `json:"avatar"`
	CoverImage *string        `json:"cover_image"`
	Role       *string        `json:"role"`
	Department *string        `json:"department"`
	Bio        *string        `gorm:"type:text" json:"bio"`
	Location   *string        `json:"location"`
	Phone      *string        `json:"phone"`
	LinkedIn   *string        `gorm:"column:linkedin" json:"linkedin"`
	ManagerID  *uuid.UUID     `gorm:"type:uuid" json:"manager_id"`
	Settings   datatypes.JSON `json:"settings"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// NewProfile builds the profile created alongside an account at signup.
func NewProfile(id uuid.UUID, email, name string, avatar *string) *Profile {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DisplayNameFromEmail(email)
	}
	role, dept := DefaultRole, DefaultDepartment
	return &Profile{
		ID:         id,
		Name:       name,
		Email:      email,
		Avatar:     avatar,
		Role:       &role,
		Department: &dept,
		Settings:   datatypes.JSON(`{}`),
	}
}

// DisplayNameFromEmail returns the local part of an email address, or "User".
func DisplayNameFromEmail(email string) string {
	local, _, found := strings.Cut(email, "@")
	if !found || local == "" {
		return "User"
	}
	return local
}

// ProfileUpdate carries the owner-editable profile fields. Nil fields are left unchanged.
type ProfileUpdate struct {
	Name       *string        `json:"name" validate:"omitempty,min=1,max=120"`
	Avatar     *string        `json:"avatar" validate:"omitempty,url"`
	CoverImage *string        `json:"cover_image" validate:"omitempty,url"`
	Role       *string        `json:"role" validate:"omitempty,max=80"`
	Department *string        `json:"department" validate:"omitempty,max=80"`
	Bio        *string        `json:"bio" validate:"omitempty,max=2000"`
	Location   *string        `json:"location" validate:"omitempty,max=120"`
	Phone      *string        `json:"phone" validate:"omitempty,max=40"`
	LinkedIn   *string        `json:"linkedin" validate:"omitempty,max=200"`
	ManagerID  *uuid.UUID     `json:"manager_id"`
	Settings   datatypes.JSON `json:"settings"`
}

// Columns returns the column/value map for a gorm Updates call.
func (u ProfileUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	set := func(col string, v *string) {
		if v != nil {
			cols[col] = *v
		}
	}
	set("name", u.Name)
	set("avatar", u.Avatar)
	set("cover_image", u.CoverImage)
	set("role", u.Role)
	set("department", u.Department)
	set("bio", u.Bio)
	set("location", u.Location)
	set("phone", u.Phone)
	set("linkedin", u.LinkedIn)
	if u.ManagerID != nil {
		cols["manager_id"] = *u.ManagerID
	}
	if len(u.Settings) > 0 {
		cols["settings"] = u.Settings
	}
	return cols
}
