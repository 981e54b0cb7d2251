package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Post is a feed entry. Only its author may edit or delete it; deletes are soft.
type Post struct {
	ID        uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	AuthorID  uuid.UUID                   `gorm:"type:uuid;not null;index" json:"author_id"`
	Author    *Profile                    `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Content   string                      `gorm:"type:text;not null" json:"content"`
	MediaURLs datatypes.JSONSlice[string] `gorm:"column:media_urls" json:"media_urls"`
	IsEdited  bool                        `gorm:"not null;default:false" json:"is_edited"`
	Comments  []Comment                   `gorm:"foreignKey:PostID" json:"comments"`
	Reactions []Reaction                  `gorm:"foreignKey:PostID" json:"reactions"`
	CreatedAt time.Time                   `gorm:"index" json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
	DeletedAt gorm.DeletedAt              `gorm:"index" json:"-"`
}

func (p *Post) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// ReactionCount is the number of distinct reactions loaded for the post.
func (p *Post) ReactionCount() int {
	return len(p.Reactions)
}

// MediaURLs converts a URL list into the JSON column type.
func MediaURLs(urls []string) datatypes.JSONSlice[string] {
	return datatypes.JSONSlice[string](urls)
}
