package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// ReactionType is one of the fixed reaction kinds a user can leave on a post.
type ReactionType string

const (
	ReactionLike       ReactionType = "like"
	ReactionLove       ReactionType = "love"
	ReactionCelebrate  ReactionType = "celebrate"
	ReactionInsightful ReactionType = "insightful"
	ReactionCurious    ReactionType = "curious"
)

// ReactionTypes lists the accepted reaction kinds in display order.
var ReactionTypes = []ReactionType{
	ReactionLike,
	ReactionLove,
	ReactionCelebrate,
	ReactionInsightful,
	ReactionCurious,
}

func (t ReactionType) Valid() bool {
	return lo.Contains(ReactionTypes, t)
}

// Reaction is unique per (post, user); changing its type replaces the row.
type Reaction struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	PostID    uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_reactions_post_user" json:"post_id"`
	UserID    uuid.UUID    `gorm:"type:uuid;not null;uniqueIndex:idx_reactions_post_user" json:"user_id"`
	Type      ReactionType `gorm:"size:20;not null" json:"type"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (r *Reaction) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
