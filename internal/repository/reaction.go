package repository

import (
	"context"
	"errors"

	"workplace/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReactionRepository manages the single reaction a user may leave per post.
type ReactionRepository interface {
	// Get returns the caller's reaction or gorm.ErrRecordNotFound.
	Get(ctx context.Context, postID, userID uuid.UUID) (*models.Reaction, error)
	ListByPost(ctx context.Context, postID uuid.UUID) ([]*models.Reaction, error)
	// Upsert inserts or replaces the reaction keyed by (post, user).
	Upsert(ctx context.Context, postID, userID uuid.UUID, reactionType models.ReactionType) (*models.Reaction, error)
	Delete(ctx context.Context, postID, userID uuid.UUID) error
	// Toggle deletes the reaction when it already has reactionType and upserts
	// otherwise. It returns nil when the reaction was removed.
	Toggle(ctx context.Context, postID, userID uuid.UUID, reactionType models.ReactionType) (*models.Reaction, error)
}

type reactionRepository struct {
	db *gorm.DB
}

func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db}
}

func (r *reactionRepository) Get(ctx context.Context, postID, userID uuid.UUID) (*models.Reaction, error) {
	return getReaction(r.db.WithContext(ctx), postID, userID)
}

func getReaction(db *gorm.DB, postID, userID uuid.UUID) (*models.Reaction, error) {
	var reaction models.Reaction
	if err := db.Where("post_id = ? AND user_id = ?", postID, userID).First(&reaction).Error; err != nil {
		return nil, err
	}
	return &reaction, nil
}

func (r *reactionRepository) ListByPost(ctx context.Context, postID uuid.UUID) ([]*models.Reaction, error) {
	var reactions []*models.Reaction
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at ASC").Find(&reactions).Error
	return reactions, err
}

func (r *reactionRepository) Upsert(ctx context.Context, postID, userID uuid.UUID, reactionType models.ReactionType) (*models.Reaction, error) {
	return upsertReaction(r.db.WithContext(ctx), postID, userID, reactionType)
}

func upsertReaction(db *gorm.DB, postID, userID uuid.UUID, reactionType models.ReactionType) (*models.Reaction, error) {
	reaction := &models.Reaction{PostID: postID, UserID: userID, Type: reactionType}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "post_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "updated_at"}),
	}).Create(reaction).Error
	if err != nil {
		return nil, err
	}
	// On conflict the generated ID was discarded; read back the stored row.
	return getReaction(db, postID, userID)
}

func (r *reactionRepository) Delete(ctx context.Context, postID, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&models.Reaction{}).Error
}

func (r *reactionRepository) Toggle(ctx context.Context, postID, userID uuid.UUID, reactionType models.ReactionType) (*models.Reaction, error) {
	var result *models.Reaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := getReaction(tx, postID, userID)
		switch {
		case err == nil && existing.Type == reactionType:
			return tx.Delete(existing).Error
		case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		result, err = upsertReaction(tx, postID, userID, reactionType)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
