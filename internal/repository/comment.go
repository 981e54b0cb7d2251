package repository

import (
	"context"

	"workplace/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Comment, error)
	ListByPost(ctx context.Context, postID uuid.UUID) ([]*models.Comment, error)
	Update(ctx context.Context, id, ownerID uuid.UUID, content string) error
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

type commentRepository struct {
	db *gorm.DB
}

func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	return r.db.WithContext(ctx).Create(comment).Error
}

func (r *commentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Preload("Author").First(&comment, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &comment, nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID uuid.UUID) ([]*models.Comment, error) {
	var comments []*models.Comment
	err := r.db.WithContext(ctx).
		Preload("Author").
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&comments).Error
	return comments, err
}

func (r *commentRepository) Update(ctx context.Context, id, ownerID uuid.UUID, content string) error {
	return ownerScoped(ctx, r.db, &models.Comment{}, id, func(tx *gorm.DB) *gorm.DB {
		return tx.Model(&models.Comment{}).
			Where("id = ? AND author_id = ?", id, ownerID).
			Updates(map[string]interface{}{"content": content, "is_edited": true})
	})
}

// Delete soft-deletes the comment and its replies.
func (r *commentRepository) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := ownerScoped(ctx, tx, &models.Comment{}, id, func(inner *gorm.DB) *gorm.DB {
			return inner.Where("id = ? AND author_id = ?", id, ownerID).Delete(&models.Comment{})
		})
		if err != nil {
			return err
		}
		return tx.Where("parent_id = ?", id).Delete(&models.Comment{}).Error
	})
}
